package timezone

import (
	"strings"
	"time"
)

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Lima")
	if err != nil {
		// Peru has no DST, a fixed offset is equivalent when tzdata is missing.
		Location = time.FixedZone("PET", -5*60*60)
	}
}

// Now returns the current time in Peruvian time, which is what every
// registry portal displays.
func Now() time.Time {
	return time.Now().In(Location)
}

const registryLayout = "02/01/2006 15:04"

// RegistryTimestamp converts a portal timestamp in "dd/mm/yyyy HH:MM" form
// into "YYYY-MM-DDTHH:MM:SSZ". The wall clock is kept as-is, the backend
// stores portal timestamps with a literal Z suffix.
func RegistryTimestamp(value string) (string, bool) {
	value = strings.TrimSpace(strings.ReplaceAll(value, "\u00a0", " "))
	if value == "" {
		return "", false
	}
	parsed, err := time.Parse(registryLayout, value)
	if err != nil {
		return "", false
	}
	return parsed.Format("2006-01-02T15:04:05") + "Z", true
}
