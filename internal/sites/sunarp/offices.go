package sunarp

import (
	"strings"
)

// DefaultOffice receives plates whose first letter has no office.
const DefaultOffice = "LIMA"

// plateOffices maps the first letter of a plate to the registry office
// that holds its records, as titled in the portal's office dropdown.
var plateOffices = map[byte]string{
	'A': "LIMA",
	'B': "LIMA",
	'C': "LIMA",
	'D': "LIMA",
	'E': "LIMA",
	'F': "LIMA",
	'G': "LIMA",
	'H': "Ancash",
	'I': "Ayacucho",
	'J': "LIMA",
	'K': "LIMA",
	'L': "Loreto",
	'M': "LIMA",
	'N': "LIMA",
	'O': "LIMA",
	'P': "LIMA",
	'Q': "LIMA",
	'R': "LIMA",
	'S': "LIMA",
	'T': "LIMA",
	'U': "Ucayali",
	'V': "AREQUIPA",
	'W': "AREQUIPA",
	'X': "CUSCO",
	'Y': "TRUJILLO",
	'Z': "TACNA",
}

// OfficeForPlate returns the registry office of plate. known is false when
// the default office was used because the plate is empty or starts with
// something other than a letter.
func OfficeForPlate(plate string) (office string, known bool) {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	if plate == "" {
		return DefaultOffice, false
	}
	office, known = plateOffices[plate[0]]
	if !known {
		return DefaultOffice, false
	}
	return office, true
}

// Offices returns every distinct office, in letter order.
func Offices() []string {
	seen := map[string]bool{}
	var out []string
	for letter := byte('A'); letter <= 'Z'; letter++ {
		office := plateOffices[letter]
		if seen[office] {
			continue
		}
		seen[office] = true
		out = append(out, office)
	}
	return out
}
