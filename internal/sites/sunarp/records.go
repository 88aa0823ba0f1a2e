package sunarp

import (
	"context"
	"fmt"
	"log/slog"

	"platescraper/internal/adapter"
	"platescraper/internal/backend"
	"platescraper/lib/htmlutil"
	"platescraper/lib/textutil"
	"platescraper/lib/timezone"
)

// Row is one entry of the registry history: the text of the row clicked in
// the results table and the details shown in its modal.
type Row struct {
	Text    string
	Details []htmlutil.KeyValue
}

// Record is the body of POST /sprl-sunarp.
type Record struct {
	Version             int     `json:"version"`
	RegistrationDate    *string `json:"registrationDate"`
	PresentationDate    *string `json:"presentationDate"`
	Category            *string `json:"category"`
	ActType             *string `json:"actType"`
	NaturalParticipants *string `json:"naturalParticipants"`
	LegalParticipants   *string `json:"legalParticipants"`
	Notes               string  `json:"notes"`
	CreatedBy           int     `json:"createdBy"`
	PlateNumber         string  `json:"plateNumber"`
}

func timestamp(value string) *string {
	iso, ok := timezone.RegistryTimestamp(value)
	if !ok {
		return nil
	}
	return &iso
}

func text(value string) *string {
	return &value
}

// NewRecord maps the modal details of row onto a record. Labels are
// matched loosely (case and accents are ignored). When several rows match
// the same field the last one is kept.
func NewRecord(version int, plate string, row Row) Record {
	record := Record{
		Version:     version,
		Notes:       row.Text,
		CreatedBy:   1,
		PlateNumber: plate,
	}
	for _, kv := range row.Details {
		switch {
		case textutil.MatchKey(kv.Key, "inscripcion"):
			record.RegistrationDate = timestamp(kv.Value)
		case textutil.MatchKey(kv.Key, "presentacion"):
			record.PresentationDate = timestamp(kv.Value)
		case textutil.MatchKey(kv.Key, "rubro"):
			record.Category = text(kv.Value)
		case textutil.MatchKey(kv.Key, "acto"):
			record.ActType = text(kv.Value)
		case textutil.MatchKey(kv.Key, "participantes naturales"):
			record.NaturalParticipants = text(kv.Value)
		case textutil.MatchKey(kv.Key, "participantes juridicos"):
			record.LegalParticipants = text(kv.Value)
		}
	}
	return record
}

// ParseDetails reads the key/value rows of the modal table html.
func ParseDetails(tableHtml string) ([]htmlutil.KeyValue, error) {
	doc, err := htmlutil.ParseFragment(tableHtml)
	if err != nil {
		return nil, err
	}
	return htmlutil.KeyValueRows(doc.Find("table").First()), nil
}

// Artifact is the registry history of one plate.
type Artifact struct {
	PlateNumber string
	Rows        []Row
}

func (a *Artifact) Plate() string {
	return a.PlateNumber
}

type maxVersion struct {
	MaxVersion int `json:"maxVersion"`
}

// nextVersion returns the version the records of this run are stored
// under, 1 when the backend does not know the plate.
func nextVersion(ctx context.Context, store adapter.Store, plate string) int {
	var res maxVersion
	err := store.GetJSON(ctx, fmt.Sprintf("/sprl-sunarp/plate/%s/max-version", backend.PlateSegment(plate)), &res)
	if err != nil {
		slog.WarnContext(ctx, "could not read max version, using 1", "plate", plate, "err", err)
		return 1
	}
	return res.MaxVersion + 1
}

// Upload registers the plate and stores one record per row. It fails when
// rows were found but none of them could be stored.
func (a *Artifact) Upload(ctx context.Context, store adapter.Store) error {
	version := nextVersion(ctx, store, a.PlateNumber)

	err := store.Post(ctx, "/license-plate-master", map[string]string{
		"plateNumber": a.PlateNumber,
	})
	if err != nil {
		return fmt.Errorf("register plate: %w", err)
	}

	stored := 0
	var lastErr error
	for i, row := range a.Rows {
		err = store.Post(ctx, "/sprl-sunarp", NewRecord(version, a.PlateNumber, row))
		if err != nil {
			slog.WarnContext(ctx, "could not store record", "plate", a.PlateNumber, "row", i+1, "err", err)
			lastErr = err
			continue
		}
		stored++
	}
	slog.InfoContext(ctx, "stored registry records", "plate", a.PlateNumber, "stored", stored, "failed", len(a.Rows)-stored)

	if len(a.Rows) > 0 && stored == 0 {
		return fmt.Errorf("store records: none of %d stored: %w", len(a.Rows), lastErr)
	}
	return nil
}
