package sunarp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"platescraper/internal/browser"
	"platescraper/internal/components/telemetry"
	"platescraper/lib/htmlutil"

	"github.com/stretchr/testify/require"
)

func TestOfficeForPlate(t *testing.T) {
	cases := []struct {
		plate  string
		office string
		known  bool
	}{
		{plate: "ABC123", office: "LIMA", known: true},
		{plate: "h1a234", office: "Ancash", known: true},
		{plate: " I2B345", office: "Ayacucho", known: true},
		{plate: "L3C456", office: "Loreto", known: true},
		{plate: "U4D567", office: "Ucayali", known: true},
		{plate: "V1A123", office: "AREQUIPA", known: true},
		{plate: "W2B234", office: "AREQUIPA", known: true},
		{plate: "X3C345", office: "CUSCO", known: true},
		{plate: "Y4D456", office: "TRUJILLO", known: true},
		{plate: "Z5E567", office: "TACNA", known: true},
		{plate: "1AB234", office: "LIMA", known: false},
		{plate: "", office: "LIMA", known: false},
	}

	for _, test := range cases {
		t.Run(test.plate, func(t *testing.T) {
			office, known := OfficeForPlate(test.plate)
			require.Equal(t, test.office, office)
			require.Equal(t, test.known, known)
		})
	}
}

func TestOffices(t *testing.T) {
	require.Equal(t, []string{
		"LIMA", "Ancash", "Ayacucho", "Loreto", "Ucayali",
		"AREQUIPA", "CUSCO", "TRUJILLO", "TACNA",
	}, Offices())
}

const modalTable = `<table>
	<tr><td>Fecha de Inscripción</td><td>15/03/2021 10:30</td></tr>
	<tr><td>Fecha de Presentación</td><td>10/03/2021 09:05</td></tr>
	<tr><td>Rubro</td><td>PROPIEDAD</td></tr>
	<tr><td>Acto</td><td>TRANSFERENCIA<br>VEHICULAR</td></tr>
	<tr><td>Participantes Naturales</td><td>JUAN PEREZ</td></tr>
	<tr><td>Participantes Juridicos</td><td></td></tr>
	<tr><td>Observaciones</td></tr>
</table>`

func TestParseDetails(t *testing.T) {
	details, err := ParseDetails(modalTable)
	require.NoError(t, err)
	require.Len(t, details, 7)
	require.Equal(t, htmlutil.KeyValue{Key: "Acto", Value: "TRANSFERENCIA VEHICULAR"}, details[3])
	require.Equal(t, htmlutil.KeyValue{Key: "Observaciones"}, details[6])
}

func TestNewRecord(t *testing.T) {
	details, err := ParseDetails(modalTable)
	require.NoError(t, err)

	record := NewRecord(3, "ABC123", Row{Text: "Asiento 1", Details: details})
	require.Equal(t, 3, record.Version)
	require.Equal(t, "Asiento 1", record.Notes)
	require.Equal(t, 1, record.CreatedBy)
	require.Equal(t, "ABC123", record.PlateNumber)
	require.Equal(t, "2021-03-15T10:30:00Z", *record.RegistrationDate)
	require.Equal(t, "2021-03-10T09:05:00Z", *record.PresentationDate)
	require.Equal(t, "PROPIEDAD", *record.Category)
	require.Equal(t, "TRANSFERENCIA VEHICULAR", *record.ActType)
	require.Equal(t, "JUAN PEREZ", *record.NaturalParticipants)
	require.Equal(t, "", *record.LegalParticipants)
}

func TestNewRecordNonBreakingSpaces(t *testing.T) {
	details, err := ParseDetails(`<table>
		<tr><td>Fecha&nbsp;de Inscripción</td><td>15/03/2021&nbsp;10:30</td></tr>
		<tr><td>Participantes&nbsp;Naturales</td><td>JUAN&nbsp;PEREZ</td></tr>
	</table>`)
	require.NoError(t, err)

	record := NewRecord(1, "ABC123", Row{Text: "Asiento 1", Details: details})
	require.NotNil(t, record.RegistrationDate)
	require.Equal(t, "2021-03-15T10:30:00Z", *record.RegistrationDate)
	require.NotNil(t, record.NaturalParticipants)
	require.Equal(t, "JUAN PEREZ", *record.NaturalParticipants)
}

func TestNewRecordLastMatchWins(t *testing.T) {
	record := NewRecord(1, "ABC123", Row{
		Text: "Asiento 3",
		Details: []htmlutil.KeyValue{
			{Key: "Rubro", Value: "PROPIEDAD"},
			{Key: "Rubro anterior", Value: "GRAVAMEN"},
		},
	})
	require.Equal(t, "GRAVAMEN", *record.Category)
}

func TestNewRecordNulls(t *testing.T) {
	record := NewRecord(1, "ABC123", Row{
		Text: "Asiento 2",
		Details: []htmlutil.KeyValue{
			{Key: "Fecha de inscripcion", Value: "pendiente"},
		},
	})

	body, err := json.Marshal(record)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"version": 1,
		"registrationDate": null,
		"presentationDate": null,
		"category": null,
		"actType": null,
		"naturalParticipants": null,
		"legalParticipants": null,
		"notes": "Asiento 2",
		"createdBy": 1,
		"plateNumber": "ABC123"
	}`, string(body))
}

type post struct {
	collection string
	body       any
}

type fakeStore struct {
	version    int
	versionErr error
	// failRecords fails every POST /sprl-sunarp.
	failRecords bool
	failMaster  bool
	posts       []post
	gets        []string
}

func (s *fakeStore) Post(ctx context.Context, collection string, body any) error {
	s.posts = append(s.posts, post{collection: collection, body: body})
	if s.failMaster && collection == "/license-plate-master" {
		return errors.New("status 500")
	}
	if s.failRecords && collection == "/sprl-sunarp" {
		return errors.New("status 400")
	}
	return nil
}

func (s *fakeStore) Upload(ctx context.Context, collection string, body any) error {
	return s.Post(ctx, collection, body)
}

func (s *fakeStore) GetJSON(ctx context.Context, path string, out any) error {
	s.gets = append(s.gets, path)
	if s.versionErr != nil {
		return s.versionErr
	}
	out.(*maxVersion).MaxVersion = s.version
	return nil
}

func TestArtifactUpload(t *testing.T) {
	store := &fakeStore{version: 4}
	artifact := &Artifact{
		PlateNumber: "ABC123",
		Rows: []Row{
			{Text: "Asiento 1"},
			{Text: "Asiento 2"},
		},
	}

	require.NoError(t, artifact.Upload(context.Background(), store))
	require.Equal(t, []string{"/sprl-sunarp/plate/ABC123/max-version"}, store.gets)
	require.Len(t, store.posts, 3)
	require.Equal(t, "/license-plate-master", store.posts[0].collection)
	for _, p := range store.posts[1:] {
		require.Equal(t, "/sprl-sunarp", p.collection)
		require.Equal(t, 5, p.body.(Record).Version)
	}
}

func TestArtifactUploadVersionFallback(t *testing.T) {
	store := &fakeStore{versionErr: errors.New("status 404")}
	artifact := &Artifact{PlateNumber: "ABC123", Rows: []Row{{Text: "Asiento 1"}}}

	require.NoError(t, artifact.Upload(context.Background(), store))
	require.Equal(t, 1, store.posts[1].body.(Record).Version)
}

func TestArtifactUploadFailures(t *testing.T) {
	cases := []struct {
		name      string
		store     *fakeStore
		rows      []Row
		expectErr bool
	}{
		{name: "no rows", store: &fakeStore{failRecords: true}, rows: nil},
		{name: "every record fails", store: &fakeStore{failRecords: true}, rows: []Row{{Text: "1"}}, expectErr: true},
		{name: "master fails", store: &fakeStore{failMaster: true}, rows: []Row{{Text: "1"}}, expectErr: true},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			artifact := &Artifact{PlateNumber: "ABC123", Rows: test.rows}
			err := artifact.Upload(context.Background(), test.store)
			if test.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{Username: "user"}, browser.Options{}, &telemetry.Recorder{})
	require.ErrorIs(t, err, ErrNoCredentials)

	a, err := New(Config{Username: "user", Password: "pass"}, browser.Options{}, &telemetry.Recorder{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(a.config.Url, "https://sprl.sunarp.gob.pe"))
}
