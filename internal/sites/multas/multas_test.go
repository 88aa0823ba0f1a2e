package multas

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"platescraper/internal/adapter"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"

	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		expect Data
	}{
		{
			name:   "no results",
			body:   "  <div class=\"alert\">No se encontraron resultados</div>\n",
			expect: Data{Success: true, Message: "No se encontraron resultados"},
		},
		{
			name:   "no results split by markup",
			body:   "<p>No se <b>encontraron</b> resultados</p>",
			expect: Data{Success: true, Message: "No se encontraron resultados"},
		},
		{
			name:   "results",
			body:   " <table><tr><td>P-123</td><td>S/ 440.00</td></tr></table> ",
			expect: Data{Success: true, HasResults: true, RawResponse: "<table><tr><td>P-123</td><td>S/ 440.00</td></tr></table>"},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, ParseResponse(test.body))
		})
	}
}

type request struct {
	form          url.Values
	contentType   string
	origin        string
	referer       string
	requestedWith string
}

func setup(t testing.TB, status int, body string) (*Adapter, *Session, *[]request) {
	var requests []request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		requests = append(requests, request{
			form:          form,
			contentType:   r.Header.Get("content-type"),
			origin:        r.Header.Get("origin"),
			referer:       r.Header.Get("referer"),
			requestedWith: r.Header.Get("x-requested-with"),
		})
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	a, err := New(Options{Url: server.URL + "/faltas/buscar.php", RequestsPerSecond: 100}, &telemetry.Recorder{})
	require.NoError(t, err)
	sess, err := a.Factory().NewSession(context.Background(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return a, sess.(*Session), &requests
}

func TestProcess(t *testing.T) {
	a, sess, requests := setup(t, http.StatusOK, "<div>No se encontraron resultados</div>")

	artifact, err := a.Process(context.Background(), sess, queue.WorkItem{ID: "3", Plate: "abc123"})
	require.NoError(t, err)
	require.Equal(t, "ABC123", artifact.Plate())
	require.Equal(t, Data{Success: true, Message: noResults}, artifact.(*Artifact).Data)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	require.Equal(t, "abc123", req.form.Get("placa"))
	require.Equal(t, "application/x-www-form-urlencoded; charset=UTF-8", req.contentType)
	require.Equal(t, "XMLHttpRequest", req.requestedWith)
	require.Equal(t, a.endpoint.Scheme+"://"+a.endpoint.Host, req.origin)
	require.Equal(t, a.endpoint.Scheme+"://"+a.endpoint.Host+"/faltas/papeletas.php", req.referer)
}

func TestProcessStatus(t *testing.T) {
	a, sess, _ := setup(t, http.StatusForbidden, "blocked")

	_, err := a.Process(context.Background(), sess, queue.WorkItem{ID: "3", Plate: "ABC123"})
	reason, ok := adapter.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, adapter.ReasonUnexpectedResponse, reason)
}

type otherSession struct{}

func (otherSession) Tag() string  { return "other" }
func (otherSession) Close() error { return nil }

func TestProcessRejectsForeignSession(t *testing.T) {
	a, err := New(Options{}, &telemetry.Recorder{})
	require.NoError(t, err)
	require.Equal(t, DefaultUrl, a.endpoint.String())

	_, err = a.Process(context.Background(), otherSession{}, queue.WorkItem{ID: "1", Plate: "ABC123"})
	reason, _ := adapter.ReasonOf(err)
	require.Equal(t, adapter.ReasonUnexpectedResponse, reason)
}

type captureStore struct {
	collection string
	body       any
}

func (s *captureStore) Post(ctx context.Context, collection string, body any) error {
	return s.Upload(ctx, collection, body)
}

func (s *captureStore) Upload(ctx context.Context, collection string, body any) error {
	s.collection = collection
	s.body = body
	return nil
}

func (s *captureStore) GetJSON(ctx context.Context, path string, out any) error {
	return nil
}

func TestArtifactUpload(t *testing.T) {
	store := &captureStore{}
	artifact := &Artifact{PlateNumber: "ABC123", Data: Data{Success: true, Message: noResults}}
	require.NoError(t, artifact.Upload(context.Background(), store))
	require.Equal(t, "/multas-arequipa", store.collection)
	require.Equal(t, map[string]any{
		"plateNumber": "ABC123",
		"data":        Data{Success: true, Message: noResults},
	}, store.body)
}
