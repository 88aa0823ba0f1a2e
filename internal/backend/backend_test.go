package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"platescraper/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type fakeBackend struct {
	mutex    sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mutex.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	f.mutex.Unlock()
	f.handler(w, r)
}

func setup(t testing.TB, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeBackend, *telemetry.Recorder) {
	fake := &fakeBackend{handler: handler}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	rec := &telemetry.Recorder{}
	client, err := NewClient(Options{
		BaseUrl:           server.URL + "/",
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
	}, rec)
	require.NoError(t, err)
	return client, fake, rec
}

func TestFirstUnloaded(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		expectOk  bool
		expectErr bool
		expect    PendingPlate
	}{
		{name: "numeric id", status: 200, body: `{"id":42,"plate":"ABC123"}`, expectOk: true, expect: PendingPlate{ID: "42", Plate: "ABC123"}},
		{name: "string id", status: 200, body: `{"id":"7f3a","plate":" BNP276 "}`, expectOk: true, expect: PendingPlate{ID: "7f3a", Plate: "BNP276"}},
		{name: "not found", status: 404, body: `{"message":"Not Found"}`},
		{name: "no content", status: 204},
		{name: "empty body", status: 200, body: ``},
		{name: "null body", status: 200, body: `null`},
		{name: "missing plate", status: 200, body: `{"id":3}`},
		{name: "server error", status: 500, body: `boom`, expectErr: true},
		{name: "malformed", status: 200, body: `{"id":`, expectErr: true},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			client, fake, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			})

			plate, ok, err := client.FirstUnloaded(context.Background(), "A")
			if test.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expectOk, ok)
			require.Equal(t, test.expect, plate)
			require.Equal(t, "/pending-car-plates/unloaded/A/first", fake.requests[0].Path)
		})
	}
}

func TestFirstUnloadedStatusError(t *testing.T) {
	client, _, rec := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, _, err := client.FirstUnloaded(context.Background(), "C")
	var statusErr StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
	require.True(t, rec.Has("broken", "client.first-unloaded"))
}

func TestMarkLoaded(t *testing.T) {
	client, fake, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := client.MarkLoaded(context.Background(), "42", "B")
	require.NoError(t, err)
	require.Equal(t, []recordedRequest{
		{Method: http.MethodPatch, Path: "/pending-car-plates/42/mark-loaded/B"},
	}, fake.requests)
}

func TestMarkLoadedFailure(t *testing.T) {
	client, _, rec := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.MarkLoaded(context.Background(), "42", "B")
	require.Error(t, err)
	require.True(t, rec.Has("broken", "client.mark-loaded"))
}

func TestPost(t *testing.T) {
	client, fake, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	err := client.Upload(context.Background(), "vehicles", map[string]string{
		"plateNumber": "ABC123",
		"imageBase64": "aGVsbG8=",
	})
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	require.Equal(t, "/vehicles", fake.requests[0].Path)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(fake.requests[0].Body), &body))
	require.Equal(t, "ABC123", body["plateNumber"])
}

func TestPostRejected(t *testing.T) {
	client, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":["plateNumber must be a string"]}`))
	})

	err := client.Post(context.Background(), "/license-plate-master", map[string]any{"plateNumber": 1})
	var statusErr StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, "/license-plate-master", statusErr.Path)
	require.Contains(t, statusErr.Body, "plateNumber must be a string")
}

func TestGetJSON(t *testing.T) {
	client, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"maxVersion":3}`))
	})

	var out struct {
		MaxVersion int `json:"maxVersion"`
	}
	err := client.GetJSON(context.Background(), "/sprl-sunarp/plate/ABC123/max-version", &out)
	require.NoError(t, err)
	require.Equal(t, 3, out.MaxVersion)
}

func TestTimeout(t *testing.T) {
	client, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	})
	client.timeout = 50 * time.Millisecond

	_, _, err := client.FirstUnloaded(context.Background(), "A")
	require.Error(t, err)
}
