package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"platescraper/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

type fakeDbc struct {
	mutex sync.Mutex
	// pending is how many polls answer with an empty text.
	pending   int
	text      string
	incorrect bool
	uploads   []string
	reports   []string
}

func (f *fakeDbc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	w.Header().Set("content-type", "application/json")
	r.ParseForm()

	if r.Form.Get("username") != "" && r.Form.Get("username") != "user" {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":255,"error":"not-logged-in"}`))
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/captcha":
		f.uploads = append(f.uploads, r.Form.Get("captchafile"))
		fmt.Fprintf(w, `{"status":0,"captcha":1234,"text":"","is_correct":true}`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/captcha/1234":
		if f.pending > 0 {
			f.pending--
			fmt.Fprintf(w, `{"status":0,"captcha":1234,"text":"","is_correct":true}`)
			return
		}
		fmt.Fprintf(w, `{"status":0,"captcha":1234,"text":%q,"is_correct":%t}`, f.text, !f.incorrect)
	case r.Method == http.MethodPost && r.URL.Path == "/api/captcha/1234/report":
		f.reports = append(f.reports, r.URL.Path)
		fmt.Fprintf(w, `{"status":0,"captcha":1234,"is_correct":false}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setup(t testing.TB, fake *fakeDbc, username string) *Client {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		BaseUrl:      server.URL + "/api",
		Username:     username,
		Password:     "secret",
		PollInterval: time.Millisecond,
		Timeout:      2 * time.Second,
	}, &telemetry.Recorder{})
	require.NoError(t, err)
	return client
}

func TestSolve(t *testing.T) {
	fake := &fakeDbc{pending: 2, text: " x7kp2 "}
	client := setup(t, fake, "user")

	solution, err := client.Solve(context.Background(), []byte("png bytes"))
	require.NoError(t, err)
	require.Equal(t, Solution{ID: 1234, Text: "X7KP2"}, solution)
	require.Equal(t, []string{"base64:" + base64.StdEncoding.EncodeToString([]byte("png bytes"))}, fake.uploads)
}

func TestSolveIncorrect(t *testing.T) {
	fake := &fakeDbc{incorrect: true}
	client := setup(t, fake, "user")

	_, err := client.Solve(context.Background(), []byte("png bytes"))
	require.ErrorIs(t, err, ErrUnsolved)
}

func TestSolveTimeout(t *testing.T) {
	fake := &fakeDbc{pending: 1 << 30}
	client := setup(t, fake, "user")
	client.timeout = 50 * time.Millisecond

	_, err := client.Solve(context.Background(), []byte("png bytes"))
	require.Error(t, err)
}

func TestSolveRejectedCredentials(t *testing.T) {
	client := setup(t, &fakeDbc{}, "intruder")

	_, err := client.Solve(context.Background(), []byte("png bytes"))
	require.ErrorContains(t, err, "unexpected status 403")
}

func TestReport(t *testing.T) {
	fake := &fakeDbc{text: "abc"}
	client := setup(t, fake, "user")

	solution, err := client.Solve(context.Background(), []byte("png"))
	require.NoError(t, err)

	require.NoError(t, client.Report(context.Background(), solution))
	// already reported, skipped
	require.NoError(t, client.Report(context.Background(), solution))
	// never solved by this client, skipped
	require.NoError(t, client.Report(context.Background(), Solution{ID: 99}))

	require.Len(t, fake.reports, 1)
}

func TestNoCredentials(t *testing.T) {
	_, err := NewClient(Options{Username: "user"}, &telemetry.Recorder{})
	require.ErrorIs(t, err, ErrNoCredentials)
}
