package restyutil

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func TestInstrumentClientWritesExchanges(t *testing.T) {
	previous := slog.Default()
	var logs bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(previous)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	output := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, "backend", output)

	_, err := client.R().
		SetBody(map[string]string{"plateNumber": "ABC123"}).
		Post("/vehicles")
	require.NoError(t, err)

	require.Len(t, output.messages, 1)
	message, ok := output.messages["backend-1"]
	require.True(t, ok)
	require.Contains(t, message, "POST")
	require.Contains(t, message, "ABC123")
	require.Contains(t, message, "201")
	require.Contains(t, message, `{"ok":true}`)
	require.Contains(t, logs.String(), "message_id=backend-1")
}

func TestInstrumentClientSkipsDumpsWithoutDebug(t *testing.T) {
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(previous)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	output := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, "backend", output)

	_, err := client.R().Get("/")
	require.NoError(t, err)
	require.Empty(t, output.messages)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxBodyDump+10)
	out := truncate(long)
	require.True(t, strings.HasSuffix(out, "<TRUNCATED 10 BYTES>"))
	require.Equal(t, "short", truncate("short"))
}
