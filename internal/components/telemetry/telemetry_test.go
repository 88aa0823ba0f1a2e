package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &Recorder{}
	scoped := NewScopedAPI("driver", NewScopedAPI("source_a", rec))

	scoped.ReportBroken("loop.publish", errors.New("boom"))
	scoped.ReportWarning("loop.session")
	scoped.ReportCount("plates", 3)

	reports := rec.Reports()
	require.Len(t, reports, 3)
	require.Equal(t, "source_a: driver: loop.publish", reports[0].Id)
	require.Equal(t, "broken", reports[0].Kind)
	require.True(t, rec.Has("warning", "loop.session"))
	require.Equal(t, []any{int64(3)}, reports[2].Params)
}

func TestSlogAPI(t *testing.T) {
	var buf bytes.Buffer
	api := SlogAPI{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	api.ReportBroken("queue.fetch-next", errors.New("connection refused"), "A")
	out := buf.String()
	require.Contains(t, out, "id=queue.fetch-next")
	require.Contains(t, out, `err="connection refused"`)
	require.Contains(t, out, "params.1=A")
}
