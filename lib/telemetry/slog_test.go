package telemetry

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, false))

	logger.Info(
		"logging in",
		"username", "operator",
		"password", "hunter2",
		slog.Group("captcha", "dbc_password", "s3cret", "service", "dbc"),
	)
	out := buf.String()

	require.Contains(t, out, "username=operator")
	require.NotContains(t, out, "hunter2")
	require.NotContains(t, out, "s3cret")
	require.Contains(t, out, "captcha.service=dbc")
	require.Contains(t, out, "password="+redacted)
}

func TestRedactHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, true)).With("session_token", "abc")
	logger.Debug("debug enabled")

	require.Contains(t, buf.String(), "debug enabled")
	require.NotContains(t, buf.String(), "abc")
}
