package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[redacted]"

var sensitiveKeywords = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"cookie",
	"authorization",
	"credential",
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

// redactHandler masks attribute values whose key looks like it carries a
// credential (portal logins, captcha-service accounts, smtp passwords).
type redactHandler struct {
	inner slog.Handler
}

func (h redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = redactAttr(a)
	}
	return redactHandler{inner: h.inner.WithAttrs(masked)}
}

func (h redactHandler) WithGroup(name string) slog.Handler {
	return redactHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, g := range group {
			masked[i] = redactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}

// NewHandler creates the text handler used by every binary, writing to w.
func NewHandler(w io.Writer, verbose bool) slog.Handler {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return redactHandler{
		inner: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}),
	}
}

// InitSlog installs the default slog logger, verbose enables debug logs.
func InitSlog(verbose bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, verbose)))
}
