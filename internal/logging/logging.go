// Package logging wires the process-wide structured logger: a log/slog
// handler chain with file rotation via gopkg.in/natefinch/lumberjack.v2 and
// error-level records forwarded to Sentry (github.com/getsentry/sentry-go)
// as a crash/error reporting sink.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and whether Sentry reporting is active.
type Config struct {
	FilePath   string // empty disables file rotation; logs go to stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	SentryDSN  string // empty disables Sentry reporting
}

// sentryHandler wraps a slog.Handler and forwards Error-level records to
// Sentry in addition to the wrapped handler's normal output.
type sentryHandler struct {
	slog.Handler
	enabled bool
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.enabled && r.Level >= slog.LevelError {
		sentry.CaptureMessage(r.Message)
	}
	return h.Handler.Handle(ctx, r)
}

// New builds the process-wide logger described by cfg.
func New(cfg Config) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}

	sentryEnabled := cfg.SentryDSN != ""
	closer := func() {}
	if sentryEnabled {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			return nil, closer, fmt.Errorf("init sentry: %w", err)
		}
		closer = func() { sentry.Flush(0) }
	}

	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	handler := &sentryHandler{Handler: base, enabled: sentryEnabled}
	return slog.New(handler), closer, nil
}
