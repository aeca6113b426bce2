// Package observability sets up the tool's structured logger: a console
// handler always, plus an optional Seq sink when JOYDB_SEQ_URL is set.
//
// Grounded on internal/logging/logging.go's multiHandler fan-out, adapted
// from a fixed localhost Seq endpoint to an opt-in environment variable (a
// CLI tool should not silently dial a sidecar service that isn't running)
// and from a fixed debug level to the -m verbosity flag's mapping.
package observability

import (
	"context"
	"log/slog"
	"os"
	"time"

	slogseq "github.com/sokkalf/slog-seq"
)

// multiHandler forwards log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// LevelForVerbosity maps the -m flag's repeat count to a slog level: 0 is
// warnings and errors only, 1 is info, 2 or more is debug (show-log's
// per-column decode detail).
func LevelForVerbosity(m int) slog.Level {
	switch {
	case m >= 2:
		return slog.LevelDebug
	case m == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Setup installs the process-wide default logger at the given level,
// writing to stderr so stdout stays reserved for command output, and
// returns a cleanup function the caller must run before exit.
func Setup(level slog.Level) func() {
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	seqURL := os.Getenv("JOYDB_SEQ_URL")
	if seqURL == "" {
		logger := slog.New(console)
		slog.SetDefault(logger)
		return func() {}
	}

	_, seqHandler := slogseq.NewLogger(
		seqURL,
		slogseq.WithBatchSize(1),
		slogseq.WithFlushInterval(500*time.Millisecond),
		slogseq.WithHandlerOptions(&slog.HandlerOptions{Level: level}),
	)
	if seqHandler == nil {
		logger := slog.New(console)
		slog.SetDefault(logger)
		return func() {}
	}

	multi := &multiHandler{handlers: []slog.Handler{console, seqHandler}}
	slog.SetDefault(slog.New(multi))
	return func() { seqHandler.Close() }
}
