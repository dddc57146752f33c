package canvaskit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/canvaskit/internal/gpures"
	"github.com/gogpu/canvaskit/surface"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for canvaskit and its sub-packages.
// By default nothing is logged. Pass nil to restore the silent default.
//
// Log levels used by canvaskit:
//   - [slog.LevelDebug]: buffer growth, buffer reuse, pass pruning
//   - [slog.LevelInfo]: context and renderer lifecycle
//   - [slog.LevelWarn]: GPU objects that failed to release
//
// Example:
//
//	canvaskit.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	surface.SetLogger(l)
	gpures.SetLogger(l)
}

// Logger returns the current logger used by canvaskit.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
