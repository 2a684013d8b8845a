package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Services and handlers take
// a *slog.Logger so tests can swap in a silent one.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
