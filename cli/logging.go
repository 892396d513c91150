package cli

import (
	"io"
	"log/slog"

	"github.com/petal-labs/orchestrate/config"
)

// newLogger builds the root logger. --verbose and --quiet override the
// configured level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose, quiet bool) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
