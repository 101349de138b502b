// Package logging configures structured logging for the shield service.
//
// All components log through log/slog with a shared handler. Components
// scope their logger with a "component" attribute:
//
//	logger := logging.Component("queue")
//	logger.Info("job enqueued", "job_id", id, "priority", prio.String())
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/TheProjectSEO/shield/pkg/config"
)

// Setup builds a slog.Logger from the logging configuration and installs it
// as the process default. Output goes to w; pass nil for stderr.
func Setup(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// Component returns the default logger scoped to a named component.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
