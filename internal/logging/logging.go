package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/goliatone/go-params/internal/config"
)

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", name)
	}
}

// Setup builds the process logger. Records go to out as text or JSON and,
// when cfg.File is set, are fanned out as JSON to that file as well. The
// returned close function releases the file.
func Setup(cfg config.LogConfig, out io.Writer) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var primary slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		primary = slog.NewTextHandler(out, opts)
	case "json":
		primary = slog.NewJSONHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	if cfg.File == "" {
		return slog.New(primary), func() error { return nil }, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", cfg.File, err)
	}
	logger := slog.New(slogmulti.Fanout(
		primary,
		slog.NewJSONHandler(file, opts),
	))
	return logger, file.Close, nil
}
