// Package logging builds the zerolog logger shared by the api and worker processes.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger tagged with component. When cfg.File is set, output is duplicated into a
// size-rotated file.
func New(cfg config.LoggingConfig, component string) zerolog.Logger {
	return newWithWriter(cfg, component, os.Stdout)
}

func newWithWriter(cfg config.LoggingConfig, component string, stdout io.Writer) zerolog.Logger {
	var out io.Writer = stdout
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}

	if path := strings.TrimSpace(cfg.File); path != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
