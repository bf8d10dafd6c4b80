// Package logutil maps configuration strings onto zerolog and pgx log levels
// and installs the process-wide logger.
package logutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseZerologLevel is case-insensitive and falls back to info for unknown
// or empty input.
func ParseZerologLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}

	return parsed
}

func ParsePostgresLogLevel(level string) tracelog.LogLevel {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return tracelog.LogLevelInfo
	}

	parsed, err := tracelog.LogLevelFromString(normalized)
	if err != nil {
		return tracelog.LogLevelInfo
	}

	return parsed
}

// NewLogger builds a timestamped logger writing JSON, or human-readable
// console output when pretty is set.
func NewLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339} //nolint:exhaustruct
	}

	return zerolog.New(w).Level(ParseZerologLevel(level)).With().Timestamp().Logger()
}

// Setup replaces the global logger and level. Binaries call it once at start.
func Setup(level string, pretty bool) {
	zerolog.SetGlobalLevel(ParseZerologLevel(level))
	zerolog.DurationFieldUnit = time.Millisecond
	log.Logger = NewLogger(os.Stderr, level, pretty)
}
