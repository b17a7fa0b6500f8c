package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging type handed to every package.
type Logger = zerolog.Logger

// NewLogger writes JSON to stdout, or a console format in development.
// level overrides the environment default when it parses.
func NewLogger(appEnv, level string) Logger {
	var out io.Writer = os.Stdout
	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newLogger(out, appEnv, level)
}

func newLogger(out io.Writer, appEnv, level string) Logger {
	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", "nero").Str("env", appEnv).Logger()
}
