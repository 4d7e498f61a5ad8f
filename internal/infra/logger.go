package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging type handed to every component.
type Logger = zerolog.Logger

// NewLogger builds the service logger. Development gets a console writer and
// debug output; elsewhere it writes JSON at info. A non-empty level such as
// "warn" overrides the default.
func NewLogger(appEnv, level string) zerolog.Logger {
	dev := appEnv == "development"
	lvl := zerolog.InfoLevel
	if dev {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "enhance-api").Logger()
	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
