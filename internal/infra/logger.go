package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so the rest of the module depends on a
// single logging surface owned by this package.
type Logger = zerolog.Logger

// NewLogger builds the process logger. Development gets a human console
// writer at debug level; everything else emits JSON at info and above.
func NewLogger(appEnv string) Logger {
	dev := strings.EqualFold(appEnv, "development")

	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "sceneforge").
		Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
