package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	base        zerolog.Logger
	initialized bool
	lazyInit    sync.Once

	// output is where log lines go; stdout is left to the completion line.
	output io.Writer = os.Stderr
)

// Init configures the global JSON logger.
//
// Environment variables (optional):
//   - LOG_LEVEL: debug|info|warn|error (default: info)
//   - LOG_PRETTY: true|false (default: false)
func Init() {
	level := parseLevel(getenv("LOG_LEVEL", "info"))
	pretty := strings.EqualFold(getenv("LOG_PRETTY", "false"), "true")

	zerolog.TimeFieldFormat = time.RFC3339Nano
	w := output
	if pretty {
		w = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	base = zerolog.New(w).With().Timestamp().Str("app", "spimexpulse").Logger().Level(level)
	initialized = true
}

// L returns the global logger. Call Init() once on startup; without it the
// first call initializes from the environment. A zero zerolog.Logger has no
// writer and would drop every event.
func L() *zerolog.Logger {
	lazyInit.Do(func() {
		if !initialized {
			Init()
		}
	})
	return &base
}

// ForRun returns a child of the global logger tagged with the ingestion run id.
func ForRun(runID string) *zerolog.Logger {
	l := L().With().Str("run_id", runID).Logger()
	return &l
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
