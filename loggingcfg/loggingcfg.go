// Package loggingcfg builds a zerolog.Logger from a config.Node's log-level
// and log-json flags, the same Level/JSONOutput switch cuemby-warren's
// pkg/log.Init performs.
package loggingcfg

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level, either JSON or human-readable
// console output.
func New(level string, jsonOutput bool) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	if jsonOutput {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
