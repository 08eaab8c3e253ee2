// Package logger provides the structured logging bootstrap shared by every
// dbapi subsystem.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Initialize should be called once at
// startup to set level and format; until then Log writes plain JSON to
// stderr so library consumers that skip Initialize still get output.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Initialize configures the global logger. level is any zerolog level name
// ("debug", "info", "warn", "error"); an unrecognized level falls back to info.
// pretty selects a human-readable console writer instead of JSON, for local
// development and test runs.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "syncml-dbapi").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Loader returns a logger tagged for the plugin loader (§4.A).
func Loader() *zerolog.Logger {
	l := Log.With().Str("component", "loader").Logger()
	return &l
}

// Capability returns a logger tagged for the capability negotiator (§4.C).
func Capability() *zerolog.Logger {
	l := Log.With().Str("component", "capability").Logger()
	return &l
}

// Context returns a logger tagged for the context lifecycle (§4.D).
func Context() *zerolog.Logger {
	l := Log.With().Str("component", "context").Logger()
	return &l
}

// Disposer returns a logger tagged for the disposer registry (§4.E).
func Disposer() *zerolog.Logger {
	l := Log.With().Str("component", "disposer").Logger()
	return &l
}

// Datastore returns a logger tagged for the datastore state machine (§4.F).
func Datastore() *zerolog.Logger {
	l := Log.With().Str("component", "datastore").Logger()
	return &l
}

// MapStore returns a logger tagged for map-table/admin storage (§4.G).
func MapStore() *zerolog.Logger {
	l := Log.With().Str("component", "mapstore").Logger()
	return &l
}

// Blob returns a logger tagged for BLOB chunking (§4.H).
func Blob() *zerolog.Logger {
	l := Log.With().Str("component", "blob").Logger()
	return &l
}

// Backup returns a logger tagged for the reference backup datastore (§4.I).
func Backup() *zerolog.Logger {
	l := Log.With().Str("component", "backup").Logger()
	return &l
}
