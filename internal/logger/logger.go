package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

// Init initializes the global logger.
// In development mode it uses a pretty console writer; in production it
// emits structured JSON so the call engine's logs can be shipped and
// indexed alongside the tracer's per-call documents.
func Init(isDevelopment bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if isDevelopment {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		Log = zerolog.New(output).With().Timestamp().Caller().Logger()
	} else {
		Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// WithComponent creates a logger tagged with the emitting component
// (loop, recognizer, tts, llm, player, pool, ...).
func WithComponent(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// WithCallID creates a logger tagged with the call it belongs to.
func WithCallID(callID string) zerolog.Logger {
	return Log.With().Str("call_id", callID).Logger()
}

// WithTurn creates a logger tagged with the current turn number.
func WithTurn(turn int) zerolog.Logger {
	return Log.With().Int("turn", turn).Logger()
}
