// Package logging builds the zerolog loggers used by the service, the export
// worker and the HTTP layer.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger adapts zerolog to the key/value logging interface the service expects.
type Logger struct {
	log zerolog.Logger
}

// New creates a Logger writing to stdout. APP_ENV=dev switches to the
// human readable console writer. Every entry carries the component field.
func New(component, level string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("APP_ENV"), "dev") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out, component, level)
}

// NewWithWriter creates a Logger on an arbitrary writer. Unknown levels fall
// back to info.
func NewWithWriter(w io.Writer, component, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
	return &Logger{log: z}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger { return &Logger{log: zerolog.Nop()} }

// With returns a child logger for another component sharing the same sink.
func (l *Logger) With(component string) *Logger {
	return &Logger{log: l.log.With().Str("component", component).Logger()}
}

// Zerolog exposes the underlying logger for callers that build events directly.
func (l *Logger) Zerolog() *zerolog.Logger { return &l.log }

func (l *Logger) Debug(msg string, args ...any) { write(l.log.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { write(l.log.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { write(l.log.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { write(l.log.Error(), msg, args) }

// write attaches alternating key/value args. A trailing key without value is
// logged under "!BADKEY" so it is not silently lost.
func write(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			i--
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
