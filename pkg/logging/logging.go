// Package logging adapts zerolog to the orchestrator.Logger contract,
// following saisudhir14-ai-voice-agent's internal/logger package: a pretty
// console writer in development, structured JSON in production, and
// WithComponent/WithSessionID helpers for contextual loggers.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// New builds the root zerolog.Logger for the process.
func New(isDevelopment bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if isDevelopment {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(output).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Adapter satisfies orchestrator.Logger over a zerolog.Logger, turning the
// orchestrator's variadic key/value pairs into structured fields.
type Adapter struct {
	log zerolog.Logger
}

func NewAdapter(log zerolog.Logger) *Adapter {
	return &Adapter{log: log}
}

// WithComponent returns an Adapter tagged with a "component" field,
// identifying which part of the engine logged the message.
func (a *Adapter) WithComponent(component string) *Adapter {
	return &Adapter{log: a.log.With().Str("component", component).Logger()}
}

// WithSessionID returns an Adapter tagged with a "session_id" field.
func (a *Adapter) WithSessionID(sessionID string) *Adapter {
	return &Adapter{log: a.log.With().Str("session_id", sessionID).Logger()}
}

func (a *Adapter) Debug(msg string, kv ...interface{}) { a.event(a.log.Debug(), msg, kv) }
func (a *Adapter) Info(msg string, kv ...interface{})  { a.event(a.log.Info(), msg, kv) }
func (a *Adapter) Warn(msg string, kv ...interface{})  { a.event(a.log.Warn(), msg, kv) }
func (a *Adapter) Error(msg string, kv ...interface{}) { a.event(a.log.Error(), msg, kv) }

func (a *Adapter) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

var _ orchestrator.Logger = (*Adapter)(nil)
