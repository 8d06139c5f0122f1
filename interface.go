package riglog

import "github.com/rs/zerolog"

// EventLogger is the structured logging surface of a Logger. Accept it where
// a component only needs to emit records.
type EventLogger interface {
	Log(level zerolog.Level) LogEvent
	DebugWith() LogEvent
	InfoWith() LogEvent
	WarnWith() LogEvent
	ErrorWith() LogEvent
	CriticalWith() LogEvent
	Enabled(level zerolog.Level) bool
}

var _ EventLogger = (*Logger)(nil)
