package riglog

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// LoggerFieldName is the JSON key holding the emitting logger's name.
const LoggerFieldName = "logger"

// Logger is a named node of a Service's logger tree. Records it emits go to
// its own sinks and, while propagation is on, to those of its ancestors.
type Logger struct {
	name      string
	parent    *Logger
	svc       *Service
	level     atomic.Int32
	propagate atomic.Bool

	mu    sync.RWMutex
	sinks []Sink

	zl zerolog.Logger
}

func newLogger(svc *Service, name string, parent *Logger) *Logger {
	l := &Logger{name: name, parent: parent, svc: svc}
	l.level.Store(int32(LevelNotSet))
	l.propagate.Store(true)
	l.zl = zerolog.New(dispatcher{l}).
		Hook(svc.enrichment).
		With().
		Timestamp().
		Str(LoggerFieldName, name).
		CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1).
		Logger()
	return l
}

func (l *Logger) Name() string { return l.name }

// Parent is nil for the root logger.
func (l *Logger) Parent() *Logger { return l.parent }

// Level is the logger's own level, possibly LevelNotSet.
func (l *Logger) Level() zerolog.Level { return zerolog.Level(l.level.Load()) }

func (l *Logger) SetLevel(level zerolog.Level) { l.level.Store(int32(level)) }

// EffectiveLevel is the first level that is set walking towards the root.
func (l *Logger) EffectiveLevel() zerolog.Level {
	for n := l; n != nil; n = n.parent {
		if lvl := n.Level(); lvl != LevelNotSet {
			return lvl
		}
	}
	return LevelNotSet
}

// Enabled reports whether a record at level would be dispatched.
func (l *Logger) Enabled(level zerolog.Level) bool {
	return level >= l.EffectiveLevel()
}

func (l *Logger) Propagate() bool { return l.propagate.Load() }

func (l *Logger) SetPropagate(p bool) { l.propagate.Store(p) }

// Sinks returns a snapshot of the attached sinks.
func (l *Logger) Sinks() []Sink {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Sink(nil), l.sinks...)
}

// Sink looks an attached sink up by name.
func (l *Logger) Sink(name string) Sink {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.sinks {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (l *Logger) HasSinks() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sinks) > 0
}

func (l *Logger) AddSink(s Sink) {
	if s == nil {
		return
	}
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// RemoveSink detaches s without closing it.
func (l *Logger) RemoveSink(s Sink) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.sinks {
		if cur == s {
			l.sinks = append(l.sinks[:i:i], l.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// replaceSinks swaps the sink list and returns the previous one.
func (l *Logger) replaceSinks(sinks []Sink) []Sink {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.sinks
	l.sinks = append([]Sink(nil), sinks...)
	return old
}

// Log starts a record at level. Disabled levels return a no-op event.
func (l *Logger) Log(level zerolog.Level) LogEvent {
	if !l.Enabled(level) {
		return newLogEvent(nil)
	}
	return newLogEvent(l.zl.WithLevel(level))
}

func (l *Logger) DebugWith() LogEvent { return l.Log(zerolog.DebugLevel) }

func (l *Logger) InfoWith() LogEvent { return l.Log(zerolog.InfoLevel) }

func (l *Logger) WarnWith() LogEvent { return l.Log(zerolog.WarnLevel) }

func (l *Logger) ErrorWith() LogEvent { return l.Log(zerolog.ErrorLevel) }

// CriticalWith logs at fatal level without exiting.
func (l *Logger) CriticalWith() LogEvent { return l.Log(zerolog.FatalLevel) }

// dispatcher is the zerolog writer of a Logger. It hands each encoded line
// to every sink of the logger and its ancestors whose level admits it.
type dispatcher struct {
	logger *Logger
}

func (d dispatcher) Write(p []byte) (int, error) {
	return d.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel reports sink errors through the service's error handler and
// never fails the zerolog write itself.
func (d dispatcher) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var errs []error
	for n := d.logger; n != nil; n = n.parent {
		n.mu.RLock()
		sinks := n.sinks
		n.mu.RUnlock()
		for _, s := range sinks {
			if level < s.Level() {
				continue
			}
			if err := s.Accept(level, p); err != nil {
				errs = append(errs, err)
			}
		}
		if !n.Propagate() {
			break
		}
	}
	if len(errs) > 0 {
		d.logger.svc.reportError(errors.Join(errs...))
	}
	return len(p), nil
}
