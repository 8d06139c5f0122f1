package riglog

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Sink is a destination for encoded records. Accept is only called for
// records at or above Level.
type Sink interface {
	Name() string
	Level() zerolog.Level
	SetLevel(level zerolog.Level)
	SetFormatter(f Formatter)
	Accept(level zerolog.Level, line []byte) error
	Close() error
}

// streamSink marks sinks that write to a byte stream (console and files).
// The debug scope only touches these.
type streamSink interface {
	Sink
	isStream()
}

// sinkBase carries the state every sink shares: name, level and formatter.
// mu serializes format and write.
type sinkBase struct {
	name      string
	level     atomic.Int32
	mu        sync.Mutex
	formatter Formatter
}

func (b *sinkBase) init(name string, level zerolog.Level, f Formatter) {
	b.name = name
	b.level.Store(int32(level))
	if f == nil {
		f = JSONFormatter{}
	}
	b.formatter = f
}

func (b *sinkBase) Name() string { return b.name }

func (b *sinkBase) Level() zerolog.Level { return zerolog.Level(b.level.Load()) }

func (b *sinkBase) SetLevel(level zerolog.Level) { b.level.Store(int32(level)) }

func (b *sinkBase) SetFormatter(f Formatter) {
	if f == nil {
		return
	}
	b.mu.Lock()
	b.formatter = f
	b.mu.Unlock()
}

// format must be called with mu held.
func (b *sinkBase) format(line []byte) ([]byte, error) {
	return b.formatter.Format(line)
}

// ConsoleOptions configures a ConsoleSink.
type ConsoleOptions struct {
	Name      string
	Out       io.Writer
	Level     zerolog.Level
	Formatter Formatter
}

// ConsoleSink writes formatted records to a stream, stdout by default.
type ConsoleSink struct {
	sinkBase
	out io.Writer
}

// NewConsoleSink builds a console sink. A TextFormatter is coloured only when
// the stream is a terminal.
func NewConsoleSink(opts ConsoleOptions) *ConsoleSink {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	f := opts.Formatter
	if tf, ok := f.(*TextFormatter); ok {
		f = tf.WithColor(isTerminal(out))
	}
	s := &ConsoleSink{out: out}
	s.init(opts.Name, opts.Level, f)
	return s
}

func (s *ConsoleSink) Accept(_ zerolog.Level, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.format(line)
	if err != nil {
		return err
	}
	_, err = s.out.Write(p)
	return err
}

func (s *ConsoleSink) Close() error { return nil }

func (s *ConsoleSink) isStream() {}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
