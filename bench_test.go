package riglog

import (
	"io"
	"strconv"
	"testing"

	smerrors "github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
)

// newBenchLogger builds a logger tree with one JSON sink writing to
// io.Discard, so only encoding and dispatch are measured.
func newBenchLogger(b *testing.B, level zerolog.Level) *Logger {
	b.Helper()
	svc := NewService()
	svc.init()
	svc.root.AddSink(NewConsoleSink(ConsoleOptions{Name: "discard", Out: io.Discard, Level: level}))
	svc.root.SetLevel(level)
	return svc.logger("bench.child")
}

func makeDetailedChain(depth int) error {
	if depth <= 0 {
		return nil
	}
	err := smerrors.New(smerrors.Op("op_0")).Msg("root cause message")
	for i := 1; i < depth; i++ {
		op := "op_" + strconv.Itoa(i)
		err = smerrors.New(smerrors.Op(op)).Err(err).Msg("wrapped message")
	}
	return err
}

func BenchmarkInfoWith_NoErr(b *testing.B) {
	l := newBenchLogger(b, zerolog.InfoLevel)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.InfoWith().Str("k", "v").Int("n", i).Msg("hello")
	}
}

func BenchmarkDebugWith_Filtered(b *testing.B) {
	l := newBenchLogger(b, zerolog.InfoLevel)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.DebugWith().Str("k", "v").Msg("dropped")
	}
}

func BenchmarkErrorWith_DetailedChain6(b *testing.B) {
	l := newBenchLogger(b, zerolog.ErrorLevel)
	err := makeDetailedChain(6)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.ErrorWith().Err(err).Msg("oops")
	}
}

func BenchmarkTextFormatter(b *testing.B) {
	f := NewTextFormatter(FormatterConfig{Parts: []string{"time", "level", "logger", "message"}, NoColor: true})
	line := []byte(`{"level":"info","logger":"bench","time":"2024-01-02T03:04:05Z","message":"hello","project":"p"}` + "\n")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Format(line)
	}
}

func BenchmarkParallel_InfoWith(b *testing.B) {
	l := newBenchLogger(b, zerolog.InfoLevel)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.InfoWith().Str("k", "v").Msg("hi")
		}
	})
}
