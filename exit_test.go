package riglog

import (
	"bytes"
	"errors"
	"syscall"
	"testing"
	"time"

	smerrors "github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock makes elapsed times deterministic.
func fixedClock(r *ExitReporter, start time.Time, elapsed time.Duration) {
	calls := 0
	r.now = func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(elapsed)
	}
}

func TestExitReporter_UnarmedDoesNothing(t *testing.T) {
	svc := newTestService(t)
	buf := bufferSink(svc.root, "root", LevelNotSet)

	assert.False(t, svc.ExitReporter().Fire(nil))
	svc.Exit(nil)
	assert.Zero(t, buf.Len())
	assert.False(t, svc.ExitReporter().Fired())
}

func TestExitReporter_FiresOnce(t *testing.T) {
	svc := newTestService(t)
	svc.enrichment.Install("np_test")
	buf := bufferSink(svc.root, "root", LevelNotSet)
	r := svc.ExitReporter()
	fixedClock(r, time.Unix(1_700_000_000, 0), 90*time.Second)
	r.Arm(ExitPolicy{LogAtExit: true})

	svc.Exit(nil)
	svc.Exit(errors.New("second call"))
	assert.False(t, r.Fire(nil))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "np_test exited normally after 1m30s", e["message"])
	assert.Equal(t, "1m30s", e["elapsed_text"])
	assert.NotContains(t, e, "exit_cause_type")
}

func TestExitReporter_RearmKeepsStartAndSwapsPolicy(t *testing.T) {
	svc := newTestService(t)
	r := svc.ExitReporter()
	r.Arm(ExitPolicy{LogAtExit: true})
	start := r.start

	r.Arm(ExitPolicy{Email: EmailOnError, EmailLogger: "email"})
	assert.Equal(t, start, r.start)
	assert.Equal(t, EmailOnError, r.Policy().Email)
	assert.Len(t, svc.hooks.hooks, 1)

	r.armIfIdle(ExitPolicy{LogAtExit: true})
	assert.Equal(t, EmailOnError, r.Policy().Email)
}

func TestExitReporter_ErrorCause(t *testing.T) {
	svc := newTestService(t)
	buf := bufferSink(svc.root, "root", LevelNotSet)
	svc.ExitReporter().Arm(ExitPolicy{LogAtExit: true})

	cause := smerrors.New("rig.Run").Err(errors.New("camera lost")).Msg("acquisition failed")
	svc.Exit(cause)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "acquisition failed", e[zerolog.ErrorFieldName])
	assert.Equal(t, "acquisition failed -> camera lost", e["trace"])
	assert.NotEmpty(t, e["exit_cause_type"])
}

func TestExitReporter_PanicCause(t *testing.T) {
	svc := newTestService(t)
	buf := bufferSink(svc.root, "root", LevelNotSet)
	svc.ExitReporter().Arm(ExitPolicy{LogAtExit: true})

	assert.PanicsWithValue(t, "boom", func() {
		defer svc.HandleExit()
		panic("boom")
	})

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "string", e["exit_cause_type"])
	assert.Equal(t, "panic: boom", e[zerolog.ErrorFieldName])
	assert.Contains(t, e["trace"], "goroutine")
}

func TestExitReporter_HandleExitNormal(t *testing.T) {
	svc := newTestService(t)
	buf := bufferSink(svc.root, "root", LevelNotSet)
	svc.ExitReporter().Arm(ExitPolicy{LogAtExit: true})

	func() {
		defer svc.HandleExit()
	}()

	require.Len(t, decodeLines(t, buf), 1)
	assert.True(t, svc.ExitReporter().Fired())
}

func TestExitReporter_EmailPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    EmailPolicy
		cause     error
		wantMail  bool
		wantLevel string
	}{
		{"never", EmailNever, nil, false, ""},
		{"on exit normal", EmailOnExit, nil, true, "info"},
		{"on exit error", EmailOnExit, errors.New("x"), true, "error"},
		{"on error normal", EmailOnError, nil, false, ""},
		{"on error error", EmailOnError, errors.New("x"), true, "error"},
		{"on error signal", EmailOnError, &SignalError{Signal: syscall.SIGTERM}, true, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			rootBuf := bufferSink(svc.root, "root", LevelNotSet)
			mail := svc.logger("email")
			mail.SetPropagate(false)
			mailBuf := bufferSink(mail, "mail", LevelNotSet)

			svc.ExitReporter().Arm(ExitPolicy{Email: tt.policy, EmailLogger: "email", LogAtExit: false})
			svc.Exit(tt.cause)

			assert.Zero(t, rootBuf.Len(), "root report disabled")
			entries := decodeLines(t, mailBuf)
			if !tt.wantMail {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantLevel, entries[0]["level"])
		})
	}
}

func TestExitReporter_EmailLoggerWithoutSinksIsSkipped(t *testing.T) {
	svc := newTestService(t)
	svc.ExitReporter().Arm(ExitPolicy{Email: EmailOnExit, EmailLogger: "email"})
	assert.True(t, svc.ExitReporter().Fire(nil))
	assert.False(t, svc.logger("email").HasSinks())
}

func TestShutdownHooks_RunNewestFirstOnce(t *testing.T) {
	h := NewShutdownHooks()
	var order []int
	h.Register(func(error) { order = append(order, 1) })
	h.Register(func(error) { order = append(order, 2) })
	h.Register(nil)

	assert.True(t, h.Run(nil))
	assert.False(t, h.Run(nil))
	assert.True(t, h.Ran())
	assert.Equal(t, []int{2, 1}, order)
}

func TestSignalError(t *testing.T) {
	err := &SignalError{Signal: syscall.SIGINT}
	assert.True(t, IsSignal(err))
	assert.False(t, IsSignal(errors.New("x")))
	assert.Equal(t, "signal", causeType(err))
	assert.Contains(t, err.Error(), "interrupt")
}

func TestPanicError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, &PanicError{Value: inner}, inner)
	assert.Nil(t, (&PanicError{Value: 3}).Unwrap())
	assert.Equal(t, "int", causeType(&PanicError{Value: 3}))
	assert.Equal(t, "on_error", EmailOnError.String())
}

const panicStack = "goroutine 1 [running]:\nmain.main()\n\t/x/main.go:10 +0x1\n"

func TestTextFormatter_TraceBelowLine(t *testing.T) {
	var line bytes.Buffer
	zerolog.New(&line).Error().Str(TraceFieldName, panicStack).Msg("rig exited")

	out, err := NewTextFormatter(FormatterConfig{Parts: []string{"level", "message"}, NoColor: true}).Format(line.Bytes())
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "rig exited\n"+panicStack)
	assert.NotContains(t, text, "trace=")

	hidden, err := NewTextFormatter(FormatterConfig{NoColor: true, ExcludeFields: []string{TraceFieldName}}).Format(line.Bytes())
	require.NoError(t, err)
	assert.NotContains(t, string(hidden), "goroutine")
}

func TestExitReporter_EmailedTraceIsReadable(t *testing.T) {
	addr, inbox := fakeSMTP(t)
	svc := newTestService(t)
	mail, err := NewEmailSink(EmailOptions{
		Name:      "mail",
		ToAddrs:   []string{"a@b.com"},
		MailHost:  addr,
		Timeout:   2 * time.Second,
		Formatter: svc.formatter(nil, "email", emptyString),
	})
	require.NoError(t, err)
	l := svc.logger("email")
	l.SetPropagate(false)
	l.AddSink(mail)

	svc.ExitReporter().Arm(ExitPolicy{Email: EmailOnError, EmailLogger: "email"})
	svc.Exit(&PanicError{Value: "boom", Stack: []byte(panicStack)})

	select {
	case msg := <-inbox:
		assert.Contains(t, msg.Data, "goroutine 1 [running]:\r\nmain.main()\r\n\t/x/main.go:10 +0x1\r\n")
		assert.NotContains(t, msg.Data, "trace=")
	case <-time.After(5 * time.Second):
		t.Fatal("no exit email delivered")
	}
}
