//go:build unix

package riglog

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSignals_ReportsAndExits(t *testing.T) {
	svc := newTestService(t)
	buf := bufferSink(svc.root, "root", LevelNotSet)
	svc.ExitReporter().Arm(ExitPolicy{LogAtExit: true})
	codes := make(chan int, 1)
	svc.ExitFunc = func(code int) { codes <- code }

	stop := svc.WatchSignals(t.Context())
	defer stop()
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case code := <-codes:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not handled")
	}
	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "signal", entries[0]["exit_cause_type"])
}
