package riglog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"go.uber.org/atomic"
)

// PanicError is the exit cause recorded for a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SignalError is the exit cause recorded when a termination signal arrives.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string { return "terminated by signal " + e.Signal.String() }

// ShutdownHooks runs registered functions once, newest first, with the exit
// cause.
type ShutdownHooks struct {
	mu    sync.Mutex
	hooks []func(cause error)
	ran   atomic.Bool
}

func NewShutdownHooks() *ShutdownHooks {
	return &ShutdownHooks{}
}

func (h *ShutdownHooks) Register(fn func(cause error)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Run calls every hook and reports whether this was the first run. Later
// calls do nothing.
func (h *ShutdownHooks) Run(cause error) bool {
	if !h.ran.CompareAndSwap(false, true) {
		return false
	}
	h.mu.Lock()
	hooks := append([]func(error){}, h.hooks...)
	h.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](cause)
	}
	return true
}

func (h *ShutdownHooks) Ran() bool { return h.ran.Load() }

// Exit runs the shutdown hooks with cause, nil for a normal exit. Only the
// first call has an effect; the process is not terminated.
func (s *Service) Exit(cause error) {
	s.init()
	s.hooks.Run(cause)
}

// HandleExit is meant to be deferred first thing in main. A panic is reported
// with its stack and then re-raised; otherwise a normal exit is reported.
//
//	defer svc.HandleExit()
func (s *Service) HandleExit() {
	s.handleExit(recover())
}

func (s *Service) handleExit(r any) {
	if r == nil {
		s.Exit(nil)
		return
	}
	s.Exit(&PanicError{Value: r, Stack: debug.Stack()})
	panic(r)
}

// WatchSignals reports SIGINT and SIGTERM as the exit cause and then ends the
// process with status 1 through ExitFunc. The returned function stops
// watching.
func (s *Service) WatchSignals(ctx context.Context) (stop func()) {
	s.init()
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			s.Exit(&SignalError{Signal: sig})
			s.exit(1)
		case <-ctx.Done():
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) exit(code int) {
	if s.ExitFunc != nil {
		s.ExitFunc(code)
		return
	}
	os.Exit(code)
}

// IsSignal reports whether err was caused by a termination signal.
func IsSignal(err error) bool {
	var serr *SignalError
	return errors.As(err, &serr)
}
