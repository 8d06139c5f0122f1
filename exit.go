package riglog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// EmailPolicy selects when the exit report is mailed.
type EmailPolicy int

const (
	EmailNever EmailPolicy = iota
	EmailOnExit
	// EmailOnError mails only when the program ends with a panic, a signal
	// or an error passed to Exit.
	EmailOnError
)

func (p EmailPolicy) String() string {
	switch p {
	case EmailOnExit:
		return "on_exit"
	case EmailOnError:
		return "on_error"
	}
	return "never"
}

// ExitPolicy is what the exit reporter does when it fires.
type ExitPolicy struct {
	Email       EmailPolicy
	EmailLogger string
	LogAtExit   bool
}

// ExitReporter logs elapsed run time and the termination cause once, when the
// process ends. It does nothing until armed; re-arming only swaps the policy.
type ExitReporter struct {
	svc   *Service
	hooks *ShutdownHooks

	mu     sync.Mutex
	armed  bool
	start  time.Time
	policy ExitPolicy

	fired atomic.Bool
	now   func() time.Time
}

func newExitReporter(svc *Service, hooks *ShutdownHooks) *ExitReporter {
	return &ExitReporter{svc: svc, hooks: hooks, now: time.Now}
}

// Arm registers the reporter with the shutdown hooks on first call and
// replaces the policy on every call. The start time is taken on first call.
func (r *ExitReporter) Arm(policy ExitPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
	if r.armed {
		return
	}
	r.armed = true
	r.start = r.now()
	r.hooks.Register(func(cause error) { r.Fire(cause) })
}

// armIfIdle arms with policy only when nothing has armed the reporter yet.
func (r *ExitReporter) armIfIdle(policy ExitPolicy) {
	r.mu.Lock()
	armed := r.armed
	r.mu.Unlock()
	if !armed {
		r.Arm(policy)
	}
}

func (r *ExitReporter) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

func (r *ExitReporter) Fired() bool { return r.fired.Load() }

func (r *ExitReporter) Policy() ExitPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// Fire emits the exit report for cause, nil meaning a normal exit. It reports
// whether anything was emitted: an unarmed or already fired reporter is a
// no-op.
func (r *ExitReporter) Fire(cause error) bool {
	r.mu.Lock()
	armed, start, policy := r.armed, r.start, r.policy
	r.mu.Unlock()
	if !armed || !r.fired.CompareAndSwap(false, true) {
		return false
	}

	elapsed := r.now().Sub(start)
	project := r.svc.enrichment.Fields().Project

	if policy.LogAtExit {
		r.report(r.svc.root.InfoWith(), project, elapsed, cause)
	}

	mail := policy.Email == EmailOnExit || (policy.Email == EmailOnError && cause != nil)
	if mail && policy.EmailLogger != emptyString {
		l := r.svc.logger(policy.EmailLogger)
		if l.HasSinks() {
			level := zerolog.InfoLevel
			if cause != nil {
				level = zerolog.ErrorLevel
			}
			r.report(l.Log(level), project, elapsed, cause)
		}
	}
	return true
}

func (r *ExitReporter) report(e LogEvent, project string, elapsed time.Duration, cause error) {
	e = e.Dur("elapsed", elapsed).Str("elapsed_text", elapsed.Round(time.Millisecond).String())
	if cause == nil {
		e.Msgf("%s exited normally after %s", project, elapsed.Round(time.Millisecond))
		return
	}
	e.Str("exit_cause_type", causeType(cause)).
		Str(TraceFieldName, causeTrace(cause)).
		Err(cause).
		Msgf("%s exited after %s: %v", project, elapsed.Round(time.Millisecond), cause)
}

func causeType(err error) string {
	var perr *PanicError
	if errors.As(err, &perr) {
		return fmt.Sprintf("%T", perr.Value)
	}
	var serr *SignalError
	if errors.As(err, &serr) {
		return "signal"
	}
	return fmt.Sprintf("%T", err)
}

func causeTrace(err error) string {
	var perr *PanicError
	if errors.As(err, &perr) && len(perr.Stack) > 0 {
		return string(perr.Stack)
	}
	chain, _, _, _ := buildErrorChain(err)
	return joinChain(chain)
}
