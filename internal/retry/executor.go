// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy bounds a retried call.
type Policy struct {
	// MaxAttempts is the total number of invocations, first try included
	// (default: 5).
	MaxAttempts int

	// Delay is the fixed pause between attempts (default: 500ms).
	Delay time.Duration
}

// DefaultPolicy returns the observed production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Delay:       500 * time.Millisecond,
	}
}

// normalized fills in defaults for zero values.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Delay <= 0 {
		p.Delay = 500 * time.Millisecond
	}
	return p
}

// =============================================================================
// TERMINAL ERROR
// =============================================================================

// TerminalError is returned once the retry budget is exhausted. It is not
// retried further; callers surface it as a legible conversation entry.
type TerminalError struct {
	// Attempts is how many times the operation was invoked.
	Attempts int

	// Cause is the error from the final attempt.
	Cause error
}

func (e *TerminalError) Error() string {
	msg := "request failed permanently after " + strconv.Itoa(e.Attempts) + " attempts"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TerminalError) Unwrap() error {
	return e.Cause
}

// IsTerminal reports whether err is a TerminalError and returns it.
func IsTerminal(err error) (*TerminalError, bool) {
	var te *TerminalError
	if err == nil {
		return nil, false
	}
	if asErr, ok := err.(*TerminalError); ok {
		te = asErr
	}
	return te, te != nil
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Operation is one network call. A transient failure (non-2xx status,
// transport error, malformed body) is reported by returning an error; a
// successful response with degraded content is a success and must not
// return an error.
type Operation func(ctx context.Context) error

// Executor retries an Operation under a Policy.
//
// While Execute runs, InFlight reports true across all attempts so a caller
// can render a single pending indicator rather than one per attempt. An
// Executor is safe for concurrent use, but each Execute tracks the whole
// run as one unit of pending work.
type Executor struct {
	policy   Policy
	pending  atomic.Int32
	onChange func(inFlight bool)
}

// NewExecutor creates an executor with the given policy. Zero fields fall
// back to defaults.
func NewExecutor(policy Policy) *Executor {
	return &Executor{policy: policy.normalized()}
}

// SetStateFunc registers a callback invoked when the executor transitions
// between idle and in-flight. Must be set before the first Execute.
func (e *Executor) SetStateFunc(fn func(inFlight bool)) {
	e.onChange = fn
}

// InFlight reports whether at least one execution is currently running.
func (e *Executor) InFlight() bool {
	return e.pending.Load() > 0
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute invokes op until it succeeds or the attempt budget is spent,
// returning how many invocations were made.
//
// On success it returns (k, nil) after exactly k <= MaxAttempts
// invocations. On exhaustion it returns a *TerminalError wrapping the
// final attempt's error. Between attempts it sleeps for the fixed policy
// delay; the sleep is context-aware, and a cancelled context ends the run
// early with a TerminalError recording the attempts made so far.
func (e *Executor) Execute(ctx context.Context, op Operation) (int, error) {
	if e.pending.Add(1) == 1 && e.onChange != nil {
		e.onChange(true)
	}
	defer func() {
		if e.pending.Add(-1) == 0 && e.onChange != nil {
			e.onChange(false)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		select {
		case <-time.After(e.policy.Delay):
		case <-ctx.Done():
			return attempt, &TerminalError{Attempts: attempt, Cause: ctx.Err()}
		}
	}

	return e.policy.MaxAttempts, &TerminalError{Attempts: e.policy.MaxAttempts, Cause: lastErr}
}
