// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Delay: time.Millisecond}
}

func TestExecute_SuccessFirstTry(t *testing.T) {
	exec := NewExecutor(fastPolicy(5))

	calls := 0
	attempts, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestExecute_SuccessAfterFailures(t *testing.T) {
	exec := NewExecutor(fastPolicy(5))

	calls := 0
	attempts, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestExecute_SuccessOnFinalAttempt(t *testing.T) {
	exec := NewExecutor(fastPolicy(5))

	calls := 0
	attempts, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 5 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 5, calls)
}

func TestExecute_ExhaustionReturnsTerminalError(t *testing.T) {
	exec := NewExecutor(fastPolicy(5))

	cause := errors.New("connection refused")
	calls := 0
	attempts, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, 5, calls, "every attempt in the budget must be spent")
	assert.Equal(t, 5, attempts)

	te, ok := IsTerminal(err)
	require.True(t, ok)
	assert.Equal(t, 5, te.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 5 attempts")
}

func TestExecute_NoFurtherCallsAfterExhaustion(t *testing.T) {
	exec := NewExecutor(fastPolicy(2))

	calls := 0
	_, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	// A later submission gets a fresh budget.
	calls = 0
	attempts, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecute_ContextCancelledBetweenAttempts(t *testing.T) {
	exec := NewExecutor(Policy{MaxAttempts: 5, Delay: 500 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	attempts, err := exec.Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	assert.Equal(t, 1, calls, "cancellation must stop the run during the pause")
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	te, ok := IsTerminal(err)
	require.True(t, ok)
	assert.Equal(t, 1, te.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_DelayBetweenAttempts(t *testing.T) {
	exec := NewExecutor(Policy{MaxAttempts: 3, Delay: 30 * time.Millisecond})

	start := time.Now()
	_, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("transient")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	// Two pauses between three attempts.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestInFlight_SingleIndicatorAcrossAttempts(t *testing.T) {
	exec := NewExecutor(fastPolicy(4))

	var mu sync.Mutex
	var transitions []bool
	exec.SetStateFunc(func(inFlight bool) {
		mu.Lock()
		transitions = append(transitions, inFlight)
		mu.Unlock()
	})

	sawInFlight := false
	_, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		if exec.InFlight() {
			sawInFlight = true
		}
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.True(t, sawInFlight)
	assert.False(t, exec.InFlight())

	// One on, one off: retries never toggle the indicator per attempt.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestPolicy_ZeroValuesGetDefaults(t *testing.T) {
	exec := NewExecutor(Policy{})
	assert.Equal(t, 5, exec.Policy().MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, exec.Policy().Delay)
}

func TestIsTerminal(t *testing.T) {
	te, ok := IsTerminal(errors.New("plain"))
	assert.False(t, ok)
	assert.Nil(t, te)

	te, ok = IsTerminal(nil)
	assert.False(t, ok)
	assert.Nil(t, te)

	te, ok = IsTerminal(&TerminalError{Attempts: 3})
	require.True(t, ok)
	assert.Equal(t, 3, te.Attempts)
}
