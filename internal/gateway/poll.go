package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PollFunc checks a job-status endpoint once. It returns done=true on a
// terminal success state, or an error on a terminal failure state.
type PollFunc func(ctx context.Context) (done bool, err error)

// Wait polls fn at a fixed interval until it reports done, fails, or the
// budget is exhausted. Exceeding the budget yields a *TimeoutError rather
// than looping forever. Cancellation of the caller's context is reported as
// that context's error, not as a timeout.
func Wait(ctx context.Context, interval, budget time.Duration, fn PollFunc) error {
	parent := ctx

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// First check happens immediately, before the ticker fires.
	done, err := fn(ctx)
	if err != nil {
		return err
	}

	if done {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return waitResult(parent, budget)
		case <-ticker.C:
			done, err := fn(ctx)
			if err != nil {
				return err
			}

			if done {
				return nil
			}
		}
	}
}

// WaitWithSchedule polls fn using an explicit backoff schedule: each entry is
// the delay before the next check, and the final entry repeats until the
// budget is exhausted. Used for avatar training, which is cheap to start
// checking quickly and expensive to hammer.
func WaitWithSchedule(ctx context.Context, schedule []time.Duration, budget time.Duration, fn PollFunc) error {
	if len(schedule) == 0 {
		return errors.New("poll schedule is empty")
	}

	parent := ctx

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for step := 0; ; step++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}

		if done {
			return nil
		}

		idx := step
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}

		select {
		case <-ctx.Done():
			return waitResult(parent, budget)
		case <-time.After(schedule[idx]):
		}
	}
}

// waitResult tells budget exhaustion apart from the caller giving up: only
// the former is a *TimeoutError.
func waitResult(parent context.Context, budget time.Duration) error {
	parentErr := parent.Err()
	if parentErr != nil {
		return fmt.Errorf("poll wait cancelled: %w", parentErr)
	}

	return &TimeoutError{Budget: budget}
}
