package database

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline is returned by WithDeadline when the timer fires first.
var ErrDeadline = errors.New("operation exceeded its time budget")

// WithDeadline runs fn and waits at most d for it to finish.
//
// fn runs on its own goroutine with a context that is detached from ctx's
// cancellation, so a fired timer means "stopped waiting", not "stopped
// working": fn keeps running until the database answers, and whatever
// connection it holds goes back to the pool then. d <= 0 disables the race.
func WithDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		v, err := fn(context.WithoutCancel(ctx))
		done <- result{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		var zero T
		return zero, ErrDeadline
	}
}
