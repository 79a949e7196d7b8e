package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/portal/pkg/observability"
)

// PanicError is delivered on a task's error channel when the task panics
type PanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}

// Go runs fn in its own goroutine and returns a channel that receives the
// task's single result (nil on success) and is then closed.
//
// The task runs on a context detached from parent's cancellation but keeping
// its values, so work scheduled from a request handler outlives the request.
// timeout bounds the task; panics are recovered and reported as *PanicError.
// Failures are logged through logger before being delivered, so callers may
// drop the channel entirely.
//
// Example:
//
//	errCh := async.Go(r.Context(), 5*time.Second, "login activity", logger, func(ctx context.Context) error {
//	    return store.Insert(ctx, entry)
//	})
func Go(parent context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) <-chan error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()

		err := run(ctx, taskName, fn)
		if err != nil {
			entry := logger.WithField("task", taskName).WithError(err)
			if pe, ok := err.(*PanicError); ok {
				entry = entry.WithField("stack", string(pe.Stack))
			}
			entry.Warn("Background task failed")
		}
		errCh <- err
	}()

	return errCh
}

func run(ctx context.Context, taskName string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: taskName, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// SafeGo is Go for callers that never look at the result
func SafeGo(parent context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	_ = Go(parent, timeout, taskName, logger, fn)
}
