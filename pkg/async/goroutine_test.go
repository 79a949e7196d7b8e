package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/portal/pkg/contextkeys"
)

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without a result")
		}
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
		return nil
	}
}

func TestGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	err := waitResult(t, Go(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}))

	if err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if !executed.Load() {
		t.Error("Go did not execute function")
	}
}

func TestGo_ErrorDelivered(t *testing.T) {
	want := errors.New("insert failed")
	err := waitResult(t, Go(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error {
		return want
	}))
	if !errors.Is(err, want) {
		t.Fatalf("Expected %v, got %v", want, err)
	}
}

func TestGo_ChannelClosedAfterResult(t *testing.T) {
	ch := Go(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error { return nil })
	_ = waitResult(t, ch)
	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after the result")
	}
}

func TestGo_Timeout(t *testing.T) {
	err := waitResult(t, Go(context.Background(), 20*time.Millisecond, "slow task", nil, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestGo_PanicRecovered(t *testing.T) {
	err := waitResult(t, Go(context.Background(), time.Second, "panicky", nil, func(ctx context.Context) error {
		panic("kaboom")
	}))

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PanicError, got %T", err)
	}
	if pe.Task != "panicky" || pe.Value != "kaboom" {
		t.Errorf("Unexpected panic error: %+v", pe)
	}
}

func TestGo_DetachedFromParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), contextkeys.RequestIDKey, "req-1"))
	cancel()

	err := waitResult(t, Go(parent, time.Second, "detached", nil, func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ctx.Value(contextkeys.RequestIDKey) != "req-1" {
			return errors.New("context values not preserved")
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("Expected task to run despite cancelled parent, got %v", err)
	}
}

func TestSafeGo_DoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})

	start := time.Now()
	SafeGo(context.Background(), time.Second, "blocked", nil, func(ctx context.Context) error {
		<-release
		close(done)
		return nil
	})
	if time.Since(start) > 100*time.Millisecond {
		t.Error("SafeGo blocked the caller")
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}
}
