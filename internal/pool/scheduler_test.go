package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerDrainsEnqueuedKeys(t *testing.T) {
	var mu sync.Mutex
	processed := make(map[string]int)

	s := NewScheduler(2, func(ctx context.Context, key string) error {
		mu.Lock()
		processed[key]++
		mu.Unlock()
		return nil
	}, nil)

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Enqueue(key); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"a", "b", "c"} {
		if processed[key] != 1 {
			t.Errorf("key %s processed %d times, want 1", key, processed[key])
		}
	}
}

func TestSchedulerEnqueueIsIdempotentWhileReady(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	s := NewScheduler(1, func(ctx context.Context, key string) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}, nil)

	if err := s.Enqueue("k"); err != nil {
		t.Fatal(err)
	}
	// give the worker a moment to pick the key up and move it to "running"
	time.Sleep(20 * time.Millisecond)
	if err := s.Enqueue("k"); err != nil {
		t.Fatal(err)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 persist call for a key re-enqueued while running, got %d", got)
	}
}

func TestSchedulerRetryReenqueuesUntilSuccess(t *testing.T) {
	var attempts int32
	s := NewScheduler(1, func(ctx context.Context, key string) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, nil)

	if err := s.Enqueue("retry-me"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	deadline := time.After(900 * time.Millisecond)
	for atomic.LoadInt32(&attempts) < 3 {
		select {
		case <-deadline:
			t.Fatalf("gave up waiting for retries, attempts=%d", atomic.LoadInt32(&attempts))
		default:
			if err := s.Enqueue("retry-me"); err != nil {
				t.Fatal(err)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerEnqueueAfterStopFails(t *testing.T) {
	s := NewScheduler(1, func(ctx context.Context, key string) error { return nil }, nil)
	s.Stop()
	if err := s.Enqueue("k"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestSchedulerStatusReportsPendingAndRunning(t *testing.T) {
	block := make(chan struct{})
	s := NewScheduler(1, func(ctx context.Context, key string) error {
		<-block
		return nil
	}, nil)

	if err := s.Enqueue("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue("b"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	status := s.Status()
	if status.Running != 1 {
		t.Errorf("expected 1 running task, got %d", status.Running)
	}
	if status.Pending != 1 {
		t.Errorf("expected 1 pending task, got %d", status.Pending)
	}
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}
