package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func runFor(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	_ = s.Run(ctx)
}

func TestEveryFiresImmediatelyThenOnInterval(t *testing.T) {
	s := New(4)
	var count int64
	s.Every("m1", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	runFor(t, s, 65*time.Millisecond)

	got := atomic.LoadInt64(&count)
	if got < 2 || got > 5 {
		t.Fatalf("expected roughly 4 fires in 65ms window with immediate first tick, got %d", got)
	}
}

func TestAfterFiresOnce(t *testing.T) {
	s := New(4)
	var count int64
	s.After("one-shot", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	runFor(t, s, 60*time.Millisecond)

	if got := atomic.LoadInt64(&count); got != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", got)
	}
}

func TestCancelStopsFutureFires(t *testing.T) {
	s := New(4)
	var count int64
	h := s.Every("cancelable", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()

	time.Sleep(15 * time.Millisecond)
	h.Cancel()
	seenAtCancel := atomic.LoadInt64(&count)
	time.Sleep(40 * time.Millisecond)
	cancel()

	if got := atomic.LoadInt64(&count); got > seenAtCancel+1 {
		t.Fatalf("expected no further fires after cancel, before=%d after=%d", seenAtCancel, got)
	}
}

func TestSameKeyNeverRunsConcurrently(t *testing.T) {
	s := New(8)
	var mu sync.Mutex
	running := false
	violated := false

	s.Every("shared", 5*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		if running {
			violated = true
		}
		running = true
		mu.Unlock()

		time.Sleep(8 * time.Millisecond)

		mu.Lock()
		running = false
		mu.Unlock()
		return nil
	})

	runFor(t, s, 80*time.Millisecond)

	if violated {
		t.Fatal("two callbacks for the same key ran concurrently")
	}
}

func TestCallbackErrorDoesNotStopOtherTasks(t *testing.T) {
	s := New(4)
	var okCount int64

	s.Every("failing", 10*time.Millisecond, func(ctx context.Context) error {
		return context.DeadlineExceeded
	})
	s.Every("healthy", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&okCount, 1)
		return nil
	})

	runFor(t, s, 45*time.Millisecond)

	if atomic.LoadInt64(&okCount) < 2 {
		t.Fatalf("expected healthy task to keep firing despite failing sibling, got %d", okCount)
	}
}
