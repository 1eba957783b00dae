// Package clock provides the periodic tick sources and cancellable tasks the
// monitor core schedules work on. A single dispatch goroutine owns the timer
// heap; blocking callbacks run on a bounded worker pool so the dispatch loop
// itself never blocks. Callbacks registered under the same key are always
// serialized relative to each other, matching the ordering guarantee in
// spec.md §4.1 (no two callbacks for the same monitor run concurrently).
package clock

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Func is a scheduled callback. Errors are surfaced to the logger; they never
// stop the scheduler or any other loop.
type Func func(ctx context.Context) error

// Handle cancels a scheduled task. Cancel is idempotent and safe to call from
// any goroutine, including from within the task's own callback.
type Handle struct {
	cancel func()
}

// Cancel stops future invocations of the task. An invocation already running
// is not interrupted.
func (h *Handle) Cancel() {
	h.cancel()
}

type task struct {
	key      string
	fn       Func
	index    int // heap index, maintained by container/heap
	nextFire time.Time
	period   time.Duration // zero for one-shot tasks
	canceled bool
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is the agent's single event-loop timer source plus a worker pool
// for blocking dispatch. The zero value is not usable; construct with New.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	heap    taskHeap
	wake    chan struct{}
	keyLock map[string]*sync.Mutex

	sem *semaphore.Weighted

	wg     sync.WaitGroup
	runMu  sync.Mutex
	closed bool
}

// New creates a Scheduler whose blocking worker pool holds at most
// maxWorkers concurrent callback executions.
func New(maxWorkers int) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Scheduler{
		logger:  slog.Default().With("component", "clock"),
		wake:    make(chan struct{}, 1),
		keyLock: make(map[string]*sync.Mutex),
		sem:     semaphore.NewWeighted(int64(maxWorkers)),
	}
}

func (s *Scheduler) keyMutex(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.keyLock[key]
	if !ok {
		m = &sync.Mutex{}
		s.keyLock[key] = m
	}
	return m
}

// Every schedules fn to run approximately every interval seconds, with the
// first invocation immediate. Tasks sharing the same key never run
// concurrently with each other.
func (s *Scheduler) Every(key string, interval time.Duration, fn Func) *Handle {
	return s.schedule(key, time.Now(), interval, fn)
}

// EveryAfter is like Every but the first invocation fires after delay rather
// than immediately. Used for the aggregation loop's wall-clock alignment.
func (s *Scheduler) EveryAfter(key string, delay, interval time.Duration, fn Func) *Handle {
	return s.schedule(key, time.Now().Add(delay), interval, fn)
}

// After schedules a one-shot invocation of fn after delay.
func (s *Scheduler) After(key string, delay time.Duration, fn Func) *Handle {
	return s.schedule(key, time.Now().Add(delay), 0, fn)
}

func (s *Scheduler) schedule(key string, first time.Time, period time.Duration, fn Func) *Handle {
	t := &task{key: key, fn: fn, nextFire: first, period: period}

	s.mu.Lock()
	heap.Push(&s.heap, t)
	s.mu.Unlock()

	s.poke()

	return &Handle{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.canceled = true
	}}
}

// InThread runs fn on its own goroutine immediately, outside the timer heap
// and outside the bounded worker pool. Used for long-lived blocking work
// such as the AMQP consumer drain.
func (s *Scheduler) InThread(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until ctx is canceled. It blocks the calling
// goroutine; callers typically run it in an errgroup alongside the rest of
// the agent's long-running components.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.mu.Lock()
		var timer <-chan time.Time
		if len(s.heap) > 0 {
			d := time.Until(s.heap[0].nextFire)
			if d < 0 {
				d = 0
			}
			timer = time.After(d)
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.wake:
			continue
		case <-timer:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	var due []*task

	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].nextFire.After(now) {
		t := heap.Pop(&s.heap).(*task)
		if t.canceled {
			continue
		}
		due = append(due, t)
		if t.period > 0 {
			t.nextFire = t.nextFire.Add(t.period)
			if t.nextFire.Before(now) {
				t.nextFire = now.Add(t.period)
			}
			heap.Push(&s.heap, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.dispatch(ctx, t)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, t *task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		lock := s.keyMutex(t.key)
		lock.Lock()
		defer lock.Unlock()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled task panicked", "key", t.key, "recovered", r)
			}
		}()

		if err := t.fn(ctx); err != nil {
			s.logger.Error("scheduled task failed", "key", t.key, "error", err)
		}
	}()
}

func (s *Scheduler) shutdown() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.wg.Wait()
}
