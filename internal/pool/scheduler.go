// Package pool implements the per-index persist scheduler described in
// spec §4.4: a bounded-concurrency worker pool (default 4 workers,
// backed by ants) draining a FIFO set of dirty index-entry keys, with
// at most one in-flight persist per key and merge-on-conflict retry
// handled by the caller-supplied PersistFunc.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/panjf2000/ants/v2"
)

// ErrStopped is returned by Enqueue once the scheduler has been
// stopped.
var ErrStopped = errors.New("pool: scheduler stopped")

// ErrRequeue is returned by a PersistFunc to mean its key must be
// drained again: the write it just completed succeeded, but something
// changed the key's local state while it was in flight. Calling
// Enqueue directly from inside PersistFunc cannot do this — the key is
// still marked running until PersistFunc returns, so Enqueue would
// just no-op. Returning ErrRequeue lets run() move the key straight
// from running back to ready under the same lock.
var ErrRequeue = errors.New("pool: requeue key")

// PersistFunc persists the dirty entry for key. It returns nil on
// success. Retry-worthy failures (transient network, conflict requiring
// a merge-and-retry) must be handled inside PersistFunc itself; it may
// call Scheduler.Enqueue again to reschedule after a backoff sleep.
type PersistFunc func(ctx context.Context, key string) error

// Status reports the scheduler's current drain progress.
type Status struct {
	Pending    int
	Running    int
	AvgLatency time.Duration
	ETA        time.Duration
}

// Scheduler drains dirty keys for a single CollectionIndex through a
// bounded ants worker pool.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	persist PersistFunc
	workers int
	logger  *logger.Logger

	mu      sync.Mutex
	ready   map[string]struct{} // keys waiting to be dispatched
	running map[string]struct{} // keys currently being persisted
	order   []string            // FIFO order of ready keys
	stopped bool
	cond    *sync.Cond

	antsPool *ants.Pool
	wg       sync.WaitGroup

	latencyMu    sync.Mutex
	totalLatency time.Duration
	completed    int
}

// NewScheduler creates a scheduler with workers bounded-concurrency
// slots (ants-backed) draining dirty keys via persist.
func NewScheduler(workers int, persist PersistFunc, log *logger.Logger) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	s := &Scheduler{
		persist: persist,
		workers: workers,
		logger:  log,
		ready:   make(map[string]struct{}),
		running: make(map[string]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		if s.logger != nil {
			s.logger.Error("persist scheduler worker panic: %v", v)
		}
	}))
	if err == nil {
		s.antsPool = pool
	}
	return s
}

// Enqueue marks key dirty and ready to be drained. Idempotent: a key
// already ready or in flight is not queued twice.
func (s *Scheduler) Enqueue(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, running := s.running[key]; running {
		return nil
	}
	if _, ready := s.ready[key]; ready {
		return nil
	}

	s.ready[key] = struct{}{}
	s.order = append(s.order, key)
	s.dispatchLocked()
	return nil
}

// dispatchLocked must be called with s.mu held. It takes ready keys in
// FIFO order, marks each as running and hands it off for execution,
// for as long as fewer than workers keys are running; the rest stay
// pending until a running persist completes.
//
// Handoff happens through a goroutine, not a direct antsPool.Submit call:
// ants.Pool.Submit blocks the caller once the pool is at capacity, and
// calling it here would hold s.mu until a worker frees up — which can
// never happen, since a running task's own completion (run) needs that
// same lock to clear itself from the running set. The transient
// goroutine absorbs that wait outside the lock.
func (s *Scheduler) dispatchLocked() {
	for len(s.order) > 0 && len(s.running) < s.workers {
		key := s.order[0]
		s.order = s.order[1:]
		if _, stillReady := s.ready[key]; !stillReady {
			continue
		}
		delete(s.ready, key)
		s.running[key] = struct{}{}

		s.wg.Add(1)
		s.submit(key)
	}
}

func (s *Scheduler) submit(key string) {
	task := func() { s.run(key) }
	if s.antsPool == nil {
		go task()
		return
	}
	go func() {
		if err := s.antsPool.Submit(task); err != nil {
			task()
		}
	}()
}

func (s *Scheduler) run(key string) {
	defer s.wg.Done()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	var err error
	if !stopped {
		start := time.Now()
		err = s.persist(context.Background(), key)
		elapsed := time.Since(start)

		s.latencyMu.Lock()
		s.totalLatency += elapsed
		s.completed++
		s.latencyMu.Unlock()
	}

	s.mu.Lock()
	delete(s.running, key)
	switch {
	case errors.Is(err, ErrRequeue):
		if !s.stopped {
			if _, ready := s.ready[key]; !ready {
				s.ready[key] = struct{}{}
				s.order = append(s.order, key)
			}
		}
	case err != nil && s.logger != nil:
		s.logger.Warn("persist failed for %s: %v", key, err)
	}
	s.dispatchLocked()
	empty := len(s.ready) == 0 && len(s.running) == 0
	s.mu.Unlock()

	if empty {
		s.cond.Broadcast()
	}
}

// Flush blocks until the ready set is empty and no persist is
// in-flight. It may observe several drain cycles if PersistFunc
// re-enqueues keys internally.
func (s *Scheduler) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for len(s.ready) > 0 || len(s.running) > 0 {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains in-flight work and releases the ants pool. Cancellation
// is honored at the start of each attempt; dispatched persists are
// allowed to complete and their results are applied to cache state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
	if s.antsPool != nil {
		_ = s.antsPool.ReleaseTimeout(3 * time.Second)
	}
}

// Status reports pending/running counts, rolling-average latency, and
// an estimated time-to-drain (pending * avg / workers).
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	pending := len(s.ready)
	running := len(s.running)
	s.mu.Unlock()

	s.latencyMu.Lock()
	avg := time.Duration(0)
	if s.completed > 0 {
		avg = s.totalLatency / time.Duration(s.completed)
	}
	s.latencyMu.Unlock()

	eta := time.Duration(0)
	if pending > 0 && avg > 0 {
		eta = time.Duration(int64(pending)*int64(avg)) / time.Duration(s.workers)
	}

	return Status{Pending: pending, Running: running, AvgLatency: avg, ETA: eta}
}
