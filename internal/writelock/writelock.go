// Package writelock implements the single-writer FIFO async mutex that
// serializes all mutating storage access (spec §4.1). Unlike a plain
// sync.Mutex, waiters are granted the lock strictly in arrival order, a
// pending acquire can be bounded by a context deadline or an explicit
// timeout, and the lock can be drained to reject all current waiters
// during shutdown.
package writelock

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDrained is returned to any waiter (queued or newly arriving) once
// Drain has been called.
var ErrDrained = fmt.Errorf("writelock: drained")

// ErrTimeout is returned when an Acquire's timeout elapses before the
// waiter reaches the front of the queue.
var ErrTimeout = fmt.Errorf("writelock: acquire timed out")

type waiter struct {
	grant chan struct{}
	abort chan struct{} // closed by the waiter if it gives up waiting
}

// Lock is a FIFO mutex: waiters are serviced strictly in arrival order.
type Lock struct {
	mu      sync.Mutex
	held    bool
	queue   *list.List // of *waiter
	drained bool

	totalAcquires int64
	totalWaits    int64
	maxQueueDepth int64
}

// New returns an unlocked Lock.
func New() *Lock {
	return &Lock{queue: list.New()}
}

// Stats is a point-in-time snapshot of lock activity, surfaced by the
// operator CLI's status/doctor commands.
type Stats struct {
	Held          bool
	QueueDepth    int
	TotalAcquires int64
	TotalWaits    int64
	MaxQueueDepth int64
}

// Stats returns a snapshot of the lock's current state and lifetime counters.
func (l *Lock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Held:          l.held,
		QueueDepth:    l.queue.Len(),
		TotalAcquires: atomic.LoadInt64(&l.totalAcquires),
		TotalWaits:    atomic.LoadInt64(&l.totalWaits),
		MaxQueueDepth: atomic.LoadInt64(&l.maxQueueDepth),
	}
}

// Acquire blocks until the lock is granted, the context is cancelled, the
// timeout elapses, or the lock is drained. A zero timeout means wait
// indefinitely (subject to ctx). On success the caller must call Release.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	if l.drained {
		l.mu.Unlock()
		return ErrDrained
	}
	if !l.held && l.queue.Len() == 0 {
		l.held = true
		atomic.AddInt64(&l.totalAcquires, 1)
		l.mu.Unlock()
		return nil
	}

	w := &waiter{grant: make(chan struct{}), abort: make(chan struct{})}
	elem := l.queue.PushBack(w)
	if depth := int64(l.queue.Len()); depth > atomic.LoadInt64(&l.maxQueueDepth) {
		atomic.StoreInt64(&l.maxQueueDepth, depth)
	}
	atomic.AddInt64(&l.totalWaits, 1)
	l.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.grant:
		atomic.AddInt64(&l.totalAcquires, 1)
		return nil
	case <-w.abort:
		return ErrDrained
	case <-timeoutCh:
		l.mu.Lock()
		removed := l.removeWaiter(elem)
		l.mu.Unlock()
		if !removed {
			// Release already popped this waiter and closed w.grant before
			// the timeout fired; the slot is ours, not timed out.
			atomic.AddInt64(&l.totalAcquires, 1)
			return nil
		}
		return ErrTimeout
	case <-ctx.Done():
		l.mu.Lock()
		removed := l.removeWaiter(elem)
		l.mu.Unlock()
		if !removed {
			atomic.AddInt64(&l.totalAcquires, 1)
			return nil
		}
		return ctx.Err()
	}
}

// removeWaiter drops elem from the queue if it is still present, reporting
// whether it did so. It must be called with l.mu held. It returns false if
// the waiter was already granted and popped by Release concurrently with
// the caller's timeout/ctx firing — in that case w.grant is closed and the
// caller must honor the acquisition rather than treat it as a timeout.
func (l *Lock) removeWaiter(elem *list.Element) bool {
	for e := l.queue.Front(); e != nil; e = e.Next() {
		if e == elem {
			l.queue.Remove(e)
			return true
		}
	}
	return false
}

// Release hands the lock directly to the next queued waiter (FIFO), or
// marks the lock free if the queue is empty. Release must be called
// exactly once per successful Acquire.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	front := l.queue.Front()
	if front == nil {
		l.held = false
		return
	}
	l.queue.Remove(front)
	w := front.Value.(*waiter)
	close(w.grant) // held stays true: the slot passes directly to w
}

// WithLock acquires the lock, runs fn, and releases it regardless of
// whether fn panics.
func (l *Lock) WithLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Drain rejects every currently queued waiter with ErrDrained and marks
// the lock permanently closed to new acquires. It does not wait for the
// current holder (if any) to release; callers that need that guarantee
// should Acquire once more after Drain returns to confirm the holder has
// finished, then discard the lock.
func (l *Lock) Drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drained = true
	for e := l.queue.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		close(w.abort)
	}
	l.queue.Init()
}
