package stream

import (
	"sync"
	"time"
)

// eventQueue is the bounded buffer shared by both stream flavours. The
// producer side (the client's delivery goroutine) pushes values and errors;
// the consumer side pops them, optionally blocking.
//
// All state is guarded by mu. Blocking pops park on the wake channel instead
// of a condition variable so they can race a cancellation channel and a timer
// in a single select. The channel holds at most one token; every push and
// pushError deposits one, and waiters re-check the predicate after every wake
// because a token may be stale after clears or earlier pops.
type eventQueue[T any] struct {
	mu      sync.Mutex
	wake    chan struct{}
	maxlen  int // 0 means unbounded
	items   []T
	pending error
	dropped uint64
}

func newEventQueue[T any](maxlen int) *eventQueue[T] {
	if maxlen < 0 {
		maxlen = 0
	}
	return &eventQueue[T]{
		wake:   make(chan struct{}, 1),
		maxlen: maxlen,
	}
}

func (q *eventQueue[T]) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// push appends an item, evicting the oldest buffered item first if the queue
// is at capacity. It never blocks. The return value reports whether an
// eviction happened.
func (q *eventQueue[T]) push(item T) bool {
	q.mu.Lock()
	evicted := false
	if q.maxlen > 0 && len(q.items) == q.maxlen {
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = item
		q.dropped++
		evicted = true
	} else {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()
	q.notify()
	return evicted
}

// pushError stores err in the pending-error slot, replacing any uncollected
// previous error. Buffered values are kept; the error takes priority over
// them on the next pop.
func (q *eventQueue[T]) pushError(err error) {
	q.mu.Lock()
	q.pending = err
	q.mu.Unlock()
	q.notify()
}

// popWait blocks until a value or a pending error is available, the cancel
// channel fires, or the timeout elapses. A timeout <= 0 means no timeout. A
// nil cancel channel never fires.
//
// Cancellation wins over buffered content: if cancel has already fired the
// pop reports the cancellation error without consuming anything, so a retried
// wait after the cancellation is resolved still observes the buffered values.
func (q *eventQueue[T]) popWait(timeout time.Duration, cancel <-chan struct{}, cancelErr error) (T, error) {
	var zero T
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case <-cancel:
			return zero, cancelErr
		default:
		}
		q.mu.Lock()
		item, ok, err := q.popLocked()
		q.mu.Unlock()
		if err != nil || ok {
			return item, err
		}
		select {
		case <-q.wake:
			// Re-check the predicate; the token may be stale.
		case <-cancel:
			return zero, cancelErr
		case <-expired:
			return zero, ErrTimeout
		}
	}
}

// popNow is the non-blocking variant of popWait with the same priority order.
func (q *eventQueue[T]) popNow() (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *eventQueue[T]) popLocked() (T, bool, error) {
	var zero T
	if q.pending != nil {
		err := q.pending
		q.pending = nil
		return zero, false, err
	}
	if len(q.items) > 0 {
		item := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		return item, true, nil
	}
	return zero, false, nil
}

// clear discards all buffered values and any pending error atomically.
func (q *eventQueue[T]) clear() {
	q.mu.Lock()
	q.clearLocked()
	q.mu.Unlock()
}

func (q *eventQueue[T]) clearLocked() {
	q.items = nil
	q.pending = nil
}

func (q *eventQueue[T]) ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked()
}

func (q *eventQueue[T]) readyLocked() bool {
	return len(q.items) > 0 || q.pending != nil
}

func (q *eventQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *eventQueue[T]) oldest() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.oldestLocked()
}

func (q *eventQueue[T]) oldestLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

func (q *eventQueue[T]) newest() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.newestLocked()
}

func (q *eventQueue[T]) newestLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[len(q.items)-1], true
}

func (q *eventQueue[T]) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// locked runs fn while holding the queue mutex. The delivery callback cannot
// enqueue anything for the duration of fn.
func (q *eventQueue[T]) locked(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

// View exposes compound queue access while the queue lock is held through
// Locked. Using a View outside its Locked call is a bug.
type View[T any] struct {
	q *eventQueue[T]
}

// Ready reports whether a pop would return immediately.
func (v View[T]) Ready() bool { return v.q.readyLocked() }

// Oldest returns the oldest buffered item without removing it.
func (v View[T]) Oldest() (T, bool) { return v.q.oldestLocked() }

// Newest returns the most recent buffered item without removing it.
func (v View[T]) Newest() (T, bool) { return v.q.newestLocked() }

// Pop removes and returns the oldest item, or reports the pending error.
func (v View[T]) Pop() (T, bool, error) { return v.q.popLocked() }

// Clear discards all buffered items and any pending error.
func (v View[T]) Clear() { v.q.clearLocked() }

// Len returns the number of buffered items.
func (v View[T]) Len() int { return len(v.q.items) }
