// Package stream bridges the asynchronous, callback-driven acquisition client
// to a synchronous, blocking consumer API. A parameter stream couples one
// subscription handle to a bounded queue of (value, header) pairs; the client
// delivers into the queue on its own goroutines while the consumer blocks on
// pops, optionally racing a cancellation token.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkoster/acqstream/acquisition"
	"github.com/tkoster/acqstream/cancellation"
	"github.com/tkoster/acqstream/telemetry"
)

// Item is one delivered acquisition: the value and its metadata header.
type Item struct {
	Value  any
	Header Header
}

// Monitorable is anything whose delivery can be switched on and off. Both
// stream flavours and acquisition handles satisfy it.
type Monitorable interface {
	StartMonitoring() error
	StopMonitoring() error
}

// Monitor starts monitoring m, runs fn, and stops monitoring unconditionally
// before returning, even if fn panics. It is the context-manager equivalent:
// the subscription is active exactly for the duration of fn.
func Monitor(m Monitorable, fn func() error) (err error) {
	if startErr := m.StartMonitoring(); startErr != nil {
		return startErr
	}
	defer func() {
		if stopErr := m.StopMonitoring(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn()
}

// ParamStream is a synchronized handle to a one-parameter subscription.
// Create it with Subscribe.
//
// The delivery callback runs on goroutines owned by the acquisition client;
// the consumer methods are meant to be called from a single goroutine. This
// single-consumer expectation is a caller contract, not an enforced
// invariant.
type ParamStream struct {
	name      string
	handle    acquisition.Handle
	queue     *eventQueue[Item]
	filter    *valueFilter
	logger    zerolog.Logger
	collector telemetry.Collector

	mu     sync.Mutex
	token  *cancellation.Token
	closed bool
}

// Subscribe subscribes to one parameter and wraps the subscription in a
// stream. The subscription starts inactive; call StartMonitoring or use
// Monitor to receive values.
func Subscribe(client acquisition.Client, name string, opts ...Option) (*ParamStream, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &ParamStream{
		name:      name,
		queue:     newEventQueue[Item](cfg.maxlen),
		filter:    cfg.filter,
		logger:    cfg.logger,
		collector: cfg.collector,
		token:     cfg.token,
	}
	handle, err := client.Subscribe(name, paramCallback{s}, acquisition.SubscribeOptions{Selector: cfg.selector})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	s.handle = handle
	return s, nil
}

func (s *ParamStream) String() string {
	return fmt.Sprintf("ParamStream(%s)", s.name)
}

// Parameter returns the name of the stream's underlying parameter.
func (s *ParamStream) Parameter() string {
	return s.name
}

// Monitoring reports whether the stream is currently receiving values.
func (s *ParamStream) Monitoring() bool {
	return s.handle.Monitoring()
}

// StartMonitoring activates the underlying subscription. Starting an already
// active stream is a no-op.
func (s *ParamStream) StartMonitoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.handle.StartMonitoring()
}

// StopMonitoring deactivates the underlying subscription. Stopping an
// inactive stream is a no-op.
func (s *ParamStream) StopMonitoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.handle.StopMonitoring()
}

// Token returns the stream's cancellation token, if any.
func (s *ParamStream) Token() *cancellation.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SetToken replaces the stream's cancellation token. This is only allowed
// while the stream is inactive; swapping the token under a live wait risks a
// hard-to-track-down deadlock on the stale token. Useful to restart a stream
// after a completed cancellation. Pass nil to detach the token.
func (s *ParamStream) SetToken(token *cancellation.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.handle.Monitoring() {
		return fmt.Errorf("cannot change cancellation token while monitoring")
	}
	s.token = token
	return nil
}

// PopOrWait returns the oldest buffered acquisition, or blocks until one
// arrives. A timeout <= 0 waits without bound.
//
// It reports an *AcquisitionError if the client recorded a failure,
// cancellation.ErrCancelled if the stream's token fired (buffered data is
// left untouched), ErrTimeout if the timeout elapsed, and ErrWouldDeadlock if
// the queue is empty, the stream is not monitoring and no timeout was given.
func (s *ParamStream) PopOrWait(timeout time.Duration) (Item, error) {
	return popOrWait(s.queue, s.Token(), s.Monitoring(), timeout)
}

// PopIfReady returns the oldest buffered acquisition without blocking. The
// second return value is false if nothing is buffered. A pending acquisition
// error takes priority over buffered values, like in PopOrWait; the token is
// never consulted.
func (s *ParamStream) PopIfReady() (Item, bool, error) {
	return s.queue.popNow()
}

// WaitForNext clears the queue, then waits like PopOrWait. The returned
// acquisition is guaranteed to have been delivered after the call started,
// never a stale buffered one. The queue is empty afterwards in any case.
func (s *ParamStream) WaitForNext(timeout time.Duration) (Item, error) {
	s.queue.clear()
	return popOrWait(s.queue, s.Token(), s.Monitoring(), timeout)
}

// Clear discards all buffered acquisitions and any pending error.
func (s *ParamStream) Clear() {
	s.queue.clear()
}

// Ready reports whether a pop would return immediately, because either a
// value or a pending error is available.
func (s *ParamStream) Ready() bool {
	return s.queue.ready()
}

// Oldest returns the oldest buffered acquisition without removing it.
func (s *ParamStream) Oldest() (Item, bool) {
	return s.queue.oldest()
}

// Newest returns the most recent buffered acquisition without removing it.
func (s *ParamStream) Newest() (Item, bool) {
	return s.queue.newest()
}

// Dropped returns the number of buffered acquisitions evicted so far.
func (s *ParamStream) Dropped() uint64 {
	return s.queue.droppedCount()
}

// Locked runs fn while holding the queue lock, preventing the delivery
// callback from enqueueing in the meantime. This allows compound operations
// free of check-then-act races, such as taking the newest value and clearing
// the rest. Keep fn short; blocking the delivery callback for long risks
// losing data. Do not call other stream methods from within fn.
func (s *ParamStream) Locked(fn func(View[Item])) {
	s.queue.locked(func() {
		fn(View[Item]{s.queue})
	})
}

// Close stops monitoring if still active and releases the subscription
// handle. It is safe to call multiple times.
func (s *ParamStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.handle.Monitoring() {
		if err := s.handle.StopMonitoring(); err != nil {
			s.logger.Warn().Err(err).Str("parameter", s.name).Msg("stop monitoring during close failed")
		}
	}
	return s.handle.Close()
}

func popOrWait[T any](q *eventQueue[T], token *cancellation.Token, monitoring bool, timeout time.Duration) (T, error) {
	var zero T
	// Deadlock guard: with no producer and no bound on the wait, nothing
	// could ever wake us up.
	if timeout <= 0 && !monitoring && !q.ready() {
		return zero, ErrWouldDeadlock
	}
	var cancel <-chan struct{}
	if token != nil {
		if err := token.Err(); err != nil {
			return zero, err
		}
		cancel = token.Done()
	}
	return q.popWait(timeout, cancel, cancellation.ErrCancelled)
}

// paramCallback adapts a ParamStream to the acquisition callback interface.
// Both methods run on the client's delivery goroutine.
type paramCallback struct {
	s *ParamStream
}

func (c paramCallback) Value(name string, value any, header map[string]any) {
	s := c.s
	if s.filter != nil {
		keep, err := s.filter.accept(value, header)
		if err != nil {
			s.logger.Warn().Err(err).Str("parameter", s.name).Msg("filter evaluation failed, delivery dropped")
			return
		}
		if !keep {
			s.collector.IncFiltered(s.name)
			s.logger.Debug().Str("parameter", s.name).Msg("delivery skipped by filter")
			return
		}
	}
	if evicted := s.queue.push(Item{Value: value, Header: NewHeader(header)}); evicted {
		s.collector.IncDropped(s.name, 1)
		s.logger.Debug().Str("parameter", s.name).Msg("evicted oldest buffered acquisition")
	}
	s.collector.IncDelivered(s.name)
	s.collector.SetQueueOccupancy(s.name, s.queue.len())
}

func (c paramCallback) Error(name string, description string, err error) {
	s := c.s
	s.queue.pushError(&AcquisitionError{Parameter: name, Description: description, Err: err})
	s.collector.IncAcquisitionError(s.name)
	s.logger.Warn().Err(err).Str("parameter", s.name).Str("description", description).Msg("acquisition error")
}
