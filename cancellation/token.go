// Package cancellation implements the cooperative cancellation primitive
// consumed by parameter streams. The host owns a Source and hands its Token to
// long-running operations; the operations only observe the token, they never
// cancel or reset it themselves.
package cancellation

import (
	"errors"
	"sync"
)

// ErrCancelled is reported by operations that were interrupted through a
// token. Callers can distinguish it from acquisition failures with errors.Is.
var ErrCancelled = errors.New("operation cancelled")

// Source owns the cancellation state. The zero value is not usable; create
// sources with NewSource.
//
// A source moves through three states: armed, cancelled, and completed. Once
// cancelled, the source stays cancelled until every observer has acknowledged
// the cancellation via Token.CompleteCancellation and the host calls Reset.
type Source struct {
	mu        sync.Mutex
	done      chan struct{}
	cancelled bool
	completed bool
	token     *Token
}

// NewSource returns an armed source whose token reports no cancellation.
func NewSource() *Source {
	s := &Source{done: make(chan struct{})}
	s.token = &Token{source: s}
	return s
}

// Token returns the observer handle for this source. The same token is
// returned on every call.
func (s *Source) Token() *Token {
	return s.token
}

// Cancel requests cancellation. All pending and future waits racing the
// token's Done channel are released. Cancelling an already cancelled source
// is a no-op.
func (s *Source) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	close(s.done)
}

// CanReset reports whether the source may be re-armed: either it was never
// cancelled, or the cancellation has been acknowledged by the observer.
func (s *Source) CanReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cancelled || s.completed
}

// Reset re-arms a cancelled source so its token can be reused. It fails if a
// cancellation is still in flight, that is requested but not yet acknowledged
// through CompleteCancellation.
func (s *Source) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelled {
		return nil
	}
	if !s.completed {
		return errors.New("cancellation not yet completed")
	}
	s.cancelled = false
	s.completed = false
	s.done = make(chan struct{})
	return nil
}

// Token is the observer side of a Source. Tokens are safe for concurrent use.
type Token struct {
	source *Source
}

// Done returns a channel that is closed once cancellation has been requested.
// After a Reset of the source, Done returns a fresh open channel; waiters must
// fetch the channel anew for every wait.
func (t *Token) Done() <-chan struct{} {
	t.source.mu.Lock()
	defer t.source.mu.Unlock()
	return t.source.done
}

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool {
	t.source.mu.Lock()
	defer t.source.mu.Unlock()
	return t.source.cancelled
}

// Err returns ErrCancelled if cancellation has been requested and nil
// otherwise.
func (t *Token) Err() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// CompleteCancellation acknowledges an observed cancellation. Operations that
// abort because of the token are expected to call this (directly or through
// their caller) before the host reuses or resets the source.
func (t *Token) CompleteCancellation() {
	t.source.mu.Lock()
	defer t.source.mu.Unlock()
	if t.source.cancelled {
		t.source.completed = true
	}
}

// CancellationCompleted reports whether an observed cancellation has been
// acknowledged.
func (t *Token) CancellationCompleted() bool {
	t.source.mu.Lock()
	defer t.source.mu.Unlock()
	return t.source.completed
}
