// Package sim implements an in-process acquisition client that synthesizes
// parameter values on a configurable schedule. It serves as the delivery side
// for the operator tool and the test-suite: every subscription runs its own
// goroutine and invokes the callbacks exactly like a real client would,
// including injected acquisition errors.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tkoster/acqstream/acquisition"
)

// ErrSimulated is the cause attached to injected acquisition failures.
var ErrSimulated = errors.New("simulated acquisition failure")

// Client is a simulated acquisition client. It satisfies acquisition.Client.
type Client struct {
	settings Settings
	logger   zerolog.Logger

	mu      sync.Mutex
	closed  bool
	handles []*subscription
}

// NewClient builds a client from the given settings.
func NewClient(settings Settings, logger zerolog.Logger) *Client {
	return &Client{settings: settings, logger: logger}
}

// Subscribe registers a new simulated subscription. The subscription is
// inactive until StartMonitoring is called on the returned handle.
func (c *Client) Subscribe(name string, cb acquisition.Callback, opts acquisition.SubscribeOptions) (acquisition.Handle, error) {
	if name == "" {
		return nil, errors.New("parameter name must not be empty")
	}
	if cb == nil {
		return nil, errors.New("callback must not be nil")
	}
	resolved, err := c.settings.resolve(name)
	if err != nil {
		return nil, err
	}
	source, err := newValueSource(c.settings.Source, c.settings.Seed, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("client is closed")
	}
	sub := &subscription{
		id:       uuid.New(),
		name:     name,
		selector: opts.Selector,
		cb:       cb,
		settings: resolved,
		source:   source,
		logger:   c.logger,
	}
	c.handles = append(c.handles, sub)
	c.logger.Debug().
		Str("parameter", name).
		Str("subscription", sub.id.String()).
		Str("kind", resolved.kind).
		Dur("interval", resolved.interval).
		Msg("sim subscription created")
	return sub, nil
}

// Close stops and releases every subscription created by this client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := c.handles
	c.handles = nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range handles {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return errors.Join(errs...)
}

// subscription is one simulated parameter feed. While monitoring, a single
// goroutine generates values at the configured interval and hands them to the
// callback.
type subscription struct {
	id       uuid.UUID
	name     string
	selector string
	cb       acquisition.Callback
	settings resolvedParameter
	source   valueSource
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

func (s *subscription) Parameter() string {
	return s.name
}

func (s *subscription) Monitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// StartMonitoring spawns the delivery goroutine. Starting an already active
// subscription is a no-op.
func (s *subscription) StartMonitoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("subscription is closed")
	}
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

// StopMonitoring terminates the delivery goroutine and waits for it to
// finish, so no callback invocation can outlive this call. Stopping an
// inactive subscription is a no-op.
func (s *subscription) StopMonitoring() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *subscription) Close() error {
	if err := s.StopMonitoring(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *subscription) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	first := true
	if s.settings.firstImmediate {
		s.deliver(first, true)
		first = false
	}
	ticker := time.NewTicker(s.settings.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.deliver(first, false)
			first = false
		}
	}
}

func (s *subscription) deliver(first, immediate bool) {
	if s.settings.errorProbability > 0 {
		sample, err := s.source.Float64()
		if err == nil && sample < s.settings.errorProbability {
			s.cb.Error(s.name, "injected failure", ErrSimulated)
			return
		}
	}
	value, err := s.settings.generate(s.source)
	if err != nil {
		s.cb.Error(s.name, "value generation failed", err)
		return
	}
	now := time.Now()
	header := map[string]any{
		"acqStamp":          now,
		"cycleStamp":        now.Truncate(s.settings.interval),
		"setStamp":          now,
		"selector":          s.selector,
		"isFirstUpdate":     first,
		"isImmediateUpdate": immediate,
		"subscriptionId":    s.id.String(),
	}
	s.cb.Value(s.name, value, header)
}
