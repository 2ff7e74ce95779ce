package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkoster/acqstream/acquisition"
	"github.com/tkoster/acqstream/cancellation"
	"github.com/tkoster/acqstream/telemetry"
)

// ParamGroupStream fans N independent subscriptions into one queue of
// synchronized cycles. One queue entry holds one Item per member, in
// subscription order; partial cycles are never exposed.
//
// Join policy: each member delivers independently. Arrivals are collected in
// per-member slots until every slot is filled, then the completed cycle is
// pushed as a single entry and the slots reset. A member that delivers again
// before its cycle closes replaces its own pending value (most-recent-wins),
// so a slow member never blocks newer data from faster ones — at the cost of
// skipping the superseded observation.
type ParamGroupStream struct {
	names     []string
	handles   []acquisition.Handle
	queue     *eventQueue[[]Item]
	logger    zerolog.Logger
	collector telemetry.Collector

	mu     sync.Mutex
	token  *cancellation.Token
	closed bool

	joinMu  sync.Mutex
	slots   []*Item
	filled  int
}

// SubscribeGroup subscribes to all named parameters and joins their
// deliveries into one stream of synchronized cycles. The member order of
// every popped cycle matches names. The subscription starts inactive.
//
// Handles already created are closed again if a later member fails to
// subscribe.
func SubscribeGroup(client acquisition.Client, names []string, opts ...Option) (*ParamGroupStream, error) {
	if len(names) == 0 {
		return nil, errors.New("subscribe group: no parameter names given")
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	g := &ParamGroupStream{
		names:     append([]string(nil), names...),
		queue:     newEventQueue[[]Item](cfg.maxlen),
		logger:    cfg.logger,
		collector: cfg.collector,
		token:     cfg.token,
		slots:     make([]*Item, len(names)),
	}
	g.handles = make([]acquisition.Handle, 0, len(names))
	for i, name := range names {
		cb := groupCallback{g: g, index: i, filter: cfg.filter}
		handle, err := client.Subscribe(name, cb, acquisition.SubscribeOptions{Selector: cfg.selector})
		if err != nil {
			for _, open := range g.handles {
				if closeErr := open.Close(); closeErr != nil {
					g.logger.Warn().Err(closeErr).Str("parameter", open.Parameter()).Msg("close after failed group subscribe")
				}
			}
			return nil, fmt.Errorf("subscribe %s: %w", name, err)
		}
		g.handles = append(g.handles, handle)
	}
	return g, nil
}

func (g *ParamGroupStream) String() string {
	return fmt.Sprintf("ParamGroupStream of %d parameters", len(g.names))
}

// ParameterNames returns the names of all member parameters in subscription
// order.
func (g *ParamGroupStream) ParameterNames() []string {
	return append([]string(nil), g.names...)
}

// Monitoring reports whether every member subscription is active. Cycles can
// only complete when all members deliver.
func (g *ParamGroupStream) Monitoring() bool {
	for _, handle := range g.handles {
		if !handle.Monitoring() {
			return false
		}
	}
	return true
}

// StartMonitoring activates all member subscriptions. Best-effort: a failure
// on one member does not prevent starting the rest; the errors are joined.
func (g *ParamGroupStream) StartMonitoring() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return g.eachHandle(func(h acquisition.Handle) error { return h.StartMonitoring() })
}

// StopMonitoring deactivates all member subscriptions, best-effort.
func (g *ParamGroupStream) StopMonitoring() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return g.eachHandle(func(h acquisition.Handle) error { return h.StopMonitoring() })
}

func (g *ParamGroupStream) eachHandle(fn func(acquisition.Handle) error) error {
	var errs []error
	for _, handle := range g.handles {
		if err := fn(handle); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", handle.Parameter(), err))
		}
	}
	return errors.Join(errs...)
}

// Token returns the stream's cancellation token, if any.
func (g *ParamGroupStream) Token() *cancellation.Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// SetToken replaces the stream's cancellation token. Only allowed while no
// member is monitoring; see ParamStream.SetToken.
func (g *ParamGroupStream) SetToken(token *cancellation.Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	for _, handle := range g.handles {
		if handle.Monitoring() {
			return fmt.Errorf("cannot change cancellation token while monitoring")
		}
	}
	g.token = token
	return nil
}

// PopOrWait returns the oldest complete cycle, or blocks until one arrives.
// Semantics match ParamStream.PopOrWait; errors from members surface as
// *GroupAcquisitionError.
func (g *ParamGroupStream) PopOrWait(timeout time.Duration) ([]Item, error) {
	return popOrWait(g.queue, g.Token(), g.Monitoring(), timeout)
}

// PopIfReady returns the oldest complete cycle without blocking.
func (g *ParamGroupStream) PopIfReady() ([]Item, bool, error) {
	return g.queue.popNow()
}

// WaitForNext clears the queue, then waits like PopOrWait. Only cycles
// completed after the call can be returned.
func (g *ParamGroupStream) WaitForNext(timeout time.Duration) ([]Item, error) {
	g.queue.clear()
	return popOrWait(g.queue, g.Token(), g.Monitoring(), timeout)
}

// Clear discards all buffered cycles and any pending error. Partial arrivals
// for the current cycle are kept; they belong to a cycle that has not been
// observed yet.
func (g *ParamGroupStream) Clear() {
	g.queue.clear()
}

// Ready reports whether a pop would return immediately.
func (g *ParamGroupStream) Ready() bool {
	return g.queue.ready()
}

// Oldest returns the oldest buffered cycle without removing it.
func (g *ParamGroupStream) Oldest() ([]Item, bool) {
	return g.queue.oldest()
}

// Newest returns the most recent buffered cycle without removing it.
func (g *ParamGroupStream) Newest() ([]Item, bool) {
	return g.queue.newest()
}

// Dropped returns the number of buffered cycles evicted so far.
func (g *ParamGroupStream) Dropped() uint64 {
	return g.queue.droppedCount()
}

// Locked runs fn while holding the queue lock; see ParamStream.Locked.
func (g *ParamGroupStream) Locked(fn func(View[[]Item])) {
	g.queue.locked(func() {
		fn(View[[]Item]{g.queue})
	})
}

// Close stops monitoring on all members that are still active and releases
// all handles, best-effort. Safe to call multiple times.
func (g *ParamGroupStream) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.eachHandle(func(h acquisition.Handle) error {
		if h.Monitoring() {
			if err := h.StopMonitoring(); err != nil {
				g.logger.Warn().Err(err).Str("parameter", h.Parameter()).Msg("stop monitoring during close failed")
			}
		}
		return h.Close()
	})
}

// deliver records one member arrival and pushes the cycle once complete.
func (g *ParamGroupStream) deliver(index int, item Item) {
	name := g.names[index]
	g.joinMu.Lock()
	if g.slots[index] != nil {
		g.collector.IncSuperseded(name)
		g.logger.Debug().Str("parameter", name).Msg("superseded pending cycle value")
	} else {
		g.filled++
	}
	g.slots[index] = &item
	if g.filled < len(g.slots) {
		g.joinMu.Unlock()
		return
	}
	cycle := make([]Item, len(g.slots))
	for i, slot := range g.slots {
		cycle[i] = *slot
		g.slots[i] = nil
	}
	g.filled = 0
	// Push while still holding joinMu so concurrently completing cycles
	// cannot reorder in the queue.
	evicted := g.queue.push(cycle)
	g.joinMu.Unlock()

	if evicted {
		g.collector.IncDropped(name, 1)
		g.logger.Debug().Msg("evicted oldest buffered cycle")
	}
	g.collector.IncDelivered(name)
	g.collector.SetQueueOccupancy(g.String(), g.queue.len())
}

// fail short-circuits the current cycle with a member error. The partial
// arrivals collected so far are discarded; they can never form a complete
// cycle that the consumer should trust.
func (g *ParamGroupStream) fail(index int, description string, err error) {
	name := g.names[index]
	g.joinMu.Lock()
	for i := range g.slots {
		g.slots[i] = nil
	}
	g.filled = 0
	g.joinMu.Unlock()

	g.queue.pushError(&GroupAcquisitionError{
		Parameter: name,
		Err:       &AcquisitionError{Parameter: name, Description: description, Err: err},
	})
	g.collector.IncAcquisitionError(name)
	g.logger.Warn().Err(err).Str("parameter", name).Str("description", description).Msg("group acquisition error")
}

// groupCallback adapts one group member to the acquisition callback
// interface. Runs on the client's delivery goroutines, possibly concurrently
// across members.
type groupCallback struct {
	g      *ParamGroupStream
	index  int
	filter *valueFilter
}

func (c groupCallback) Value(name string, value any, header map[string]any) {
	if c.filter != nil {
		keep, err := c.filter.accept(value, header)
		if err != nil {
			c.g.logger.Warn().Err(err).Str("parameter", name).Msg("filter evaluation failed, delivery dropped")
			return
		}
		if !keep {
			c.g.collector.IncFiltered(name)
			return
		}
	}
	c.g.deliver(c.index, Item{Value: value, Header: NewHeader(header)})
}

func (c groupCallback) Error(name string, description string, err error) {
	c.g.fail(c.index, description, err)
}
