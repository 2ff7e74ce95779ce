// Package acquisition defines the boundary between parameter streams and the
// underlying data-acquisition client. The client delivers values through
// callbacks on goroutines it owns; everything above this package only consumes
// these interfaces and never assumes a concrete transport.
package acquisition

// Callback receives deliveries for one subscription.
//
// Both methods are invoked on goroutines owned by the client, never on the
// consumer's goroutine. Implementations must be safe for concurrent use and
// should return quickly; a callback that blocks stalls the client's delivery
// loop for every subscriber sharing it.
type Callback interface {
	// Value reports one successful acquisition. The header map carries the
	// raw acquisition metadata and must not be retained or mutated by the
	// client after the call returns.
	Value(name string, value any, header map[string]any)

	// Error reports a failed acquisition for the named parameter. The
	// description is the client's human-readable summary; err carries the
	// underlying cause.
	Error(name string, description string, err error)
}

// SubscribeOptions carries per-subscription settings understood by the client.
type SubscribeOptions struct {
	// Selector overrides the client's default timing selector, if the
	// client supports selectors. Empty means the client default.
	Selector string
}

// Client creates subscriptions to named parameters.
//
// Subscribe registers the callback and returns an inactive handle; no values
// are delivered until StartMonitoring is called on the handle.
type Client interface {
	Subscribe(name string, cb Callback, opts SubscribeOptions) (Handle, error)
}

// Handle controls the life cycle of one subscription.
//
// StartMonitoring and StopMonitoring must be idempotent and safe for
// concurrent use. Close releases all resources held by the subscription and
// implies StopMonitoring; after Close the handle is defunct.
type Handle interface {
	StartMonitoring() error
	StopMonitoring() error
	Monitoring() bool
	Parameter() string
	Close() error
}
