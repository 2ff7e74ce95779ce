package stream

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tkoster/acqstream/cancellation"
	"github.com/tkoster/acqstream/telemetry"
)

const defaultMaxLen = 1

type settings struct {
	maxlen    int
	token     *cancellation.Token
	selector  string
	filter    *valueFilter
	logger    zerolog.Logger
	collector telemetry.Collector
}

// Option customises a subscription created by Subscribe or SubscribeGroup.
type Option func(cfg *settings) error

// WithMaxLen sets the maximum number of buffered acquisitions. The default is
// 1, keeping only the most recent value. Once full, the oldest buffered entry
// is evicted to admit a new one. Zero means unbounded; the queue then grows
// without limit unless emptied regularly.
func WithMaxLen(maxlen int) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if maxlen < 0 {
			return fmt.Errorf("maxlen must not be negative, got %d", maxlen)
		}
		cfg.maxlen = maxlen
		return nil
	}
}

// WithToken attaches a cancellation token. Every blocking pop races the
// queue's readiness against the token; if the token fires first the pop
// reports cancellation.ErrCancelled without consuming buffered data. The
// stream observes the token only, it never cancels or resets it.
func WithToken(token *cancellation.Token) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.token = token
		return nil
	}
}

// WithSelector overrides the client's default timing selector for this
// subscription.
func WithSelector(selector string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.selector = selector
		return nil
	}
}

// WithFilter installs a boolean expression evaluated against every delivery
// before it is enqueued, with "value" and "header" in scope. Deliveries for
// which it yields false are skipped. Compilation errors fail the subscribe;
// evaluation errors drop the delivery and log a warning.
func WithFilter(source string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		filter, err := compileFilter(source)
		if err != nil {
			return err
		}
		cfg.filter = filter
		return nil
	}
}

// WithLogger provides a custom logger for the stream.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// WithCollector installs a telemetry collector that observes deliveries,
// evictions and acquisition errors.
func WithCollector(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.collector = collector
		return nil
	}
}

func applyOptions(opts []Option) (settings, error) {
	cfg := settings{
		maxlen:    defaultMaxLen,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return settings{}, err
		}
	}
	return cfg, nil
}
