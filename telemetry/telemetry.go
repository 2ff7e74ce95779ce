package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by parameter streams.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the delivery callback of the acquisition client.
type Collector interface {
	IncDelivered(parameter string)
	IncDropped(parameter string, count uint64)
	IncAcquisitionError(parameter string)
	IncFiltered(parameter string)
	IncSuperseded(parameter string)
	SetQueueOccupancy(parameter string, occupancy int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncDelivered(string)           {}
func (noopCollector) IncDropped(string, uint64)     {}
func (noopCollector) IncAcquisitionError(string)    {}
func (noopCollector) IncFiltered(string)            {}
func (noopCollector) IncSuperseded(string)          {}
func (noopCollector) SetQueueOccupancy(string, int) {}

// PrometheusCollector exposes stream telemetry via Prometheus.
type PrometheusCollector struct {
	delivered  *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	acqErrors  *prometheus.CounterVec
	filtered   *prometheus.CounterVec
	superseded *prometheus.CounterVec
	occupancy  *prometheus.GaugeVec
}

var (
	metricsLock    sync.Mutex
	deliveredVec   *prometheus.CounterVec
	droppedVec     *prometheus.CounterVec
	acqErrorVec    *prometheus.CounterVec
	filteredVec    *prometheus.CounterVec
	supersededVec  *prometheus.CounterVec
	occupancyGauge *prometheus.GaugeVec
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics already registered by an earlier collector are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsLock.Lock()
	defer metricsLock.Unlock()

	var err error
	if deliveredVec == nil {
		deliveredVec, err = registerCounter(reg, "acqstream_delivered_total",
			"Number of acquisitions delivered into stream queues.")
		if err != nil {
			return nil, err
		}
	}
	if droppedVec == nil {
		droppedVec, err = registerCounter(reg, "acqstream_queue_dropped_total",
			"Number of buffered acquisitions evicted because a queue was at capacity.")
		if err != nil {
			return nil, err
		}
	}
	if acqErrorVec == nil {
		acqErrorVec, err = registerCounter(reg, "acqstream_acquisition_errors_total",
			"Number of acquisition errors reported by the client per parameter.")
		if err != nil {
			return nil, err
		}
	}
	if filteredVec == nil {
		filteredVec, err = registerCounter(reg, "acqstream_filtered_total",
			"Number of deliveries skipped by a subscription filter.")
		if err != nil {
			return nil, err
		}
	}
	if supersededVec == nil {
		supersededVec, err = registerCounter(reg, "acqstream_superseded_total",
			"Number of partial group-cycle values replaced by a newer delivery.")
		if err != nil {
			return nil, err
		}
	}
	if occupancyGauge == nil {
		occupancyGauge, err = registerGauge(reg, "acqstream_queue_occupancy",
			"Number of acquisitions currently buffered per stream queue.")
		if err != nil {
			return nil, err
		}
	}

	return &PrometheusCollector{
		delivered:  deliveredVec,
		dropped:    droppedVec,
		acqErrors:  acqErrorVec,
		filtered:   filteredVec,
		superseded: supersededVec,
		occupancy:  occupancyGauge,
	}, nil
}

func registerCounter(reg prometheus.Registerer, name, help string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"parameter"})
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, name, help string) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"parameter"})
	if err := reg.Register(gauge); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return gauge, nil
}

// IncDelivered counts a delivery enqueued for the parameter.
func (p *PrometheusCollector) IncDelivered(parameter string) {
	if p == nil || p.delivered == nil {
		return
	}
	p.delivered.WithLabelValues(parameter).Inc()
}

// IncDropped records buffered acquisitions evicted by the drop-oldest policy.
func (p *PrometheusCollector) IncDropped(parameter string, count uint64) {
	if p == nil || p.dropped == nil || count == 0 {
		return
	}
	p.dropped.WithLabelValues(parameter).Add(float64(count))
}

// IncAcquisitionError counts a client-reported acquisition failure.
func (p *PrometheusCollector) IncAcquisitionError(parameter string) {
	if p == nil || p.acqErrors == nil {
		return
	}
	p.acqErrors.WithLabelValues(parameter).Inc()
}

// IncFiltered counts a delivery skipped by a subscription filter.
func (p *PrometheusCollector) IncFiltered(parameter string) {
	if p == nil || p.filtered == nil {
		return
	}
	p.filtered.WithLabelValues(parameter).Inc()
}

// IncSuperseded counts a group-cycle value replaced before the cycle closed.
func (p *PrometheusCollector) IncSuperseded(parameter string) {
	if p == nil || p.superseded == nil {
		return
	}
	p.superseded.WithLabelValues(parameter).Inc()
}

// SetQueueOccupancy updates the gauge tracking buffered acquisitions.
func (p *PrometheusCollector) SetQueueOccupancy(parameter string, occupancy int) {
	if p == nil || p.occupancy == nil {
		return
	}
	p.occupancy.WithLabelValues(parameter).Set(float64(occupancy))
}
