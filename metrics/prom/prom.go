package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lffg-labs/granular-cache-map/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  *prometheus.CounterVec
	loads   *prometheus.CounterVec
	flushes prometheus.Counter
	flushed prometheus.Counter
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Accesses served by a resident conforming value",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "misses_total",
				Help:        "Accesses that forced a reload, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "loads_total",
				Help:        "Strategy loads by status",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "flushes_total",
			Help:        "Write batch flushes",
			ConstLabels: constLabels,
		}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "flushed_entries_total",
			Help:        "Entries delivered to flush sinks",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.loads, a.flushes, a.flushed)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter with a reason label.
func (a *Adapter) Miss(r cache.MissReason) {
	a.misses.WithLabelValues(reason(r)).Inc()
}

// Load increments the load counter with a status label.
func (a *Adapter) Load(ok bool) {
	if ok {
		a.loads.WithLabelValues("ok").Inc()
		return
	}
	a.loads.WithLabelValues("error").Inc()
}

// Flush counts one flush and the number of entries it delivered.
func (a *Adapter) Flush(entries int) {
	a.flushes.Inc()
	a.flushed.Add(float64(entries))
}

// reason maps MissReason to a stable label value.
func reason(r cache.MissReason) string {
	switch r {
	case cache.MissConflict:
		return "conflict"
	default:
		return "empty"
	}
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
