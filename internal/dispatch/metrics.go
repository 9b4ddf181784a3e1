package dispatch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Probe outcome labels.
const (
	outcomeOK      = "ok"
	outcomeCached  = "cached"
	outcomeDenied  = "denied"
	outcomeRetried = "retried"
	outcomeFailed  = "failed"
)

type metrics struct {
	probes     *prometheus.CounterVec
	cacheHits  prometheus.Counter
	queueDepth prometheus.Gauge
}

// newMetrics creates the dispatcher collectors and registers them on reg
// when it is non-nil. Collectors already registered by an earlier
// dispatcher on the same registry are reused.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xssprobe",
			Name:      "probes_total",
			Help:      "Probe requests by outcome.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xssprobe",
			Name:      "cache_hits_total",
			Help:      "Probe requests answered from the response cache.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xssprobe",
			Name:      "queue_depth",
			Help:      "Probe requests waiting in the dispatch queue.",
		}),
	}
	if reg == nil {
		return m
	}
	m.probes = register(reg, m.probes).(*prometheus.CounterVec)
	m.cacheHits = register(reg, m.cacheHits).(prometheus.Counter)
	m.queueDepth = register(reg, m.queueDepth).(prometheus.Gauge)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}
