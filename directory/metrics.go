package directory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks Prometheus metrics for home directory lookups.
//
// Methods handle a nil receiver, so a nil *Metrics acts as a no-op when
// metrics are disabled.
type Metrics struct {
	// LookupsTotal counts lookups by result.
	// Labels: result=[found, not_found, unavailable, error]
	LookupsTotal *prometheus.CounterVec

	// LookupDuration tracks the time taken by each lookup, including waiting
	// for the shared directory session.
	LookupDuration prometheus.Histogram
}

// NewMetrics creates the lookup metrics and registers them with registerer.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilde_directory_lookups_total",
				Help: "Total home directory lookups by result",
			},
			[]string{"result"},
		),
		LookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tilde_directory_lookup_duration_seconds",
				Help:    "Time to resolve a username to a home directory",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	for _, c := range []prometheus.Collector{m.LookupsTotal, m.LookupDuration} {
		if err := registerer.Register(c); err != nil {
			return nil, err //nolint:wrapcheck // Wrapped by caller.
		}
	}

	return m, nil
}

func (m *Metrics) observe(result string, seconds float64) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(result).Inc()
	m.LookupDuration.Observe(seconds)
}
