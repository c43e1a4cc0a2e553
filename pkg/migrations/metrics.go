package migrations

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// record outcomes
const (
	outcomeConverted = "converted"
	outcomeFailed    = "failed"
	outcomeFiltered  = "filtered"
	outcomeSkipped   = "skipped"
	outcomeAbandoned = "abandoned"
)

// Metrics are the migration collectors. One set serves every run against
// the same registerer.
type Metrics struct {
	Records      *prometheus.CounterVec
	Pages        *prometheus.CounterVec
	PageDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg, reusing any already there.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Records: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idtable_migration_records_total",
			Help: "Records seen by key migrations, by outcome",
		}, []string{"kind", "outcome"})),
		Pages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idtable_migration_pages_total",
			Help: "Pages fetched by key migrations, by whether they were processed",
		}, []string{"kind", "state"})),
		PageDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idtable_migration_page_seconds",
			Help:    "Wall time to fetch and convert one page",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) record(kind, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Records.WithLabelValues(kind, outcome).Add(float64(n))
}

func (m *Metrics) page(kind string, skipped bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	state := "included"
	if skipped {
		state = outcomeSkipped
	}
	m.Pages.WithLabelValues(kind, state).Inc()
	if !skipped {
		m.PageDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}
