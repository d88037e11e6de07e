package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RepositoryMetrics counts and times document repository operations.
// A nil *RepositoryMetrics is valid and records nothing.
type RepositoryMetrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	cursorDocuments *prometheus.CounterVec
}

// NewRepositoryMetrics creates the repository collectors and registers them
// with reg. Collectors already registered by another RepositoryMetrics on the
// same registry are reused.
func NewRepositoryMetrics(reg prometheus.Registerer) (*RepositoryMetrics, error) {
	m := &RepositoryMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docrepo",
				Name:      "operations_total",
				Help:      "Document repository operations by collection, operation and outcome.",
			},
			[]string{"collection", "operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docrepo",
				Name:      "operation_duration_seconds",
				Help:      "Document repository operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"collection", "operation"},
		),
		cursorDocuments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docrepo",
				Name:      "cursor_documents_total",
				Help:      "Documents decoded from cursors by collection.",
			},
			[]string{"collection"},
		),
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.cursorDocuments, err = register(reg, m.cursorDocuments); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveOperation records one finished operation.
func (m *RepositoryMetrics) ObserveOperation(collection, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(collection, operation, outcome).Inc()
	m.duration.WithLabelValues(collection, operation).Observe(d.Seconds())
}

// ObserveCursorDocument records one record decoded by a cursor.
func (m *RepositoryMetrics) ObserveCursorDocument(collection string) {
	if m == nil {
		return
	}
	m.cursorDocuments.WithLabelValues(collection).Inc()
}
