package hgbridge

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hgbridge"

// Metrics owns a private Prometheus registry with the bridge's counters.
// Every recording method is safe on a nil receiver, so components built
// without WithMetrics record nothing.
type Metrics struct {
	registry *prometheus.Registry

	translations  *prometheus.CounterVec
	dumps         *prometheus.CounterVec
	nullsStripped prometheus.Counter
	unverified    prometheus.Counter
	changesetSize prometheus.Histogram
}

// NewMetrics creates and registers the collectors. Each call gets its own
// registry so that several bridges can coexist in one process.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "translations_total",
			Help:      "Hash translations by direction and outcome.",
		}, []string{"direction", "result"}),
		dumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dumps_total",
			Help:      "Revisions emitted by kind and outcome.",
		}, []string{"kind", "result"}),
		nullsStripped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changeset_padding_stripped_bytes_total",
			Help:      "Trailing NUL bytes removed while matching changeset nodes.",
		}),
		unverified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changeset_unverified_total",
			Help:      "Reconstructed changesets that do not hash to their recorded node.",
		}),
		changesetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "changeset_size_bytes",
			Help:      "Size of reconstructed changesets.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.translations, m.dumps, m.nullsStripped, m.unverified, m.changesetSize,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the registry for scraping or text export.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current values in the text exposition format,
// for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

func (m *Metrics) recordTranslation(direction string, found bool) {
	if m == nil {
		return
	}
	result := "found"
	if !found {
		result = "null"
	}
	m.translations.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) recordDump(kind Kind, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dumps.WithLabelValues(kind.String(), result).Inc()
}

func (m *Metrics) addPaddingStripped(n int) {
	if m == nil {
		return
	}
	m.nullsStripped.Add(float64(n))
}

func (m *Metrics) incUnverified() {
	if m == nil {
		return
	}
	m.unverified.Inc()
}

func (m *Metrics) observeChangeset(size int) {
	if m == nil {
		return
	}
	m.changesetSize.Observe(float64(size))
}
