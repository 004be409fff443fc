// Package metrics publishes Prometheus telemetry for cache activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LookupOutcome captures the result of a cache lookup.
type LookupOutcome string

const (
	// LookupHit indicates the local tier served the value.
	LookupHit LookupOutcome = "hit"
	// LookupRemoteHit indicates the remote tier served the value.
	LookupRemoteHit LookupOutcome = "remote_hit"
	// LookupMiss indicates no tier held a live entry.
	LookupMiss LookupOutcome = "miss"
)

// StoreOutcome captures the result of a cache store attempt.
type StoreOutcome string

const (
	// StoreStored indicates the entry was persisted.
	StoreStored StoreOutcome = "stored"
	// StoreError indicates the store attempt failed.
	StoreError StoreOutcome = "error"
)

// InvalidationKind labels which invalidation path removed entries.
type InvalidationKind string

const (
	// InvalidationKey covers single-key invalidation.
	InvalidationKey InvalidationKind = "key"
	// InvalidationTable covers dependency cascades.
	InvalidationTable InvalidationKind = "table"
	// InvalidationPattern covers substring sweeps.
	InvalidationPattern InvalidationKind = "pattern"
	// InvalidationClear covers full flushes.
	InvalidationClear InvalidationKind = "clear"
)

// Recorder publishes Prometheus metrics for the cache store and admin API.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	lookups       *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
	stores        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	evictions     prometheus.Counter
	entries       prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "querycache",
		Subsystem: "store",
		Name:      "lookups_total",
		Help:      "Cache lookups by outcome.",
	}, []string{"result"})

	lookupLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "querycache",
		Subsystem: "store",
		Name:      "lookup_duration_seconds",
		Help:      "Latency distribution for cache lookups.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"result"})

	stores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "querycache",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Cache store attempts by outcome.",
	}, []string{"result"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "querycache",
		Subsystem: "store",
		Name:      "invalidated_entries_total",
		Help:      "Entries removed by invalidation, by trigger kind.",
	}, []string{"kind"})

	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "querycache",
		Subsystem: "store",
		Name:      "evictions_total",
		Help:      "Entries removed by capacity eviction.",
	})

	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "querycache",
		Subsystem: "store",
		Name:      "entries",
		Help:      "Entries currently held by the local tier.",
	})

	reg.MustRegister(lookups, lookupLatency, stores, invalidations, evictions, entries)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:      reg,
		handler:       handler,
		lookups:       lookups,
		lookupLatency: lookupLatency,
		stores:        stores,
		invalidations: invalidations,
		evictions:     evictions,
		entries:       entries,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLookup records one lookup and its latency.
func (r *Recorder) ObserveLookup(result LookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(LookupMiss)
	}
	r.lookups.WithLabelValues(label).Inc()
	r.lookupLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveStore records one store attempt.
func (r *Recorder) ObserveStore(result StoreOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(StoreError)
	}
	r.stores.WithLabelValues(label).Inc()
}

// ObserveInvalidation records entries removed through an invalidation path.
func (r *Recorder) ObserveInvalidation(kind InvalidationKind, removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.invalidations.WithLabelValues(string(kind)).Add(float64(removed))
}

// ObserveEvictions records entries removed by capacity eviction.
func (r *Recorder) ObserveEvictions(removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.evictions.Add(float64(removed))
}

// SetEntries tracks the current local tier size.
func (r *Recorder) SetEntries(count int) {
	if r == nil {
		return
	}
	r.entries.Set(float64(count))
}
