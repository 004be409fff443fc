package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveLookup(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveLookup(LookupHit, 10*time.Millisecond)
	rec.ObserveLookup(LookupMiss, 2*time.Millisecond)

	families := gather(t, rec, "querycache_store_lookups_total", "querycache_store_lookup_duration_seconds")

	hit := findMetric(t, families["querycache_store_lookups_total"], map[string]string{"result": "hit"})
	if hit.GetCounter().GetValue() != 1 {
		t.Fatalf("expected hit counter 1, got %v", hit.GetCounter().GetValue())
	}
	miss := findMetric(t, families["querycache_store_lookups_total"], map[string]string{"result": "miss"})
	if miss.GetCounter().GetValue() != 1 {
		t.Fatalf("expected miss counter 1, got %v", miss.GetCounter().GetValue())
	}

	histMetric := findMetric(t, families["querycache_store_lookup_duration_seconds"], map[string]string{"result": "hit"})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for lookup latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.01
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveStoreAndInvalidations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveStore(StoreStored)
	rec.ObserveStore(StoreError)
	rec.ObserveInvalidation(InvalidationTable, 3)
	rec.ObserveEvictions(2)
	rec.SetEntries(7)

	families := gather(t, rec,
		"querycache_store_writes_total",
		"querycache_store_invalidated_entries_total",
		"querycache_store_evictions_total",
		"querycache_store_entries",
	)

	stored := findMetric(t, families["querycache_store_writes_total"], map[string]string{"result": "stored"})
	if stored.GetCounter().GetValue() != 1 {
		t.Fatalf("expected stored counter 1, got %v", stored.GetCounter().GetValue())
	}

	swept := findMetric(t, families["querycache_store_invalidated_entries_total"], map[string]string{"kind": "table"})
	if swept.GetCounter().GetValue() != 3 {
		t.Fatalf("expected 3 invalidated entries, got %v", swept.GetCounter().GetValue())
	}

	evictions := families["querycache_store_evictions_total"][0]
	if evictions.GetCounter().GetValue() != 2 {
		t.Fatalf("expected 2 evictions, got %v", evictions.GetCounter().GetValue())
	}

	entries := families["querycache_store_entries"][0]
	if entries.GetGauge().GetValue() != 7 {
		t.Fatalf("expected entries gauge 7, got %v", entries.GetGauge().GetValue())
	}
}

func TestRecorderIgnoresNonPositiveObservations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveInvalidation(InvalidationPattern, 0)
	rec.ObserveEvictions(-1)

	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "querycache_store_invalidated_entries_total" {
			t.Fatalf("expected no invalidation samples")
		}
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveLookup(LookupHit, time.Millisecond)
	rec.ObserveStore(StoreStored)
	rec.ObserveInvalidation(InvalidationClear, 1)
	rec.ObserveEvictions(1)
	rec.SetEntries(1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec.Handler().ServeHTTP(rr, req)
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
