package cache

import "time"

// Stats aggregates cache activity. All counters are monotonic for the life
// of the store (Clear starts a fresh block) and mutate only under the store
// lock, so no atomics are needed.
type Stats struct {
	Hits          uint64
	Misses        uint64
	RemoteHits    uint64
	Invalidations uint64
	Cascades      uint64
	Evictions     uint64
	Added         uint64
	Removed       uint64

	hitLatency  time.Duration
	missLatency time.Duration
}

func (s *Stats) recordHit(latency time.Duration) {
	s.Hits++
	s.hitLatency += latency
}

func (s *Stats) recordMiss(latency time.Duration) {
	s.Misses++
	s.missLatency += latency
}

// Snapshot is the externally visible statistics view served by the admin
// API and consumed by tests.
type Snapshot struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	RemoteHits    uint64  `json:"remoteHits"`
	HitRate       float64 `json:"hitRate"`
	Invalidations uint64  `json:"invalidations"`
	Cascades      uint64  `json:"cascades"`
	Evictions     uint64  `json:"evictions"`
	Added         uint64  `json:"added"`
	Removed       uint64  `json:"removed"`
	Entries       int     `json:"entries"`
	Tables        int     `json:"tables"`

	AvgHitLatencySeconds  float64 `json:"avgHitLatencySeconds"`
	AvgMissLatencySeconds float64 `json:"avgMissLatencySeconds"`
}

func (s *Stats) snapshot(entries, tables int) Snapshot {
	snap := Snapshot{
		Hits:          s.Hits,
		Misses:        s.Misses,
		RemoteHits:    s.RemoteHits,
		Invalidations: s.Invalidations,
		Cascades:      s.Cascades,
		Evictions:     s.Evictions,
		Added:         s.Added,
		Removed:       s.Removed,
		Entries:       entries,
		Tables:        tables,
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		snap.HitRate = float64(s.Hits) / float64(lookups)
	}
	if s.Hits > 0 {
		snap.AvgHitLatencySeconds = s.hitLatency.Seconds() / float64(s.Hits)
	}
	if s.Misses > 0 {
		snap.AvgMissLatencySeconds = s.missLatency.Seconds() / float64(s.Misses)
	}
	return snap
}
