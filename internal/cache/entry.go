package cache

import "time"

// Entry wraps a cached value with the bookkeeping the store needs for
// expiry, LRU selection, and dependency invalidation. Access metadata is
// mutated under the store lock on every hit.
type Entry struct {
	Data            any           `json:"data"`
	CreatedAt       time.Time     `json:"createdAt"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	AccessCount     int64         `json:"accessCount"`
	LastAccessed    time.Time     `json:"lastAccessed"`
	Dependencies    []string      `json:"dependencies,omitempty"`
	ComputeDuration time.Duration `json:"computeDuration,omitempty"`
}

// expired reports whether the entry is logically dead at the given instant,
// regardless of whether it is still present in a tier.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e *Entry) touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}
