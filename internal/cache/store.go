// Package cache implements a query-result cache with TTL expiry, approximate
// LRU capacity eviction, table-dependency invalidation, and an optional
// remote valkey tier behind the local map.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veiland/querycache/internal/metrics"
)

// Backend selects which tiers a store reads and writes.
type Backend string

const (
	// BackendLocal keeps everything in the process-local map.
	BackendLocal Backend = "local"
	// BackendRemote uses only the shared valkey tier.
	BackendRemote Backend = "remote"
	// BackendDual checks the local map first and falls back to the remote
	// tier, repopulating the local map on a remote hit.
	BackendDual Backend = "dual"
)

// evictionHeadroom is how many extra entries an eviction removes beyond the
// capacity overflow, so the very next insert does not evict again. It is
// capped at a tenth of the capacity: tiny caches evict to capacity exactly
// instead of emptying themselves.
const evictionHeadroom = 10

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 1000
)

// AdaptiveTTL clamps per-entry TTLs into a configured band when enabled.
type AdaptiveTTL struct {
	Enabled bool
	Min     time.Duration
	Max     time.Duration
}

// Options configures a Store. The zero value is usable: local backend,
// default TTL and capacity, dependency tracking on.
type Options struct {
	Enabled            bool
	Backend            Backend
	DefaultTTL         time.Duration
	MaxEntries         int
	Adaptive           AdaptiveTTL
	DependencyTracking bool
	LogHitMiss         bool

	// Remote must be set for the remote and dual backends.
	Remote *RemoteConfig

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// SetOptions carries per-entry metadata for Store.Set.
type SetOptions struct {
	// TTL overrides the store default when positive.
	TTL time.Duration
	// Dependencies lists the tables whose modification invalidates the entry.
	Dependencies []string
	// ComputeDuration records how long the cached computation took.
	ComputeDuration time.Duration
}

// Store is a two-tier query-result cache. One mutex guards the entry map,
// the dependency index, and the statistics block, so a dependency cascade
// is strictly serialized against concurrent sets within the process. The
// remote tier is best-effort: its failures are logged and degrade to
// misses, never to caller-visible errors.
type Store struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Recorder
	remote  *remoteTier

	mu      sync.Mutex
	entries map[string]*Entry
	byTable map[string]map[string]struct{}
	stats   Stats
}

// NewStore validates the options and connects the remote tier when one is
// configured. Configuration errors are fatal here so the process fails at
// startup instead of serving a misconfigured cache.
func NewStore(opts Options) (*Store, error) {
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("cache: max entries invalid: %d", opts.MaxEntries)
	}
	if opts.MaxEntries == 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("cache: default ttl invalid: %s", opts.DefaultTTL)
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = defaultTTL
	}
	if opts.Adaptive.Enabled {
		if opts.Adaptive.Min <= 0 || opts.Adaptive.Max <= 0 || opts.Adaptive.Min > opts.Adaptive.Max {
			return nil, fmt.Errorf("cache: adaptive ttl bounds invalid: min=%s max=%s",
				opts.Adaptive.Min, opts.Adaptive.Max)
		}
	}

	switch opts.Backend {
	case "", BackendLocal:
		opts.Backend = BackendLocal
	case BackendRemote, BackendDual:
		if opts.Remote == nil {
			return nil, fmt.Errorf("cache: backend %q requires a remote configuration", opts.Backend)
		}
	default:
		return nil, fmt.Errorf("cache: backend unsupported: %s", opts.Backend)
	}

	s := &Store{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		entries: make(map[string]*Entry),
		byTable: make(map[string]map[string]struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if opts.Remote != nil && opts.Backend != BackendLocal {
		remote, err := newRemoteTier(*opts.Remote)
		if err != nil {
			return nil, err
		}
		s.remote = remote
	}
	return s, nil
}

// Backend reports the configured tier mode.
func (s *Store) Backend() Backend {
	return s.opts.Backend
}

func (s *Store) useLocal() bool {
	return s.opts.Backend != BackendRemote
}

// Get returns the cached value for key when a live entry exists in any
// configured tier. Hits update the entry's access metadata; a remote hit
// in dual mode repopulates the local tier.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	if s == nil || !s.opts.Enabled {
		return nil, false
	}
	start := time.Now()

	if s.useLocal() {
		s.mu.Lock()
		if entry, ok := s.entries[key]; ok {
			if !entry.expired(start) {
				entry.touch(start)
				s.stats.recordHit(time.Since(start))
				data := entry.Data
				s.mu.Unlock()
				s.metrics.ObserveLookup(metrics.LookupHit, time.Since(start))
				if s.opts.LogHitMiss {
					s.logger.Debug("cache hit", slog.String("key", key))
				}
				return data, true
			}
			// Lazy expiry: the entry is logically dead, drop it now.
			s.removeLocked(key, entry)
		}
		s.mu.Unlock()
	}

	if s.remote != nil {
		entry, ok, err := s.remote.lookup(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("remote tier lookup failed, treating as miss",
				slog.String("key", key), slog.Any("error", err))
		case ok && !entry.expired(time.Now()):
			entry.touch(time.Now())
			s.mu.Lock()
			s.stats.Hits++
			s.stats.RemoteHits++
			s.stats.hitLatency += time.Since(start)
			if s.opts.Backend == BackendDual {
				s.storeLocked(key, &entry)
				s.evictLocked()
			}
			s.mu.Unlock()
			s.metrics.ObserveLookup(metrics.LookupRemoteHit, time.Since(start))
			if s.opts.LogHitMiss {
				s.logger.Debug("cache hit", slog.String("key", key), slog.String("tier", "remote"))
			}
			return entry.Data, true
		}
	}

	s.mu.Lock()
	s.stats.recordMiss(time.Since(start))
	s.mu.Unlock()
	s.metrics.ObserveLookup(metrics.LookupMiss, time.Since(start))
	if s.opts.LogHitMiss {
		s.logger.Debug("cache miss", slog.String("key", key))
	}
	return nil, false
}

// Set stores value under key with the effective TTL and registers its table
// dependencies. The local write cannot fail; remote mirroring is best-effort
// and serialization problems only skip the mirror.
func (s *Store) Set(ctx context.Context, key string, value any, opts SetOptions) {
	if s == nil || !s.opts.Enabled {
		return
	}
	now := time.Now().UTC()
	entry := &Entry{
		Data:            value,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.effectiveTTL(opts.TTL)),
		LastAccessed:    now,
		Dependencies:    normalizeTables(opts.Dependencies),
		ComputeDuration: opts.ComputeDuration,
	}

	s.mu.Lock()
	s.storeLocked(key, entry)
	evicted := s.evictLocked()
	entries := len(s.entries)
	s.mu.Unlock()

	s.metrics.ObserveEvictions(evicted)
	s.metrics.SetEntries(entries)

	if s.remote != nil {
		if err := s.remote.store(ctx, key, entry); err != nil {
			if errors.Is(err, ErrSerialization) {
				s.logger.Warn("value not serializable for remote tier, keeping local only",
					slog.String("key", key), slog.Any("error", err))
			} else {
				s.logger.Warn("remote tier store failed, keeping local only",
					slog.String("key", key), slog.Any("error", err))
			}
			s.metrics.ObserveStore(metrics.StoreError)
			return
		}
	}
	s.metrics.ObserveStore(metrics.StoreStored)
}

// Invalidate removes one key from every tier. Absent keys are a no-op, not
// an error, and do not advance the invalidation counter: it tracks actual
// removals only.
func (s *Store) Invalidate(ctx context.Context, key string) bool {
	if s == nil {
		return false
	}
	removed := false
	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		s.removeLocked(key, entry)
		s.stats.Invalidations++
		removed = true
	} else {
		s.scrubKeyLocked(key)
	}
	entries := len(s.entries)
	s.mu.Unlock()

	if removed {
		s.metrics.ObserveInvalidation(metrics.InvalidationKey, 1)
		s.metrics.SetEntries(entries)
	}
	if s.remote != nil {
		if err := s.remote.delete(ctx, key); err != nil {
			s.logger.Warn("remote tier delete failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return removed
}

// InvalidateByTable sweeps the dependency index and removes every entry
// that declared a dependency on the table. The sweep holds the store lock,
// so a concurrent Set for the same table either lands before the sweep and
// is removed, or after it and survives. Returns the number of keys swept.
func (s *Store) InvalidateByTable(ctx context.Context, table string) int {
	if s == nil {
		return 0
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return 0
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.byTable[table]))
	for key := range s.byTable[table] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		if entry, ok := s.entries[key]; ok {
			s.removeLocked(key, entry)
		} else {
			s.scrubKeyLocked(key)
		}
		s.stats.Invalidations++
	}
	delete(s.byTable, table)
	if len(keys) > 0 {
		s.stats.Cascades++
	}
	entries := len(s.entries)
	s.mu.Unlock()

	s.metrics.ObserveInvalidation(metrics.InvalidationTable, len(keys))
	s.metrics.SetEntries(entries)

	if s.remote != nil && len(keys) > 0 {
		if err := s.remote.delete(ctx, keys...); err != nil {
			s.logger.Warn("remote tier cascade delete failed",
				slog.String("table", table), slog.Any("error", err))
		}
	}
	return len(keys)
}

// InvalidateByPattern removes every key containing the substring. This is a
// linear scan with plain containment, not a pattern language. Returns the
// number of local keys removed.
func (s *Store) InvalidateByPattern(ctx context.Context, substring string) int {
	if s == nil || substring == "" {
		return 0
	}

	count := 0
	s.mu.Lock()
	for key, entry := range s.entries {
		if strings.Contains(key, substring) {
			s.removeLocked(key, entry)
			s.stats.Invalidations++
			count++
		}
	}
	for _, keys := range s.byTable {
		for key := range keys {
			if strings.Contains(key, substring) {
				delete(keys, key)
			}
		}
	}
	s.pruneIndexLocked()
	entries := len(s.entries)
	s.mu.Unlock()

	s.metrics.ObserveInvalidation(metrics.InvalidationPattern, count)
	s.metrics.SetEntries(entries)

	if s.remote != nil {
		if _, err := s.remote.deletePattern(ctx, substring); err != nil {
			s.logger.Warn("remote tier pattern delete failed",
				slog.String("substring", substring), slog.Any("error", err))
		}
	}
	return count
}

// Clear drops every entry from every tier and starts a fresh statistics
// block.
func (s *Store) Clear(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	removed := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.byTable = make(map[string]map[string]struct{})
	s.stats = Stats{}
	s.mu.Unlock()

	s.metrics.ObserveInvalidation(metrics.InvalidationClear, removed)
	s.metrics.SetEntries(0)

	if s.remote != nil {
		if _, err := s.remote.flush(ctx); err != nil {
			s.logger.Warn("remote tier flush failed", slog.Any("error", err))
		}
	}
}

// Snapshot returns the current statistics view.
func (s *Store) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.snapshot(len(s.entries), len(s.byTable))
}

// Reconfigure applies the limits that are safe to change on a live store.
// Backend changes require a restart.
func (s *Store) Reconfigure(ttl time.Duration, maxEntries int) {
	if s == nil || ttl <= 0 || maxEntries <= 0 {
		return
	}
	s.mu.Lock()
	s.opts.DefaultTTL = ttl
	s.opts.MaxEntries = maxEntries
	evicted := s.evictLocked()
	entries := len(s.entries)
	s.mu.Unlock()
	s.metrics.ObserveEvictions(evicted)
	s.metrics.SetEntries(entries)
}

// Close releases the remote tier connection.
func (s *Store) Close(context.Context) error {
	if s == nil {
		return nil
	}
	if s.remote != nil {
		s.remote.close()
	}
	return nil
}

func (s *Store) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	if s.opts.Adaptive.Enabled {
		if ttl < s.opts.Adaptive.Min {
			ttl = s.opts.Adaptive.Min
		}
		if ttl > s.opts.Adaptive.Max {
			ttl = s.opts.Adaptive.Max
		}
	}
	return ttl
}

// storeLocked inserts or replaces an entry and re-registers its table
// dependencies. In remote-only mode the value is not kept locally, but the
// dependency index still records the key so cascades can sweep the remote
// tier.
func (s *Store) storeLocked(key string, entry *Entry) {
	if old, ok := s.entries[key]; ok {
		s.unregisterLocked(key, old.Dependencies)
		s.stats.Removed++
	}
	if s.useLocal() {
		s.entries[key] = entry
		s.stats.Added++
	}
	if s.opts.DependencyTracking {
		for _, table := range entry.Dependencies {
			keys, ok := s.byTable[table]
			if !ok {
				keys = make(map[string]struct{})
				s.byTable[table] = keys
			}
			keys[key] = struct{}{}
		}
	}
}

// removeLocked drops a local entry and scrubs it from the dependency index
// so the index never points at a dead key.
func (s *Store) removeLocked(key string, entry *Entry) {
	delete(s.entries, key)
	s.unregisterLocked(key, entry.Dependencies)
	s.stats.Removed++
}

func (s *Store) unregisterLocked(key string, tables []string) {
	for _, table := range tables {
		if keys, ok := s.byTable[table]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.byTable, table)
			}
		}
	}
}

// scrubKeyLocked removes a key with no local entry (remote-only mode) from
// every table set it may appear under.
func (s *Store) scrubKeyLocked(key string) {
	for table, keys := range s.byTable {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.byTable, table)
		}
	}
}

func (s *Store) pruneIndexLocked() {
	for table, keys := range s.byTable {
		if len(keys) == 0 {
			delete(s.byTable, table)
		}
	}
}

// evictLocked enforces the capacity bound: when the local map overflows it
// removes the least-recently-accessed entries, overflow plus headroom at a
// time. Sort-based selection is O(n log n) but runs only after an insert
// that crossed the bound, and n is capped by MaxEntries.
func (s *Store) evictLocked() int {
	max := s.opts.MaxEntries
	overflow := len(s.entries) - max
	if max <= 0 || overflow <= 0 {
		return 0
	}
	headroom := evictionHeadroom
	if limit := max / 10; headroom > limit {
		headroom = limit
	}
	target := overflow + headroom

	type candidate struct {
		key  string
		last time.Time
	}
	candidates := make([]candidate, 0, len(s.entries))
	for key, entry := range s.entries {
		candidates = append(candidates, candidate{key: key, last: entry.LastAccessed})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].last.Before(candidates[j].last)
	})

	evicted := 0
	for _, c := range candidates[:target] {
		s.removeLocked(c.key, s.entries[c.key])
		s.stats.Evictions++
		evicted++
	}
	return evicted
}

func normalizeTables(tables []string) []string {
	if len(tables) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, table := range tables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		if _, dup := seen[table]; dup {
			continue
		}
		seen[table] = struct{}{}
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}
