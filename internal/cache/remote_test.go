package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newDualStore(t *testing.T, addr string, backend Backend) *Store {
	t.Helper()
	store, err := NewStore(Options{
		Enabled:            true,
		Backend:            backend,
		DefaultTTL:         time.Minute,
		DependencyTracking: true,
		Logger:             discardLogger(),
		Remote: &RemoteConfig{
			Address:   addr,
			KeyPrefix: "qc:",
		},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestDualTierMirrorsAndRepopulates(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()
	ctx := context.Background()

	writer := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = writer.Close(ctx) }()
	writer.Set(ctx, "k", "v", SetOptions{Dependencies: []string{"users"}})

	if !server.Exists("qc:k") {
		t.Fatalf("expected set to mirror to the remote tier under the key prefix")
	}

	// A second process sharing the remote tier sees the entry and
	// repopulates its own local tier on the first lookup.
	reader := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = reader.Close(ctx) }()

	got, ok := reader.Get(ctx, "k")
	if !ok {
		t.Fatalf("expected remote hit")
	}
	if got != "v" {
		t.Fatalf("unexpected value: %#v", got)
	}
	snap := reader.Snapshot()
	if snap.RemoteHits != 1 {
		t.Fatalf("expected one remote hit, got %+v", snap)
	}
	if snap.Entries != 1 {
		t.Fatalf("expected repopulated local tier, got %+v", snap)
	}

	// The repopulated entry now serves locally.
	if _, ok := reader.Get(ctx, "k"); !ok {
		t.Fatalf("expected local hit after repopulation")
	}
	if snap := reader.Snapshot(); snap.Hits != 2 || snap.RemoteHits != 1 {
		t.Fatalf("expected second hit to be local, got %+v", snap)
	}
}

func TestRemoteTierExpiry(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()
	ctx := context.Background()

	writer := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = writer.Close(ctx) }()
	writer.Set(ctx, "k", "v", SetOptions{TTL: 500 * time.Millisecond})

	server.FastForward(time.Second)

	reader := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = reader.Close(ctx) }()
	if _, ok := reader.Get(ctx, "k"); ok {
		t.Fatalf("expected remote entry to expire")
	}
}

func TestRemoteOnlyBackendSkipsLocalTier(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()
	ctx := context.Background()

	store := newDualStore(t, server.Addr(), BackendRemote)
	defer func() { _ = store.Close(ctx) }()

	store.Set(ctx, "k", "v", SetOptions{Dependencies: []string{"users"}})
	if snap := store.Snapshot(); snap.Entries != 0 {
		t.Fatalf("remote-only store must not hold local entries, got %+v", snap)
	}
	if got, ok := store.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("expected remote hit, got %#v ok=%t", got, ok)
	}

	// Cascades still work: the in-process dependency index records the key
	// even though the value lives remotely.
	if removed := store.InvalidateByTable(ctx, "users"); removed != 1 {
		t.Fatalf("expected cascade to sweep 1 remote key, got %d", removed)
	}
	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatalf("expected remote key to be swept by cascade")
	}
}

func TestRemotePatternInvalidation(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()
	ctx := context.Background()

	writer := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = writer.Close(ctx) }()
	writer.Set(ctx, "user:1", "a", SetOptions{})
	writer.Set(ctx, "user:2", "b", SetOptions{})
	writer.Set(ctx, "order:1", "c", SetOptions{})

	// A different instance sweeps the shared tier by substring.
	sweeper := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = sweeper.Close(ctx) }()
	sweeper.InvalidateByPattern(ctx, "user:")

	if server.Exists("qc:user:1") || server.Exists("qc:user:2") {
		t.Fatalf("expected user keys to be swept from the remote tier")
	}
	if !server.Exists("qc:order:1") {
		t.Fatalf("expected order key to survive the sweep")
	}
}

func TestClearFlushesOnlyOwnNamespace(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()
	ctx := context.Background()

	if err := server.Set("foreign:key", "untouched"); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}

	store := newDualStore(t, server.Addr(), BackendDual)
	defer func() { _ = store.Close(ctx) }()
	store.Set(ctx, "k", "v", SetOptions{})
	store.Clear(ctx)

	if server.Exists("qc:k") {
		t.Fatalf("expected clear to flush the store's namespace")
	}
	if !server.Exists("foreign:key") {
		t.Fatalf("expected clear to leave foreign namespaces alone")
	}
}

func TestRemoteUnreachableFailsFast(t *testing.T) {
	_, err := NewStore(Options{
		Enabled:    true,
		Backend:    BackendDual,
		DefaultTTL: time.Minute,
		Logger:     discardLogger(),
		Remote:     &RemoteConfig{Address: "127.0.0.1:1", KeyPrefix: "qc:"},
	})
	if err == nil {
		t.Fatalf("expected startup failure when the remote tier is unreachable")
	}
}
