package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchRequiresCallbackAndFiles(t *testing.T) {
	loader := NewLoader("QUERYCACHE", filepath.Join(t.TempDir(), "server.yaml"))
	_, err := loader.Watch(context.Background(), nil, nil)
	require.Error(t, err)

	empty := NewLoader("QUERYCACHE")
	_, err = empty.Watch(context.Background(), func(Config) {}, nil)
	require.Error(t, err)
}

func TestWatchDeliversReloadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttlSeconds: 60\n"), 0o600))

	loader := NewLoader("", path)

	var mu sync.Mutex
	var latest *Config
	watcher, err := loader.Watch(context.Background(), func(cfg Config) {
		mu.Lock()
		defer mu.Unlock()
		latest = &cfg
	}, func(err error) {
		t.Logf("watch error: %v", err)
	})
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttlSeconds: 120\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest != nil && latest.Cache.TTLSeconds == 120
	}, 5*time.Second, 20*time.Millisecond, "expected reloaded config to arrive")
}

func TestWatchKeepsPreviousSnapshotOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttlSeconds: 60\n"), 0o600))

	loader := NewLoader("", path)

	var mu sync.Mutex
	changes := 0
	errorsSeen := 0
	watcher, err := loader.Watch(context.Background(), func(Config) {
		mu.Lock()
		defer mu.Unlock()
		changes++
	}, func(error) {
		mu.Lock()
		defer mu.Unlock()
		errorsSeen++
	})
	require.NoError(t, err)
	defer watcher.Stop()

	// ttlSeconds 0 fails validation; the watcher must report it instead of
	// delivering a broken snapshot.
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttlSeconds: 0\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errorsSeen > 0
	}, 5*time.Second, 20*time.Millisecond, "expected reload failure to surface")

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, changes, "invalid config must not be delivered")
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttlSeconds: 60\n"), 0o600))

	loader := NewLoader("", path)
	watcher, err := loader.Watch(context.Background(), func(Config) {}, nil)
	require.NoError(t, err)

	watcher.Stop()
	watcher.Stop()
}
