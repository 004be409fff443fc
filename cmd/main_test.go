package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veiland/querycache/internal/cache"
	"github.com/veiland/querycache/internal/config"
)

func TestStoreOptionsLocalBackend(t *testing.T) {
	cfg := config.DefaultConfig().Cache
	cfg.Backend = "Local"
	cfg.TTLSeconds = 120
	cfg.MaxEntries = 500
	cfg.LogHitMiss = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := storeOptions(cfg, logger, nil)

	require.True(t, opts.Enabled)
	require.Equal(t, cache.BackendLocal, opts.Backend)
	require.Equal(t, 2*time.Minute, opts.DefaultTTL)
	require.Equal(t, 500, opts.MaxEntries)
	require.True(t, opts.DependencyTracking)
	require.True(t, opts.LogHitMiss)
	require.False(t, opts.Adaptive.Enabled)
	require.Nil(t, opts.Remote, "local backend must not carry remote settings")
	require.NotNil(t, opts.Logger)
}

func TestStoreOptionsRemoteBackend(t *testing.T) {
	cfg := config.DefaultConfig().Cache
	cfg.Backend = "dual"
	cfg.Remote.Address = "valkey.internal:6379"
	cfg.Remote.Username = "cache"
	cfg.Remote.Password = "secret"
	cfg.Remote.DB = 3
	cfg.Remote.TLS.Enabled = true
	cfg.Remote.TLS.CAFile = "/etc/ssl/valkey-ca.pem"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := storeOptions(cfg, logger, nil)

	require.Equal(t, cache.BackendDual, opts.Backend)
	require.NotNil(t, opts.Remote)
	require.Equal(t, "valkey.internal:6379", opts.Remote.Address)
	require.Equal(t, "cache", opts.Remote.Username)
	require.Equal(t, "secret", opts.Remote.Password)
	require.Equal(t, 3, opts.Remote.DB)
	require.Equal(t, "querycache:", opts.Remote.KeyPrefix)
	require.True(t, opts.Remote.TLS.Enabled)
	require.Equal(t, "/etc/ssl/valkey-ca.pem", opts.Remote.TLS.CAFile)
}

func TestStoreOptionsAdaptiveTTL(t *testing.T) {
	cfg := config.DefaultConfig().Cache
	cfg.AdaptiveTTL.Enabled = true
	cfg.AdaptiveTTL.MinSeconds = 45
	cfg.AdaptiveTTL.MaxSeconds = 900

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := storeOptions(cfg, logger, nil)

	require.True(t, opts.Adaptive.Enabled)
	require.Equal(t, 45*time.Second, opts.Adaptive.Min)
	require.Equal(t, 15*time.Minute, opts.Adaptive.Max)
}
