package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every option the daemon reads at startup.
type Config struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig is the cache tuning surface.
type CacheConfig struct {
	Enabled            bool              `koanf:"enabled"`
	Backend            string            `koanf:"backend"`
	TTLSeconds         int               `koanf:"ttlSeconds"`
	MaxEntries         int               `koanf:"maxEntries"`
	AdaptiveTTL        AdaptiveTTLConfig `koanf:"adaptiveTtl"`
	DependencyTracking bool              `koanf:"dependencyTracking"`
	LogHitMiss         bool              `koanf:"logHitMiss"`
	Remote             RemoteConfig      `koanf:"remote"`
}

// AdaptiveTTLConfig clamps per-entry TTLs into a band when enabled.
type AdaptiveTTLConfig struct {
	Enabled    bool `koanf:"enabled"`
	MinSeconds int  `koanf:"minSeconds"`
	MaxSeconds int  `koanf:"maxSeconds"`
}

// RemoteConfig points the remote tier at a valkey/redis server. KeyPrefix
// namespaces this deployment's entries so instances sharing a server do not
// sweep each other.
type RemoteConfig struct {
	Address   string          `koanf:"address"`
	Username  string          `koanf:"username"`
	Password  string          `koanf:"password"`
	DB        int             `koanf:"db"`
	KeyPrefix string          `koanf:"keyPrefix"`
	TLS       RemoteTLSConfig `koanf:"tls"`
}

// RemoteTLSConfig enables TLS toward the remote tier.
type RemoteTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// TTL returns the default entry TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Validate fails fast on configuration the daemon must not start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Listen.Port)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("config: cache.ttlSeconds invalid: %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: cache.maxEntries invalid: %d", c.Cache.MaxEntries)
	}
	if c.Cache.AdaptiveTTL.Enabled {
		minSec, maxSec := c.Cache.AdaptiveTTL.MinSeconds, c.Cache.AdaptiveTTL.MaxSeconds
		if minSec <= 0 || maxSec <= 0 || minSec > maxSec {
			return fmt.Errorf("config: cache.adaptiveTtl bounds invalid: min=%d max=%d", minSec, maxSec)
		}
	}
	backend := strings.TrimSpace(strings.ToLower(c.Cache.Backend))
	switch backend {
	case "", "local":
	case "remote", "dual":
		if strings.TrimSpace(c.Cache.Remote.Address) == "" {
			return fmt.Errorf("config: cache.remote.address required for %s backend", backend)
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values the loader starts from.
func DefaultConfig() Config {
	return Config{
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Enabled:            true,
			Backend:            "local",
			TTLSeconds:         300,
			MaxEntries:         1000,
			DependencyTracking: true,
			AdaptiveTTL: AdaptiveTTLConfig{
				MinSeconds: 30,
				MaxSeconds: 3600,
			},
			Remote: RemoteConfig{
				KeyPrefix: "querycache:",
			},
		},
	}
}
