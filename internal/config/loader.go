package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence
// rules and validates it before handing it back.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"cache.ttlseconds":             "cache.ttlSeconds",
			"cache.maxentries":             "cache.maxEntries",
			"cache.adaptivettl.enabled":    "cache.adaptiveTtl.enabled",
			"cache.adaptivettl.minseconds": "cache.adaptiveTtl.minSeconds",
			"cache.adaptivettl.maxseconds": "cache.adaptiveTtl.maxSeconds",
			"cache.dependencytracking":     "cache.dependencyTracking",
			"cache.loghitmiss":             "cache.logHitMiss",
			"cache.remote.keyprefix":       "cache.remote.keyPrefix",
			"cache.remote.tls.cafile":      "cache.remote.tls.caFile",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CACHE__MAX_ENTRIES is
			// not nesting; CACHE__MAXENTRIES -> cache.maxentries).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so MAX_ENTRIES collapses into
			// maxentries for callers who skip the double-underscore form.
			key = strings.ReplaceAll(key, "_", "")
			lower = strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor selects the file parser by extension; YAML is the default.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap
// provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"listen": map[string]any{
			"address": cfg.Listen.Address,
			"port":    cfg.Listen.Port,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"cache": map[string]any{
			"enabled":    cfg.Cache.Enabled,
			"backend":    cfg.Cache.Backend,
			"ttlSeconds": cfg.Cache.TTLSeconds,
			"maxEntries": cfg.Cache.MaxEntries,
			"adaptiveTtl": map[string]any{
				"enabled":    cfg.Cache.AdaptiveTTL.Enabled,
				"minSeconds": cfg.Cache.AdaptiveTTL.MinSeconds,
				"maxSeconds": cfg.Cache.AdaptiveTTL.MaxSeconds,
			},
			"dependencyTracking": cfg.Cache.DependencyTracking,
			"logHitMiss":         cfg.Cache.LogHitMiss,
			"remote": map[string]any{
				"address":   cfg.Cache.Remote.Address,
				"username":  cfg.Cache.Remote.Username,
				"password":  cfg.Cache.Remote.Password,
				"db":        cfg.Cache.Remote.DB,
				"keyPrefix": cfg.Cache.Remote.KeyPrefix,
				"tls": map[string]any{
					"enabled": cfg.Cache.Remote.TLS.Enabled,
					"caFile":  cfg.Cache.Remote.TLS.CAFile,
				},
			},
		},
	}
}
