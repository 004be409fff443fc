package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ErrSerialization marks values the remote codec could not round-trip. The
// store logs these and skips mirroring; the local write still succeeds.
var ErrSerialization = errors.New("cache: serialize entry")

// RemoteTLSConfig enables TLS toward the remote tier with an optional CA
// bundle for private deployments.
type RemoteTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RemoteConfig describes the valkey-backed remote tier. KeyPrefix isolates
// one store's namespace so several processes can share a server without
// sweeping each other's entries.
type RemoteConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TLS       RemoteTLSConfig
}

type remoteTier struct {
	client valkey.Client
	prefix string
}

func newRemoteTier(cfg RemoteConfig) (*remoteTier, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: remote address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read remote ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: remote ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: remote client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: remote ping: %w", err)
	}

	return &remoteTier{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *remoteTier) namespaced(key string) string {
	return r.prefix + key
}

func (r *remoteTier) lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(r.namespaced(key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: remote get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: remote get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: remote unmarshal: %w", err)
	}
	return entry, true, nil
}

func (r *remoteTier) store(ctx context.Context, key string, entry *Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	cmd := r.client.B().Set().Key(r.namespaced(key)).Value(string(payload)).Px(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: remote set: %w", err)
	}
	return nil
}

func (r *remoteTier) delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = r.namespaced(key)
	}
	if err := r.client.Do(ctx, r.client.B().Del().Key(namespaced...).Build()).Error(); err != nil {
		return fmt.Errorf("cache: remote del: %w", err)
	}
	return nil
}

// deletePattern removes every key in this tier's namespace whose unprefixed
// form contains the substring. SCAN keeps the sweep incremental; substring
// containment mirrors the local tier, not a general pattern language.
func (r *remoteTier) deletePattern(ctx context.Context, substring string) (int, error) {
	return r.sweep(ctx, r.prefix+"*"+substring+"*")
}

// flush removes every key under this tier's namespace.
func (r *remoteTier) flush(ctx context.Context) (int, error) {
	return r.sweep(ctx, r.prefix+"*")
}

func (r *remoteTier) sweep(ctx context.Context, match string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		resp := r.client.Do(ctx, r.client.B().Scan().Cursor(cursor).Match(match).Count(100).Build())
		scan, err := resp.AsScanEntry()
		if err != nil {
			return removed, fmt.Errorf("cache: remote scan: %w", err)
		}
		if len(scan.Elements) > 0 {
			if err := r.client.Do(ctx, r.client.B().Del().Key(scan.Elements...).Build()).Error(); err != nil {
				return removed, fmt.Errorf("cache: remote del: %w", err)
			}
			removed += len(scan.Elements)
		}
		cursor = scan.Cursor
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *remoteTier) close() {
	r.client.Close()
}
