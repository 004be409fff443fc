package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veiland/querycache/internal/cache"
)

// AdminCache is the surface the admin router needs from the cache store.
type AdminCache interface {
	Snapshot() cache.Snapshot
	InvalidateByTable(ctx context.Context, table string) int
	InvalidateByPattern(ctx context.Context, substring string) int
	Clear(ctx context.Context)
	Backend() cache.Backend
}

type patternRequest struct {
	Contains string `json:"contains"`
}

// NewAdminHandler wires the invalidation webhooks, statistics, health, and
// metrics surfaces. Invalidation is exposed over HTTP so change-data-capture
// pipelines and database triggers can sweep dependent entries without
// linking the cache in-process.
func NewAdminHandler(store AdminCache, logger *slog.Logger, metricsHandler http.Handler) http.Handler {
	if store == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		})
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"backend": string(store.Backend()),
		})
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, store.Snapshot())
	})

	mux.HandleFunc("POST /invalidate/table/{name}", func(w http.ResponseWriter, r *http.Request) {
		table := strings.TrimSpace(r.PathValue("name"))
		if table == "" {
			writeError(w, http.StatusBadRequest, "table name required")
			return
		}
		removed := store.InvalidateByTable(r.Context(), table)
		logger.Info("table invalidation requested",
			slog.String("table", table), slog.Int("removed", removed))
		writeJSON(w, http.StatusOK, map[string]any{"table": table, "removed": removed})
	})

	mux.HandleFunc("POST /invalidate/pattern", func(w http.ResponseWriter, r *http.Request) {
		var req patternRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Contains) == "" {
			writeError(w, http.StatusBadRequest, "contains required")
			return
		}
		removed := store.InvalidateByPattern(r.Context(), req.Contains)
		logger.Info("pattern invalidation requested",
			slog.String("contains", req.Contains), slog.Int("removed", removed))
		writeJSON(w, http.StatusOK, map[string]any{"contains": req.Contains, "removed": removed})
	})

	mux.HandleFunc("POST /flush", func(w http.ResponseWriter, r *http.Request) {
		store.Clear(r.Context())
		logger.Info("cache flush requested")
		writeJSON(w, http.StatusOK, map[string]any{"status": "flushed"})
	})

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
