package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type healthHandler struct {
	pool *pgxpool.Pool
}

// health reports process liveness.
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports dependency readiness, pinging the database when wired.
func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"db":     "unreachable",
		})
		return
	}
	stats := h.pool.Stat()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"db_total_conns":    stats.TotalConns(),
		"db_idle_conns":     stats.IdleConns(),
		"db_acquired_conns": stats.AcquiredConns(),
	})
}
