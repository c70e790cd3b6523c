package api

import (
	"log/slog"
	"net/http"
)

type statsHandler struct {
	store  CatalogStore
	logger *slog.Logger
}

func (h *statsHandler) stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
