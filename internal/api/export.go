package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cymbiose/kb/internal/catalog"
	"github.com/cymbiose/kb/internal/export"
)

type exportHandler struct {
	store  CatalogStore
	logger *slog.Logger
}

func (h *exportHandler) export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid format",
			"format must be one of json, jsonl, csv, chunks")
		return
	}

	// Default to approved-only; "all" disables the filter.
	ragStatus := r.URL.Query().Get("ragStatus")
	switch ragStatus {
	case "":
		ragStatus = "APPROVED"
	case "all":
		ragStatus = ""
	default:
		if _, ok := catalog.RagStatuses[ragStatus]; !ok {
			writeError(w, http.StatusBadRequest, "Invalid ragStatus",
				"unknown RAG inclusion status "+ragStatus)
			return
		}
	}

	entries, err := h.store.ExportEntries(r.Context(), ragStatus)
	if err != nil {
		h.logger.Error("export query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export KB", "")
		return
	}

	now := time.Now()
	body, err := export.Render(format, entries, now)
	if err != nil {
		h.logger.Error("export render failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export KB", "")
		return
	}

	writeAttachment(w, format.ContentType(), format.Filename(now), body)
}
