package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cymbiose/kb/internal/scrape"
)

type scrapeHandler struct {
	scraper PageScraper
	logger  *slog.Logger
}

type scrapeRequest struct {
	URL string `json:"url"`
}

func (h *scrapeHandler) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required", "")
		return
	}

	res, err := h.scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		var fetchErr *scrape.FetchError
		if errors.As(err, &fetchErr) {
			writeError(w, http.StatusBadRequest, fetchErr.Error(), "")
			return
		}
		h.logger.Error("scrape failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "Scraping failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
