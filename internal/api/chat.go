package api

import (
	"log/slog"
	"net/http"

	"github.com/cymbiose/kb/internal/chat"
)

type chatHandler struct {
	chatter Chatter
	logger  *slog.Logger
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Validation failed",
			"messages are required")
		return
	}

	reply, err := h.chatter.Respond(r.Context(), req.Messages)
	if err != nil {
		h.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
