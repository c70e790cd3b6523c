package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/cymbiose/kb/internal/catalog"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 10 << 20

// entryHandler serves the catalog CRUD surface.
type entryHandler struct {
	store  CatalogStore
	logger *slog.Logger
}

// createEntryRequest is the create body: entry fields plus optional chunks.
// The outer Chunks field shadows the entry's own chunks list so callers
// supply ChunkInput objects, not full chunk rows.
type createEntryRequest struct {
	catalog.Entry
	Chunks []catalog.ChunkInput `json:"chunks"`
}

func (h *entryHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		SourceType: q.Get("sourceType"),
		RagStatus:  q.Get("ragStatus"),
		Search:     q.Get("search"),
	}
	if raw := q.Get("minQuality"); raw != "" {
		minQuality, err := strconv.Atoi(raw)
		if err != nil || minQuality < 1 || minQuality > 5 {
			writeError(w, http.StatusBadRequest, "Invalid minQuality",
				"minQuality must be an integer between 1 and 5")
			return
		}
		f.MinQuality = minQuality
	}

	entries, err := h.store.ListEntries(r.Context(), f)
	if err != nil {
		h.logger.Error("listing entries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list entries", "")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *entryHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	if msg := validateNewEntry(&req.Entry); msg != "" {
		writeError(w, http.StatusBadRequest, "Validation failed", msg)
		return
	}

	entry, err := h.store.CreateEntry(r.Context(), &req.Entry, req.Chunks)
	if err != nil {
		var conflict *catalog.ConflictError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "Duplicate URL",
				"message": fmt.Sprintf(
					"This URL already exists in the KB as %q", conflict.ExistingTitle),
				"existingId": conflict.ExistingKBID,
			})
		case errors.Is(err, catalog.ErrDuplicateKBID):
			writeError(w, http.StatusConflict, "Duplicate kbId",
				fmt.Sprintf("kbId %q is already in use", req.Entry.KBID))
		case errors.Is(err, catalog.ErrDuplicateChunkIndex):
			writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		default:
			h.logger.Error("creating entry failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to create entry", "")
		}
		return
	}

	// Best-effort side effects; failures are logged inside, never surfaced.
	h.store.RecordAudit(r.Context(), catalog.AuditRecord{
		EntryID:     entry.ID,
		Action:      catalog.ActionCreate,
		PerformedBy: entry.AddedBy,
		NewValue:    entry,
	})
	if entry.URLOrLocation != "" {
		if err := h.store.RegisterIngest(r.Context(), entry.URLOrLocation, entry.SourceCategory); err != nil {
			h.logger.Warn("data source upsert failed", "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (h *entryHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.store.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Entry not found", "")
			return
		}
		h.logger.Error("fetching entry failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch entry", "")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *entryHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var patch catalog.EntryPatch
	if !decodeBody(w, r, &patch, true) {
		return
	}
	if msg := validatePatch(&patch); msg != "" {
		writeError(w, http.StatusBadRequest, "Validation failed", msg)
		return
	}

	old, err := h.store.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Entry not found", "")
			return
		}
		h.logger.Error("fetching entry failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update entry", "")
		return
	}

	entry, err := h.store.UpdateEntry(r.Context(), id, &patch)
	if err != nil {
		var conflict *catalog.ConflictError
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(w, http.StatusNotFound, "Entry not found", "")
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "Duplicate URL",
				"message": fmt.Sprintf(
					"This URL already exists in the KB as %q", conflict.ExistingTitle),
				"existingId": conflict.ExistingKBID,
			})
		default:
			h.logger.Error("updating entry failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to update entry", "")
		}
		return
	}

	h.store.RecordAudit(r.Context(), catalog.AuditRecord{
		EntryID:     entry.ID,
		Action:      catalog.ActionUpdate,
		PerformedBy: entry.AddedBy,
		OldValue:    old,
		NewValue:    entry,
	})

	writeJSON(w, http.StatusOK, entry)
}

func (h *entryHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.store.DeleteEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Entry not found", "")
			return
		}
		h.logger.Error("deleting entry failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete entry", "")
		return
	}

	h.store.RecordAudit(r.Context(), catalog.AuditRecord{
		EntryID:     entry.ID,
		Action:      catalog.ActionDelete,
		PerformedBy: entry.AddedBy,
		OldValue:    entry,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// chunkSummary is the chunk projection for listing; embedding withheld.
type chunkSummary struct {
	ID         uuid.UUID `json:"id"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
}

func (h *entryHandler) listChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	chunks, err := h.store.ListChunks(r.Context(), id)
	if err != nil {
		h.logger.Error("listing chunks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list chunks", "")
		return
	}
	out := make([]chunkSummary, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkSummary{
			ID:         c.ID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			TokenCount: c.TokenCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// pathID parses the {id} path segment as a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id",
			"id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a JSON request body. strict rejects unknown fields,
// used for partial updates where a misspelled field would silently no-op.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

type enumCheck struct {
	field string
	value string
	valid map[string]struct{}
}

// validateEnums checks the non-empty values against their vocabularies.
func validateEnums(checks []enumCheck, quality *int) string {
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		if _, ok := c.valid[c.value]; !ok {
			return fmt.Sprintf("invalid %s %q", c.field, c.value)
		}
	}
	if quality != nil && (*quality < 1 || *quality > 5) {
		return "sourceQualityScore must be between 1 and 5"
	}
	return ""
}

func validateNewEntry(e *catalog.Entry) string {
	switch {
	case e.KBID == "":
		return "kbId is required"
	case e.Title == "":
		return "title is required"
	case e.SourceType == "":
		return "sourceType is required"
	}
	return validateEnums([]enumCheck{
		{"sourceType", e.SourceType, catalog.SourceTypes},
		{"sourceCategory", e.SourceCategory, catalog.SourceCategories},
		{"accessType", e.AccessType, catalog.AccessTypes},
		{"ragInclusionStatus", e.RagInclusionStatus, catalog.RagStatuses},
		{"evidenceLevel", e.EvidenceLevel, catalog.EvidenceLevels},
		{"chunkingStrategy", e.ChunkingStrategy, catalog.ChunkingStrategies},
		{"deIdentificationStatus", e.DeIdentificationStatus, catalog.DeIdentificationStatuses},
		{"ipRightsStatus", e.IPRightsStatus, catalog.IPRightsStatuses},
	}, e.SourceQualityScore)
}

func validatePatch(p *catalog.EntryPatch) string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	if p.Title != nil && *p.Title == "" {
		return "title cannot be empty"
	}
	if p.SourceType != nil && *p.SourceType == "" {
		return "sourceType cannot be empty"
	}
	return validateEnums([]enumCheck{
		{"sourceType", deref(p.SourceType), catalog.SourceTypes},
		{"sourceCategory", deref(p.SourceCategory), catalog.SourceCategories},
		{"accessType", deref(p.AccessType), catalog.AccessTypes},
		{"ragInclusionStatus", deref(p.RagInclusionStatus), catalog.RagStatuses},
		{"evidenceLevel", deref(p.EvidenceLevel), catalog.EvidenceLevels},
		{"chunkingStrategy", deref(p.ChunkingStrategy), catalog.ChunkingStrategies},
		{"deIdentificationStatus", deref(p.DeIdentificationStatus), catalog.DeIdentificationStatuses},
		{"ipRightsStatus", deref(p.IPRightsStatus), catalog.IPRightsStatuses},
	}, p.SourceQualityScore)
}
