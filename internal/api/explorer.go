package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cymbiose/kb/internal/catalog"
)

type explorerHandler struct {
	store  CatalogStore
	logger *slog.Logger
}

// column is one table-schema descriptor for the generic table renderer.
type column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

var entryColumns = []column{
	{"id", "ID", "string"},
	{"kbId", "KB ID", "string"},
	{"title", "Title", "string"},
	{"sourceType", "Source Type", "string"},
	{"urlOrLocation", "Source URL", "string"},
	{"authorOrganization", "Author/Org", "string"},
	{"sourceQualityScore", "Quality", "number"},
	{"ragInclusionStatus", "Status", "string"},
	{"tagsModality", "Modality Tags", "json"},
	{"tagsCulturalContext", "Cultural Tags", "json"},
	{"chunkCount", "Chunks", "number"},
	{"dateAdded", "Date Added", "date"},
	{"lastUpdated", "Last Updated", "date"},
}

var chunkColumns = []column{
	{"id", "ID", "string"},
	{"entryKbId", "Entry KB ID", "string"},
	{"entryTitle", "Entry Title", "string"},
	{"chunkIndex", "Chunk #", "number"},
	{"tokenCount", "Tokens", "number"},
	{"embedded", "Embedded", "boolean"},
	{"content", "Content", "string"},
	{"createdAt", "Created", "date"},
}

// previewLimit caps chunk content in explorer rows; the full content
// stays reachable through the entry chunk listing.
const previewLimit = 200

type explorerResponse struct {
	Columns    []column `json:"columns"`
	Rows       any      `json:"rows"`
	TotalCount int      `json:"totalCount"`
}

func (h *explorerHandler) page(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	switch r.PathValue("table") {
	case "entries":
		h.entries(w, r, page)
	case "chunks":
		h.chunks(w, r, page)
	default:
		writeError(w, http.StatusNotFound, "Unknown table",
			"table must be entries or chunks")
	}
}

func parsePage(r *http.Request) catalog.Page {
	q := r.URL.Query()
	pageNum, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	return catalog.Page{
		PageNum:  pageNum,
		PageSize: pageSize,
		SortBy:   q.Get("sortBy"),
		SortDir:  q.Get("sortDir"),
	}
}

func (h *explorerHandler) entries(w http.ResponseWriter, r *http.Request, page catalog.Page) {
	entries, total, err := h.store.EntriesPage(r.Context(), page)
	if err != nil {
		h.logger.Error("explorer entries query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch data", "")
		return
	}
	writeJSON(w, http.StatusOK, explorerResponse{
		Columns:    entryColumns,
		Rows:       entries,
		TotalCount: total,
	})
}

// chunkExplorerRow is the explorer projection of one chunk.
type chunkExplorerRow struct {
	ID         uuid.UUID `json:"id"`
	EntryKBID  string    `json:"entryKbId"`
	EntryTitle string    `json:"entryTitle"`
	ChunkIndex int       `json:"chunkIndex"`
	TokenCount int       `json:"tokenCount"`
	Embedded   bool      `json:"embedded"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *explorerHandler) chunks(w http.ResponseWriter, r *http.Request, page catalog.Page) {
	chunks, total, err := h.store.ChunksPage(r.Context(), page)
	if err != nil {
		h.logger.Error("explorer chunks query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch data", "")
		return
	}
	rows := make([]chunkExplorerRow, 0, len(chunks))
	for _, c := range chunks {
		content := truncatePreview(c.Content)
		rows = append(rows, chunkExplorerRow{
			ID:         c.ID,
			EntryKBID:  c.EntryKBID,
			EntryTitle: c.EntryTitle,
			ChunkIndex: c.ChunkIndex,
			TokenCount: c.TokenCount,
			Embedded:   c.Embedded,
			Content:    content,
			CreatedAt:  c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, explorerResponse{
		Columns:    chunkColumns,
		Rows:       rows,
		TotalCount: total,
	})
}

// truncatePreview shortens chunk content to previewLimit characters,
// cutting on rune boundaries so multibyte text stays valid UTF-8.
func truncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= previewLimit {
		return s
	}
	return string([]rune(s)[:previewLimit]) + "..."
}
