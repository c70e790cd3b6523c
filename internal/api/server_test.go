package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cymbiose/kb/internal/catalog"
	"github.com/cymbiose/kb/internal/chat"
	"github.com/cymbiose/kb/internal/log"
	"github.com/cymbiose/kb/internal/scrape"
)

// fakeStore implements CatalogStore in memory for handler tests.
type fakeStore struct {
	createErr   error
	entry       *catalog.Entry
	entries     []catalog.Entry
	chunks      []catalog.Chunk
	chunkRows   []catalog.ChunkRow
	stats       *catalog.StatsReport
	err         error
	lastFilter  catalog.Filter
	lastPatch   *catalog.EntryPatch
	lastPage    catalog.Page
	lastRag     string
	audits      []catalog.AuditRecord
	ingestURLs  []string
}

func (f *fakeStore) CreateEntry(ctx context.Context, e *catalog.Entry, chunks []catalog.ChunkInput) (*catalog.Entry, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	e.ID = uuid.New()
	e.DateAdded = time.Now()
	e.LastUpdated = e.DateAdded
	if e.AddedBy == "" {
		e.AddedBy = catalog.DefaultAddedBy
	}
	e.ChunkCount = len(chunks)
	return e, nil
}

func (f *fakeStore) GetEntry(ctx context.Context, id uuid.UUID) (*catalog.Entry, error) {
	if f.entry == nil {
		return nil, f.errOr(catalog.ErrNotFound)
	}
	return f.entry, f.err
}

func (f *fakeStore) ListEntries(ctx context.Context, filter catalog.Filter) ([]catalog.Entry, error) {
	f.lastFilter = filter
	return f.entries, f.err
}

func (f *fakeStore) UpdateEntry(ctx context.Context, id uuid.UUID, p *catalog.EntryPatch) (*catalog.Entry, error) {
	f.lastPatch = p
	if f.entry == nil {
		return nil, f.errOr(catalog.ErrNotFound)
	}
	return f.entry, f.err
}

func (f *fakeStore) DeleteEntry(ctx context.Context, id uuid.UUID) (*catalog.Entry, error) {
	if f.entry == nil {
		return nil, f.errOr(catalog.ErrNotFound)
	}
	return f.entry, f.err
}

func (f *fakeStore) ListChunks(ctx context.Context, entryID uuid.UUID) ([]catalog.Chunk, error) {
	return f.chunks, f.err
}

func (f *fakeStore) RecordAudit(ctx context.Context, rec catalog.AuditRecord) {
	f.audits = append(f.audits, rec)
}

func (f *fakeStore) RegisterIngest(ctx context.Context, rawURL, category string) error {
	f.ingestURLs = append(f.ingestURLs, rawURL)
	return nil
}

func (f *fakeStore) EntriesPage(ctx context.Context, p catalog.Page) ([]catalog.Entry, int, error) {
	f.lastPage = p
	return f.entries, len(f.entries), f.err
}

func (f *fakeStore) ChunksPage(ctx context.Context, p catalog.Page) ([]catalog.ChunkRow, int, error) {
	f.lastPage = p
	return f.chunkRows, len(f.chunkRows), f.err
}

func (f *fakeStore) Stats(ctx context.Context) (*catalog.StatsReport, error) {
	return f.stats, f.err
}

func (f *fakeStore) ExportEntries(ctx context.Context, ragStatus string) ([]catalog.Entry, error) {
	f.lastRag = ragStatus
	return f.entries, f.err
}

func (f *fakeStore) errOr(fallback error) error {
	if f.err != nil {
		return f.err
	}
	return fallback
}

type fakeChatter struct {
	reply *chat.Reply
	err   error
}

func (f *fakeChatter) Respond(ctx context.Context, messages []chat.Message) (*chat.Reply, error) {
	return f.reply, f.err
}

type fakeScraper struct {
	result *scrape.Result
	err    error
}

func (f *fakeScraper) Scrape(ctx context.Context, rawURL string) (*scrape.Result, error) {
	return f.result, f.err
}

func newTestServer(t *testing.T, store *fakeStore, chatter Chatter, scraper PageScraper) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Logger:  log.NewNop(),
		Store:   store,
		Chatter: chatter,
		Scraper: scraper,
	})
	require.NoError(t, err)
	return srv.Handler(log.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateEntry(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"kbId":          "LIT_0001",
		"title":         "A study",
		"sourceType":    "LITERATURE",
		"urlOrLocation": "https://example.org/study",
		"chunks": []map[string]any{
			{"content": "part one", "chunkIndex": 0},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created catalog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "LIT_0001", created.KBID)
	assert.Equal(t, 1, created.ChunkCount)

	// Audit and data-source side effects fired.
	require.Len(t, store.audits, 1)
	assert.Equal(t, catalog.ActionCreate, store.audits[0].Action)
	assert.Equal(t, []string{"https://example.org/study"}, store.ingestURLs)
}

func TestCreateEntryValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing kbId", map[string]any{"title": "t", "sourceType": "QA"}, "kbId is required"},
		{"missing title", map[string]any{"kbId": "QA_1", "sourceType": "QA"}, "title is required"},
		{"missing sourceType", map[string]any{"kbId": "QA_1", "title": "t"}, "sourceType is required"},
		{"bad sourceType", map[string]any{"kbId": "QA_1", "title": "t", "sourceType": "TWEET"}, "invalid sourceType"},
		{"bad ragStatus", map[string]any{"kbId": "QA_1", "title": "t", "sourceType": "QA", "ragInclusionStatus": "MAYBE"}, "invalid ragInclusionStatus"},
		{"bad quality", map[string]any{"kbId": "QA_1", "title": "t", "sourceType": "QA", "sourceQualityScore": 9}, "between 1 and 5"},
	}
	h := newTestServer(t, &fakeStore{}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/entries", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestCreateEntryDuplicateURL(t *testing.T) {
	store := &fakeStore{createErr: &catalog.ConflictError{
		ExistingKBID:  "LIT_0007",
		ExistingTitle: "Earlier study",
	}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"kbId": "LIT_0008", "title": "t", "sourceType": "LITERATURE",
		"urlOrLocation": "https://example.org/dup",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		ExistingID string `json:"existingId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Duplicate URL", body.Error)
	assert.Contains(t, body.Message, "Earlier study")
	assert.Equal(t, "LIT_0007", body.ExistingID)
	assert.Empty(t, store.audits)
}

func TestCreateEntryDuplicateKBID(t *testing.T) {
	store := &fakeStore{createErr: catalog.ErrDuplicateKBID}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"kbId": "LIT_0008", "title": "t", "sourceType": "LITERATURE",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Duplicate kbId")
}

func TestCreateEntryDuplicateChunkIndex(t *testing.T) {
	store := &fakeStore{createErr: catalog.ErrDuplicateChunkIndex}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"kbId": "LIT_0009", "title": "t", "sourceType": "LITERATURE",
		"chunks": []map[string]any{
			{"content": "a", "chunkIndex": 1},
			{"content": "b", "chunkIndex": 1},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Validation failed")
}

func TestGetEntry(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{entry: &catalog.Entry{ID: id, KBID: "QA_1", Title: "t"}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/entries/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "QA_1")
}

func TestGetEntryNotFound(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/entries/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEntryInvalidID(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/entries/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEntriesFilters(t *testing.T) {
	store := &fakeStore{entries: []catalog.Entry{}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet,
		"/api/entries?sourceType=LITERATURE&ragStatus=APPROVED&minQuality=3&search=cbt", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, catalog.Filter{
		SourceType: "LITERATURE",
		RagStatus:  "APPROVED",
		MinQuality: 3,
		Search:     "cbt",
	}, store.lastFilter)
}

func TestListEntriesBadMinQuality(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/entries?minQuality=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateEntry(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{entry: &catalog.Entry{ID: id, KBID: "QA_1", Title: "after"}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodPut, "/api/entries/"+id.String(), map[string]any{
		"title":              "after",
		"ragInclusionStatus": "APPROVED",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, store.lastPatch)
	require.NotNil(t, store.lastPatch.Title)
	assert.Equal(t, "after", *store.lastPatch.Title)
	require.NotNil(t, store.lastPatch.RagInclusionStatus)
	assert.Equal(t, "APPROVED", *store.lastPatch.RagInclusionStatus)
	assert.Nil(t, store.lastPatch.Summary)

	require.Len(t, store.audits, 1)
	assert.Equal(t, catalog.ActionUpdate, store.audits[0].Action)
}

func TestUpdateEntryUnknownFieldRejected(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{entry: &catalog.Entry{ID: id}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodPut, "/api/entries/"+id.String(), map[string]any{
		"titel": "misspelled",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, store.lastPatch)
}

func TestDeleteEntry(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{entry: &catalog.Entry{ID: id, AddedBy: "reviewer"}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodDelete, "/api/entries/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	require.Len(t, store.audits, 1)
	assert.Equal(t, catalog.ActionDelete, store.audits[0].Action)
	assert.Equal(t, "reviewer", store.audits[0].PerformedBy)
}

func TestListChunksWithholdsEmbedding(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{chunks: []catalog.Chunk{
		{ID: uuid.New(), ChunkIndex: 0, Content: "body", TokenCount: 1, Embedded: true},
	}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/entries/"+id.String()+"/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "body", rows[0]["content"])
	_, hasEmbedding := rows[0]["embedding"]
	assert.False(t, hasEmbedding)
	_, hasEmbedded := rows[0]["embedded"]
	assert.False(t, hasEmbedded)
}

func TestExportDefaults(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "APPROVED", store.lastRag)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, "attachment")
	assert.Contains(t, disposition, "cymbiose_kb_json_")
	assert.Contains(t, disposition, time.Now().UTC().Format("2006-01-02"))
}

func TestExportAllStatuses(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/export?ragStatus=all&format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", store.lastRag)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestExportBadParams(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/export?ragStatus=MAYBE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	store := &fakeStore{stats: &catalog.StatsReport{
		TotalEntries: 7,
		TotalChunks:  21,
		BySourceType: map[string]int{"LITERATURE": 7},
	}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalEntries":7`)
	assert.Contains(t, rec.Body.String(), `"totalChunks":21`)
}

func TestExplorerEntries(t *testing.T) {
	store := &fakeStore{entries: []catalog.Entry{{KBID: "QA_1"}}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet,
		"/api/data-explorer/entries?page=2&pageSize=10&sortBy=title&sortDir=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, catalog.Page{
		PageNum: 2, PageSize: 10, SortBy: "title", SortDir: "asc",
	}, store.lastPage)

	var body explorerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.TotalCount)
	assert.Equal(t, "kbId", body.Columns[1].Key)
}

func TestExplorerChunksTruncatesContent(t *testing.T) {
	long := strings.Repeat("z", 300)
	store := &fakeStore{chunkRows: []catalog.ChunkRow{{
		Chunk:      catalog.Chunk{ID: uuid.New(), Content: long, CreatedAt: time.Now()},
		EntryKBID:  "QA_1",
		EntryTitle: "entry",
	}}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/data-explorer/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rows []chunkExplorerRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Len(t, body.Rows[0].Content, previewLimit+3)
	assert.True(t, strings.HasSuffix(body.Rows[0].Content, "..."))
}

func TestExplorerChunksTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 300)
	store := &fakeStore{chunkRows: []catalog.ChunkRow{{
		Chunk:      catalog.Chunk{ID: uuid.New(), Content: long, CreatedAt: time.Now()},
		EntryKBID:  "QA_1",
		EntryTitle: "entry",
	}}}
	h := newTestServer(t, store, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/data-explorer/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rows []chunkExplorerRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)

	content := body.Rows[0].Content
	assert.True(t, utf8.ValidString(content))
	assert.NotContains(t, content, "�")
	assert.Equal(t, previewLimit+3, utf8.RuneCountInString(content))
	assert.True(t, strings.HasSuffix(content, "..."))
}

func TestExplorerUnknownTable(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/data-explorer/audits", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat(t *testing.T) {
	chatter := &fakeChatter{reply: &chat.Reply{
		Role:    "assistant",
		Content: "grounded answer",
		APILog:  chat.APILog{ModelUsed: "gemini-2.5-flash"},
	}}
	h := newTestServer(t, &fakeStore{}, chatter, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grounded answer")
	assert.Contains(t, rec.Body.String(), `"model_used":"gemini-2.5-flash"`)
}

func TestChatEmptyMessages(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, &fakeChatter{}, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUpstreamFailure(t *testing.T) {
	chatter := &fakeChatter{err: errors.New("quota exhausted")}
	h := newTestServer(t, &fakeStore{}, chatter, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	})
	// Upstream detail stays out of the response body.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestScrapeEndpoint(t *testing.T) {
	scraper := &fakeScraper{result: &scrape.Result{
		Success: true, URL: "https://example.org", Title: "Page",
		Content: "text", ContentLength: 4, Timestamp: time.Now(),
	}}
	h := newTestServer(t, &fakeStore{}, nil, scraper)

	rec := doJSON(t, h, http.MethodPost, "/api/scrape", map[string]any{
		"url": "https://example.org",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestScrapeMissingURL(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, &fakeScraper{})
	rec := doJSON(t, h, http.MethodPost, "/api/scrape", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "URL is required")
}

func TestScrapeFetchFailureIsClientError(t *testing.T) {
	scraper := &fakeScraper{err: &scrape.FetchError{Status: "403 Forbidden"}}
	h := newTestServer(t, &fakeStore{}, nil, scraper)

	rec := doJSON(t, h, http.MethodPost, "/api/scrape", map[string]any{
		"url": "https://example.org",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "403")
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(fmt.Errorf("boom"))
	})
	h := recoveryMiddleware(log.NewNop())(panicky)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
