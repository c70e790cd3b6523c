// Package api exposes the knowledge-base curation service over HTTP JSON.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cymbiose/kb/internal/catalog"
	"github.com/cymbiose/kb/internal/chat"
	"github.com/cymbiose/kb/internal/scrape"
)

// CatalogStore is the persistence surface the handlers need.
type CatalogStore interface {
	CreateEntry(ctx context.Context, e *catalog.Entry, chunks []catalog.ChunkInput) (*catalog.Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*catalog.Entry, error)
	ListEntries(ctx context.Context, f catalog.Filter) ([]catalog.Entry, error)
	UpdateEntry(ctx context.Context, id uuid.UUID, p *catalog.EntryPatch) (*catalog.Entry, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) (*catalog.Entry, error)
	ListChunks(ctx context.Context, entryID uuid.UUID) ([]catalog.Chunk, error)
	RecordAudit(ctx context.Context, rec catalog.AuditRecord)
	RegisterIngest(ctx context.Context, rawURL, category string) error
	EntriesPage(ctx context.Context, p catalog.Page) ([]catalog.Entry, int, error)
	ChunksPage(ctx context.Context, p catalog.Page) ([]catalog.ChunkRow, int, error)
	Stats(ctx context.Context) (*catalog.StatsReport, error)
	ExportEntries(ctx context.Context, ragStatus string) ([]catalog.Entry, error)
}

// Chatter answers grounded conversations.
type Chatter interface {
	Respond(ctx context.Context, messages []chat.Message) (*chat.Reply, error)
}

// PageScraper fetches and extracts web pages.
type PageScraper interface {
	Scrape(ctx context.Context, rawURL string) (*scrape.Result, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger  *slog.Logger
	Store   CatalogStore   // Required
	Chatter Chatter        // Optional: nil disables /api/chat
	Scraper PageScraper    // Optional: nil disables /api/scrape
	Pool    *pgxpool.Pool  // Optional: nil disables pool stats in /api/ready
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	eh := &entryHandler{store: cfg.Store, logger: logger}
	mux.HandleFunc("GET /api/entries", eh.list)
	mux.HandleFunc("POST /api/entries", eh.create)
	mux.HandleFunc("GET /api/entries/{id}", eh.get)
	mux.HandleFunc("PUT /api/entries/{id}", eh.update)
	mux.HandleFunc("DELETE /api/entries/{id}", eh.delete)
	mux.HandleFunc("GET /api/entries/{id}/chunks", eh.listChunks)

	xh := &exportHandler{store: cfg.Store, logger: logger}
	mux.HandleFunc("GET /api/export", xh.export)

	sh := &statsHandler{store: cfg.Store, logger: logger}
	mux.HandleFunc("GET /api/stats", sh.stats)

	dh := &explorerHandler{store: cfg.Store, logger: logger}
	mux.HandleFunc("GET /api/data-explorer/{table}", dh.page)

	if cfg.Chatter != nil {
		ch := &chatHandler{chatter: cfg.Chatter, logger: logger}
		mux.HandleFunc("POST /api/chat", ch.chat)
	}
	if cfg.Scraper != nil {
		sc := &scrapeHandler{scraper: cfg.Scraper, logger: logger}
		mux.HandleFunc("POST /api/scrape", sc.scrape)
	}

	hh := &healthHandler{pool: cfg.Pool}
	mux.HandleFunc("GET /api/health", hh.health)
	mux.HandleFunc("GET /api/ready", hh.ready)

	return &Server{mux: mux}, nil
}

// Handler returns the server's root handler with middleware applied.
// Recovery wraps logging so a panic still produces an access log line.
func (s *Server) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var handler http.Handler = s.mux
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)
	return handler
}
