// Package retrieval performs semantic search over knowledge-base chunks
// using pgvector cosine distance.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/cymbiose/kb/internal/log"
)

// VectorDimension is the embedding width stored in kb_chunks.embedding.
const VectorDimension int32 = 768

// TopK is the number of chunks returned per search.
const TopK = 5

// SearchTimeout bounds one embed-plus-query round trip.
const SearchTimeout = 10 * time.Second

// Result is one retrieved chunk with its source entry identity.
// Similarity is cosine similarity in [0, 1], higher is closer.
type Result struct {
	ChunkID    uuid.UUID `json:"chunkId"`
	EntryID    uuid.UUID `json:"entryId"`
	EntryKBID  string    `json:"entryKbId"`
	EntryTitle string    `json:"entryTitle"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
}

// Retriever embeds queries and runs nearest-neighbor search over chunks.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Retriever.
func New(pool *pgxpool.Pool, embedder ai.Embedder, logger log.Logger) (*Retriever, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{pool: pool, embedder: embedder, logger: logger}, nil
}

// Embed generates the vector for a piece of text. Exposed for the
// embedding backfill path, which shares the query-side model and
// dimensionality.
func (r *Retriever) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Search returns the TopK chunks nearest to the query. Chunks without an
// embedding are never candidates. An embedding failure fails the search;
// there is no degraded keyword fallback.
func (r *Retriever) Search(ctx context.Context, query string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	ctx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	vec, err := r.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.entry_id, e.kb_id, e.title, c.chunk_index, c.content,
			1 - (c.embedding <=> $1) AS similarity
		 FROM kb_chunks c
		 JOIN kb_entries e ON e.id = c.entry_id
		 WHERE c.embedding IS NOT NULL
		 ORDER BY c.embedding <=> $1
		 LIMIT $2`, vec, TopK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var res Result
		err := rows.Scan(&res.ChunkID, &res.EntryID, &res.EntryKBID,
			&res.EntryTitle, &res.ChunkIndex, &res.Content, &res.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	r.logger.Debug("chunk search complete", "results", len(results))
	return results, nil
}
