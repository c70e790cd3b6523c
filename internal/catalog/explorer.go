package catalog

import (
	"context"
	"fmt"
)

// Explorer sort allow-lists. Client sort keys map to concrete columns;
// anything else falls back to the default. Building ORDER BY from these
// fixed maps keeps client input out of the SQL text.
var (
	entrySortColumns = map[string]string{
		"kbId":               "kb_id",
		"title":              "title",
		"sourceType":         "source_type",
		"sourceCategory":     "source_category",
		"ragInclusionStatus": "rag_inclusion_status",
		"sourceQualityScore": "source_quality_score",
		"year":               "year",
		"dateAdded":          "date_added",
		"lastUpdated":        "last_updated",
	}

	chunkSortColumns = map[string]string{
		"chunkIndex": "chunk_index",
		"tokenCount": "token_count",
		"embedded":   "embedded",
		"createdAt":  "created_at",
	}
)

const (
	defaultEntrySort = "date_added"
	defaultChunkSort = "created_at"

	// DefaultPageSize bounds explorer pages when the client omits one.
	DefaultPageSize = 25
	// MaxPageSize caps a single explorer page.
	MaxPageSize = 200
)

// Page describes one explorer page request. PageNum is 1-based.
type Page struct {
	PageNum  int
	PageSize int
	SortBy   string
	SortDir  string
}

func (p Page) clamp(sortCols map[string]string, defaultCol string) (limit, offset int, orderBy string) {
	if p.PageNum < 1 {
		p.PageNum = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	col, ok := sortCols[p.SortBy]
	if !ok {
		col = defaultCol
	}
	dir := "DESC"
	if p.SortDir == "asc" {
		dir = "ASC"
	}
	return p.PageSize, (p.PageNum - 1) * p.PageSize, col + " " + dir
}

// EntriesPage returns one page of entries with chunk counts plus the
// unpaged total.
func (s *Store) EntriesPage(ctx context.Context, p Page) ([]Entry, int, error) {
	limit, offset, orderBy := p.clamp(entrySortColumns, defaultEntrySort)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kb_entries`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s,
			(SELECT COUNT(*) FROM kb_chunks c WHERE c.entry_id = e.id)
		FROM kb_entries e ORDER BY e.%s LIMIT $1 OFFSET $2`,
		qualify(entryCols, "e"), orderBy)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("paging entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntriesWithCount(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ChunkRow is one explorer chunk row annotated with its entry identity.
type ChunkRow struct {
	Chunk
	EntryKBID  string `json:"entryKbId"`
	EntryTitle string `json:"entryTitle"`
}

// ChunksPage returns one page of chunks joined with their entry's kbId
// and title, plus the unpaged total.
func (s *Store) ChunksPage(ctx context.Context, p Page) ([]ChunkRow, int, error) {
	limit, offset, orderBy := p.clamp(chunkSortColumns, defaultChunkSort)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kb_chunks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting chunks: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s, e.kb_id, e.title
		FROM kb_chunks c
		JOIN kb_entries e ON e.id = c.entry_id
		ORDER BY c.%s LIMIT $1 OFFSET $2`,
		qualify(chunkCols, "c"), orderBy)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("paging chunks: %w", err)
	}
	defer rows.Close()

	out := []ChunkRow{}
	for rows.Next() {
		var r ChunkRow
		err := rows.Scan(&r.ID, &r.EntryID, &r.ChunkIndex, &r.Content,
			&r.TokenCount, &r.Embedded,
			&r.TagsModality, &r.TagsCultural, &r.TagsPopulation, &r.CreatedAt,
			&r.EntryKBID, &r.EntryTitle)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning chunk row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating chunk rows: %w", err)
	}
	return out, total, nil
}
