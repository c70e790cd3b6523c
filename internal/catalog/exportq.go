package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ExportEntries returns entries with their chunks attached, for the
// export formatter. ragStatus filters by inclusion status; "" exports
// everything. Entries come back oldest first so exports are stable
// across runs, chunks in index order.
func (s *Store) ExportEntries(ctx context.Context, ragStatus string) ([]Entry, error) {
	query := `SELECT ` + entryCols + ` FROM kb_entries`
	var args []any
	if ragStatus != "" {
		query += ` WHERE rag_inclusion_status = $1`
		args = append(args, ragStatus)
	}
	query += ` ORDER BY date_added ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying export entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	index := map[uuid.UUID]int{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning export entry: %w", err)
		}
		index[e.ID] = len(entries)
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating export entries: %w", err)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	ids := make([]uuid.UUID, 0, len(entries))
	for i := range entries {
		ids = append(ids, entries[i].ID)
	}
	chunkRows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+` FROM kb_chunks
		 WHERE entry_id = ANY($1) ORDER BY entry_id, chunk_index ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying export chunks: %w", err)
	}
	defer chunkRows.Close()

	chunks, err := scanChunks(chunkRows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		i, ok := index[c.EntryID]
		if !ok {
			continue
		}
		entries[i].Chunks = append(entries[i].Chunks, c)
	}
	for i := range entries {
		entries[i].ChunkCount = len(entries[i].Chunks)
	}
	return entries, nil
}
