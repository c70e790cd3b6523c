package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cymbiose/kb/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// entryCols is the standard SELECT column list for scanEntry.
const entryCols = `id, kb_id, source_type, source_category, title,
	author_organization, year, url_or_location, access_type, license,
	peer_reviewed, source_quality_score, summary, key_findings,
	evidence_level, raw_content,
	tags_modality, tags_cultural_context, tags_risk_language,
	tags_population, tags_documentation_style, tags_intervention_category,
	tags_bias_type, tags_supervision,
	geography, language, controlled_vocab_terms, rag_inclusion_status,
	chunking_notes, chunking_strategy, de_identification_status,
	ip_rights_status, hipaa_compliant, added_by, notes,
	date_added, last_updated, last_reviewed`

// chunkCols is the standard SELECT column list for scanChunk.
const chunkCols = `id, entry_id, chunk_index, content, token_count, embedded,
	tags_modality, tags_cultural, tags_population, created_at`

// Store manages the knowledge-base catalog backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a catalog Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// normalize applies creation defaults to caller-omitted fields.
func normalize(e *Entry) {
	if e.SourceCategory == "" {
		e.SourceCategory = DefaultSourceCategory
	}
	if e.AccessType == "" {
		e.AccessType = DefaultAccessType
	}
	if e.RagInclusionStatus == "" {
		e.RagInclusionStatus = DefaultRagStatus
	}
	if e.Language == "" {
		e.Language = DefaultLanguage
	}
	if e.DeIdentificationStatus == "" {
		e.DeIdentificationStatus = DefaultDeIDStatus
	}
	if e.IPRightsStatus == "" {
		e.IPRightsStatus = DefaultIPRights
	}
	if e.AddedBy == "" {
		e.AddedBy = DefaultAddedBy
	}
	for _, tags := range []*[]string{
		&e.TagsModality, &e.TagsCulturalContext, &e.TagsRiskLanguage,
		&e.TagsPopulation, &e.TagsDocumentationStyle, &e.TagsInterventionCategory,
		&e.TagsBiasType, &e.ControlledVocabTerms,
	} {
		if *tags == nil {
			*tags = []string{}
		}
	}
}

// CreateEntry inserts an entry and its chunks in one transaction.
//
// Duplicate URLs are caught by the unique constraint rather than a
// pre-insert lookup so concurrent creates cannot both pass the check;
// a violation is surfaced as *ConflictError carrying the existing entry's
// identity. A duplicate kbId returns ErrDuplicateKBID.
func (s *Store) CreateEntry(ctx context.Context, e *Entry, chunks []ChunkInput) (*Entry, error) {
	if e.KBID == "" || e.Title == "" || e.SourceType == "" {
		return nil, fmt.Errorf("kbId, title and sourceType are required")
	}
	normalize(e)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `INSERT INTO kb_entries (
			kb_id, source_type, source_category, title,
			author_organization, year, url_or_location, access_type, license,
			peer_reviewed, source_quality_score, summary, key_findings,
			evidence_level, raw_content,
			tags_modality, tags_cultural_context, tags_risk_language,
			tags_population, tags_documentation_style, tags_intervention_category,
			tags_bias_type, tags_supervision,
			geography, language, controlled_vocab_terms, rag_inclusion_status,
			chunking_notes, chunking_strategy, de_identification_status,
			ip_rights_status, hipaa_compliant, added_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23,
			$24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)
		RETURNING id, date_added, last_updated`,
		e.KBID, e.SourceType, e.SourceCategory, e.Title,
		e.AuthorOrganization, e.Year, e.URLOrLocation, e.AccessType, e.License,
		e.PeerReviewed, e.SourceQualityScore, e.Summary, e.KeyFindings,
		e.EvidenceLevel, e.RawContent,
		e.TagsModality, e.TagsCulturalContext, e.TagsRiskLanguage,
		e.TagsPopulation, e.TagsDocumentationStyle, e.TagsInterventionCategory,
		e.TagsBiasType, e.TagsSupervision,
		e.Geography, e.Language, e.ControlledVocabTerms, e.RagInclusionStatus,
		e.ChunkingNotes, e.ChunkingStrategy, e.DeIdentificationStatus,
		e.IPRightsStatus, e.HIPAACompliant, e.AddedBy, e.Notes)

	if err := row.Scan(&e.ID, &e.DateAdded, &e.LastUpdated); err != nil {
		return nil, s.classifyInsertErr(ctx, err, e.URLOrLocation)
	}

	if len(chunks) > 0 {
		if err := insertChunks(ctx, tx, e, chunks); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing entry: %w", err)
	}
	e.ChunkCount = len(e.Chunks)
	return e, nil
}

// classifyInsertErr maps unique violations to domain errors. The lookup
// for the conflicting entry runs outside the failed transaction.
func (s *Store) classifyInsertErr(ctx context.Context, err error, url string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return fmt.Errorf("inserting entry: %w", err)
	}
	switch pgErr.ConstraintName {
	case "kb_entries_kb_id_key":
		return ErrDuplicateKBID
	case "kb_entries_url_key":
		var kbID, title string
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT kb_id, title FROM kb_entries WHERE url_or_location = $1`, url).
			Scan(&kbID, &title)
		if lookupErr != nil {
			s.logger.Warn("conflicting entry lookup failed", "error", lookupErr)
		}
		return &ConflictError{ExistingKBID: kbID, ExistingTitle: title}
	default:
		return fmt.Errorf("inserting entry: %w", err)
	}
}

// insertChunks bulk-inserts chunks, snapshotting the entry's tags and
// estimating token counts when absent. The caller-supplied chunkIndex
// defines reconstruction order and may be sparse; chunks without one take
// their position in the input slice. Duplicate indexes are rejected.
func insertChunks(ctx context.Context, q querier, e *Entry, chunks []ChunkInput) error {
	seen := make(map[int]bool, len(chunks))
	for i, in := range chunks {
		idx := i
		if in.ChunkIndex != nil {
			idx = *in.ChunkIndex
		}
		if seen[idx] {
			return fmt.Errorf("duplicate chunk index %d: %w", idx, ErrDuplicateChunkIndex)
		}
		seen[idx] = true
		tokens := in.TokenCount
		if tokens <= 0 {
			tokens = EstimateTokens(in.Content)
		}
		c := Chunk{
			EntryID:        e.ID,
			ChunkIndex:     idx,
			Content:        in.Content,
			TokenCount:     tokens,
			TagsModality:   e.TagsModality,
			TagsCultural:   e.TagsCulturalContext,
			TagsPopulation: e.TagsPopulation,
		}
		err := q.QueryRow(ctx, `INSERT INTO kb_chunks
				(entry_id, chunk_index, content, token_count,
				 tags_modality, tags_cultural, tags_population)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`,
			c.EntryID, c.ChunkIndex, c.Content, c.TokenCount,
			c.TagsModality, c.TagsCultural, c.TagsPopulation).
			Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
		e.Chunks = append(e.Chunks, c)
	}
	return nil
}

// GetEntry returns one entry with its chunks, ordered by chunk index.
func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryCols+` FROM kb_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching entry: %w", err)
	}

	chunks, err := s.ListChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Chunks = chunks
	e.ChunkCount = len(chunks)
	return e, nil
}

// ListEntries returns entries matching the filter, newest first, with
// per-entry chunk counts.
func (s *Store) ListEntries(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT ` + qualify(entryCols, "e") + `,
		(SELECT COUNT(*) FROM kb_chunks c WHERE c.entry_id = e.id)
		FROM kb_entries e`
	where, args := f.conditions()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.date_added DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()
	return scanEntriesWithCount(rows)
}

func (f Filter) conditions() ([]string, []any) {
	var where []string
	var args []any
	if f.SourceType != "" {
		args = append(args, f.SourceType)
		where = append(where, fmt.Sprintf("e.source_type = $%d", len(args)))
	}
	if f.RagStatus != "" {
		args = append(args, f.RagStatus)
		where = append(where, fmt.Sprintf("e.rag_inclusion_status = $%d", len(args)))
	}
	if f.MinQuality > 0 {
		args = append(args, f.MinQuality)
		where = append(where, fmt.Sprintf("e.source_quality_score >= $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(e.title ILIKE $%d OR e.summary ILIKE $%d OR e.kb_id ILIKE $%d)", n, n, n))
	}
	return where, args
}

// UpdateEntry applies a partial update. Only non-nil patch fields change;
// last_updated and last_reviewed are always stamped. kbId and the server
// timestamps are immutable. Returns the updated entry.
func (s *Store) UpdateEntry(ctx context.Context, id uuid.UUID, p *EntryPatch) (*Entry, error) {
	set := []string{"last_updated = now()", "last_reviewed = now()"}
	var args []any

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.SourceType != nil {
		add("source_type", *p.SourceType)
	}
	if p.SourceCategory != nil {
		add("source_category", *p.SourceCategory)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.AuthorOrganization != nil {
		add("author_organization", *p.AuthorOrganization)
	}
	if p.Year != nil {
		add("year", *p.Year)
	}
	if p.URLOrLocation != nil {
		args = append(args, *p.URLOrLocation)
		set = append(set, fmt.Sprintf("url_or_location = NULLIF($%d, '')", len(args)))
	}
	if p.AccessType != nil {
		add("access_type", *p.AccessType)
	}
	if p.License != nil {
		add("license", *p.License)
	}
	if p.PeerReviewed != nil {
		add("peer_reviewed", *p.PeerReviewed)
	}
	if p.SourceQualityScore != nil {
		add("source_quality_score", *p.SourceQualityScore)
	}
	if p.Summary != nil {
		add("summary", *p.Summary)
	}
	if p.KeyFindings != nil {
		add("key_findings", *p.KeyFindings)
	}
	if p.EvidenceLevel != nil {
		add("evidence_level", *p.EvidenceLevel)
	}
	if p.RawContent != nil {
		add("raw_content", *p.RawContent)
	}
	if p.TagsModality != nil {
		add("tags_modality", *p.TagsModality)
	}
	if p.TagsCulturalContext != nil {
		add("tags_cultural_context", *p.TagsCulturalContext)
	}
	if p.TagsRiskLanguage != nil {
		add("tags_risk_language", *p.TagsRiskLanguage)
	}
	if p.TagsPopulation != nil {
		add("tags_population", *p.TagsPopulation)
	}
	if p.TagsDocumentationStyle != nil {
		add("tags_documentation_style", *p.TagsDocumentationStyle)
	}
	if p.TagsInterventionCategory != nil {
		add("tags_intervention_category", *p.TagsInterventionCategory)
	}
	if p.TagsBiasType != nil {
		add("tags_bias_type", *p.TagsBiasType)
	}
	if p.TagsSupervision != nil {
		add("tags_supervision", *p.TagsSupervision)
	}
	if p.Geography != nil {
		add("geography", *p.Geography)
	}
	if p.Language != nil {
		add("language", *p.Language)
	}
	if p.ControlledVocabTerms != nil {
		add("controlled_vocab_terms", *p.ControlledVocabTerms)
	}
	if p.RagInclusionStatus != nil {
		add("rag_inclusion_status", *p.RagInclusionStatus)
	}
	if p.ChunkingNotes != nil {
		add("chunking_notes", *p.ChunkingNotes)
	}
	if p.ChunkingStrategy != nil {
		add("chunking_strategy", *p.ChunkingStrategy)
	}
	if p.DeIdentificationStatus != nil {
		add("de_identification_status", *p.DeIdentificationStatus)
	}
	if p.IPRightsStatus != nil {
		add("ip_rights_status", *p.IPRightsStatus)
	}
	if p.HIPAACompliant != nil {
		add("hipaa_compliant", *p.HIPAACompliant)
	}
	if p.AddedBy != nil {
		add("added_by", *p.AddedBy)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE kb_entries SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), entryCols)

	row := s.pool.QueryRow(ctx, query, args...)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
			pgErr.ConstraintName == "kb_entries_url_key" && p.URLOrLocation != nil {
			return nil, s.classifyInsertErr(ctx, err, *p.URLOrLocation)
		}
		return nil, fmt.Errorf("updating entry: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kb_chunks WHERE entry_id = $1`, id).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	e.ChunkCount = count
	return e, nil
}

// DeleteEntry removes an entry; chunks cascade. The deleted entry is
// returned so callers can record it in the audit trail.
func (s *Store) DeleteEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM kb_entries WHERE id = $1 RETURNING `+entryCols, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deleting entry: %w", err)
	}
	return e, nil
}

// ListChunks returns an entry's chunks ordered by chunk index.
func (s *Store) ListChunks(ctx context.Context, entryID uuid.UUID) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+` FROM kb_chunks
		 WHERE entry_id = $1 ORDER BY chunk_index ASC`, entryID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// qualify prefixes every column in a comma-separated list with an alias.
func qualify(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var url *string // nullable for the unique constraint
	err := row.Scan(
		&e.ID, &e.KBID, &e.SourceType, &e.SourceCategory, &e.Title,
		&e.AuthorOrganization, &e.Year, &url, &e.AccessType, &e.License,
		&e.PeerReviewed, &e.SourceQualityScore, &e.Summary, &e.KeyFindings,
		&e.EvidenceLevel, &e.RawContent,
		&e.TagsModality, &e.TagsCulturalContext, &e.TagsRiskLanguage,
		&e.TagsPopulation, &e.TagsDocumentationStyle, &e.TagsInterventionCategory,
		&e.TagsBiasType, &e.TagsSupervision,
		&e.Geography, &e.Language, &e.ControlledVocabTerms, &e.RagInclusionStatus,
		&e.ChunkingNotes, &e.ChunkingStrategy, &e.DeIdentificationStatus,
		&e.IPRightsStatus, &e.HIPAACompliant, &e.AddedBy, &e.Notes,
		&e.DateAdded, &e.LastUpdated, &e.LastReviewed)
	if err != nil {
		return nil, err
	}
	if url != nil {
		e.URLOrLocation = *url
	}
	return &e, nil
}

func scanEntriesWithCount(rows pgx.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var url *string
		err := rows.Scan(
			&e.ID, &e.KBID, &e.SourceType, &e.SourceCategory, &e.Title,
			&e.AuthorOrganization, &e.Year, &url, &e.AccessType, &e.License,
			&e.PeerReviewed, &e.SourceQualityScore, &e.Summary, &e.KeyFindings,
			&e.EvidenceLevel, &e.RawContent,
			&e.TagsModality, &e.TagsCulturalContext, &e.TagsRiskLanguage,
			&e.TagsPopulation, &e.TagsDocumentationStyle, &e.TagsInterventionCategory,
			&e.TagsBiasType, &e.TagsSupervision,
			&e.Geography, &e.Language, &e.ControlledVocabTerms, &e.RagInclusionStatus,
			&e.ChunkingNotes, &e.ChunkingStrategy, &e.DeIdentificationStatus,
			&e.IPRightsStatus, &e.HIPAACompliant, &e.AddedBy, &e.Notes,
			&e.DateAdded, &e.LastUpdated, &e.LastReviewed,
			&e.ChunkCount)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if url != nil {
			e.URLOrLocation = *url
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

func scanChunks(rows pgx.Rows) ([]Chunk, error) {
	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		err := rows.Scan(&c.ID, &c.EntryID, &c.ChunkIndex, &c.Content,
			&c.TokenCount, &c.Embedded,
			&c.TagsModality, &c.TagsCultural, &c.TagsPopulation, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// PendingChunks returns chunks that have no embedding yet, oldest first.
// Used by the embedding backfill worker.
func (s *Store) PendingChunks(ctx context.Context, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+` FROM kb_chunks
		 WHERE embedding IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SetEmbedding stores a chunk's vector and flips the embedded flag.
func (s *Store) SetEmbedding(ctx context.Context, chunkID uuid.UUID, vec pgvector.Vector) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE kb_chunks SET embedding = $1, embedded = TRUE WHERE id = $2`,
		vec, chunkID)
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}
