package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// RecordAudit appends one row to the audit trail. Failures are logged,
// not returned: the catalog mutation has already committed and must not
// be reported as failed because its audit row was lost.
func (s *Store) RecordAudit(ctx context.Context, rec AuditRecord) {
	oldJSON, err := marshalValue(rec.OldValue)
	if err != nil {
		s.logger.Warn("audit old value not serializable", "error", err)
	}
	newJSON, err := marshalValue(rec.NewValue)
	if err != nil {
		s.logger.Warn("audit new value not serializable", "error", err)
	}
	performedBy := rec.PerformedBy
	if performedBy == "" {
		performedBy = DefaultAddedBy
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO audit_logs
			(entry_id, action, performed_by, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.EntryID, rec.Action, performedBy, oldJSON, newJSON)
	if err != nil {
		s.logger.Warn("audit append failed",
			"entry_id", rec.EntryID, "action", rec.Action, "error", err)
	}
}

func marshalValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit value: %w", err)
	}
	return b, nil
}

// RegisterIngest upserts the data-source registry row for an ingested
// URL's domain and bumps its running ingest total. The total counts
// ingests, not live entries, so deletions never decrement it.
func (s *Store) RegisterIngest(ctx context.Context, rawURL, category string) error {
	name := SourceNameFromURL(rawURL)
	if name == "" {
		return nil
	}
	if category == "" {
		category = DefaultSourceCategory
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO data_sources
			(name, category, base_url, total_entries, last_sync_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (name) DO UPDATE SET
			total_entries = data_sources.total_entries + 1,
			last_sync_at = now()`,
		name, category, baseURLOf(rawURL))
	if err != nil {
		return fmt.Errorf("registering data source: %w", err)
	}
	return nil
}

// SourceNameFromURL extracts the registry key, the bare host without a
// leading www prefix. Returns "" for unparseable or non-URL locations.
func SourceNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

func baseURLOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// ListSources returns all data-source registry rows, alphabetically.
func (s *Store) ListSources(ctx context.Context) ([]DataSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category, base_url, is_active, last_sync_at, total_entries
		 FROM data_sources ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing data sources: %w", err)
	}
	defer rows.Close()

	sources := []DataSource{}
	for rows.Next() {
		var d DataSource
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.BaseURL,
			&d.IsActive, &d.LastSyncAt, &d.TotalEntries); err != nil {
			return nil, fmt.Errorf("scanning data source: %w", err)
		}
		sources = append(sources, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating data sources: %w", err)
	}
	return sources, nil
}
