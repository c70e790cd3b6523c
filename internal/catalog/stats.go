package catalog

import (
	"context"
	"fmt"
	"time"
)

// StatsReport is the dashboard summary of the catalog.
type StatsReport struct {
	TotalEntries int            `json:"totalEntries"`
	TotalChunks  int            `json:"totalChunks"`
	BySourceType map[string]int `json:"bySourceType"`
	ByRagStatus  map[string]int `json:"byRagStatus"`
	TagCoverage  TagCoverage    `json:"tagCoverage"`
	QualityStats QualityStats   `json:"qualityStats"`
	Recent       []RecentEntry  `json:"recentEntries"`
}

// TagCoverage counts entries carrying at least one tag in a dimension.
type TagCoverage struct {
	WithModality int `json:"withModality"`
	WithCultural int `json:"withCultural"`
	Total        int `json:"total"`
}

// QualityStats summarizes source quality scores across scored entries.
type QualityStats struct {
	Distribution map[string]int `json:"distribution"`
	Average      float64        `json:"average"`
}

// RecentEntry is the trimmed shape used in the stats recent list.
type RecentEntry struct {
	KBID       string `json:"kbId"`
	Title      string `json:"title"`
	SourceType string `json:"sourceType"`
	DateAdded  string `json:"dateAdded"`
}

// Stats assembles the catalog summary in a handful of aggregate queries.
func (s *Store) Stats(ctx context.Context) (*StatsReport, error) {
	r := &StatsReport{
		BySourceType: map[string]int{},
		ByRagStatus:  map[string]int{},
		QualityStats: QualityStats{Distribution: map[string]int{}},
		Recent:       []RecentEntry{},
	}

	err := s.pool.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM kb_entries),
			(SELECT COUNT(*) FROM kb_chunks),
			(SELECT COUNT(*) FROM kb_entries WHERE cardinality(tags_modality) > 0),
			(SELECT COUNT(*) FROM kb_entries WHERE cardinality(tags_cultural_context) > 0)`).
		Scan(&r.TotalEntries, &r.TotalChunks,
			&r.TagCoverage.WithModality, &r.TagCoverage.WithCultural)
	if err != nil {
		return nil, fmt.Errorf("counting totals: %w", err)
	}
	r.TagCoverage.Total = r.TotalEntries

	if err := s.countBy(ctx, "source_type", r.BySourceType); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "rag_inclusion_status", r.ByRagStatus); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_quality_score, COUNT(*) FROM kb_entries
		 WHERE source_quality_score IS NOT NULL
		 GROUP BY source_quality_score`)
	if err != nil {
		return nil, fmt.Errorf("quality distribution: %w", err)
	}
	defer rows.Close()
	var scored, sum int
	for rows.Next() {
		var score, count int
		if err := rows.Scan(&score, &count); err != nil {
			return nil, fmt.Errorf("scanning quality row: %w", err)
		}
		r.QualityStats.Distribution[fmt.Sprintf("%d", score)] = count
		scored += count
		sum += score * count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quality rows: %w", err)
	}
	if scored > 0 {
		r.QualityStats.Average = float64(sum) / float64(scored)
	}

	recent, err := s.pool.Query(ctx,
		`SELECT kb_id, title, source_type, date_added FROM kb_entries
		 ORDER BY date_added DESC LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	defer recent.Close()
	for recent.Next() {
		var e RecentEntry
		var added time.Time
		if err := recent.Scan(&e.KBID, &e.Title, &e.SourceType, &added); err != nil {
			return nil, fmt.Errorf("scanning recent entry: %w", err)
		}
		e.DateAdded = added.UTC().Format(time.RFC3339)
		r.Recent = append(r.Recent, e)
	}
	if err := recent.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent entries: %w", err)
	}
	return r, nil
}

func (s *Store) countBy(ctx context.Context, column string, dest map[string]int) error {
	// column is one of two fixed literals above, never client input.
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s, COUNT(*) FROM kb_entries GROUP BY %s`, column, column))
	if err != nil {
		return fmt.Errorf("grouping by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scanning %s group: %w", column, err)
		}
		dest[key] = count
	}
	return rows.Err()
}
