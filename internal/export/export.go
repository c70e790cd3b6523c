// Package export projects the catalog into downstream-consumable formats
// for embedding and fine-tuning pipelines.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cymbiose/kb/internal/catalog"
)

// Format selects an export projection.
type Format string

const (
	// FormatJSON is the full metadata export, one object per entry.
	FormatJSON Format = "json"
	// FormatJSONL is the fine-tuning export, one training example per entry.
	FormatJSONL Format = "jsonl"
	// FormatCSV is the spreadsheet export with a fixed column set.
	FormatCSV Format = "csv"
	// FormatChunks is the embedding-pipeline export, one line per chunk.
	FormatChunks Format = "chunks"
)

// ParseFormat validates a client-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatJSONL, FormatCSV, FormatChunks:
		return Format(s), nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the MIME type for the rendered body.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL, FormatChunks:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

func (f Format) ext() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSONL, FormatChunks:
		return "jsonl"
	default:
		return "json"
	}
}

// Filename builds the attachment name, stamped with the export date.
func (f Format) Filename(now time.Time) string {
	return fmt.Sprintf("cymbiose_kb_%s_%s.%s", f, now.UTC().Format("2006-01-02"), f.ext())
}

// Render projects entries into the chosen format.
func Render(f Format, entries []catalog.Entry, now time.Time) ([]byte, error) {
	switch f {
	case FormatJSON:
		return renderFullJSON(entries, now)
	case FormatJSONL:
		return renderFineTuneJSONL(entries)
	case FormatCSV:
		return renderCSV(entries)
	case FormatChunks:
		return renderChunksJSONL(entries)
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
}

// fullEntry is the full-JSON projection of one entry.
type fullEntry struct {
	KBID            string    `json:"kbId"`
	SourceType      string    `json:"sourceType"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Year            *int      `json:"year"`
	URL             string    `json:"url"`
	Summary         string    `json:"summary"`
	KeyFindings     string    `json:"keyFindings"`
	RawContent      string    `json:"rawContent"`
	Tags            tagGroups `json:"tags"`
	ControlledVocab []string  `json:"controlledVocab"`
	RagStatus       string    `json:"ragStatus"`
	ChunkCount      int       `json:"chunkCount"`
	AddedBy         string    `json:"addedBy"`
	DateAdded       time.Time `json:"dateAdded"`
}

type tagGroups struct {
	Modality             []string `json:"modality"`
	CulturalContext      []string `json:"culturalContext"`
	RiskLanguage         []string `json:"riskLanguage"`
	Population           []string `json:"population"`
	DocumentationStyle   []string `json:"documentationStyle"`
	InterventionCategory []string `json:"interventionCategory"`
	BiasType             []string `json:"biasType"`
	Supervision          bool     `json:"supervision"`
}

func renderFullJSON(entries []catalog.Entry, now time.Time) ([]byte, error) {
	out := make([]fullEntry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, fullEntry{
			KBID:        e.KBID,
			SourceType:  e.SourceType,
			Title:       e.Title,
			Author:      e.AuthorOrganization,
			Year:        e.Year,
			URL:         e.URLOrLocation,
			Summary:     e.Summary,
			KeyFindings: e.KeyFindings,
			RawContent:  e.RawContent,
			Tags: tagGroups{
				Modality:             e.TagsModality,
				CulturalContext:      e.TagsCulturalContext,
				RiskLanguage:         e.TagsRiskLanguage,
				Population:           e.TagsPopulation,
				DocumentationStyle:   e.TagsDocumentationStyle,
				InterventionCategory: e.TagsInterventionCategory,
				BiasType:             e.TagsBiasType,
				Supervision:          e.TagsSupervision,
			},
			ControlledVocab: e.ControlledVocabTerms,
			RagStatus:       e.RagInclusionStatus,
			ChunkCount:      e.ChunkCount,
			AddedBy:         e.AddedBy,
			DateAdded:       e.DateAdded,
		})
	}
	return json.Marshal(struct {
		TotalEntries int         `json:"totalEntries"`
		ExportDate   time.Time   `json:"exportDate"`
		Entries      []fullEntry `json:"entries"`
	}{len(out), now.UTC(), out})
}

// fineTuneExample is one JSONL training line. Output prefers the curated
// summary and falls back to the opening of the raw content.
type fineTuneExample struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

const fineTuneInstruction = "Summarize the key clinical guidance from this source."

const fallbackOutputLimit = 1000

func renderFineTuneJSONL(entries []catalog.Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		e := &entries[i]
		output := e.Summary
		if output == "" {
			output = e.RawContent
			if utf8.RuneCountInString(output) > fallbackOutputLimit {
				output = string([]rune(output)[:fallbackOutputLimit])
			}
		}
		input := e.Title
		if e.AuthorOrganization != "" {
			input += " - " + e.AuthorOrganization
		}
		if err := enc.Encode(fineTuneExample{
			Instruction: fineTuneInstruction,
			Input:       input,
			Output:      output,
		}); err != nil {
			return nil, fmt.Errorf("encoding jsonl line: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// csvHeader is the fixed CSV column set.
var csvHeader = []string{
	"kbId", "sourceType", "title", "author", "year", "url",
	"summary", "keyFindings", "ragStatus", "qualityScore",
	"addedBy", "dateAdded", "chunkCount",
}

func renderCSV(entries []catalog.Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		record := []string{
			e.KBID, e.SourceType, e.Title, e.AuthorOrganization,
			intOrEmpty(e.Year), e.URLOrLocation,
			e.Summary, e.KeyFindings, e.RagInclusionStatus,
			intOrEmpty(e.SourceQualityScore),
			e.AddedBy, e.DateAdded.UTC().Format(time.RFC3339),
			strconv.Itoa(e.ChunkCount),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}

func intOrEmpty(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// chunkLine is one embedding-pipeline JSONL line, carrying the owning
// entry's identity and a denormalized tag-metadata object.
type chunkLine struct {
	ID         uuid.UUID     `json:"id"`
	KBEntryID  string        `json:"kbEntryId"`
	SourceType string        `json:"sourceType"`
	Title      string        `json:"title"`
	ChunkIndex int           `json:"chunkIndex"`
	Content    string        `json:"content"`
	TokenCount int           `json:"tokenCount"`
	Metadata   chunkMetadata `json:"metadata"`
}

type chunkMetadata struct {
	Modality      []string `json:"modality"`
	Cultural      []string `json:"cultural"`
	Population    []string `json:"population"`
	Interventions []string `json:"interventions"`
}

func renderChunksJSONL(entries []catalog.Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		e := &entries[i]
		for _, c := range e.Chunks {
			line := chunkLine{
				ID:         c.ID,
				KBEntryID:  e.KBID,
				SourceType: e.SourceType,
				Title:      e.Title,
				ChunkIndex: c.ChunkIndex,
				Content:    c.Content,
				TokenCount: c.TokenCount,
				Metadata: chunkMetadata{
					Modality:      e.TagsModality,
					Cultural:      e.TagsCulturalContext,
					Population:    e.TagsPopulation,
					Interventions: e.TagsInterventionCategory,
				},
			}
			if err := enc.Encode(line); err != nil {
				return nil, fmt.Errorf("encoding chunk line: %w", err)
			}
		}
	}
	return buf.Bytes(), nil
}
