package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enumerated values for entry classification. These mirror the controlled
// vocabulary the curation team uses; stored as text, validated at the edge.
var (
	// SourceTypes are the recognized document source types.
	SourceTypes = stringSet(
		"LITERATURE", "BLOG", "DATASET", "WEBINAR", "COURSE",
		"HANDBOOK", "PODCAST", "ARTICLE", "SUPERVISION", "INTERNAL",
		"QA", "PROMPT",
	)

	// SourceCategories group entries by ingestion origin.
	SourceCategories = stringSet(
		"CYMBIOSE_IP", "CE_PARTNERS", "MEDIA_LITERATURE",
		"CULTURE_DIAGNOSIS", "BIAS_DETECTION", "CURATED_DATASETS",
		"EXPERT_ADVISORS",
	)

	// AccessTypes describe how a source may be accessed.
	AccessTypes = stringSet("INTERNAL", "PUBLIC", "PAYWALLED", "RESTRICTED", "PARTNER")

	// RagStatuses govern export eligibility.
	RagStatuses = stringSet("PENDING", "APPROVED", "EXCLUDED", "REVIEW_NEEDED", "ARCHIVED")

	// EvidenceLevels rank the strength of evidence behind a source.
	EvidenceLevels = stringSet(
		"META_ANALYSIS", "RCT", "COHORT", "CASE_STUDY", "EXPERT_OPINION", "ANECDOTAL",
	)

	// ChunkingStrategies are the supported content chunking approaches.
	ChunkingStrategies = stringSet("SEMANTIC", "FIXED_SIZE", "PARAGRAPH", "SENTENCE", "CUSTOM")

	// DeIdentificationStatuses track PHI removal progress.
	DeIdentificationStatuses = stringSet("NA", "REQUIRED", "IN_PROGRESS", "COMPLETED", "VERIFIED")

	// IPRightsStatuses track licensing clearance.
	IPRightsStatuses = stringSet("PENDING", "CLEARED", "RESTRICTED", "PERMISSION_REQUIRED", "LICENSED")
)

func stringSet(values ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Creation defaults applied when the caller omits optional fields.
const (
	DefaultSourceCategory = "CYMBIOSE_IP"
	DefaultAccessType     = "INTERNAL"
	DefaultRagStatus      = "PENDING"
	DefaultLanguage       = "English"
	DefaultDeIDStatus     = "NA"
	DefaultIPRights       = "PENDING"
	DefaultAddedBy        = "System"
)

// Audit log action kinds.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrDuplicateKBID indicates the human-facing kbId is already taken.
	ErrDuplicateKBID = errors.New("kbId already exists")

	// ErrDuplicateChunkIndex indicates two chunks in one create request
	// claim the same chunkIndex.
	ErrDuplicateChunkIndex = errors.New("duplicate chunkIndex")
)

// ConflictError reports a duplicate-URL conflict. It carries the identity
// of the existing entry so the caller can disambiguate.
type ConflictError struct {
	ExistingKBID  string
	ExistingTitle string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("url already catalogued as %s (%q)", e.ExistingKBID, e.ExistingTitle)
}

// Entry is one catalogued knowledge-base document with its clinical
// taxonomy metadata. JSON field names match the public API shapes.
type Entry struct {
	ID                 uuid.UUID `json:"id"`
	KBID               string    `json:"kbId"`
	SourceType         string    `json:"sourceType"`
	SourceCategory     string    `json:"sourceCategory"`
	Title              string    `json:"title"`
	AuthorOrganization string    `json:"authorOrganization,omitempty"`
	Year               *int      `json:"year,omitempty"`
	URLOrLocation      string    `json:"urlOrLocation,omitempty"`
	AccessType         string    `json:"accessType"`
	License            string    `json:"license,omitempty"`
	PeerReviewed       bool      `json:"peerReviewed"`
	SourceQualityScore *int      `json:"sourceQualityScore,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	KeyFindings        string    `json:"keyFindings,omitempty"`
	EvidenceLevel      string    `json:"evidenceLevel,omitempty"`
	RawContent         string    `json:"rawContent,omitempty"`

	TagsModality             []string `json:"tagsModality"`
	TagsCulturalContext      []string `json:"tagsCulturalContext"`
	TagsRiskLanguage         []string `json:"tagsRiskLanguage"`
	TagsPopulation           []string `json:"tagsPopulation"`
	TagsDocumentationStyle   []string `json:"tagsDocumentationStyle"`
	TagsInterventionCategory []string `json:"tagsInterventionCategory"`
	TagsBiasType             []string `json:"tagsBiasType"`
	TagsSupervision          bool     `json:"tagsSupervision"`

	Geography              string   `json:"geography,omitempty"`
	Language               string   `json:"language"`
	ControlledVocabTerms   []string `json:"controlledVocabTerms"`
	RagInclusionStatus     string   `json:"ragInclusionStatus"`
	ChunkingNotes          string   `json:"chunkingNotes,omitempty"`
	ChunkingStrategy       string   `json:"chunkingStrategy,omitempty"`
	DeIdentificationStatus string   `json:"deIdentificationStatus"`
	IPRightsStatus         string   `json:"ipRightsStatus"`
	HIPAACompliant         bool     `json:"hipaaCompliant"`
	AddedBy                string   `json:"addedBy"`
	Notes                  string   `json:"notes,omitempty"`

	DateAdded    time.Time  `json:"dateAdded"`
	LastUpdated  time.Time  `json:"lastUpdated"`
	LastReviewed *time.Time `json:"lastReviewed,omitempty"`

	// ChunkCount annotates list responses; Chunks is populated on reads
	// that include them.
	ChunkCount int     `json:"chunkCount"`
	Chunks     []Chunk `json:"chunks,omitempty"`
}

// Chunk is a retrieval-sized fragment of an entry's content.
// The embedding vector itself is never serialized to API clients.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	EntryID    uuid.UUID `json:"entryId"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
	Embedded   bool      `json:"embedded"`

	// Denormalized tag snapshots for filtering without joining the entry.
	TagsModality   []string `json:"-"`
	TagsCultural   []string `json:"-"`
	TagsPopulation []string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// ChunkInput is the caller-supplied shape for bulk chunk creation.
// A nil ChunkIndex takes the chunk's position in the input slice.
type ChunkInput struct {
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount,omitempty"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
}

// EstimateTokens approximates a token count as ceil(len(content)/4).
// Used when the caller does not supply one.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// EntryPatch is an explicit partial update. Every updatable field is
// optional; nil means "leave unchanged". Unknown JSON fields are rejected
// at the decoding boundary.
type EntryPatch struct {
	SourceType         *string `json:"sourceType"`
	SourceCategory     *string `json:"sourceCategory"`
	Title              *string `json:"title"`
	AuthorOrganization *string `json:"authorOrganization"`
	Year               *int    `json:"year"`
	URLOrLocation      *string `json:"urlOrLocation"`
	AccessType         *string `json:"accessType"`
	License            *string `json:"license"`
	PeerReviewed       *bool   `json:"peerReviewed"`
	SourceQualityScore *int    `json:"sourceQualityScore"`
	Summary            *string `json:"summary"`
	KeyFindings        *string `json:"keyFindings"`
	EvidenceLevel      *string `json:"evidenceLevel"`
	RawContent         *string `json:"rawContent"`

	TagsModality             *[]string `json:"tagsModality"`
	TagsCulturalContext      *[]string `json:"tagsCulturalContext"`
	TagsRiskLanguage         *[]string `json:"tagsRiskLanguage"`
	TagsPopulation           *[]string `json:"tagsPopulation"`
	TagsDocumentationStyle   *[]string `json:"tagsDocumentationStyle"`
	TagsInterventionCategory *[]string `json:"tagsInterventionCategory"`
	TagsBiasType             *[]string `json:"tagsBiasType"`
	TagsSupervision          *bool     `json:"tagsSupervision"`

	Geography              *string   `json:"geography"`
	Language               *string   `json:"language"`
	ControlledVocabTerms   *[]string `json:"controlledVocabTerms"`
	RagInclusionStatus     *string   `json:"ragInclusionStatus"`
	ChunkingNotes          *string   `json:"chunkingNotes"`
	ChunkingStrategy       *string   `json:"chunkingStrategy"`
	DeIdentificationStatus *string   `json:"deIdentificationStatus"`
	IPRightsStatus         *string   `json:"ipRightsStatus"`
	HIPAACompliant         *bool     `json:"hipaaCompliant"`
	AddedBy                *string   `json:"addedBy"`
	Notes                  *string   `json:"notes"`
}

// DataSource is an aggregate registry row for an ingestion origin,
// keyed by domain name.
type DataSource struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	BaseURL      string     `json:"baseUrl,omitempty"`
	IsActive     bool       `json:"isActive"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	TotalEntries int        `json:"totalEntries"`
}

// AuditRecord is one append-only action log row. OldValue and NewValue
// are serialized snapshots; either may be nil.
type AuditRecord struct {
	EntryID     uuid.UUID
	Action      string
	PerformedBy string
	OldValue    any
	NewValue    any
}

// Filter narrows ListEntries results. Zero values mean "no filter".
type Filter struct {
	SourceType string
	RagStatus  string
	MinQuality int
	Search     string
}
