package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

type BundleType string

const (
	BundleText   BundleType = "text"
	BundleFigure BundleType = "figure"
	BundleImage  BundleType = "image"
)

// Per-record metadata ceilings of the vector store.
const (
	MaxEntryContent = 8000
	MaxEntryCaption = 2000
)

// BundleMetadata carries provenance of a bundle. Unset fields are nil/empty.
type BundleMetadata struct {
	FigureNumber  *int     `json:"figure_number,omitempty"`
	ChunkIndex    *int     `json:"chunk_index,omitempty"`
	ImageLocators []string `json:"image_locators,omitempty"`
	Description   string   `json:"description,omitempty"`
	Filename      string   `json:"filename,omitempty"`
}

// Bundle is the atomic retrievable unit of a document.
type Bundle struct {
	ID       string         `json:"bundle_id"`
	DocID    string         `json:"doc_id"`
	Type     BundleType     `json:"type"`
	Content  string         `json:"content"`
	Caption  string         `json:"caption,omitempty"`
	Page     *int           `json:"page,omitempty"`
	Metadata BundleMetadata `json:"metadata"`
}

// EntryID is the index-wide identity of the bundle.
func (b Bundle) EntryID() string {
	return b.DocID + ":" + b.ID
}

// EmbeddingText returns the string that represents the bundle in vector space.
func (b Bundle) EmbeddingText() string {
	switch b.Type {
	case BundleFigure:
		return strings.TrimSpace(b.Caption + "\n" + b.Content)
	case BundleImage:
		// Content is a storage locator; only the vision description is searchable.
		return strings.TrimSpace(b.Metadata.Description)
	default:
		return strings.TrimSpace(b.Content)
	}
}

// IndexEntry is the persisted unit of the vector index.
type IndexEntry struct {
	ID          string
	DocID       string
	BundleID    string
	Type        BundleType
	Content     string
	Caption     string
	Description string
	Page        *int
	Vector      []float32
}

// NewIndexEntry denormalizes a bundle into an entry. Content and caption are cut
// to the store metadata ceilings without error.
func NewIndexEntry(b Bundle, vector []float32) IndexEntry {
	return IndexEntry{
		ID:          b.EntryID(),
		DocID:       b.DocID,
		BundleID:    b.ID,
		Type:        b.Type,
		Content:     TruncateRunes(b.Content, MaxEntryContent),
		Caption:     TruncateRunes(b.Caption, MaxEntryCaption),
		Description: TruncateRunes(b.Metadata.Description, MaxEntryContent),
		Page:        b.Page,
		Vector:      vector,
	}
}

// Candidate is a scored query result. It is never persisted.
type Candidate struct {
	ID          string     `json:"id"`
	Score       float64    `json:"score"`
	DocID       string     `json:"doc_id"`
	BundleID    string     `json:"bundle_id"`
	Type        BundleType `json:"type"`
	Content     string     `json:"content"`
	Caption     string     `json:"caption,omitempty"`
	Description string     `json:"description,omitempty"`
	Page        *int       `json:"page,omitempty"`
}

// CandidateFromEntry is used by index backends that keep entries in process.
func CandidateFromEntry(e IndexEntry, score float64) Candidate {
	return Candidate{
		ID:          e.ID,
		Score:       score,
		DocID:       e.DocID,
		BundleID:    e.BundleID,
		Type:        e.Type,
		Content:     e.Content,
		Caption:     e.Caption,
		Description: e.Description,
		Page:        e.Page,
	}
}

// Heading is the text placed before the content in the assembled context.
// Image candidates have no caption and use their vision description instead.
func (c Candidate) Heading() string {
	if c.Type == BundleImage && c.Caption == "" {
		return c.Description
	}
	return c.Caption
}

type DocumentSource string

const (
	SourcePDF   DocumentSource = "pdf"
	SourceImage DocumentSource = "image"
)

type Document struct {
	ID        string         `json:"doc_id"`
	Filename  string         `json:"filename"`
	Locator   string         `json:"path"`
	Source    DocumentSource `json:"source"`
	Bundles   int            `json:"bundles"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func IntPtr(v int) *int {
	return &v
}
