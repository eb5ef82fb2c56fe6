package types

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MediaType is the closed set of document kinds the loader understands.
type MediaType string

const (
	MediaText     MediaType = "text"
	MediaMarkdown MediaType = "markdown"
	MediaPDF      MediaType = "pdf"
)

// Classify maps a file name to its media type by extension.
func Classify(path string) (MediaType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return MediaText, true
	case ".md", ".markdown":
		return MediaMarkdown, true
	case ".pdf":
		return MediaPDF, true
	default:
		return "", false
	}
}

// Document is a raw source unit produced by a loader. It is never persisted.
type Document struct {
	SourceID  string    // Stable identifier, the path relative to the source root
	Title     string    // Human readable name derived from the file name
	RawText   string    // Extracted text
	MediaType MediaType // How RawText was obtained
	ModTime   time.Time // File modification time
}

// Chunk is a contiguous slice of a document's text.
type Chunk struct {
	SourceID      string
	SequenceIndex int
	Offset        int // Rune offset of Text inside the document
	Text          string
}

// CharLength returns the length of the chunk in characters (code points).
func (c Chunk) CharLength() int {
	return utf8.RuneCountInString(c.Text)
}

// EmbeddedChunk is a chunk together with its vector.
type EmbeddedChunk struct {
	ID        uuid.UUID
	Chunk     Chunk
	Embedding []float32
	Metadata  map[string]any
}

// SearchHit is a single record returned by a vector store similarity search.
type SearchHit struct {
	Text          string
	SourceID      string
	SequenceIndex int
	Score         float64 // Higher is more relevant
}

// RetrievalResult is a ranked search hit handed to the context assembler.
type RetrievalResult struct {
	ChunkText string  `json:"chunk_text"`
	SourceID  string  `json:"source_id"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// GroundedQuery is a query with the context assembled for it.
type GroundedQuery struct {
	QueryText      string
	ContextText    string
	RetrievedCount int
}

// IngestionReport summarises one ingestion run.
type IngestionReport struct {
	DocumentsProcessed int
	ChunksWritten      int
	Skipped            int
	SkippedFiles       []string
	Reset              bool
}
