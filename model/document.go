package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document represents a source document loaded from the corpus tree.
// Documents are immutable once loaded; when the source content changes a new
// Document with a new ContentHash supersedes the old one under the same ID.
type Document struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`   // path relative to the corpus root
	Category    string    `json:"category"` // first level directory, e.g. "CV"
	Text        string    `json:"text,omitempty" db:"-"`
	ContentHash string    `json:"content_hash"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// NewDocumentID derives the stable document identifier from category and
// source path. Reloading the same file always yields the same ID.
func NewDocumentID(category, source string) string {
	sum := sha256.Sum256([]byte(category + "/" + source))
	return hex.EncodeToString(sum[:16])
}

// HashText returns the content hash used by the ingestion manifest to detect
// unchanged documents.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
