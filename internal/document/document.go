// Package document provides session-scoped document storage and semantic
// search over page embeddings.
package document

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested document does not exist in the scope.
var ErrNotFound = errors.New("document not found")

// Document is an uploaded file attached to exactly one conversation scope.
type Document struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Name           string
	PageCount      int
	CreatedAt      time.Time
}

// Page holds the extracted text of one document page. Page numbers are
// 1-based and unique within a document. Embeddings are computed once at
// ingestion and never updated.
type Page struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Number     int
	Content    string
	Embedding  []float32
}

// PageHit is one page returned from a nearest-neighbor query, with its
// cosine distance to the query vector.
type PageHit struct {
	DocumentID   uuid.UUID
	DocumentName string
	Number       int
	Content      string
	Distance     float64
}

// PageMatch is a matching page inside a Match group.
type PageMatch struct {
	Number   int     `json:"pageNumber"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// Match groups the surviving pages of one document, ordered by ascending
// distance.
type Match struct {
	DocumentID   uuid.UUID   `json:"documentId"`
	DocumentName string      `json:"documentName"`
	Pages        []PageMatch `json:"pages"`
}
