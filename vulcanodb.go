// Package vulcanodb implements an embeddable vector database: a durable
// key-value store with a write-ahead log, an HNSW vector index, a
// persistent inverted string index, and a query planner/executor that
// combines both over a boolean query tree.
package vulcanodb

import (
	"github.com/vulcanodb/vulcanodb/internal/catalog"
)

// Document, Field and DocumentID are the catalog package's types
// re-exported at the public API boundary, so callers never import
// internal/catalog directly.
type (
	Document   = catalog.Document
	Field      = catalog.Field
	DocumentID = catalog.DocumentID
	FieldValue = catalog.FieldValue
)

// NewDocument constructs a Document, rejecting duplicate field keys.
func NewDocument(id DocumentID, fields ...Field) (*Document, error) {
	return catalog.NewDocument(id, fields...)
}

// NewDocumentID returns a random v4 DocumentID.
func NewDocumentID() DocumentID { return catalog.NewDocumentID() }

// ContentDocumentID derives a stable DocumentID from seed bytes, so
// re-adding the same content resolves to the same document id.
func ContentDocumentID(seed []byte) DocumentID { return catalog.ContentDocumentID(seed) }

// ParseDocumentID parses a canonical uuid string form.
func ParseDocumentID(s string) (DocumentID, error) { return catalog.ParseDocumentID(s) }

// StringValue, IntValue, VectorValue, MatrixValue and BytesValue
// construct the typed field values a Document may carry.
func StringValue(s string) FieldValue { return catalog.StringValue(s) }
func IntValue(i int32) FieldValue     { return catalog.IntValue(i) }
func VectorValue(v []float32) FieldValue {
	return catalog.VectorValue(v)
}
func MatrixValue(rows, cols int, data []float32) FieldValue {
	return catalog.MatrixValue(rows, cols, data)
}
func BytesValue(b []byte) FieldValue { return catalog.BytesValue(b) }
