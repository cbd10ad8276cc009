// Package catalog implements the document persister: it assigns internal
// ids, serializes a Document's fields to the catalog kv.Store, maintains
// the bidirectional id maps, and integrates the WAL for crash recovery.
// Index maintenance (HNSW, inverted) is the caller's job — the persister
// writes fields, then the engine updates its indexes.
package catalog

import (
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// ValueKind tags a FieldValue's payload, mirroring kv.ValueType's
// numbering so the WAL can re-use the same framing.
type ValueKind byte

const (
	KindString ValueKind = 1
	KindInt    ValueKind = 2
	KindVector ValueKind = 3
	KindMatrix ValueKind = 4
	KindBytes  ValueKind = 5
)

// FieldValue is the closed set of typed field values a Document may carry.
type FieldValue struct {
	Kind ValueKind

	Str    string
	Int    int32
	Vector []float32
	Rows   int
	Cols   int
	Matrix []float32
	Bytes  []byte
}

func StringValue(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }
func IntValue(i int32) FieldValue     { return FieldValue{Kind: KindInt, Int: i} }
func VectorValue(v []float32) FieldValue {
	return FieldValue{Kind: KindVector, Vector: v}
}
func MatrixValue(rows, cols int, data []float32) FieldValue {
	return FieldValue{Kind: KindMatrix, Rows: rows, Cols: cols, Matrix: data}
}
func BytesValue(b []byte) FieldValue { return FieldValue{Kind: KindBytes, Bytes: b} }

// Validate checks internal consistency of the value itself (matrix
// dimensions against payload length); field-vs-index dimension checks
// happen where the index is known (the engine layer).
func (v FieldValue) Validate() error {
	if v.Kind == KindMatrix && len(v.Matrix) != v.Rows*v.Cols {
		return verrors.New(verrors.KindValidation, "catalog.FieldValue.Validate", verrors.ErrValidation)
	}
	return nil
}

// Field is one uniquely-keyed entry of a Document.
type Field struct {
	Key   string
	Value FieldValue
}
