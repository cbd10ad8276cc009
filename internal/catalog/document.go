package catalog

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// DocumentID is a 128-bit document identifier: either a random v4-like id
// or one derived from content.
type DocumentID [16]byte

// NewDocumentID returns a random v4 DocumentID.
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New())
}

// ContentDocumentID derives a stable DocumentID from seed bytes (a v5
// name-based uuid), for callers who want re-adding the same content to
// resolve to the same document id.
func ContentDocumentID(seed []byte) DocumentID {
	return DocumentID(uuid.NewSHA1(uuid.Nil, seed))
}

// ParseDocumentID parses a canonical uuid string form.
func ParseDocumentID(s string) (DocumentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DocumentID{}, verrors.New(verrors.KindValidation, "catalog.ParseDocumentID", verrors.ErrValidation).WithDetail("value", s)
	}
	return DocumentID(u), nil
}

func (id DocumentID) String() string { return uuid.UUID(id).String() }

// Document is an immutable, insertion-ordered, uniquely-keyed collection
// of fields identified by a DocumentID.
type Document struct {
	id     DocumentID
	fields []Field
	index  map[string]int
}

// NewDocument constructs a Document, rejecting duplicate field keys.
func NewDocument(id DocumentID, fields ...Field) (*Document, error) {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		if _, dup := idx[f.Key]; dup {
			return nil, verrors.New(verrors.KindValidation, "catalog.NewDocument", verrors.ErrValidation).WithDetail("field", f.Key)
		}
		if err := f.Value.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: field %q: %w", f.Key, err)
		}
		idx[f.Key] = i
	}
	return &Document{id: id, fields: append([]Field(nil), fields...), index: idx}, nil
}

func (d *Document) ID() DocumentID { return d.id }

// Fields returns the document's fields in insertion order.
func (d *Document) Fields() []Field { return append([]Field(nil), d.fields...) }

// Field looks up a single field by key.
func (d *Document) Field(key string) (Field, bool) {
	i, ok := d.index[key]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}
