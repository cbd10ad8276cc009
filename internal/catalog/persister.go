package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	goccyjson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/kv"
	"github.com/vulcanodb/vulcanodb/internal/telemetry"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
	"github.com/vulcanodb/vulcanodb/internal/wal"
)

const (
	prefixID2Int = "id2int:"
	prefixInt2ID = "int2id:"
	prefixShape  = "shape:"
)

// shapeEntry is one field's manifest record: its key and kind, in
// insertion order, so a document can be rehydrated without guessing field
// types.
type shapeEntry struct {
	Key  string `json:"key"`
	Kind byte   `json:"kind"`
}

// FieldResult reports one field write's outcome.
type FieldResult struct {
	Key string
	Err error
}

// WriteResult is the outcome of Add: any field failure marks the whole
// write failed and withholds the WAL commit.
type WriteResult struct {
	InternalID int64
	Success    bool
	Fields     []FieldResult
}

// Persister is the document catalog: internal-id allocation, field
// serialization to a dedicated kv.Store, and WAL-backed crash recovery.
type Persister struct {
	mu    sync.Mutex
	store *kv.Store
	wal   *wal.Log
	log   *zap.SugaredLogger
	hooks telemetry.Hooks

	nextInternalID atomic.Int64
}

// Config controls the catalog's on-disk sizing.
type Config struct {
	KV          kv.Config
	SegmentSize int64
	Hooks       telemetry.Hooks
}

// Open opens or creates the catalog rooted at dir, discarding any
// uncommitted WAL entries before returning.
func Open(dir string, cfg Config, log *zap.SugaredLogger) (*Persister, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	segSize := cfg.SegmentSize
	if segSize == 0 {
		segSize = 64 * 1024 * 1024
	}
	store, err := kv.Open(filepath.Join(dir, "store"), cfg.KV, log)
	if err != nil {
		return nil, fmt.Errorf("catalog: open store: %w", err)
	}
	w, err := wal.Open(filepath.Join(dir, "wal"), segSize, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("catalog: open wal: %w", err)
	}

	p := &Persister{store: store, wal: w, log: log, hooks: cfg.Hooks.Fill()}

	maxID := int64(-1)
	if err := store.OffsetStream(func(key string, _ int64) bool {
		if strings.HasPrefix(key, prefixInt2ID) {
			if id, err := strconv.ParseInt(key[len(prefixInt2ID):], 10, 64); err == nil && id > maxID {
				maxID = id
			}
		}
		return true
	}); err != nil {
		store.Close()
		w.Close()
		return nil, fmt.Errorf("catalog: scan ids: %w", err)
	}
	p.nextInternalID.Store(maxID + 1)

	dropped, err := p.recover()
	if err != nil {
		store.Close()
		w.Close()
		return nil, err
	}
	log.Infow("catalog opened", "dir", dir, "nextInternalId", p.nextInternalID.Load(), "walDropped", dropped)
	return p, nil
}

// recover drops every WAL entry that never reached its commit marker: an
// interrupted add or remove was never acknowledged to the caller, so
// redoing it now would resurrect a write nobody was told succeeded. Field
// bytes a first-time add managed to push into the store before the crash
// stay unreachable, since the shape manifest and id maps are written last
// and without them the document cannot be rehydrated. The dropped entries
// remain pending in the log and are surfaced here for operators.
func (p *Persister) recover() (int, error) {
	entries, err := p.wal.ReadUncommitted()
	if err != nil {
		return 0, fmt.Errorf("catalog: read uncommitted: %w", err)
	}
	for _, e := range entries {
		p.log.Warnw("dropping uncommitted wal entry", "txId", e.TxID, "docId", e.Entry.DocID)
	}
	return len(entries), nil
}

func encodeFieldPayloads(fields []Field) ([]wal.FieldPayload, error) {
	out := make([]wal.FieldPayload, len(fields))
	for i, f := range fields {
		payload, err := encodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		out[i] = wal.FieldPayload{Key: f.Key, Type: byte(f.Value.Kind), Payload: payload}
	}
	return out, nil
}

// encodeValue mirrors kv.DataLog's per-type payload framing exactly (no
// key, no entryLen — just the typed body) so the WAL and the catalog
// store agree on one wire format.
func encodeValue(v FieldValue) ([]byte, error) {
	switch v.Kind {
	case KindString:
		buf := make([]byte, 4+len(v.Str))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.Str)))
		copy(buf[4:], v.Str)
		return buf, nil
	case KindInt:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v.Int))
		return buf, nil
	case KindVector:
		buf := make([]byte, 4+4*len(v.Vector))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.Vector)))
		for i, f := range v.Vector {
			binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], math.Float32bits(f))
		}
		return buf, nil
	case KindMatrix:
		if len(v.Matrix) != v.Rows*v.Cols {
			return nil, verrors.New(verrors.KindValidation, "catalog.encodeValue", verrors.ErrValidation)
		}
		buf := make([]byte, 8+4*len(v.Matrix))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Rows))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(v.Cols))
		for i, f := range v.Matrix {
			binary.LittleEndian.PutUint32(buf[8+4*i:12+4*i], math.Float32bits(f))
		}
		return buf, nil
	case KindBytes:
		buf := make([]byte, 4+len(v.Bytes))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.Bytes)))
		copy(buf[4:], v.Bytes)
		return buf, nil
	default:
		return nil, verrors.New(verrors.KindCorruption, "catalog.encodeValue", verrors.ErrCorrupt).WithDetail("kind", v.Kind)
	}
}

// Add persists doc, assigning it an internal id on first write. A
// per-field failure withholds the WAL commit and is reflected in the
// returned WriteResult rather than as an error.
func (p *Persister) Add(doc *Document) (WriteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	docIDStr := doc.ID().String()
	payloads, err := encodeFieldPayloads(doc.Fields())
	if err != nil {
		return WriteResult{}, err
	}
	txID, err := p.wal.RecordAdd(docIDStr, payloads)
	if err != nil {
		return WriteResult{}, fmt.Errorf("catalog: wal record add: %w", err)
	}

	internalID, err := p.internalIDFor(docIDStr)
	if err != nil {
		return WriteResult{}, err
	}

	results := p.writeFields(internalID, doc.Fields())
	success := true
	for _, r := range results {
		if r.Err != nil {
			success = false
			break
		}
	}
	if !success {
		p.log.Warnw("document write failed, withholding commit", "docId", docIDStr, "txId", txID)
		return WriteResult{InternalID: internalID, Success: false, Fields: results}, nil
	}

	if err := p.writeShapeAndMaps(internalID, docIDStr, doc.Fields()); err != nil {
		return WriteResult{}, err
	}
	if err := p.wal.Commit(txID); err != nil {
		return WriteResult{}, fmt.Errorf("catalog: wal commit: %w", err)
	}
	p.hooks.Count(telemetry.CounterDocumentInserts)
	return WriteResult{InternalID: internalID, Success: true, Fields: results}, nil
}

// internalIDFor resolves docIDStr to its internal id, allocating the next
// monotonic id if this is the first time it's been seen. Re-adding an
// existing DocumentID reuses its internal id (last-writer-wins).
func (p *Persister) internalIDFor(docIDStr string) (int64, error) {
	key := prefixID2Int + docIDStr
	s, ok, err := p.store.GetString(key)
	if err != nil {
		return 0, fmt.Errorf("catalog: id lookup: %w", err)
	}
	if ok {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, verrors.New(verrors.KindCorruption, "catalog.internalIDFor", verrors.ErrCorrupt)
		}
		return id, nil
	}
	return p.nextInternalID.Add(1) - 1, nil
}

func (p *Persister) fieldKey(internalID int64, fieldKey string) string {
	return strconv.FormatInt(internalID, 10) + ":" + fieldKey
}

func (p *Persister) writeFields(internalID int64, fields []Field) []FieldResult {
	results := make([]FieldResult, len(fields))
	for i, f := range fields {
		key := p.fieldKey(internalID, f.Key)
		var err error
		switch f.Value.Kind {
		case KindString:
			err = p.store.PutString(key, f.Value.Str)
		case KindInt:
			err = p.store.PutInt(key, f.Value.Int)
		case KindVector:
			err = p.store.PutFloatArray(key, f.Value.Vector)
		case KindMatrix:
			err = p.store.PutFloatMatrix(key, f.Value.Rows, f.Value.Cols, f.Value.Matrix)
		case KindBytes:
			err = p.store.PutBytes(key, f.Value.Bytes)
		default:
			err = verrors.New(verrors.KindValidation, "catalog.writeFields", verrors.ErrValidation).WithDetail("field", f.Key)
		}
		results[i] = FieldResult{Key: f.Key, Err: err}
	}
	return results
}

func (p *Persister) writeShapeAndMaps(internalID int64, docIDStr string, fields []Field) error {
	shape := make([]shapeEntry, len(fields))
	for i, f := range fields {
		shape[i] = shapeEntry{Key: f.Key, Kind: byte(f.Value.Kind)}
	}
	raw, err := goccyjson.Marshal(shape)
	if err != nil {
		return fmt.Errorf("catalog: marshal shape: %w", err)
	}
	if err := p.store.PutBytes(prefixShape+strconv.FormatInt(internalID, 10), raw); err != nil {
		return fmt.Errorf("catalog: put shape: %w", err)
	}
	if err := p.store.PutString(prefixID2Int+docIDStr, strconv.FormatInt(internalID, 10)); err != nil {
		return fmt.Errorf("catalog: put id2int: %w", err)
	}
	if err := p.store.PutString(prefixInt2ID+strconv.FormatInt(internalID, 10), docIDStr); err != nil {
		return fmt.Errorf("catalog: put int2id: %w", err)
	}
	return nil
}

// Remove records a WAL REMOVE, tombstones doc's field keys, shape
// manifest and id maps, then commits the WAL entry.
func (p *Persister) Remove(id DocumentID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	docIDStr := id.String()
	txID, err := p.wal.RecordRemove(docIDStr)
	if err != nil {
		return fmt.Errorf("catalog: wal record remove: %w", err)
	}
	if err := p.removeLocked(docIDStr); err != nil {
		return err
	}
	if err := p.wal.Commit(txID); err != nil {
		return fmt.Errorf("catalog: wal commit remove: %w", err)
	}
	p.hooks.Count(telemetry.CounterDocumentRemovals)
	return nil
}

func (p *Persister) removeLocked(docIDStr string) error {
	s, ok, err := p.store.GetString(prefixID2Int + docIDStr)
	if err != nil {
		return fmt.Errorf("catalog: remove lookup: %w", err)
	}
	if !ok {
		return nil
	}
	internalID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return verrors.New(verrors.KindCorruption, "catalog.removeLocked", verrors.ErrCorrupt)
	}
	shape, err := p.loadShape(internalID)
	if err != nil {
		return err
	}
	for _, se := range shape {
		if err := p.store.Remove(p.fieldKey(internalID, se.Key)); err != nil {
			return fmt.Errorf("catalog: remove field: %w", err)
		}
	}
	if err := p.store.Remove(prefixShape + strconv.FormatInt(internalID, 10)); err != nil {
		return fmt.Errorf("catalog: remove shape: %w", err)
	}
	if err := p.store.Remove(prefixID2Int + docIDStr); err != nil {
		return fmt.Errorf("catalog: remove id2int: %w", err)
	}
	if err := p.store.Remove(prefixInt2ID + strconv.FormatInt(internalID, 10)); err != nil {
		return fmt.Errorf("catalog: remove int2id: %w", err)
	}
	return nil
}

func (p *Persister) loadShape(internalID int64) ([]shapeEntry, error) {
	raw, ok, err := p.store.GetBytes(prefixShape + strconv.FormatInt(internalID, 10))
	if err != nil {
		return nil, fmt.Errorf("catalog: load shape: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var shape []shapeEntry
	if err := goccyjson.Unmarshal(raw, &shape); err != nil {
		return nil, verrors.New(verrors.KindCorruption, "catalog.loadShape", verrors.ErrCorrupt)
	}
	return shape, nil
}

// GetByDocID rehydrates a Document by its public DocumentID.
func (p *Persister) GetByDocID(id DocumentID) (*Document, bool, error) {
	docIDStr := id.String()
	s, ok, err := p.store.GetString(prefixID2Int + docIDStr)
	if err != nil || !ok {
		return nil, false, err
	}
	internalID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, false, verrors.New(verrors.KindCorruption, "catalog.GetByDocID", verrors.ErrCorrupt)
	}
	return p.GetByInternalID(internalID)
}

// GetByInternalID rehydrates a Document by its internal id, the path the
// query executor uses for residual scoring.
func (p *Persister) GetByInternalID(internalID int64) (*Document, bool, error) {
	shape, err := p.loadShape(internalID)
	if err != nil {
		return nil, false, err
	}
	if shape == nil {
		return nil, false, nil
	}
	docIDStr, ok, err := p.store.GetString(prefixInt2ID + strconv.FormatInt(internalID, 10))
	if err != nil {
		return nil, false, fmt.Errorf("catalog: load int2id: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	docID, err := ParseDocumentID(docIDStr)
	if err != nil {
		return nil, false, err
	}
	fields := make([]Field, 0, len(shape))
	for _, se := range shape {
		f, ok, err := p.readField(internalID, se)
		if err != nil {
			return nil, false, err
		}
		if ok {
			fields = append(fields, f)
		}
	}
	doc, err := NewDocument(docID, fields...)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (p *Persister) readField(internalID int64, se shapeEntry) (Field, bool, error) {
	key := p.fieldKey(internalID, se.Key)
	switch ValueKind(se.Kind) {
	case KindString:
		v, ok, err := p.store.GetString(key)
		return Field{Key: se.Key, Value: StringValue(v)}, ok, err
	case KindInt:
		v, ok, err := p.store.GetInt(key)
		return Field{Key: se.Key, Value: IntValue(v)}, ok, err
	case KindVector:
		v, ok, err := p.store.GetFloatArray(key)
		return Field{Key: se.Key, Value: VectorValue(v)}, ok, err
	case KindMatrix:
		v, rows, cols, ok, err := p.store.GetFloatMatrix(key)
		return Field{Key: se.Key, Value: MatrixValue(rows, cols, v)}, ok, err
	case KindBytes:
		v, ok, err := p.store.GetBytes(key)
		return Field{Key: se.Key, Value: BytesValue(v)}, ok, err
	default:
		return Field{}, false, verrors.New(verrors.KindCorruption, "catalog.readField", verrors.ErrCorrupt)
	}
}

// InternalIDs enumerates every live internal id, for index warm-up.
func (p *Persister) InternalIDs(yield func(id int64) bool) error {
	return p.store.OffsetStream(func(key string, _ int64) bool {
		if !strings.HasPrefix(key, prefixInt2ID) {
			return true
		}
		id, err := strconv.ParseInt(key[len(prefixInt2ID):], 10, 64)
		if err != nil {
			return true
		}
		return yield(id)
	})
}

// Count reports the number of live documents.
func (p *Persister) Count() (int64, error) {
	var n int64
	err := p.InternalIDs(func(int64) bool {
		n++
		return true
	})
	return n, err
}

func (p *Persister) Close() error {
	var firstErr error
	if err := p.wal.Sync(); err != nil {
		firstErr = err
	}
	if err := p.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
