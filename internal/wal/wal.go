// Package wal implements the dedicated write-ahead log used for document
// catalog crash recovery — a separate append-only log from the generic
// kv.Store, with its own PENDING/COMMITTED marker discipline.
package wal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/pagestore"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// recordStatus tags a WAL record. statusPad never carries a payload; it
// exists only so a scanner encountering too little room for a real entry
// in the tail of a segment can skip straight to the next segment start
// instead of straddling the boundary.
type recordStatus uint32

const (
	statusPending   recordStatus = 0
	statusCommitted recordStatus = 1
	statusPad       recordStatus = 2
)

// recordHeaderSize is entryLen(4) + status(4) + txId(8).
const recordHeaderSize = 16

// EntryKind distinguishes an ADD from a REMOVE WAL payload.
type EntryKind byte

const (
	EntryAdd    EntryKind = 0
	EntryRemove EntryKind = 1
)

// FieldPayload is one document field as it appears inside an ADD payload:
// a key, a value-type tag (matching kv.ValueType's numbering), and the
// already-encoded typed payload bytes (same encodings kv.DataLog uses).
type FieldPayload struct {
	Key     string
	Type    byte
	Payload []byte
}

// Entry is a decoded WAL payload, either an ADD (with fields) or a REMOVE.
type Entry struct {
	Kind   EntryKind
	DocID  string
	Fields []FieldPayload
}

// UncommittedEntry pairs a decoded Entry with the txId that produced it.
type UncommittedEntry struct {
	TxID  int64
	Entry Entry
}

// Log is the append-only WAL for one document catalog.
type Log struct {
	mu       sync.Mutex
	region   *pagestore.Region
	cursor   int64
	nextTxID atomic.Int64
	log      *zap.SugaredLogger
}

// Open opens or creates the WAL log under dir.
func Open(dir string, segmentSize int64, log *zap.SugaredLogger) (*Log, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r, err := pagestore.Open(dir, "wal", segmentSize, log)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	l := &Log{region: r, log: log}
	if err := l.recoverCursor(); err != nil {
		return nil, err
	}
	l.nextTxID.Store(time.Now().UnixMilli())
	return l, nil
}

func align8(n int) int { return (n + 7) &^ 7 }

func encodeFields(fields []FieldPayload) []byte {
	total := 4
	for _, f := range fields {
		total += 4 + len(f.Key) + 1 + len(f.Payload)
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(fields)))
	off := 4
	for _, f := range fields {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(f.Key)))
		off += 4
		off += copy(buf[off:], f.Key)
		buf[off] = f.Type
		off++
		off += copy(buf[off:], f.Payload)
	}
	return buf
}

func encodeEntry(e Entry) []byte {
	switch e.Kind {
	case EntryAdd:
		fieldsBuf := encodeFields(e.Fields)
		buf := make([]byte, 1+4+len(e.DocID)+len(fieldsBuf))
		buf[0] = byte(EntryAdd)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(e.DocID)))
		off := 5
		off += copy(buf[off:], e.DocID)
		copy(buf[off:], fieldsBuf)
		return buf
	case EntryRemove:
		buf := make([]byte, 1+4+len(e.DocID))
		buf[0] = byte(EntryRemove)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(e.DocID)))
		copy(buf[5:], e.DocID)
		return buf
	default:
		panic("wal: unknown entry kind")
	}
}

func decodeEntry(payload []byte) (Entry, error) {
	if len(payload) < 1 {
		return Entry{}, verrors.New(verrors.KindCorruption, "wal.decodeEntry", verrors.ErrCorrupt)
	}
	kind := EntryKind(payload[0])
	switch kind {
	case EntryAdd:
		if len(payload) < 5 {
			return Entry{}, verrors.New(verrors.KindCorruption, "wal.decodeEntry", verrors.ErrCorrupt)
		}
		docLen := binary.LittleEndian.Uint32(payload[1:5])
		off := 5
		docID := string(payload[off : off+int(docLen)])
		off += int(docLen)
		fieldCount := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		fields := make([]FieldPayload, 0, fieldCount)
		for i := uint32(0); i < fieldCount; i++ {
			keyLen := binary.LittleEndian.Uint32(payload[off : off+4])
			off += 4
			key := string(payload[off : off+int(keyLen)])
			off += int(keyLen)
			vt := payload[off]
			off++
			// Field payloads are self-describing (length-prefixed per kv's
			// own encodings), so fieldPayloadLen can re-delimit each field
			// without this package importing kv's record types.
			n := fieldPayloadLen(vt, payload[off:])
			fields = append(fields, FieldPayload{Key: key, Type: vt, Payload: payload[off : off+n]})
			off += n
		}
		return Entry{Kind: EntryAdd, DocID: docID, Fields: fields}, nil
	case EntryRemove:
		if len(payload) < 5 {
			return Entry{}, verrors.New(verrors.KindCorruption, "wal.decodeEntry", verrors.ErrCorrupt)
		}
		docLen := binary.LittleEndian.Uint32(payload[1:5])
		docID := string(payload[5 : 5+int(docLen)])
		return Entry{Kind: EntryRemove, DocID: docID}, nil
	default:
		return Entry{}, verrors.New(verrors.KindCorruption, "wal.decodeEntry", verrors.ErrCorrupt).WithDetail("kind", byte(kind))
	}
}

// fieldPayloadLen mirrors kv's per-ValueType payload framing (a leading
// u32 length for STRING/FLOAT_ARRAY/BYTES, rows*cols for FLOAT_MATRIX, a
// fixed 4 bytes for INTEGER).
func fieldPayloadLen(valueType byte, rest []byte) int {
	const (
		typeString     = 1
		typeInteger    = 2
		typeFloatArray = 3
		typeFloatMat   = 4
		typeBytes      = 5
	)
	switch valueType {
	case typeInteger:
		return 4
	case typeString, typeBytes:
		n := binary.LittleEndian.Uint32(rest[0:4])
		return 4 + int(n)
	case typeFloatArray:
		n := binary.LittleEndian.Uint32(rest[0:4])
		return 4 + int(n)*4
	case typeFloatMat:
		rows := binary.LittleEndian.Uint32(rest[0:4])
		cols := binary.LittleEndian.Uint32(rest[4:8])
		return 8 + int(rows)*int(cols)*4
	default:
		return len(rest)
	}
}

// append reserves space for a record, padding across a segment boundary
// first if necessary, and writes it. Callers hold l.mu.
func (l *Log) append(status recordStatus, txID int64, payload []byte) (int64, error) {
	total := align8(recordHeaderSize + len(payload))

	remaining := l.region.RemainingInSegment(l.cursor)
	if int64(total) > remaining {
		if remaining >= recordHeaderSize {
			pad := make([]byte, recordHeaderSize)
			binary.LittleEndian.PutUint32(pad[0:4], uint32(remaining))
			binary.LittleEndian.PutUint32(pad[4:8], uint32(statusPad))
			if err := l.region.WriteAt(pad, l.cursor); err != nil {
				return 0, fmt.Errorf("wal: write pad: %w", err)
			}
		}
		l.cursor = l.region.NextSegmentStart(l.cursor)
	}

	offset := l.cursor
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(txID))
	copy(buf[recordHeaderSize:], payload)
	if err := l.region.WriteAt(buf[8:], offset+8); err != nil {
		return 0, fmt.Errorf("wal: write body: %w", err)
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(status))
	if err := l.region.WriteAt(buf[4:8], offset+4); err != nil {
		return 0, fmt.Errorf("wal: write status: %w", err)
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	if err := l.region.WriteAt(buf[0:4], offset); err != nil {
		return 0, fmt.Errorf("wal: publish entryLen: %w", err)
	}
	l.cursor = offset + int64(total)
	return offset, nil
}

// RecordAdd appends a PENDING ADD record and returns its transaction id.
func (l *Log) RecordAdd(docID string, fields []FieldPayload) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txID := l.nextTxID.Add(1)
	payload := encodeEntry(Entry{Kind: EntryAdd, DocID: docID, Fields: fields})
	if _, err := l.append(statusPending, txID, payload); err != nil {
		return 0, err
	}
	return txID, nil
}

// RecordRemove appends a PENDING REMOVE record and returns its transaction id.
func (l *Log) RecordRemove(docID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txID := l.nextTxID.Add(1)
	payload := encodeEntry(Entry{Kind: EntryRemove, DocID: docID})
	if _, err := l.append(statusPending, txID, payload); err != nil {
		return 0, err
	}
	return txID, nil
}

// Commit appends a COMMITTED marker for txID.
func (l *Log) Commit(txID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.append(statusCommitted, txID, nil)
	return err
}

// ReadUncommitted streams every PENDING entry whose txId has no COMMITTED
// marker anywhere in the log, in write order. Used by the document
// persister to replay after a crash.
func (l *Log) ReadUncommitted() ([]UncommittedEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	committed := make(map[int64]bool)
	type pendingRec struct {
		txID    int64
		payload []byte
	}
	var pending []pendingRec

	var pos int64
	for pos < l.cursor {
		remaining := l.region.RemainingInSegment(pos)
		if remaining < recordHeaderSize {
			pos = l.region.NextSegmentStart(pos)
			continue
		}
		hdr := make([]byte, recordHeaderSize)
		if err := l.region.ReadAt(hdr, pos); err != nil {
			return nil, fmt.Errorf("wal: scan header: %w", err)
		}
		entryLen := binary.LittleEndian.Uint32(hdr[0:4])
		if entryLen == 0 {
			break
		}
		status := recordStatus(binary.LittleEndian.Uint32(hdr[4:8]))
		txID := int64(binary.LittleEndian.Uint64(hdr[8:16]))

		if status == statusPad {
			pos += int64(entryLen)
			continue
		}

		payloadLen := int(entryLen) - recordHeaderSize
		var payload []byte
		if payloadLen > 0 {
			payload = make([]byte, payloadLen)
			if err := l.region.ReadAt(payload, pos+recordHeaderSize); err != nil {
				return nil, fmt.Errorf("wal: scan payload: %w", err)
			}
		}

		switch status {
		case statusCommitted:
			committed[txID] = true
		case statusPending:
			pending = append(pending, pendingRec{txID: txID, payload: payload})
		}
		pos += int64(entryLen)
	}

	var out []UncommittedEntry
	for _, p := range pending {
		if committed[p.txID] {
			continue
		}
		entry, err := decodeEntry(p.payload)
		if err != nil {
			return nil, fmt.Errorf("wal: decode uncommitted txId %d: %w", p.txID, err)
		}
		out = append(out, UncommittedEntry{TxID: p.txID, Entry: entry})
	}
	return out, nil
}

// recoverCursor reconstructs the write cursor the same way kv's regions do:
// scan from zero, skipping segment-boundary pads, until a zero entryLen.
func (l *Log) recoverCursor() error {
	var pos int64
	for {
		remaining := l.region.RemainingInSegment(pos)
		if remaining < recordHeaderSize {
			pos = l.region.NextSegmentStart(pos)
			continue
		}
		hdr := make([]byte, 8)
		if err := l.region.ReadAt(hdr, pos); err != nil {
			break
		}
		entryLen := binary.LittleEndian.Uint32(hdr[0:4])
		if entryLen == 0 {
			break
		}
		pos += int64(entryLen)
	}
	l.cursor = pos
	return nil
}

// CommittedOffset reports the WAL's write cursor, analogous to kv's
// committed offset.
func (l *Log) CommittedOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

func (l *Log) Sync() error  { return l.region.Sync() }
func (l *Log) Close() error { return l.region.Close() }
