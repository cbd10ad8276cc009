// Data log: an append-only sequence of typed records across data segments,
// with atomic offset reservation.
//
// Record layout:
//
//	[ entryLen:u32 ][ keyLen:u32 ][ key:bytes ][pad→8][ valueType:u8 ][ payload… ]
//
// entryLen covers the whole record including its own four bytes and is
// written last. A concurrent reader that has not yet observed a non-zero
// entryLen at an offset treats the tail there as unreserved — segments are
// pre-truncated by pagestore, so unwritten bytes are already zero.
package kv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/pagestore"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// ValueType tags the payload encoding of a data-log record.
type ValueType byte

const (
	TypeString     ValueType = 1
	TypeInteger    ValueType = 2
	TypeFloatArray ValueType = 3
	TypeFloatMat   ValueType = 4
	TypeBytes      ValueType = 5
)

const dataHeaderSize = 8 // entryLen + keyLen, before the key bytes

// DataLog is the append-only record store underlying a KV store.
type DataLog struct {
	region    *pagestore.Region
	mu        sync.Mutex // serializes reserve's boundary check + cursor bump
	committed atomic.Int64
	log       *zap.SugaredLogger
}

// OpenDataLog opens (creating if needed) the data log under dir.
// segmentSize must be a positive multiple of 8, so the 8-aligned write
// cursor always leaves room for a skip record's header in a segment tail.
func OpenDataLog(dir string, segmentSize int64, log *zap.SugaredLogger) (*DataLog, error) {
	if segmentSize <= 0 || segmentSize%8 != 0 {
		return nil, verrors.New(verrors.KindValidation, "datalog.Open", verrors.ErrValidation).
			WithDetail("segmentSize", segmentSize)
	}
	r, err := pagestore.Open(dir, "seg", segmentSize, log)
	if err != nil {
		return nil, fmt.Errorf("datalog: open: %w", err)
	}
	d := &DataLog{region: r, log: log}
	if err := d.recover(); err != nil {
		return nil, err
	}
	return d, nil
}

// reserve advances the write cursor by totalLen and returns the offset
// the record will occupy; the caller must then write the record there
// before publishing entryLen. When the record would straddle a segment
// boundary, the unusable tail of the current segment is covered with a
// skip record first and the reservation restarts at the next segment —
// the paged region forbids cross-segment writes.
func (d *DataLog) reserve(totalLen int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	offset := d.committed.Load()
	remaining := d.region.RemainingInSegment(offset)
	if int64(totalLen) > remaining {
		if int64(totalLen) > d.region.SegmentSize() {
			return 0, verrors.New(verrors.KindValidation, "datalog.reserve", verrors.ErrSegmentOverrun).
				WithDetail("recordLen", totalLen)
		}
		if err := d.pad(offset, remaining); err != nil {
			return 0, err
		}
		offset = d.region.NextSegmentStart(offset)
	}
	d.committed.Store(offset + int64(totalLen))
	return offset, nil
}

// pad publishes a skip record covering the remaining bytes of offset's
// segment. keyLen carries the pad sentinel and is written before entryLen
// so a scanner never mistakes a half-written pad for a real record.
func (d *DataLog) pad(offset, remaining int64) error {
	hdr := make([]byte, dataHeaderSize)
	putU32(hdr[4:8], padKeyLen)
	if err := d.region.WriteAt(hdr[4:8], offset+4); err != nil {
		return fmt.Errorf("datalog: write pad: %w", err)
	}
	putU32(hdr[0:4], uint32(remaining))
	if err := d.region.WriteAt(hdr[0:4], offset); err != nil {
		return fmt.Errorf("datalog: publish pad: %w", err)
	}
	return nil
}

// recordLen rounds the whole record up to 8 bytes so the write cursor
// stays 8-aligned and a segment's tail is always wide enough to hold a
// skip record's header.
func recordLen(keyLen, payloadLen int) int {
	headerEnd := dataHeaderSize + keyLen
	bodyStart := align8(headerEnd)
	return align8(bodyStart + 1 + payloadLen) // +1 for valueType
}

// writeRecord lays out and publishes one record, returning its offset.
func (d *DataLog) writeRecord(key string, vt ValueType, payload []byte) (int64, error) {
	keyLen := len(key)
	total := recordLen(keyLen, len(payload))
	offset, err := d.reserve(total)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, total)
	putU32(buf[4:8], uint32(keyLen))
	copy(buf[8:8+keyLen], key)
	bodyStart := align8(dataHeaderSize + keyLen)
	buf[bodyStart] = byte(vt)
	copy(buf[bodyStart+1:], payload)

	// Publish the payload before entryLen (the release side of the
	// entryLen fence); entryLen is written last, below.
	if err := d.region.WriteAt(buf[4:], offset+4); err != nil {
		return 0, fmt.Errorf("datalog: write body: %w", err)
	}
	putU32(buf[0:4], uint32(total))
	if err := d.region.WriteAt(buf[0:4], offset); err != nil {
		return 0, fmt.Errorf("datalog: publish entryLen: %w", err)
	}
	return offset, nil
}

func (d *DataLog) WriteString(key, value string) (int64, error) {
	payload := make([]byte, 4+len(value))
	putU32(payload[0:4], uint32(len(value)))
	copy(payload[4:], value)
	return d.writeRecord(key, TypeString, payload)
}

func (d *DataLog) WriteInt(key string, value int32) (int64, error) {
	payload := make([]byte, 4)
	putU32(payload, uint32(value))
	return d.writeRecord(key, TypeInteger, payload)
}

func (d *DataLog) WriteFloatArray(key string, value []float32) (int64, error) {
	payload := make([]byte, 4+4*len(value))
	putU32(payload[0:4], uint32(len(value)))
	for i, v := range value {
		putF32(payload[4+4*i:8+4*i], v)
	}
	return d.writeRecord(key, TypeFloatArray, payload)
}

func (d *DataLog) WriteFloatMatrix(key string, rows, cols int, value []float32) (int64, error) {
	if len(value) != rows*cols {
		return 0, verrors.New(verrors.KindValidation, "datalog.WriteFloatMatrix", verrors.ErrValidation)
	}
	payload := make([]byte, 8+4*len(value))
	putU32(payload[0:4], uint32(rows))
	putU32(payload[4:8], uint32(cols))
	for i, v := range value {
		putF32(payload[8+4*i:12+4*i], v)
	}
	return d.writeRecord(key, TypeFloatMat, payload)
}

func (d *DataLog) WriteBytes(key string, value []byte) (int64, error) {
	payload := make([]byte, 4+len(value))
	putU32(payload[0:4], uint32(len(value)))
	copy(payload[4:], value)
	return d.writeRecord(key, TypeBytes, payload)
}

// Record is a fully decoded data-log record.
type Record struct {
	Key  string
	Type ValueType

	Str    string
	Int    int32
	Floats []float32
	Rows   int
	Cols   int
	Bytes  []byte
}

// Read decodes the record at offset. Returns ErrCorrupt if the header is
// inconsistent (entryLen shorter than the minimum header, or keyLen that
// would overrun entryLen) — corruption is fatal, never auto-repaired.
func (d *DataLog) Read(offset int64) (*Record, error) {
	hdr := make([]byte, dataHeaderSize)
	if err := d.region.ReadAt(hdr, offset); err != nil {
		return nil, fmt.Errorf("datalog: read header: %w", err)
	}
	entryLen := getU32(hdr[0:4])
	if entryLen == 0 {
		return nil, verrors.New(verrors.KindNotFound, "datalog.Read", verrors.ErrNotFound)
	}
	if entryLen < dataHeaderSize {
		return nil, verrors.New(verrors.KindCorruption, "datalog.Read", verrors.ErrCorrupt).WithDetail("offset", offset)
	}
	keyLen := getU32(hdr[4:8])
	if int(keyLen) > int(entryLen)-dataHeaderSize {
		return nil, verrors.New(verrors.KindCorruption, "datalog.Read", verrors.ErrCorrupt).WithDetail("offset", offset)
	}

	rest := make([]byte, entryLen-dataHeaderSize)
	if err := d.region.ReadAt(rest, offset+dataHeaderSize); err != nil {
		return nil, fmt.Errorf("datalog: read body: %w", err)
	}
	key := string(rest[:keyLen])
	bodyStart := align8(dataHeaderSize+int(keyLen)) - dataHeaderSize
	if bodyStart >= len(rest) {
		return nil, verrors.New(verrors.KindCorruption, "datalog.Read", verrors.ErrCorrupt)
	}
	vt := ValueType(rest[bodyStart])
	payload := rest[bodyStart+1:]

	rec := &Record{Key: key, Type: vt}
	switch vt {
	case TypeString:
		n := getU32(payload[0:4])
		rec.Str = string(payload[4 : 4+n])
	case TypeInteger:
		rec.Int = int32(getU32(payload[0:4]))
	case TypeFloatArray:
		n := int(getU32(payload[0:4]))
		rec.Floats = make([]float32, n)
		for i := 0; i < n; i++ {
			rec.Floats[i] = getF32(payload[4+4*i : 8+4*i])
		}
	case TypeFloatMat:
		rows := int(getU32(payload[0:4]))
		cols := int(getU32(payload[4:8]))
		n := rows * cols
		rec.Rows, rec.Cols = rows, cols
		rec.Floats = make([]float32, n)
		for i := 0; i < n; i++ {
			rec.Floats[i] = getF32(payload[8+4*i : 12+4*i])
		}
	case TypeBytes:
		n := getU32(payload[0:4])
		rec.Bytes = append([]byte(nil), payload[4:4+n]...)
	default:
		return nil, verrors.New(verrors.KindCorruption, "datalog.Read", verrors.ErrCorrupt).WithDetail("valueType", vt)
	}
	return rec, nil
}

// recover reconstructs the write cursor by scanning from offset 0 until a
// zero entryLen is found — the same fence that distinguishes committed
// from unreserved tail at runtime. Segment-boundary pads advance the scan
// like any other record: their entryLen spans the segment tail exactly.
// Segments are pre-truncated, so a crash between reserving and publishing
// an entry's length leaves that slot (and everything after it) reading as
// zero.
func (d *DataLog) recover() error {
	var pos int64
	for {
		hdr := make([]byte, 4)
		if err := d.region.ReadAt(hdr, pos); err != nil {
			break
		}
		entryLen := getU32(hdr)
		if entryLen == 0 {
			break
		}
		pos += int64(entryLen)
	}
	d.committed.Store(pos)
	return nil
}

// CommittedOffset returns the highest offset such that every prior record
// has a non-zero entryLen — i.e. the append cursor, since reservation and
// publication happen in the same call under the current single-writer-at-
// a-time discipline enforced by the store's write lock.
func (d *DataLog) CommittedOffset() int64 { return d.committed.Load() }

// SetCommittedOffset is used during recovery to restore the cursor without
// replaying writes.
func (d *DataLog) SetCommittedOffset(v int64) { d.committed.Store(v) }

func (d *DataLog) Sync() error  { return d.region.Sync() }
func (d *DataLog) Close() error { return d.region.Close() }
