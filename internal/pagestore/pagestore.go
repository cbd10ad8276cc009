// Package pagestore implements the L0 paged byte store: a directory of
// fixed-size, lazily-created files, each memory-mapped read/write and
// pre-truncated to the segment size. Every durable region in the engine
// (data log, hash-index buckets, WAL segments, HNSW vector/graph pages) is
// built on one of these.
//
// Segments are addressed by a monotonically increasing global byte offset;
// offset//segmentSize picks the segment, offset%segmentSize the position
// within it. Segment creation is serialized per Region so two writers
// racing to extend the tail never map the same file twice. Reads past the
// current tail see the zero bytes a pre-truncated file already contains —
// there is no distinct "unreserved" representation at this layer; callers
// (the data log) interpret zero as unreserved via the entryLen fence.
package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// mappedBytes tracks the total bytes currently memory-mapped across every
// Region in the process, feeding the off_heap_memory gauge.
var mappedBytes atomic.Int64

// MappedBytes reports the process-wide total of mmap'd segment bytes.
func MappedBytes() int64 { return mappedBytes.Load() }

// Region is one logical append-only byte space, split across fixed-size
// segment files under dir.
type Region struct {
	dir         string
	prefix      string
	segmentSize int64
	log         *zap.SugaredLogger

	mu       sync.Mutex
	segments []*segment
}

type segment struct {
	file *os.File
	mm   mmap.MMap
}

// Open returns a Region rooted at dir/prefix-*.dat, creating dir if needed.
// No segments are mapped until first access.
func Open(dir, prefix string, segmentSize int64, log *zap.SugaredLogger) (*Region, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, verrors.New(verrors.KindIO, "pagestore.Open", err).WithDetail("dir", dir)
	}
	return &Region{dir: dir, prefix: prefix, segmentSize: segmentSize, log: log}, nil
}

func (r *Region) segmentPath(idx int) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s-%06d.dat", r.prefix, idx))
}

// segmentFor returns the segment covering globalOffset, creating and
// mapping it on first access. Returns the segment's mmap'd bytes and the
// local offset within it.
func (r *Region) segmentFor(globalOffset int64) (*segment, int64, error) {
	idx := int(globalOffset / r.segmentSize)
	local := globalOffset % r.segmentSize

	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.segments) <= idx {
		seg, err := r.openSegment(len(r.segments))
		if err != nil {
			return nil, 0, err
		}
		r.segments = append(r.segments, seg)
	}
	return r.segments[idx], local, nil
}

func (r *Region) openSegment(idx int) (*segment, error) {
	path := r.segmentPath(idx)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, verrors.New(verrors.KindIO, "pagestore.openSegment", err).WithDetail("path", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, verrors.New(verrors.KindIO, "pagestore.openSegment", err)
	}
	if info.Size() < r.segmentSize {
		if err := f.Truncate(r.segmentSize); err != nil {
			f.Close()
			return nil, verrors.New(verrors.KindIO, "pagestore.openSegment", err)
		}
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, verrors.New(verrors.KindIO, "pagestore.openSegment", err).WithDetail("path", path)
	}
	mappedBytes.Add(r.segmentSize)
	r.log.Debugw("segment mapped", "path", path, "size", r.segmentSize)
	return &segment{file: f, mm: mm}, nil
}

// SegmentSize returns the configured fixed segment size.
func (r *Region) SegmentSize() int64 { return r.segmentSize }

// ReadAt copies n bytes starting at globalOffset into buf. The read must
// not cross a segment boundary; callers are responsible for that (the
// record formats built on Region pad to the next segment rather than
// straddle one).
func (r *Region) ReadAt(buf []byte, globalOffset int64) error {
	seg, local, err := r.segmentFor(globalOffset)
	if err != nil {
		return err
	}
	end := local + int64(len(buf))
	if end > r.segmentSize {
		return verrors.New(verrors.KindIO, "pagestore.ReadAt", verrors.ErrSegmentOverrun)
	}
	copy(buf, seg.mm[local:end])
	return nil
}

// WriteAt copies buf into the region starting at globalOffset. Like
// ReadAt, the write must stay within one segment.
func (r *Region) WriteAt(buf []byte, globalOffset int64) error {
	seg, local, err := r.segmentFor(globalOffset)
	if err != nil {
		return err
	}
	end := local + int64(len(buf))
	if end > r.segmentSize {
		return verrors.New(verrors.KindIO, "pagestore.WriteAt", verrors.ErrSegmentOverrun)
	}
	copy(seg.mm[local:end], buf)
	return nil
}

// RemainingInSegment reports how many bytes are left in the segment that
// would hold globalOffset, without mapping it.
func (r *Region) RemainingInSegment(globalOffset int64) int64 {
	local := globalOffset % r.segmentSize
	return r.segmentSize - local
}

// NextSegmentStart rounds globalOffset up to the start of its next segment.
func (r *Region) NextSegmentStart(globalOffset int64) int64 {
	idx := globalOffset / r.segmentSize
	return (idx + 1) * r.segmentSize
}

// Sync flushes all mapped segments and their underlying files to disk.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seg := range r.segments {
		if err := seg.mm.Flush(); err != nil {
			return verrors.New(verrors.KindIO, "pagestore.Sync", err)
		}
		if err := seg.file.Sync(); err != nil {
			return verrors.New(verrors.KindIO, "pagestore.Sync", err)
		}
	}
	return nil
}

// Close unmaps and closes every mapped segment.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, seg := range r.segments {
		if err := seg.mm.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		mappedBytes.Add(-r.segmentSize)
	}
	r.segments = nil
	return firstErr
}
