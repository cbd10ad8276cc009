// Package vector implements the paged vector index, paged graph index
// and the pluggable similarity function the HNSW index builds on.
package vector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/pagestore"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// PagedVectorIndex stores fixed-dimension float32 vectors off-heap, one
// vector's worth of bytes per id, packed blockSize/vectorBytes-to-a-page.
// Vectors are write-once: addVector never moves an existing vector.
type PagedVectorIndex struct {
	region      *pagestore.Region
	dimensions  int
	vectorBytes int64
	perPage     int64
	nextID      atomic.Int64
	mu          sync.Mutex
	log         *zap.SugaredLogger
}

// OpenPagedVectorIndex opens or creates a vector index under dir.
// blockSize must be at least one vector's worth of bytes.
func OpenPagedVectorIndex(dir string, dimensions int, blockSize int64, log *zap.SugaredLogger) (*PagedVectorIndex, error) {
	if dimensions < 1 {
		return nil, verrors.New(verrors.KindValidation, "vector.Open", verrors.ErrValidation).WithDetail("dimensions", dimensions)
	}
	vectorBytes := int64(dimensions) * 4
	if blockSize < vectorBytes {
		return nil, verrors.New(verrors.KindValidation, "vector.Open", verrors.ErrValidation).WithDetail("blockSize", blockSize)
	}
	region, err := pagestore.Open(dir, "vec", blockSize, log)
	if err != nil {
		return nil, fmt.Errorf("vector: open: %w", err)
	}
	perPage := blockSize / vectorBytes
	return &PagedVectorIndex{
		region:      region,
		dimensions:  dimensions,
		vectorBytes: vectorBytes,
		perPage:     perPage,
		log:         log,
	}, nil
}

func (p *PagedVectorIndex) offsetFor(id int64) int64 {
	page := id / p.perPage
	within := id % p.perPage
	return page*p.region.SegmentSize() + within*p.vectorBytes
}

// AddVector stores v at the next monotonically assigned id.
func (p *PagedVectorIndex) AddVector(v []float32) (int64, error) {
	if len(v) != p.dimensions {
		return 0, verrors.New(verrors.KindValidation, "vector.AddVector", verrors.ErrDimension).
			WithDetail("got", len(v)).WithDetail("want", p.dimensions)
	}
	p.mu.Lock()
	id := p.nextID.Add(1) - 1
	p.mu.Unlock()

	if err := p.writeAt(id, v); err != nil {
		return 0, err
	}
	return id, nil
}

// SetAt writes v at a caller-chosen id, overwriting any vector already
// stored there; the HNSW index's InsertAt uses it to place a vector at a
// document's catalog internal id.
func (p *PagedVectorIndex) SetAt(id int64, v []float32) error {
	if len(v) != p.dimensions {
		return verrors.New(verrors.KindValidation, "vector.SetAt", verrors.ErrDimension)
	}
	return p.writeAt(id, v)
}

func (p *PagedVectorIndex) writeAt(id int64, v []float32) error {
	buf := make([]byte, p.vectorBytes)
	for i, f := range v {
		putF32(buf[i*4:i*4+4], f)
	}
	if err := p.region.WriteAt(buf, p.offsetFor(id)); err != nil {
		return fmt.Errorf("vector: write: %w", err)
	}
	return nil
}

// Get copies the vector stored at id.
func (p *PagedVectorIndex) Get(id int64) ([]float32, error) {
	buf := make([]byte, p.vectorBytes)
	if err := p.region.ReadAt(buf, p.offsetFor(id)); err != nil {
		return nil, fmt.Errorf("vector: read: %w", err)
	}
	out := make([]float32, p.dimensions)
	for i := range out {
		out[i] = getF32(buf[i*4 : i*4+4])
	}
	return out, nil
}

// GetElement reads a single component without materializing the whole
// vector, for callers comparing against memory-mapped data in bulk.
func (p *PagedVectorIndex) GetElement(id int64, j int) (float32, error) {
	if j < 0 || j >= p.dimensions {
		return 0, verrors.New(verrors.KindValidation, "vector.GetElement", verrors.ErrValidation)
	}
	buf := make([]byte, 4)
	if err := p.region.ReadAt(buf, p.offsetFor(id)+int64(j)*4); err != nil {
		return 0, fmt.Errorf("vector: read element: %w", err)
	}
	return getF32(buf), nil
}

// Count returns the number of vectors assigned so far.
func (p *PagedVectorIndex) Count() int64 { return p.nextID.Load() }

// SetNextID restores the id cursor on reopen.
func (p *PagedVectorIndex) SetNextID(n int64) { p.nextID.Store(n) }

func (p *PagedVectorIndex) Sync() error  { return p.region.Sync() }
func (p *PagedVectorIndex) Close() error { return p.region.Close() }
