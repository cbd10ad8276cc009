// Paged graph index: fixed-width adjacency rows.
package vector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/pagestore"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// PagedGraphIndex stores one fixed-width adjacency row per id:
// [count:u32, neighbor_id:i64 × mMax].
type PagedGraphIndex struct {
	region  *pagestore.Region
	mMax    int
	rowSize int64
	perPage int64
	nextID  atomic.Int64
	mu      sync.Mutex
	log     *zap.SugaredLogger
}

// OpenPagedGraphIndex opens or creates a graph index under dir with room
// for up to mMax neighbors per row.
func OpenPagedGraphIndex(dir string, mMax int, blockSize int64, log *zap.SugaredLogger) (*PagedGraphIndex, error) {
	rowSize := int64(4 + 8*mMax)
	if blockSize < rowSize {
		return nil, verrors.New(verrors.KindValidation, "graph.Open", verrors.ErrValidation).WithDetail("blockSize", blockSize)
	}
	region, err := pagestore.Open(dir, "graph", blockSize, log)
	if err != nil {
		return nil, fmt.Errorf("graph: open: %w", err)
	}
	return &PagedGraphIndex{
		region:  region,
		mMax:    mMax,
		rowSize: rowSize,
		perPage: blockSize / rowSize,
		log:     log,
	}, nil
}

func (g *PagedGraphIndex) offsetFor(id int64) int64 {
	page := id / g.perPage
	within := id % g.perPage
	return page*g.region.SegmentSize() + within*g.rowSize
}

// EnsureRow allocates row storage for id if id is beyond what's been
// touched so far, so a freshly inserted node always has a zeroed row.
func (g *PagedGraphIndex) EnsureRow(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id >= g.nextID.Load() {
		g.nextID.Store(id + 1)
	}
}

// SetConnections overwrites id's full neighbor list.
func (g *PagedGraphIndex) SetConnections(id int64, neighbors []int64) error {
	if len(neighbors) > g.mMax {
		return verrors.New(verrors.KindValidation, "graph.SetConnections", verrors.ErrValidation).
			WithDetail("count", len(neighbors)).WithDetail("mMax", g.mMax)
	}
	buf := make([]byte, g.rowSize)
	putU32(buf[0:4], uint32(len(neighbors)))
	for i, n := range neighbors {
		putI64(buf[4+8*i:12+8*i], n)
	}
	if err := g.region.WriteAt(buf, g.offsetFor(id)); err != nil {
		return fmt.Errorf("graph: write row: %w", err)
	}
	g.EnsureRow(id)
	return nil
}

// AddConnection appends n to id's neighbor list, failing if it would
// exceed mMax.
func (g *PagedGraphIndex) AddConnection(id int64, n int64) error {
	existing, err := g.Connections(id)
	if err != nil {
		return err
	}
	if len(existing) >= g.mMax {
		return verrors.New(verrors.KindValidation, "graph.AddConnection", verrors.ErrValidation).
			WithDetail("id", id).WithDetail("mMax", g.mMax)
	}
	return g.SetConnections(id, append(existing, n))
}

// Connections returns id's current neighbor list.
func (g *PagedGraphIndex) Connections(id int64) ([]int64, error) {
	buf := make([]byte, g.rowSize)
	if err := g.region.ReadAt(buf, g.offsetFor(id)); err != nil {
		return nil, fmt.Errorf("graph: read row: %w", err)
	}
	count := int(getU32(buf[0:4]))
	if count > g.mMax {
		return nil, verrors.New(verrors.KindCorruption, "graph.Connections", verrors.ErrCorrupt)
	}
	out := make([]int64, count)
	for i := range out {
		out[i] = getI64(buf[4+8*i : 12+8*i])
	}
	return out, nil
}

func (g *PagedGraphIndex) Sync() error  { return g.region.Sync() }
func (g *PagedGraphIndex) Close() error { return g.region.Close() }
