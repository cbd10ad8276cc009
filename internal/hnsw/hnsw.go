// Package hnsw implements a multi-layer navigable small world index: a
// coarse-write-locked, paged/persistable graph over a pluggable
// vector.Similarity, built from vector.PagedVectorIndex (dense layer 0)
// and one vector.PagedGraphIndex per layer.
package hnsw

import (
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"

	goccyjson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/kv"
	"github.com/vulcanodb/vulcanodb/internal/telemetry"
	"github.com/vulcanodb/vulcanodb/internal/vector"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// Config controls one HNSW index's shape.
type Config struct {
	Dimensions     int
	M              int
	MMax           int
	MMax0          int
	EfConstruction int
	EfSearch       int
	ML             float64
	BlockSize      int64
	Similarity     vector.Similarity
	Hooks          telemetry.Hooks
}

func (c Config) withDefaults() Config {
	if c.M == 0 {
		c.M = 16
	}
	if c.MMax == 0 {
		c.MMax = c.M
	}
	if c.MMax0 == 0 {
		c.MMax0 = 2 * c.M
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = 100
	}
	if c.EfSearch == 0 {
		c.EfSearch = 50
	}
	if c.BlockSize == 0 {
		c.BlockSize = 1 << 20
	}
	if c.Similarity == nil {
		c.Similarity = vector.Cosine
	}
	c.Hooks = c.Hooks.Fill()
	return c
}

// mlDefault returns 1/ln(m), the standard level-assignment scale.
func mlDefault(m int) float64 {
	if m <= 1 {
		return 1
	}
	return 1 / math.Log(float64(m))
}

// ScoredID pairs a candidate internal id with its similarity to the query.
type ScoredID struct {
	ID    int64
	Score float32
}

type singletonMeta struct {
	EntryPointID    int64 `json:"entryPointId"`
	EntryPointLayer int   `json:"entryPointLayer"`
	TopLayer        int   `json:"topLayer"`
}

// Index is one multi-layer HNSW graph over a single named vector field.
type Index struct {
	mu sync.RWMutex

	cfg     Config
	dir     string
	vectors *vector.PagedVectorIndex
	levels  *levelStore
	layers  []*vector.PagedGraphIndex // layers[0] is the dense layer-0 graph
	meta    *kv.Store

	entryPointID    int64
	entryPointLayer int
	topLayer        int

	log *zap.SugaredLogger
}

// Open opens or creates the HNSW index rooted at dir.
func Open(dir string, cfg Config, log *zap.SugaredLogger) (*Index, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Dimensions < 1 {
		return nil, verrors.New(verrors.KindValidation, "hnsw.Open", verrors.ErrValidation).WithDetail("dimensions", cfg.Dimensions)
	}
	cfg = cfg.withDefaults()
	if cfg.ML == 0 {
		cfg.ML = mlDefault(cfg.M)
	}

	vectors, err := vector.OpenPagedVectorIndex(filepath.Join(dir, "vectors"), cfg.Dimensions, cfg.BlockSize, log)
	if err != nil {
		return nil, err
	}
	levels, err := openLevelStore(filepath.Join(dir, "levels"), cfg.BlockSize, log)
	if err != nil {
		return nil, err
	}
	meta, err := kv.Open(filepath.Join(dir, "meta"), kv.Config{}, log)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		cfg:          cfg,
		dir:          dir,
		vectors:      vectors,
		levels:       levels,
		meta:         meta,
		entryPointID: -1,
		log:          log,
	}

	raw, ok, err := meta.GetBytes("singleton")
	if err != nil {
		return nil, err
	}
	if ok {
		var sm singletonMeta
		if err := goccyjson.Unmarshal(raw, &sm); err != nil {
			return nil, verrors.New(verrors.KindCorruption, "hnsw.Open", verrors.ErrCorrupt)
		}
		idx.entryPointID = sm.EntryPointID
		idx.entryPointLayer = sm.EntryPointLayer
		idx.topLayer = sm.TopLayer
	}

	for l := 0; l <= idx.topLayer; l++ {
		g, err := vector.OpenPagedGraphIndex(idx.layerDir(l), idx.mMaxAt(l), cfg.BlockSize, log)
		if err != nil {
			return nil, err
		}
		idx.layers = append(idx.layers, g)
	}
	if len(idx.layers) == 0 {
		g, err := vector.OpenPagedGraphIndex(idx.layerDir(0), idx.mMaxAt(0), cfg.BlockSize, log)
		if err != nil {
			return nil, err
		}
		idx.layers = append(idx.layers, g)
	}

	log.Infow("hnsw index opened", "dir", dir, "stored", vectors.Count(), "topLayer", idx.topLayer)
	return idx, nil
}

func (idx *Index) layerDir(l int) string {
	return filepath.Join(idx.dir, "graph", "layer-"+itoa(l))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (idx *Index) mMaxAt(layer int) int {
	if layer == 0 {
		return idx.cfg.MMax0
	}
	return idx.cfg.MMax
}

// ensureLayers grows idx.layers so indices 0..level all exist.
func (idx *Index) ensureLayers(level int) error {
	for len(idx.layers)-1 < level {
		l := len(idx.layers)
		g, err := vector.OpenPagedGraphIndex(idx.layerDir(l), idx.mMaxAt(l), idx.cfg.BlockSize, idx.log)
		if err != nil {
			return err
		}
		idx.layers = append(idx.layers, g)
	}
	return nil
}

func (idx *Index) sim(a, b []float32) float32 {
	idx.cfg.Hooks.Count(telemetry.CounterHNSWDistanceCalc)
	return idx.cfg.Similarity(a, b)
}

func (idx *Index) drawLevel() int {
	u := rand.Float64()
	for u <= 0 {
		u = rand.Float64()
	}
	return int(math.Floor(-math.Log(u) * idx.cfg.ML))
}

// Dimensions reports the configured vector width.
func (idx *Index) Dimensions() int { return idx.cfg.Dimensions }

// Count reports how many vectors have been inserted so far.
func (idx *Index) Count() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.vectors.Count()
}

// EntryPoint reports the current entry point id and layer.
func (idx *Index) EntryPoint() (id int64, layer int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entryPointID, idx.entryPointLayer
}

// Level reports the layer a node was drawn at, for diagnostics.
func (idx *Index) Level(id int64) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.levels.Get(id)
}

// Insert adds v to the graph, drawing its layer from the level
// distribution, and returns the assigned internal id.
func (idx *Index) Insert(v []float32) (int64, error) {
	if len(v) != idx.cfg.Dimensions {
		return 0, verrors.New(verrors.KindValidation, "hnsw.Insert", verrors.ErrDimension).
			WithDetail("got", len(v)).WithDetail("want", idx.cfg.Dimensions)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id, err := idx.vectors.AddVector(v)
	if err != nil {
		return 0, err
	}
	return id, idx.insertAtLocked(id, v)
}

// InsertAt adds v at a caller-chosen id, letting the document catalog's
// internal id double as the HNSW graph id so a query's index-side match
// set needs no extra id-translation layer. If id already holds a vector
// (a re-added document), the vector is overwritten and the insertion is
// run again for id; edges other nodes already hold to id are kept.
func (idx *Index) InsertAt(id int64, v []float32) error {
	if len(v) != idx.cfg.Dimensions {
		return verrors.New(verrors.KindValidation, "hnsw.InsertAt", verrors.ErrDimension).
			WithDetail("got", len(v)).WithDetail("want", idx.cfg.Dimensions)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.vectors.SetAt(id, v); err != nil {
		return err
	}
	if id >= idx.vectors.Count() {
		idx.vectors.SetNextID(id + 1)
	}
	return idx.insertAtLocked(id, v)
}

func (idx *Index) insertAtLocked(id int64, v []float32) error {
	level := idx.drawLevel()
	if err := idx.levels.Set(id, level); err != nil {
		return err
	}
	if err := idx.ensureLayers(level); err != nil {
		return err
	}

	if idx.entryPointID < 0 {
		idx.entryPointID, idx.entryPointLayer, idx.topLayer = id, level, level
		return idx.saveMeta()
	}

	ep := idx.entryPointID
	epVec, err := idx.vectors.Get(ep)
	if err != nil {
		return err
	}
	epSim := idx.sim(v, epVec)

	for l := idx.topLayer; l > level; l-- {
		ep, epSim, err = idx.greedyDescend(v, ep, epSim, l)
		if err != nil {
			return err
		}
	}

	top := level
	if idx.topLayer < top {
		top = idx.topLayer
	}
	for l := top; l >= 0; l-- {
		candidates, err := idx.searchLayer(v, ep, idx.cfg.EfConstruction, l)
		if err != nil {
			return err
		}
		neighbors, err := idx.selectNeighbors(v, candidates, idx.cfg.M)
		if err != nil {
			return err
		}
		ids := make([]int64, len(neighbors))
		for i, n := range neighbors {
			ids[i] = n.ID
		}
		if err := idx.layers[l].SetConnections(id, ids); err != nil {
			return err
		}
		for _, n := range neighbors {
			if err := idx.connectBack(l, n.ID, id); err != nil {
				return err
			}
		}
		if len(candidates) > 0 {
			ep, epSim = candidates[0].ID, candidates[0].Score
		}
	}

	if level > idx.topLayer {
		idx.topLayer = level
		idx.entryPointID = id
		idx.entryPointLayer = level
	}
	return idx.saveMeta()
}

// connectBack adds newID to neighborID's adjacency at layer l, re-running
// the heuristic selector if that exceeds the layer's cap.
func (idx *Index) connectBack(l int, neighborID, newID int64) error {
	existing, err := idx.layers[l].Connections(neighborID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == newID {
			return nil
		}
	}
	mmax := idx.mMaxAt(l)
	if len(existing)+1 <= mmax {
		return idx.layers[l].AddConnection(neighborID, newID)
	}

	neighborVec, err := idx.vectors.Get(neighborID)
	if err != nil {
		return err
	}
	candidates := make([]ScoredID, 0, len(existing)+1)
	for _, e := range existing {
		v, err := idx.vectors.Get(e)
		if err != nil {
			return err
		}
		candidates = append(candidates, ScoredID{ID: e, Score: idx.sim(neighborVec, v)})
	}
	newVec, err := idx.vectors.Get(newID)
	if err != nil {
		return err
	}
	candidates = append(candidates, ScoredID{ID: newID, Score: idx.sim(neighborVec, newVec)})

	selected, err := idx.selectNeighbors(neighborVec, candidates, mmax)
	if err != nil {
		return err
	}
	ids := make([]int64, len(selected))
	for i, s := range selected {
		ids[i] = s.ID
	}
	return idx.layers[l].SetConnections(neighborID, ids)
}

// selectNeighbors implements the diversification heuristic:
// closest-first, rejecting a candidate c if some already-selected e is
// closer to c than q is.
func (idx *Index) selectNeighbors(q []float32, candidates []ScoredID, m int) ([]ScoredID, error) {
	sorted := append([]ScoredID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	selected := make([]ScoredID, 0, m)
	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		cVec, err := idx.vectors.Get(c.ID)
		if err != nil {
			return nil, err
		}
		ok := true
		for _, e := range selected {
			eVec, err := idx.vectors.Get(e.ID)
			if err != nil {
				return nil, err
			}
			if idx.sim(cVec, eVec) > c.Score && idx.sim(cVec, eVec) > idx.sim(cVec, q) {
				ok = false
				break
			}
		}
		if ok {
			selected = append(selected, c)
		}
	}
	return selected, nil
}

// greedyDescend performs the single-candidate 1-NN descent used through
// the upper layers.
func (idx *Index) greedyDescend(q []float32, ep int64, epSim float32, layer int) (int64, float32, error) {
	for {
		neighbors, err := idx.layers[layer].Connections(ep)
		if err != nil {
			return 0, 0, err
		}
		improved := false
		for _, n := range neighbors {
			nVec, err := idx.vectors.Get(n)
			if err != nil {
				return 0, 0, err
			}
			nSim := idx.sim(q, nVec)
			if nSim > epSim {
				ep, epSim, improved = n, nSim, true
			}
		}
		if !improved {
			return ep, epSim, nil
		}
	}
}

// searchLayer is the ef-bounded best-first search: a max-heap of
// unexplored candidates and a min-heap (capped at ef) of the best results
// found so far, terminating once the closest unexplored candidate cannot
// beat the current worst result.
func (idx *Index) searchLayer(q []float32, ep int64, ef int, layer int) ([]ScoredID, error) {
	visited := map[int64]bool{ep: true}
	epVec, err := idx.vectors.Get(ep)
	if err != nil {
		return nil, err
	}
	epSim := idx.sim(q, epVec)

	candidates := &maxHeap{{ep, epSim}}
	results := &minHeap{{ep, epSim}}

	for candidates.Len() > 0 {
		c := popMax(candidates)
		if results.Len() >= ef && c.Score < (*results)[0].Score {
			break
		}
		neighbors, err := idx.layers[layer].Connections(c.ID)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			visited[n] = true
			nVec, err := idx.vectors.Get(n)
			if err != nil {
				return nil, err
			}
			nSim := idx.sim(q, nVec)
			if results.Len() < ef || nSim > (*results)[0].Score {
				pushMax(candidates, ScoredID{n, nSim})
				pushMin(results, ScoredID{n, nSim})
				if results.Len() > ef {
					popMin(results)
				}
			}
		}
	}

	out := append([]ScoredID(nil), (*results)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Result is the outcome of a Search. VisitedRatio is the number of
// layer-0 candidates the search returned (before truncation to k) divided
// by the number of stored vectors; it does not count every node visited.
// It is a cheap recall-estimate proxy surfaced through the telemetry
// gauges.
type Result struct {
	Matches      []ScoredID
	VisitedRatio float64
}

// Search returns the approximate top-k nearest neighbors of q.
func (idx *Index) Search(q []float32, k int) (Result, error) {
	if len(q) != idx.cfg.Dimensions {
		return Result{}, verrors.New(verrors.KindValidation, "hnsw.Search", verrors.ErrDimension)
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPointID < 0 {
		return Result{}, nil
	}
	ep := idx.entryPointID
	epVec, err := idx.vectors.Get(ep)
	if err != nil {
		return Result{}, err
	}
	epSim := idx.sim(q, epVec)
	for l := idx.topLayer; l >= 1; l-- {
		ep, epSim, err = idx.greedyDescend(q, ep, epSim, l)
		if err != nil {
			return Result{}, err
		}
	}

	ef := idx.cfg.EfSearch
	if k > ef {
		ef = k
	}
	candidates, err := idx.searchLayer(q, ep, ef, 0)
	if err != nil {
		return Result{}, err
	}
	stored := idx.vectors.Count()
	ratio := 0.0
	if stored > 0 {
		ratio = float64(len(candidates)) / float64(stored)
	}
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return Result{Matches: candidates, VisitedRatio: ratio}, nil
}

func (idx *Index) saveMeta() error {
	sm := singletonMeta{EntryPointID: idx.entryPointID, EntryPointLayer: idx.entryPointLayer, TopLayer: idx.topLayer}
	raw, err := goccyjson.Marshal(sm)
	if err != nil {
		return err
	}
	return idx.meta.PutBytes("singleton", raw)
}

// Close flushes and persists every paged region and the singleton
// metadata (entry point, top layer).
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var firstErr error
	if err := idx.saveMeta(); err != nil {
		firstErr = err
	}
	if err := idx.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := idx.levels.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, l := range idx.layers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := idx.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
