package vulcanodb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/bitmap"
	"github.com/vulcanodb/vulcanodb/internal/catalog"
	"github.com/vulcanodb/vulcanodb/internal/hnsw"
	"github.com/vulcanodb/vulcanodb/internal/ingest"
	"github.com/vulcanodb/vulcanodb/internal/inverted"
	"github.com/vulcanodb/vulcanodb/internal/lockfile"
	"github.com/vulcanodb/vulcanodb/internal/pagestore"
	"github.com/vulcanodb/vulcanodb/internal/query"
	"github.com/vulcanodb/vulcanodb/internal/telemetry"
	"github.com/vulcanodb/vulcanodb/internal/vector"
)

// Db is an open VulcanoDb instance: a document catalog, one inverted
// index per configured string field, one HNSW index per configured
// vector field, and the ingestion scheduler that feeds all three
// together under backpressure.
type Db struct {
	mu sync.RWMutex

	lock   *lockfile.Handle
	cat    *catalog.Persister
	strIdx map[string]*inverted.Index
	vecIdx map[string]*hnsw.Index

	scheduler *ingest.Scheduler
	hooks     telemetry.Hooks
	log       *zap.SugaredLogger

	closed bool
}

// Open opens or creates a VulcanoDb rooted at cfg.DataFolder, taking an
// exclusive process lock on the directory for the lifetime of the
// returned Db.
func Open(cfg Config) (*Db, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	hooks := cfg.Hooks.Fill()

	lock, err := lockfile.Acquire(cfg.DataFolder)
	if err != nil {
		return nil, fmt.Errorf("vulcanodb: acquire lock: %w", err)
	}

	cat, err := catalog.Open(filepath.Join(cfg.DataFolder, "catalog"), catalog.Config{
		KV:    cfg.kvConfig(),
		Hooks: hooks,
	}, log)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("vulcanodb: open catalog: %w", err)
	}

	strIdx := make(map[string]*inverted.Index, len(cfg.StringFields))
	for _, field := range cfg.StringFields {
		idx, err := inverted.Open(filepath.Join(cfg.DataFolder, "index", "string", field), cfg.kvConfig(), log)
		if err != nil {
			closeAll(cat, strIdx, nil)
			lock.Release()
			return nil, fmt.Errorf("vulcanodb: open string index %q: %w", field, err)
		}
		strIdx[field] = idx
	}

	vecIdx := make(map[string]*hnsw.Index, len(cfg.VectorFields))
	for field, vcfg := range cfg.VectorFields {
		idx, err := hnsw.Open(filepath.Join(cfg.DataFolder, "index", "vector", field), vcfg.hnswConfig(hooks), log)
		if err != nil {
			closeAll(cat, strIdx, vecIdx)
			lock.Release()
			return nil, fmt.Errorf("vulcanodb: open vector index %q: %w", field, err)
		}
		vecIdx[field] = idx
	}

	ingestCfg := ingest.Config{
		QueueCapacity: cfg.Ingest.QueueCapacity,
		Workers:       cfg.Ingest.Workers,
		Hooks:         hooks,
	}
	sched := ingest.Open(ingestCfg, log)

	db := &Db{
		lock:      lock,
		cat:       cat,
		strIdx:    strIdx,
		vecIdx:    vecIdx,
		scheduler: sched,
		hooks:     hooks,
		log:       log,
	}
	log.Infow("vulcanodb opened", "dataFolder", cfg.DataFolder, "stringFields", len(strIdx), "vectorFields", len(vecIdx))
	return db, nil
}

func closeAll(cat *catalog.Persister, strIdx map[string]*inverted.Index, vecIdx map[string]*hnsw.Index) {
	if cat != nil {
		cat.Close()
	}
	for _, idx := range strIdx {
		idx.Close()
	}
	for _, idx := range vecIdx {
		idx.Close()
	}
}

// Close flushes and releases every underlying store and the directory
// lock. Close is idempotent.
func (db *Db) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(db.scheduler.Close())
	for _, idx := range db.strIdx {
		record(idx.Close())
	}
	for _, idx := range db.vecIdx {
		record(idx.Close())
	}
	record(db.cat.Close())
	record(db.lock.Release())
	return firstErr
}

// Add writes doc, then updates every index touched by its fields. A
// field write failure withholds the whole document (no partial index
// updates).
func (db *Db) Add(doc *Document) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	defer db.hooks.Since(telemetry.TimerDocumentInsertLatency, time.Now())

	result, err := db.cat.Add(doc)
	if err != nil {
		return err
	}
	if !result.Success {
		we := &WriteError{}
		for _, fr := range result.Fields {
			if fr.Err != nil {
				we.Fields = append(we.Fields, FieldError{Field: fr.Key, Err: fr.Err})
			}
		}
		return we
	}

	for _, f := range doc.Fields() {
		switch f.Value.Kind {
		case catalog.KindString:
			if idx, ok := db.strIdx[f.Key]; ok {
				if err := idx.Add(f.Value.Str, result.InternalID); err != nil {
					return fmt.Errorf("vulcanodb: index string field %q: %w", f.Key, err)
				}
			}
		case catalog.KindVector:
			if idx, ok := db.vecIdx[f.Key]; ok {
				if err := idx.InsertAt(result.InternalID, f.Value.Vector); err != nil {
					return fmt.Errorf("vulcanodb: index vector field %q: %w", f.Key, err)
				}
			}
		}
	}
	return nil
}

// Completion is the handle AddAsync returns; Wait blocks until a worker
// has persisted the document and reports the write's error.
type Completion = ingest.Completion

// AddAsync submits doc to the ingestion scheduler and returns a
// completion handle, blocking the producer only while the queue is full
// (backpressure).
func (db *Db) AddAsync(doc *Document) (*Completion, error) {
	db.mu.RLock()
	sched := db.scheduler
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return sched.Submit(func() error { return db.Add(doc) })
}

// Get returns the live document with the given id, if any.
func (db *Db) Get(id DocumentID) (*Document, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, ErrClosed
	}
	return db.cat.GetByDocID(id)
}

// GetOutcome is what GetAsync eventually delivers.
type GetOutcome struct {
	Document *Document
	Found    bool
	Err      error
}

// GetAsync resolves id off the caller's goroutine, delivering the
// outcome on the returned channel.
func (db *Db) GetAsync(id DocumentID) <-chan GetOutcome {
	out := make(chan GetOutcome, 1)
	go func() {
		doc, found, err := db.Get(id)
		out <- GetOutcome{Document: doc, Found: found, Err: err}
	}()
	return out
}

// GetByInternalID implements query.DocumentSource for the executor.
func (db *Db) GetByInternalID(id int64) (*catalog.Document, bool, error) {
	return db.cat.GetByInternalID(id)
}

// Remove tombstones id's document and its field entries. Index
// maintenance for removed documents is implicit: neither the inverted nor
// the HNSW index drops the document's entries, but the query executor
// resolves every candidate through the catalog at query time and skips
// ids that no longer resolve, so Remove does not touch either index.
func (db *Db) Remove(id DocumentID) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	defer db.hooks.Since(telemetry.TimerDocumentRemoveLatency, time.Now())
	return db.cat.Remove(id)
}

// Count returns the number of live documents.
func (db *Db) Count() (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, ErrClosed
	}
	return db.cat.Count()
}

// HasStringIndex implements query.IndexCatalog.
func (db *Db) HasStringIndex(field string) bool { _, ok := db.strIdx[field]; return ok }

// HasVectorIndex implements query.IndexCatalog.
func (db *Db) HasVectorIndex(field string) bool { _, ok := db.vecIdx[field]; return ok }

// StringIndex implements query.IndexCatalog.
func (db *Db) StringIndex(field string) query.StringIndex { return db.strIdx[field] }

// VectorIndex implements query.IndexCatalog, wrapping the hnsw.Index so
// its hnsw.Result shape never leaks into the query package.
func (db *Db) VectorIndex(field string) query.VectorIndex {
	return vectorIndexAdapter{idx: db.vecIdx[field], hooks: db.hooks}
}

type vectorIndexAdapter struct {
	idx   *hnsw.Index
	hooks telemetry.Hooks
}

func (a vectorIndexAdapter) Search(q []float32, k int) (query.VectorResult, error) {
	if a.idx == nil {
		return query.VectorResult{}, nil
	}
	res, err := a.idx.Search(q, k)
	if err != nil {
		return query.VectorResult{}, err
	}
	a.hooks.Gauge(telemetry.GaugeIndexRecallEstimate, res.VisitedRatio)
	matches := make([]query.VectorMatch, len(res.Matches))
	for i, m := range res.Matches {
		matches[i] = query.VectorMatch{ID: m.ID, Score: m.Score}
	}
	return query.VectorResult{Matches: matches, VisitedRatio: res.VisitedRatio}, nil
}

// SearchResult is one ranked match returned from Search.
type SearchResult struct {
	Document *Document
	Score    float32
}

// QueryResult is a full Search outcome. TimedOut marks a partial
// ranking: the deadline on ctx expired mid-evaluation and only the
// candidates scored before then are included.
type QueryResult struct {
	Results  []SearchResult
	TimedOut bool
}

// Search runs q over every live document and returns up to maxResults
// best matches ordered by descending score. An expired ctx truncates
// rather than fails the search.
func (db *Db) Search(ctx context.Context, q *QueryBuilder, maxResults int) (QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return QueryResult{}, ErrClosed
	}
	db.hooks.Count(telemetry.CounterSearchCount)
	defer db.hooks.Since(telemetry.TimerSearchLatency, time.Now())

	universe, err := db.liveUniverseLocked()
	if err != nil {
		return QueryResult{}, err
	}

	exec := &query.Executor{Cat: db, Docs: db, Sim: vector.Cosine}
	output, err := exec.Search(ctx, q.build(), universe, maxResults)
	if err != nil {
		return QueryResult{}, err
	}
	results := make([]SearchResult, len(output.Results))
	for i, r := range output.Results {
		results[i] = SearchResult{Document: r.Document, Score: r.Score}
	}
	return QueryResult{Results: results, TimedOut: output.TimedOut}, nil
}

// SearchOutcome is what SearchAsync eventually delivers.
type SearchOutcome struct {
	Result QueryResult
	Err    error
}

// SearchAsync runs Search off the caller's goroutine, delivering the
// outcome on the returned channel.
func (db *Db) SearchAsync(ctx context.Context, q *QueryBuilder, maxResults int) <-chan SearchOutcome {
	out := make(chan SearchOutcome, 1)
	go func() {
		res, err := db.Search(ctx, q, maxResults)
		out <- SearchOutcome{Result: res, Err: err}
	}()
	return out
}

func (db *Db) liveUniverseLocked() (*bitmap.DocIdSet, error) {
	set := bitmap.New()
	err := db.cat.InternalIDs(func(id int64) bool {
		set.Add(id)
		return true
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Stats reports point-in-time sizing figures about the open database.
type Stats struct {
	DocumentCount  int64
	StringFields   []string
	VectorFields   []string
	IngestQueueLen int64
	OffHeapBytes   int64
}

// Stats returns the current Stats snapshot, publishing the
// stored_documents and off_heap_memory gauges as a side effect.
func (db *Db) Stats() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}, ErrClosed
	}
	count, err := db.cat.Count()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		DocumentCount:  count,
		IngestQueueLen: db.scheduler.QueueDepth(),
		OffHeapBytes:   pagestore.MappedBytes(),
	}
	for f := range db.strIdx {
		s.StringFields = append(s.StringFields, f)
	}
	for f := range db.vecIdx {
		s.VectorFields = append(s.VectorFields, f)
	}
	db.hooks.Gauge(telemetry.GaugeStoredDocuments, float64(count))
	db.hooks.Gauge(telemetry.GaugeOffHeapMemory, float64(s.OffHeapBytes))
	return s, nil
}
