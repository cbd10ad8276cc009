// End-to-end tests against the public API: Open/Close lifecycle, Add,
// Get, Remove, Search and the ingestion scheduler's backpressure
// guarantee. Each test opens a fresh database in a temporary directory.
package vulcanodb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, vectorFields map[string]VectorFieldConfig) *Db {
	t.Helper()
	cfg := Config{
		DataFolder:   t.TempDir(),
		StringFields: []string{"name"},
		VectorFields: vectorFields,
		Ingest:       IngestConfig{QueueCapacity: 64, Workers: 2},
	}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustAdd(t *testing.T, db *Db, name string, vec []float32) DocumentID {
	t.Helper()
	id := NewDocumentID()
	doc, err := NewDocument(id, Field{Key: "name", Value: StringValue(name)}, Field{Key: "v", Value: VectorValue(vec)})
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	if err := db.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

// TestSimilaritySearch2D: a query aligned with d1 ranks it first at score
// 1.0, and a query equidistant from both returns them tied at roughly
// 1/sqrt(2).
func TestSimilaritySearch2D(t *testing.T) {
	db := openTestDB(t, map[string]VectorFieldConfig{"v": {Dimensions: 2, M: 8, EfConstruction: 50, EfSearch: 50}})

	id1 := mustAdd(t, db, "d1", []float32{1, 0})
	mustAdd(t, db, "d2", []float32{0, 1})

	res, err := db.Search(context.Background(), IsSimilarTo("v", []float32{1, 0}), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Document.ID() != id1 {
		t.Fatalf("expected d1 top-1, got %+v", res.Results)
	}
	if res.Results[0].Score < 0.999 {
		t.Fatalf("expected score ~1.0, got %v", res.Results[0].Score)
	}

	res, err = db.Search(context.Background(), IsSimilarTo("v", []float32{1, 1}), 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected both docs, got %d", len(res.Results))
	}
	for _, r := range res.Results {
		if r.Score < 0.6 || r.Score > 0.8 {
			t.Errorf("expected score near 1/sqrt(2), got %v", r.Score)
		}
	}
}

// TestHybridQueryNameAndEmbedding: among {John, Jane, John Doe, Mary
// Jane}, a query biased toward "John Doe" combined with
// startsWith("John") must rank "John Doe" first.
func TestHybridQueryNameAndEmbedding(t *testing.T) {
	db := openTestDB(t, map[string]VectorFieldConfig{"v": {Dimensions: 2, M: 8, EfConstruction: 50, EfSearch: 50}})

	mustAdd(t, db, "John", []float32{1, 0})
	mustAdd(t, db, "Jane", []float32{0, 1})
	johnDoeID := mustAdd(t, db, "John Doe", []float32{0.9, 0.1})
	mustAdd(t, db, "Mary Jane", []float32{0, 1})

	q := And(StartsWith("name", "John"), IsSimilarTo("v", []float32{0.9, 0.1}))
	res, err := db.Search(context.Background(), q, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) == 0 || res.Results[0].Document.ID() != johnDoeID {
		t.Fatalf("expected John Doe top-1, got %+v", res.Results)
	}
}

// TestRemoveFiltersStaleMatches verifies that a removed document never
// resurfaces from either the inverted or the vector index, even though
// neither index tombstones its own postings directly.
func TestRemoveFiltersStaleMatches(t *testing.T) {
	db := openTestDB(t, map[string]VectorFieldConfig{"v": {Dimensions: 2, M: 8, EfConstruction: 50, EfSearch: 50}})

	id := mustAdd(t, db, "John", []float32{1, 0})
	if err := db.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, found, err := db.Get(id); err != nil {
		t.Fatalf("Get: %v", err)
	} else if found {
		t.Fatalf("expected document gone after Remove")
	}

	res, err := db.Search(context.Background(), StartsWith("name", "John"), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("expected no matches for removed document, got %+v", res.Results)
	}

	res, err = db.Search(context.Background(), IsSimilarTo("v", []float32{1, 0}), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("expected no vector matches for removed document, got %+v", res.Results)
	}
}

// TestIngestionBackpressureAllDocumentsSucceed: every submitted document
// is ingested even when the queue is far smaller than the batch.
func TestIngestionBackpressureAllDocumentsSucceed(t *testing.T) {
	db := openTestDB(t, nil)

	const n = 2000
	docs := make([]*Document, n)
	for i := range docs {
		id := NewDocumentID()
		doc, err := NewDocument(id, Field{Key: "name", Value: StringValue("doc")})
		if err != nil {
			t.Fatalf("NewDocument: %v", err)
		}
		docs[i] = doc
	}

	result := db.IngestDocuments(docs)
	if result.Total != n || result.Ingested != n || len(result.Errors) != 0 {
		t.Fatalf("expected total=ingested=%d errors=0, got %+v", n, result)
	}

	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Fatalf("expected %d live documents, got %d", n, count)
	}
}

// TestReopenPreservesDocumentsAndIndexes verifies the close/reopen
// durability guarantee across the catalog and both index kinds.
func TestReopenPreservesDocumentsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	vecCfg := map[string]VectorFieldConfig{"v": {Dimensions: 2, M: 8, EfConstruction: 50, EfSearch: 50}}
	cfg := Config{DataFolder: dir, StringFields: []string{"name"}, VectorFields: vecCfg, Ingest: IngestConfig{QueueCapacity: 8, Workers: 2}}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := mustAdd(t, db, "John", []float32{1, 0})
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	doc, found, err := db2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !found {
		t.Fatalf("expected document to survive reopen")
	}
	f, ok := doc.Field("name")
	if !ok || f.Value.Str != "John" {
		t.Fatalf("expected name field preserved, got %+v", f)
	}

	res, err := db2.Search(context.Background(), IsSimilarTo("v", []float32{1, 0}), 1)
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Document.ID() != id {
		t.Fatalf("expected vector index to survive reopen, got %+v", res.Results)
	}
}

// TestAddAsyncCompletionHandle verifies the asynchronous write path: the
// returned handle resolves once a worker has persisted the document.
func TestAddAsyncCompletionHandle(t *testing.T) {
	db := openTestDB(t, nil)

	id := NewDocumentID()
	doc, err := NewDocument(id, Field{Key: "name", Value: StringValue("async")})
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	c, err := db.AddAsync(doc)
	if err != nil {
		t.Fatalf("AddAsync: %v", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, found, err := db.Get(id); err != nil || !found {
		t.Fatalf("expected document visible after Wait: found=%v err=%v", found, err)
	}
}

// TestSearchExpiredDeadlineIsPartialNotError: an expired deadline flags
// the result as timed out instead of failing.
func TestSearchExpiredDeadlineIsPartialNotError(t *testing.T) {
	db := openTestDB(t, nil)
	mustAddNameOnly(t, db, "John")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := db.Search(ctx, StartsWith("name", "John"), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut on an expired context")
	}
}

func mustAddNameOnly(t *testing.T, db *Db, name string) DocumentID {
	t.Helper()
	id := NewDocumentID()
	doc, err := NewDocument(id, Field{Key: "name", Value: StringValue(name)})
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	if err := db.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

func TestIngestStreamPullsUntilExhausted(t *testing.T) {
	db := openTestDB(t, nil)

	i := 0
	result := db.IngestStream(func() (*Document, bool) {
		if i >= 20 {
			return nil, false
		}
		i++
		doc, err := NewDocument(NewDocumentID(), Field{Key: "name", Value: StringValue("streamed")})
		if err != nil {
			t.Fatalf("NewDocument: %v", err)
		}
		return doc, true
	})
	if result.Total != 20 || result.Ingested != 20 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStatsReportsCountsAndOffHeap(t *testing.T) {
	db := openTestDB(t, nil)
	mustAddNameOnly(t, db, "a")
	mustAddNameOnly(t, db, "b")

	s, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.DocumentCount != 2 {
		t.Fatalf("DocumentCount = %d, want 2", s.DocumentCount)
	}
	if s.OffHeapBytes <= 0 {
		t.Fatalf("OffHeapBytes = %d, want > 0", s.OffHeapBytes)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := []byte(`{
		"dataFolder": "/tmp/vulcanodb",
		"stringFields": ["name"],
		"hnsw": {"embedding": {"dimensions": 128, "m": 16}},
		"ingest": {"queue": {"capacity": 64}, "workers": 4}
	}`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataFolder != "/tmp/vulcanodb" {
		t.Errorf("unexpected dataFolder: %q", cfg.DataFolder)
	}
	if cfg.VectorFields["embedding"].Dimensions != 128 {
		t.Errorf("unexpected dimensions: %+v", cfg.VectorFields["embedding"])
	}
	if cfg.Ingest.QueueCapacity != 64 || cfg.Ingest.Workers != 4 {
		t.Errorf("unexpected ingest config: %+v", cfg.Ingest)
	}
}
