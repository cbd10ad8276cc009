package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/vulcanodb/vulcanodb/internal/vector"
)

func mustOpen(t *testing.T, dir string, cfg Config) *Index {
	t.Helper()
	idx, err := Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return idx
}

func TestInsertSearchBasic2D(t *testing.T) {
	idx := mustOpen(t, t.TempDir(), Config{Dimensions: 2, EfConstruction: 50, EfSearch: 50})
	defer idx.Close()

	id1, err := idx.Insert([]float32{1, 0})
	if err != nil {
		t.Fatalf("insert d1: %v", err)
	}
	id2, err := idx.Insert([]float32{0, 1})
	if err != nil {
		t.Fatalf("insert d2: %v", err)
	}

	res, err := idx.Search([]float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ID != id1 {
		t.Fatalf("top-1 = %+v, want d1 (%d)", res.Matches, id1)
	}
	if math.Abs(float64(res.Matches[0].Score)-1.0) > 1e-6 {
		t.Fatalf("score = %v, want 1.0", res.Matches[0].Score)
	}

	res, err = idx.Search([]float32{1, 1}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("want 2 matches, got %d", len(res.Matches))
	}
	ids := map[int64]bool{res.Matches[0].ID: true, res.Matches[1].ID: true}
	if !ids[id1] || !ids[id2] {
		t.Fatalf("matches = %+v, want {%d,%d}", res.Matches, id1, id2)
	}
	want := float32(1 / math.Sqrt2)
	for _, m := range res.Matches {
		if math.Abs(float64(m.Score-want)) > 1e-3 {
			t.Fatalf("score = %v, want ~%v", m.Score, want)
		}
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	idx := mustOpen(t, t.TempDir(), Config{Dimensions: 3})
	defer idx.Close()
	if _, err := idx.Insert([]float32{1, 2}); err == nil {
		t.Fatal("want error for dimension mismatch")
	}
	if _, err := idx.Insert([]float32{1, 2, 3}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := idx.Search([]float32{1, 2}, 1); err == nil {
		t.Fatal("want error for search dimension mismatch")
	}
}

// TestRetrievalCompleteness: with a very wide ef budget the k-NN search
// must match the brute-force top-k in order (near-exact retrieval).
func TestRetrievalCompleteness(t *testing.T) {
	const n = 200
	const dims = 8
	rng := rand.New(rand.NewSource(7))

	idx := mustOpen(t, t.TempDir(), Config{
		Dimensions: dims, EfConstruction: 500, EfSearch: 500, ML: 0,
	})
	defer idx.Close()

	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dims)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vectors[i] = v
		if _, err := idx.Insert(v); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	q := make([]float32, dims)
	for j := range q {
		q[j] = rng.Float32()*2 - 1
	}

	type scored struct {
		id    int64
		score float32
	}
	brute := make([]scored, n)
	for i, v := range vectors {
		brute[i] = scored{int64(i), vector.Cosine(q, v)}
	}
	sort.Slice(brute, func(i, j int) bool { return brute[i].score > brute[j].score })

	const k = 10
	res, err := idx.Search(q, k)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Matches) != k {
		t.Fatalf("got %d matches, want %d", len(res.Matches), k)
	}
	for i := 0; i < k; i++ {
		if res.Matches[i].ID != brute[i].id {
			t.Fatalf("rank %d: got id %d score %v, want id %d score %v",
				i, res.Matches[i].ID, res.Matches[i].Score, brute[i].id, brute[i].score)
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dimensions: 2, EfConstruction: 50, EfSearch: 50, ML: 1}

	idx := mustOpen(t, dir, cfg)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		v := []float32{rng.Float32(), rng.Float32()}
		if _, err := idx.Insert(v); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	before, err := idx.Search([]float32{0.5, 0.5}, 5)
	if err != nil {
		t.Fatalf("search before close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := mustOpen(t, dir, cfg)
	defer reopened.Close()
	after, err := reopened.Search([]float32{0.5, 0.5}, 5)
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(before.Matches) != len(after.Matches) {
		t.Fatalf("match count changed: %d vs %d", len(before.Matches), len(after.Matches))
	}
	for i := range before.Matches {
		if before.Matches[i].ID != after.Matches[i].ID {
			t.Fatalf("rank %d id changed: %d vs %d", i, before.Matches[i].ID, after.Matches[i].ID)
		}
	}
}
