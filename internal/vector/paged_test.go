package vector

import (
	"math"
	"testing"
)

func TestAddVectorAssignsMonotonicIDs(t *testing.T) {
	p, err := OpenPagedVectorIndex(t.TempDir(), 3, 4096, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	for want := int64(0); want < 10; want++ {
		id, err := p.AddVector([]float32{float32(want), 0, 0})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
	if p.Count() != 10 {
		t.Fatalf("count = %d, want 10", p.Count())
	}

	v, err := p.Get(7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v[0] != 7 {
		t.Fatalf("v = %v, want first element 7", v)
	}
	e, err := p.GetElement(7, 0)
	if err != nil || e != 7 {
		t.Fatalf("element = %v err=%v, want 7", e, err)
	}
}

func TestVectorPageOverflowSpillsToNewPage(t *testing.T) {
	// blockSize fits exactly two 2-float vectors, so the third insert must
	// land on a fresh page and still read back intact.
	p, err := OpenPagedVectorIndex(t.TempDir(), 2, 16, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	for i := 0; i < 5; i++ {
		if _, err := p.AddVector([]float32{float32(i), float32(-i)}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	v, err := p.Get(4)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v[0] != 4 || v[1] != -4 {
		t.Fatalf("v = %v, want [4 -4]", v)
	}
}

func TestVectorDimensionMismatchFails(t *testing.T) {
	p, err := OpenPagedVectorIndex(t.TempDir(), 3, 4096, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()
	if _, err := p.AddVector([]float32{1, 2}); err == nil {
		t.Fatal("want error for short vector")
	}
}

func TestOpenRejectsUndersizedBlock(t *testing.T) {
	if _, err := OpenPagedVectorIndex(t.TempDir(), 8, 16, nil); err == nil {
		t.Fatal("want error when blockSize < dimensions*4")
	}
	if _, err := OpenPagedVectorIndex(t.TempDir(), 0, 4096, nil); err == nil {
		t.Fatal("want error for zero dimensions")
	}
}

func TestGraphSetAndAddConnections(t *testing.T) {
	g, err := OpenPagedGraphIndex(t.TempDir(), 4, 4096, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()

	if err := g.SetConnections(0, []int64{1, 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := g.AddConnection(0, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := g.Connections(0)
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("connections = %v, want [1 2 3]", got)
	}
}

func TestGraphExceedingMMaxFailsFast(t *testing.T) {
	g, err := OpenPagedGraphIndex(t.TempDir(), 2, 4096, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()

	if err := g.SetConnections(0, []int64{1, 2, 3}); err == nil {
		t.Fatal("want error setting more than mMax neighbors")
	}
	if err := g.SetConnections(0, []int64{1, 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := g.AddConnection(0, 3); err == nil {
		t.Fatal("want error appending past mMax")
	}
}

func TestGraphUntouchedRowIsEmpty(t *testing.T) {
	g, err := OpenPagedGraphIndex(t.TempDir(), 4, 4096, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer g.Close()
	got, err := g.Connections(12)
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("untouched row = %v, want empty", got)
	}
}

// TestCosineBounds covers the cosine identities: self-similarity of 1,
// anti-parallel of -1, symmetry, and the |sim| <= 1+eps bound.
func TestCosineBounds(t *testing.T) {
	v := []float32{0.3, -1.7, 2.2}
	w := []float32{1.1, 0.4, -0.9}
	neg := []float32{-0.3, 1.7, -2.2}

	if got := Cosine(v, v); math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("sim(v,v) = %v, want 1", got)
	}
	if got := Cosine(v, neg); math.Abs(float64(got)+1) > 1e-6 {
		t.Fatalf("sim(v,-v) = %v, want -1", got)
	}
	if a, b := Cosine(v, w), Cosine(w, v); a != b {
		t.Fatalf("sim not symmetric: %v vs %v", a, b)
	}
	if got := Cosine(v, w); math.Abs(float64(got)) > 1+1e-6 {
		t.Fatalf("|sim| = %v exceeds bound", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero vector sim = %v, want 0", got)
	}
}
