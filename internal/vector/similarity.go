package vector

import "math"

// Similarity scores how alike two equal-length vectors are; higher means
// closer. HNSW treats this as the ordering metric throughout, so any
// pluggable similarity must be consistent (larger = nearer).
type Similarity func(a, b []float32) float32

// Cosine is the default similarity. Zero vectors produce 0 rather than
// NaN, which keeps degenerate inputs from poisoning a search.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
