package query

import "github.com/vulcanodb/vulcanodb/internal/bitmap"

// IndexCatalog tells the splitter and the bitmap physical operators which
// fields are indexed and gives access to the concrete indexes, without
// the query package needing to import the engine or catalog/hnsw/inverted
// packages directly for every concrete type.
type IndexCatalog interface {
	HasStringIndex(field string) bool
	HasVectorIndex(field string) bool
	StringIndex(field string) StringIndex
	VectorIndex(field string) VectorIndex
}

// StringIndex is the subset of inverted.Index the executor needs.
type StringIndex interface {
	Equals(term string) (*bitmap.DocIdSet, error)
	StartsWith(prefix string) (*bitmap.DocIdSet, error)
	EndsWith(suffix string) (*bitmap.DocIdSet, error)
	Contains(substr string) (*bitmap.DocIdSet, error)
}

// VectorIndex is the subset of hnsw.Index the executor needs.
type VectorIndex interface {
	Search(q []float32, k int) (VectorResult, error)
}

// VectorResult mirrors hnsw.Result's shape without importing hnsw.
type VectorResult struct {
	Matches      []VectorMatch
	VisitedRatio float64
}

type VectorMatch struct {
	ID    int64
	Score float32
}

func leafIndexable(l Leaf, cat IndexCatalog) bool {
	switch l.Operator {
	case OpEquals, OpStartsWith, OpEndsWith, OpContains:
		return cat.HasStringIndex(l.Field)
	case OpSimilarTo:
		return cat.HasVectorIndex(l.Field)
	default:
		// Integer comparisons have no index in this engine, and
		// SimilarToAll spans several fields at once, which the
		// single-field bitmap leaf can't express — both are always
		// evaluated residually.
		return false
	}
}

// Split translates a logical query into (indexTree, residualTree): the
// sub-tree the bitmap operators can answer from indexes, and the
// remainder that must be scored per document.
func Split(n Node, cat IndexCatalog) (indexTree, residualTree Node) {
	switch v := n.(type) {
	case matchAllNode:
		return MatchAll, MatchAll
	case matchNoneNode:
		return MatchNone, MatchNone
	case Leaf:
		if leafIndexable(v, cat) {
			return v, MatchAll
		}
		return MatchAll, v
	case And:
		il, rl := Split(v.L, cat)
		ir, rr := Split(v.R, cat)
		return simplifyAnd(il, ir), simplifyAnd(rl, rr)
	case Or:
		il, rl := Split(v.L, cat)
		ir, rr := Split(v.R, cat)
		if isMatchAll(rl) && isMatchAll(rr) {
			return Or{il, ir}, MatchAll
		}
		return MatchAll, v
	case Not:
		ix, rx := Split(v.X, cat)
		if isMatchAll(rx) {
			return Not{ix}, MatchAll
		}
		return MatchAll, v
	default:
		return MatchAll, n
	}
}

func simplifyAnd(a, b Node) Node {
	if isMatchAll(a) {
		return b
	}
	if isMatchAll(b) {
		return a
	}
	if isMatchNone(a) || isMatchNone(b) {
		return MatchNone
	}
	return And{a, b}
}
