package query

import (
	"github.com/vulcanodb/vulcanodb/internal/bitmap"
)

// EvalContext carries everything a compiled index tree needs to run:
// the live-document universe (for notOp's complement), the requested
// result width (used to size a vector leaf's ef), and the similarity
// scores an ANN leaf contributes toward the final merge.
type EvalContext struct {
	Cat      IndexCatalog
	Universe *bitmap.DocIdSet
	K        int
	Scores   map[int64]float32
}

// PhysicalOp is a bitmap operator over the index tree: andOp, orOp,
// notOp and leafOp.
type PhysicalOp interface {
	Compute(ctx *EvalContext) (*bitmap.DocIdSet, error)
	EstimateCost() float64
}

// Compile lowers a (fully indexable) logical sub-tree into bitmap
// physical operators.
func Compile(n Node) PhysicalOp {
	switch v := n.(type) {
	case matchAllNode:
		return universeOp{}
	case matchNoneNode:
		return noneOp{}
	case Leaf:
		return leafOp{v}
	case And:
		return andOp{Compile(v.L), Compile(v.R)}
	case Or:
		return orOp{Compile(v.L), Compile(v.R)}
	case Not:
		return notOp{Compile(v.X)}
	default:
		return universeOp{}
	}
}

type universeOp struct{}

func (universeOp) Compute(ctx *EvalContext) (*bitmap.DocIdSet, error) { return ctx.Universe, nil }
func (universeOp) EstimateCost() float64                              { return 0 }

type noneOp struct{}

func (noneOp) Compute(*EvalContext) (*bitmap.DocIdSet, error) { return bitmap.New(), nil }
func (noneOp) EstimateCost() float64                          { return 0 }

// leafOp's static cost prior orders andOp's children cheapest-first
// without requiring a trial computation: an exact posting-list lookup is
// cheapest, a full-index scan (startsWith/endsWith/contains) costlier,
// and an ANN graph traversal costliest.
type leafOp struct{ leaf Leaf }

func (l leafOp) EstimateCost() float64 {
	switch l.leaf.Operator {
	case OpEquals:
		return 1
	case OpStartsWith, OpEndsWith:
		return 10
	case OpContains:
		return 20
	case OpSimilarTo:
		return 50
	default:
		return 100
	}
}

func (l leafOp) Compute(ctx *EvalContext) (*bitmap.DocIdSet, error) {
	switch l.leaf.Operator {
	case OpEquals:
		return ctx.Cat.StringIndex(l.leaf.Field).Equals(l.leaf.Str)
	case OpStartsWith:
		return ctx.Cat.StringIndex(l.leaf.Field).StartsWith(l.leaf.Str)
	case OpEndsWith:
		return ctx.Cat.StringIndex(l.leaf.Field).EndsWith(l.leaf.Str)
	case OpContains:
		return ctx.Cat.StringIndex(l.leaf.Field).Contains(l.leaf.Str)
	case OpSimilarTo:
		k := ctx.K
		if k <= 0 {
			k = 10
		}
		res, err := ctx.Cat.VectorIndex(l.leaf.Field).Search(l.leaf.Vec, k)
		if err != nil {
			return nil, err
		}
		set := bitmap.New()
		for _, m := range res.Matches {
			set.Add(m.ID)
			if existing, ok := ctx.Scores[m.ID]; !ok || m.Score > existing {
				ctx.Scores[m.ID] = m.Score
			}
		}
		return set, nil
	default:
		return bitmap.New(), nil
	}
}

type andOp struct{ L, R PhysicalOp }

func (a andOp) EstimateCost() float64 { return a.L.EstimateCost() + a.R.EstimateCost() }

// Compute sorts its two children by ascending cost and short-circuits
// once the cheaper side is empty.
func (a andOp) Compute(ctx *EvalContext) (*bitmap.DocIdSet, error) {
	first, second := a.L, a.R
	if second.EstimateCost() < first.EstimateCost() {
		first, second = second, first
	}
	fs, err := first.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if fs.IsEmpty() {
		return fs, nil
	}
	ss, err := second.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return bitmap.And(fs, ss), nil
}

type orOp struct{ L, R PhysicalOp }

func (o orOp) EstimateCost() float64 { return o.L.EstimateCost() + o.R.EstimateCost() }

func (o orOp) Compute(ctx *EvalContext) (*bitmap.DocIdSet, error) {
	ls, err := o.L.Compute(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := o.R.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return bitmap.Or(ls, rs), nil
}

type notOp struct{ X PhysicalOp }

func (n notOp) EstimateCost() float64 { return n.X.EstimateCost() + 1 }

func (n notOp) Compute(ctx *EvalContext) (*bitmap.DocIdSet, error) {
	sub, err := n.X.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return bitmap.Not(sub, ctx.Universe), nil
}
