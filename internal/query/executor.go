package query

import (
	"context"

	"github.com/vulcanodb/vulcanodb/internal/bitmap"
	"github.com/vulcanodb/vulcanodb/internal/catalog"
	"github.com/vulcanodb/vulcanodb/internal/vector"
)

// DocumentSource resolves an internal id to its live document, the path
// the executor needs to residual-score a candidate.
type DocumentSource interface {
	GetByInternalID(id int64) (*catalog.Document, bool, error)
}

// Result is one ranked match plus the rehydrated document.
type Result struct {
	InternalID int64
	Score      float32
	Document   *catalog.Document
}

// Output is a full Search outcome. TimedOut marks a partial result set:
// the deadline expired mid-evaluation and the ranking covers only the
// candidates scored so far.
type Output struct {
	Results  []Result
	TimedOut bool
}

// Executor runs a logical query tree end to end: split, compile the
// index side to bitmaps, residual-score every surviving candidate, and
// keep the best K.
type Executor struct {
	Cat  IndexCatalog
	Docs DocumentSource
	Sim  vector.Similarity
}

// Search evaluates n over universe (every live internal id) and returns
// up to k best matches ordered by descending score. An expired ctx does
// not fail the search; it truncates it, returning whatever ranking the
// executor had accumulated with TimedOut set.
func (e *Executor) Search(ctx context.Context, n Node, universe *bitmap.DocIdSet, k int) (Output, error) {
	indexTree, residualTree := Split(n, e.Cat)

	if ctx.Err() != nil {
		return Output{TimedOut: true}, nil
	}

	evalCtx := &EvalContext{Cat: e.Cat, Universe: universe, K: k, Scores: map[int64]float32{}}
	candidates, err := Compile(indexTree).Compute(evalCtx)
	if err != nil {
		return Output{}, err
	}

	heapK := k
	if heapK <= 0 {
		heapK = int(candidates.Cardinality())
	}
	top := newTopKHeap(heapK)

	timedOut := ctx.Err() != nil
	var iterErr error
	if !timedOut {
		candidates.Each(func(id int64) bool {
			if ctx.Err() != nil {
				timedOut = true
				return false
			}
			doc, ok, err := e.Docs.GetByInternalID(id)
			if err != nil {
				iterErr = err
				return false
			}
			if !ok {
				return true
			}
			residual, err := Evaluate(residualTree, doc, e.Sim)
			if err != nil {
				iterErr = err
				return false
			}
			if !residual.Matches {
				return true
			}
			score := residual.Value
			if indexScore, ok := evalCtx.Scores[id]; ok {
				if isMatchAll(residualTree) {
					score = indexScore
				} else {
					score = geometricMean(indexScore, residual.Value)
				}
			}
			top.offer(Match{InternalID: id, Score: score})
			return true
		})
	}
	if iterErr != nil {
		return Output{}, iterErr
	}

	ranked := top.sorted()
	results := make([]Result, 0, len(ranked))
	for _, m := range ranked {
		doc, ok, err := e.Docs.GetByInternalID(m.InternalID)
		if err != nil {
			return Output{}, err
		}
		if !ok {
			continue
		}
		results = append(results, Result{InternalID: m.InternalID, Score: m.Score, Document: doc})
	}
	return Output{Results: results, TimedOut: timedOut}, nil
}
