package vulcanodb

import "github.com/vulcanodb/vulcanodb/internal/query"

// QueryBuilder assembles a boolean predicate tree fluently, without
// exposing the internal query package's node types at the public API
// boundary.
type QueryBuilder struct {
	node query.Node
}

// NewQuery starts an empty builder; combine it with And/Or/Not or start
// directly from one of the leaf predicate functions below.
func NewQuery() *QueryBuilder { return &QueryBuilder{node: query.MatchAll} }

func leaf(n query.Node) *QueryBuilder { return &QueryBuilder{node: n} }

// IsEqual matches documents whose string field equals value exactly.
func IsEqual(field, value string) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpEquals, Str: value})
}

// StartsWith matches documents whose string field begins with prefix.
func StartsWith(field, prefix string) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpStartsWith, Str: prefix})
}

// EndsWith matches documents whose string field ends with suffix.
func EndsWith(field, suffix string) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpEndsWith, Str: suffix})
}

// Contains matches documents whose string field contains substr.
func Contains(field, substr string) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpContains, Str: substr})
}

// IntEquals, IntLessThan(OrEqual) and IntGreaterThan(OrEqual) compare an
// int field against value.
func IntEquals(field string, value int32) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpIntEq, Int: value})
}
func IntLessThan(field string, value int32) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpIntLt, Int: value})
}
func IntLessThanOrEqual(field string, value int32) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpIntLe, Int: value})
}
func IntGreaterThan(field string, value int32) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpIntGt, Int: value})
}
func IntGreaterThanOrEqual(field string, value int32) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpIntGe, Int: value})
}

// IsSimilarTo matches documents by cosine proximity of field to q,
// scoring rather than filtering.
func IsSimilarTo(field string, q []float32) *QueryBuilder {
	return leaf(query.Leaf{Field: field, Operator: query.OpSimilarTo, Vec: q})
}

// AllSimilarTo scores q against every field in fields and combines the
// per-field similarities by repeated geometric mean, matching only when
// every field is present, of matching kind, and positively similar.
func AllSimilarTo(q []float32, fields ...string) *QueryBuilder {
	return leaf(query.Leaf{Operator: query.OpSimilarToAll, Vec: q, VecFields: fields})
}

// And, Or and Not compose sub-queries.
func And(a, b *QueryBuilder) *QueryBuilder { return &QueryBuilder{node: query.And{L: a.node, R: b.node}} }
func Or(a, b *QueryBuilder) *QueryBuilder  { return &QueryBuilder{node: query.Or{L: a.node, R: b.node}} }
func Not(a *QueryBuilder) *QueryBuilder    { return &QueryBuilder{node: query.Not{X: a.node}} }

// And, Or and Not also compose as methods for chained construction.
func (qb *QueryBuilder) And(other *QueryBuilder) *QueryBuilder { return And(qb, other) }
func (qb *QueryBuilder) Or(other *QueryBuilder) *QueryBuilder  { return Or(qb, other) }
func (qb *QueryBuilder) Not() *QueryBuilder                    { return Not(qb) }

func (qb *QueryBuilder) build() query.Node {
	if qb == nil {
		return query.MatchAll
	}
	return qb.node
}
