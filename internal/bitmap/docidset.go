// Package bitmap implements DocIdSet, a mutable 64-bit set of internal
// ids with AND/OR/NOT/ANDNOT and cardinality. Internal ids are
// non-negative 63-bit integers; this package splits each id into a
// 32-bit high half (selecting one roaring.Bitmap "shard") and a 32-bit
// low half (the bit within that shard), since roaring.Bitmap itself only
// addresses a uint32 domain.
package bitmap

import (
	"github.com/RoaringBitmap/roaring"
)

// DocIdSet is a compressed set of internal ids, implemented as a sharded
// collection of 32-bit roaring bitmaps keyed by the id's high 32 bits.
type DocIdSet struct {
	shards map[uint32]*roaring.Bitmap
}

// New returns an empty DocIdSet.
func New() *DocIdSet {
	return &DocIdSet{shards: make(map[uint32]*roaring.Bitmap)}
}

// FromSlice builds a DocIdSet containing exactly the given ids.
func FromSlice(ids []int64) *DocIdSet {
	s := New()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func split(id int64) (hi, lo uint32) {
	u := uint64(id)
	return uint32(u >> 32), uint32(u)
}

func join(hi, lo uint32) int64 {
	return int64(uint64(hi)<<32 | uint64(lo))
}

func (s *DocIdSet) shardFor(hi uint32, create bool) *roaring.Bitmap {
	b, ok := s.shards[hi]
	if !ok {
		if !create {
			return nil
		}
		b = roaring.New()
		s.shards[hi] = b
	}
	return b
}

// Add inserts id into the set.
func (s *DocIdSet) Add(id int64) {
	hi, lo := split(id)
	s.shardFor(hi, true).Add(lo)
}

// Remove deletes id from the set, if present.
func (s *DocIdSet) Remove(id int64) {
	hi, lo := split(id)
	if b := s.shardFor(hi, false); b != nil {
		b.Remove(lo)
	}
}

// Contains reports whether id is a member.
func (s *DocIdSet) Contains(id int64) bool {
	hi, lo := split(id)
	b := s.shardFor(hi, false)
	return b != nil && b.Contains(lo)
}

// Cardinality returns the number of members (roaring bitmaps make the
// exact count cheap).
func (s *DocIdSet) Cardinality() uint64 {
	var n uint64
	for _, b := range s.shards {
		n += b.GetCardinality()
	}
	return n
}

// IsEmpty reports whether the set has no members.
func (s *DocIdSet) IsEmpty() bool {
	for _, b := range s.shards {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}

// Each calls yield for every member id in ascending order, stopping early
// if yield returns false.
func (s *DocIdSet) Each(yield func(id int64) bool) {
	his := make([]uint32, 0, len(s.shards))
	for hi := range s.shards {
		his = append(his, hi)
	}
	sortUint32(his)
	for _, hi := range his {
		it := s.shards[hi].Iterator()
		for it.HasNext() {
			if !yield(join(hi, it.Next())) {
				return
			}
		}
	}
}

// ToSlice materializes every member in ascending order.
func (s *DocIdSet) ToSlice() []int64 {
	out := make([]int64, 0, s.Cardinality())
	s.Each(func(id int64) bool {
		out = append(out, id)
		return true
	})
	return out
}

func sortUint32(xs []uint32) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// And returns the intersection of a and b.
func And(a, b *DocIdSet) *DocIdSet {
	out := New()
	for hi, ab := range a.shards {
		if bb, ok := b.shards[hi]; ok {
			out.shards[hi] = roaring.And(ab, bb)
		}
	}
	return out
}

// Or returns the union of a and b.
func Or(a, b *DocIdSet) *DocIdSet {
	out := New()
	for hi, ab := range a.shards {
		out.shards[hi] = ab.Clone()
	}
	for hi, bb := range b.shards {
		if existing, ok := out.shards[hi]; ok {
			existing.Or(bb)
		} else {
			out.shards[hi] = bb.Clone()
		}
	}
	return out
}

// AndNot returns a with every member of b removed.
func AndNot(a, b *DocIdSet) *DocIdSet {
	out := New()
	for hi, ab := range a.shards {
		if bb, ok := b.shards[hi]; ok {
			out.shards[hi] = roaring.AndNot(ab, bb)
		} else {
			out.shards[hi] = ab.Clone()
		}
	}
	return out
}

// Not returns the complement of a within universe.
func Not(a *DocIdSet, universe *DocIdSet) *DocIdSet {
	return AndNot(universe, a)
}
