// Package kv implements the durable key-value store: an append-only
// data log of typed records, a hash-partitioned index over the same
// paged-segment machinery, and a metadata file that publishes the crash
// recovery boundary.
package kv

import (
	"encoding/binary"
	"math"
)

// align8 rounds n up to the next multiple of 8, matching the pad-to-8
// step in every on-disk record layout.
func align8(n int) int {
	return (n + 7) &^ 7
}

// padKeyLen is the keyLen sentinel of a skip record. When an append
// would straddle a segment boundary (the paged region forbids
// cross-segment writes), the writer covers the unusable tail of the
// current segment with a record whose keyLen is this sentinel and whose
// entryLen equals the tail length, then restarts at the next segment.
// Scanners skip such records; no index entry ever points at one.
const padKeyLen = ^uint32(0)

// putU32/getU32/putU64/getU64 centralise the little-endian encoding used
// for every on-disk integer.
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getU32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getU64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
func putI64(b []byte, v int64)  { putU64(b, uint64(v)) }
func getI64(b []byte) int64     { return int64(getU64(b)) }
func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
func getF32(b []byte) float32 {
	return math.Float32frombits(getU32(b))
}
