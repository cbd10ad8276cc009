package vector

import (
	"encoding/binary"
	"math"
)

func putF32(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }
func getF32(b []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
func putU32(b []byte, v uint32)  { binary.LittleEndian.PutUint32(b, v) }
func getU32(b []byte) uint32     { return binary.LittleEndian.Uint32(b) }
func putI64(b []byte, v int64)   { binary.LittleEndian.PutUint64(b, uint64(v)) }
func getI64(b []byte) int64      { return int64(binary.LittleEndian.Uint64(b)) }
