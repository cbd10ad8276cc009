// Hash index: a bucketed, append-only index mapping key → data-log
// offset. Each bucket gets its own paged region so buckets never contend
// for the same segment files.
//
// Entry layout per bucket:
//
//	[ entryLen:u32 ][ keyLen:u32 ][ key:bytes ][pad→8][ dataOffset:i64 ]
//
// dataOffset == -1 is a tombstone. Lookup scans a bucket from 0 to its
// committed cursor; the last matching key wins.
package kv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/vulcanodb/vulcanodb/internal/pagestore"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// HashAlgorithm selects the bucket-partitioning hash.
type HashAlgorithm int

const (
	AlgXXHash3 HashAlgorithm = iota + 1
	AlgBlake2b
)

const tombstoneOffset int64 = -1

// HashIndex partitions keys into bucketCount buckets, each an append-only
// paged region.
type HashIndex struct {
	buckets   []*bucket
	alg       HashAlgorithm
	bucketLog uint // log2(bucketCount); bucketCount must be a power of two
	log       *zap.SugaredLogger
}

type bucket struct {
	region    *pagestore.Region
	mu        sync.Mutex // serializes append's boundary check + cursor bump
	committed atomic.Int64
	filter    *bloom
}

// OpenHashIndex opens (creating if needed) bucketCount buckets under dir,
// each with the given segment size.
func OpenHashIndex(dir string, bucketCount int, segmentSize int64, alg HashAlgorithm, log *zap.SugaredLogger) (*HashIndex, error) {
	if bucketCount&(bucketCount-1) != 0 || bucketCount <= 0 {
		return nil, verrors.New(verrors.KindValidation, "hashindex.Open", verrors.ErrValidation).WithDetail("bucketCount", bucketCount)
	}
	if segmentSize <= 0 || segmentSize%8 != 0 {
		return nil, verrors.New(verrors.KindValidation, "hashindex.Open", verrors.ErrValidation).
			WithDetail("segmentSize", segmentSize)
	}
	h := &HashIndex{alg: alg, bucketLog: bits(bucketCount), log: log}
	for i := 0; i < bucketCount; i++ {
		r, err := pagestore.Open(fmt.Sprintf("%s/b%05d", dir, i), "idx", segmentSize, log)
		if err != nil {
			return nil, fmt.Errorf("hashindex: open bucket %d: %w", i, err)
		}
		b := &bucket{region: r, filter: newBloom()}
		if err := b.recover(); err != nil {
			return nil, fmt.Errorf("hashindex: recover bucket %d: %w", i, err)
		}
		h.buckets = append(h.buckets, b)
	}
	return h, nil
}

// recover reconstructs a bucket's committed cursor the same way DataLog
// does: scan from zero until a zero entryLen fence is hit, skipping
// segment-boundary pads.
func (b *bucket) recover() error {
	var pos int64
	for {
		hdr := make([]byte, dataHeaderSize)
		if err := b.region.ReadAt(hdr, pos); err != nil {
			break
		}
		entryLen := getU32(hdr[0:4])
		if entryLen == 0 {
			break
		}
		keyLenRaw := getU32(hdr[4:8])
		if keyLenRaw == padKeyLen {
			pos += int64(entryLen)
			continue
		}
		keyLen := int(keyLenRaw)
		rest := make([]byte, entryLen-dataHeaderSize)
		if err := b.region.ReadAt(rest, pos+dataHeaderSize); err == nil && keyLen <= len(rest) {
			b.filter.Add(string(rest[:keyLen]))
		}
		pos += int64(entryLen)
	}
	b.committed.Store(pos)
	return nil
}

func bits(n int) uint {
	var b uint
	for (1 << b) < n {
		b++
	}
	return b
}

func hashKey(key string, alg HashAlgorithm) uint64 {
	switch alg {
	case AlgBlake2b:
		sum := blake2b.Sum512([]byte(key))
		return getU64(sum[:8])
	default:
		return xxh3.HashString(key)
	}
}

func (h *HashIndex) bucketFor(key string) (*bucket, uint64) {
	hv := hashKey(key, h.alg)
	idx := hv & ((1 << h.bucketLog) - 1)
	return h.buckets[idx], hv
}

// Put appends a (key, dataOffset) entry to the bucket owning key.
func (h *HashIndex) Put(key string, dataOffset int64) error {
	b, _ := h.bucketFor(key)
	return b.append(key, dataOffset)
}

// Remove appends a tombstone entry for key.
func (h *HashIndex) Remove(key string) error {
	b, _ := h.bucketFor(key)
	return b.append(key, tombstoneOffset)
}

// append reserves the entry's slot, padding out the current segment
// first when the entry would straddle its boundary (the paged region
// forbids cross-segment writes), then writes and publishes the entry.
func (b *bucket) append(key string, dataOffset int64) error {
	total := align8(dataHeaderSize+len(key)) + 8

	b.mu.Lock()
	defer b.mu.Unlock()
	offset := b.committed.Load()
	remaining := b.region.RemainingInSegment(offset)
	if int64(total) > remaining {
		if int64(total) > b.region.SegmentSize() {
			return verrors.New(verrors.KindValidation, "hashindex.append", verrors.ErrSegmentOverrun).
				WithDetail("keyLen", len(key))
		}
		if err := b.pad(offset, remaining); err != nil {
			return err
		}
		offset = b.region.NextSegmentStart(offset)
	}

	buf := make([]byte, total)
	putU32(buf[4:8], uint32(len(key)))
	copy(buf[8:8+len(key)], key)
	bodyStart := align8(dataHeaderSize + len(key))
	putI64(buf[bodyStart:bodyStart+8], dataOffset)

	if err := b.region.WriteAt(buf[4:], offset+4); err != nil {
		return fmt.Errorf("hashindex: write body: %w", err)
	}
	putU32(buf[0:4], uint32(total))
	if err := b.region.WriteAt(buf[0:4], offset); err != nil {
		return fmt.Errorf("hashindex: publish entryLen: %w", err)
	}
	b.committed.Store(offset + int64(total))
	b.filter.Add(key)
	return nil
}

// pad publishes a skip entry covering the remaining bytes of offset's
// segment, keyLen sentinel first so a scanner never sees a half-written
// pad as a real entry.
func (b *bucket) pad(offset, remaining int64) error {
	hdr := make([]byte, dataHeaderSize)
	putU32(hdr[4:8], padKeyLen)
	if err := b.region.WriteAt(hdr[4:8], offset+4); err != nil {
		return fmt.Errorf("hashindex: write pad: %w", err)
	}
	putU32(hdr[0:4], uint32(remaining))
	if err := b.region.WriteAt(hdr[0:4], offset); err != nil {
		return fmt.Errorf("hashindex: publish pad: %w", err)
	}
	return nil
}

// Lookup scans the bucket owning key from 0 to its committed cursor,
// returning the last matching (non-tombstoned) offset. Returns
// (0, false, nil) if the key is absent or tombstoned.
func (h *HashIndex) Lookup(key string) (int64, bool, error) {
	b, _ := h.bucketFor(key)
	if !b.filter.MightContain(key) {
		return 0, false, nil
	}
	committed := b.committed.Load()

	var found int64
	var ok bool
	var pos int64
	for pos < committed {
		hdr := make([]byte, dataHeaderSize)
		if err := b.region.ReadAt(hdr, pos); err != nil {
			return 0, false, fmt.Errorf("hashindex: scan: %w", err)
		}
		entryLen := getU32(hdr[0:4])
		if entryLen == 0 {
			break
		}
		keyLenRaw := getU32(hdr[4:8])
		if keyLenRaw == padKeyLen {
			pos += int64(entryLen)
			continue
		}
		keyLen := int(keyLenRaw)
		rest := make([]byte, entryLen-dataHeaderSize)
		if err := b.region.ReadAt(rest, pos+dataHeaderSize); err != nil {
			return 0, false, fmt.Errorf("hashindex: scan body: %w", err)
		}
		k := string(rest[:keyLen])
		bodyStart := align8(dataHeaderSize+keyLen) - dataHeaderSize
		off := getI64(rest[bodyStart : bodyStart+8])

		if k == key {
			if off == tombstoneOffset {
				found, ok = 0, false
			} else {
				found, ok = off, true
			}
		}
		pos += int64(entryLen)
	}
	return found, ok, nil
}

// Keys streams every live (key, dataOffset) pair across all buckets, last-
// write-wins per key, in bucket then append order. Used by the store's
// OffsetStream and by Rehash.
func (h *HashIndex) Keys(yield func(key string, dataOffset int64) bool) error {
	for _, b := range h.buckets {
		committed := b.committed.Load()
		latest := map[string]int64{}
		order := []string{}
		var pos int64
		for pos < committed {
			hdr := make([]byte, dataHeaderSize)
			if err := b.region.ReadAt(hdr, pos); err != nil {
				return fmt.Errorf("hashindex: keys: %w", err)
			}
			entryLen := getU32(hdr[0:4])
			if entryLen == 0 {
				break
			}
			keyLenRaw := getU32(hdr[4:8])
			if keyLenRaw == padKeyLen {
				pos += int64(entryLen)
				continue
			}
			keyLen := int(keyLenRaw)
			rest := make([]byte, entryLen-dataHeaderSize)
			if err := b.region.ReadAt(rest, pos+dataHeaderSize); err != nil {
				return fmt.Errorf("hashindex: keys body: %w", err)
			}
			k := string(rest[:keyLen])
			bodyStart := align8(dataHeaderSize+keyLen) - dataHeaderSize
			off := getI64(rest[bodyStart : bodyStart+8])
			if _, seen := latest[k]; !seen {
				order = append(order, k)
			}
			latest[k] = off
			pos += int64(entryLen)
		}
		for _, k := range order {
			off := latest[k]
			if off == tombstoneOffset {
				continue
			}
			if !yield(k, off) {
				return nil
			}
		}
	}
	return nil
}

// CommittedOffset reports the aggregate committed cursor across buckets,
// used by the store to publish a single metadata checkpoint value.
func (h *HashIndex) CommittedOffset() int64 {
	var sum int64
	for _, b := range h.buckets {
		sum += b.committed.Load()
	}
	return sum
}

func (h *HashIndex) Sync() error {
	for _, b := range h.buckets {
		if err := b.region.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (h *HashIndex) Close() error {
	var firstErr error
	for _, b := range h.buckets {
		if err := b.region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
