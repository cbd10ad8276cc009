// Bucket-count migration: the key space is re-partitioned into a new
// bucket count by rebuilding the index from the live key enumeration.
// The data log itself is keyed by unchanged string keys, so only the
// index's bucket assignment needs to move.
package kv

import (
	"fmt"
	"os"
	"path/filepath"
)

// Rehash repartitions the store's hash index into newBucketCount buckets,
// making the bucket count a live tuning knob rather than a fixed
// open-time constant. Every live key is re-inserted into a freshly built
// index before the old one is discarded, so a crash mid-rehash leaves the
// original index untouched.
func (s *Store) Rehash(newBucketCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("kv.Rehash"); err != nil {
		return err
	}

	newDir := filepath.Join(s.dir, "index-rehash")
	if err := os.RemoveAll(newDir); err != nil {
		return fmt.Errorf("kv: rehash clean: %w", err)
	}
	next, err := OpenHashIndex(newDir, newBucketCount, s.cfg.IndexSegmentBytes, s.cfg.HashAlgorithm, s.log)
	if err != nil {
		return fmt.Errorf("kv: rehash open: %w", err)
	}

	var copyErr error
	if err := s.index.Keys(func(key string, offset int64) bool {
		if putErr := next.Put(key, offset); putErr != nil {
			copyErr = putErr
			return false
		}
		return true
	}); err != nil {
		next.Close()
		os.RemoveAll(newDir)
		return fmt.Errorf("kv: rehash scan: %w", err)
	}
	if copyErr != nil {
		next.Close()
		os.RemoveAll(newDir)
		return fmt.Errorf("kv: rehash copy: %w", copyErr)
	}
	if err := next.Sync(); err != nil {
		next.Close()
		os.RemoveAll(newDir)
		return fmt.Errorf("kv: rehash sync: %w", err)
	}

	oldDir := filepath.Join(s.dir, "index")
	if err := s.index.Close(); err != nil {
		next.Close()
		os.RemoveAll(newDir)
		return fmt.Errorf("kv: rehash close old: %w", err)
	}
	if err := os.RemoveAll(oldDir); err != nil {
		return fmt.Errorf("kv: rehash remove old: %w", err)
	}
	if err := os.Rename(newDir, oldDir); err != nil {
		return fmt.Errorf("kv: rehash rename: %w", err)
	}

	s.index = next
	s.cfg.Buckets = newBucketCount
	if err := s.commit(); err != nil {
		return fmt.Errorf("kv: rehash commit: %w", err)
	}
	s.log.Infow("kv store rehashed", "buckets", newBucketCount)
	return nil
}
