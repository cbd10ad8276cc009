// Checkpoint archiving: a shared zstd encoder/decoder pair (construction
// is expensive; both are safe for concurrent use per the
// klauspost/compress docs) compresses the committed prefix of the log
// into an archive file, so an operator keeps a forensic trail of WAL
// content. Archiving does not truncate the live log.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

var (
	checkpointEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	checkpointDecoder, _ = zstd.NewReader(nil)
)

// Checkpoint finds the highest offset such that every record up to it is
// either a COMMITTED marker or a PENDING record whose commit marker also
// lies at or before that offset, archives the bytes in that prefix as a
// zstd blob under archiveDir, and returns the prefix length.
//
// The live log is left as it is: Checkpoint does not advance the log's
// start or release any segment, so the archived records stay in place
// and later scans still read them. The archive is advisory (nothing
// reads it back into the live log).
func (l *Log) Checkpoint(archiveDir string) (archivedBytes int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefixEnd, err := l.committedPrefixEnd()
	if err != nil {
		return 0, err
	}
	if prefixEnd == 0 {
		return 0, nil
	}

	// Reads must not cross a segment boundary, so the prefix is copied
	// out one segment-bounded chunk at a time.
	raw := make([]byte, prefixEnd)
	var off int64
	for off < prefixEnd {
		n := l.region.RemainingInSegment(off)
		if off+n > prefixEnd {
			n = prefixEnd - off
		}
		if err := l.region.ReadAt(raw[off:off+n], off); err != nil {
			return 0, fmt.Errorf("wal: checkpoint read: %w", err)
		}
		off += n
	}
	compressed := checkpointEncoder.EncodeAll(raw, nil)

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("wal: checkpoint mkdir: %w", err)
	}
	path := filepath.Join(archiveDir, fmt.Sprintf("checkpoint-%d.archive.zst", l.nextTxID.Load()))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return 0, fmt.Errorf("wal: checkpoint write: %w", err)
	}

	l.log.Infow("wal checkpoint archived", "path", path, "bytes", prefixEnd, "compressedBytes", len(compressed))
	return prefixEnd, nil
}

// committedPrefixEnd scans the log once, tracking the offset immediately
// after the last record (pending or committed) that is part of an
// entirely-resolved transaction run from the start of the log. A run is
// "resolved" once every pending txId seen so far also has a commit marker
// seen so far; the prefix end is the offset after the last record in the
// longest such unbroken-from-zero run.
func (l *Log) committedPrefixEnd() (int64, error) {
	pendingSeen := map[int64]bool{}
	committedSeen := map[int64]bool{}

	var pos int64
	var lastResolvedEnd int64
	for pos < l.cursor {
		remaining := l.region.RemainingInSegment(pos)
		if remaining < recordHeaderSize {
			pos = l.region.NextSegmentStart(pos)
			continue
		}
		hdr := make([]byte, recordHeaderSize)
		if err := l.region.ReadAt(hdr, pos); err != nil {
			return 0, fmt.Errorf("wal: checkpoint scan: %w", err)
		}
		entryLen := binary.LittleEndian.Uint32(hdr[0:4])
		if entryLen == 0 {
			break
		}
		status := recordStatus(binary.LittleEndian.Uint32(hdr[4:8]))
		txID := int64(binary.LittleEndian.Uint64(hdr[8:16]))
		pos += int64(entryLen)

		switch status {
		case statusPad:
			continue
		case statusPending:
			pendingSeen[txID] = true
		case statusCommitted:
			committedSeen[txID] = true
		}

		if allResolved(pendingSeen, committedSeen) {
			lastResolvedEnd = pos
		}
	}
	return lastResolvedEnd, nil
}

func allResolved(pending, committed map[int64]bool) bool {
	for txID := range pending {
		if !committed[txID] {
			return false
		}
	}
	return true
}

// RestoreArchive decompresses a checkpoint archive previously written by
// Checkpoint, returning the raw pre-compression WAL bytes. Exposed for
// operator tooling / forensic inspection; the live log never calls it.
func RestoreArchive(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wal: restore read: %w", err)
	}
	raw, err := checkpointDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("wal: restore decode: %w", err)
	}
	return raw, nil
}
