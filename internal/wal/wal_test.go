package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T, segmentSize int64) *Log {
	t.Helper()
	l, err := Open(t.TempDir(), segmentSize, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAddCommitRoundTrip(t *testing.T) {
	l := openTestLog(t, 64*1024)

	txID, err := l.RecordAdd("doc-1", []FieldPayload{{Key: "name", Type: 1, Payload: encString("alice")}})
	if err != nil {
		t.Fatalf("RecordAdd: %v", err)
	}
	if err := l.Commit(txID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	uncommitted, err := l.ReadUncommitted()
	if err != nil {
		t.Fatalf("ReadUncommitted: %v", err)
	}
	if len(uncommitted) != 0 {
		t.Fatalf("expected no uncommitted entries, got %d", len(uncommitted))
	}
}

func TestReadUncommittedSkipsOnlyCommitted(t *testing.T) {
	l := openTestLog(t, 64*1024)

	committedTx, err := l.RecordAdd("doc-committed", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(committedTx); err != nil {
		t.Fatal(err)
	}
	pendingTx, err := l.RecordRemove("doc-pending")
	if err != nil {
		t.Fatal(err)
	}

	uncommitted, err := l.ReadUncommitted()
	if err != nil {
		t.Fatalf("ReadUncommitted: %v", err)
	}
	if len(uncommitted) != 1 {
		t.Fatalf("expected exactly 1 uncommitted entry, got %d", len(uncommitted))
	}
	if uncommitted[0].TxID != pendingTx {
		t.Fatalf("txId = %d, want %d", uncommitted[0].TxID, pendingTx)
	}
	if uncommitted[0].Entry.Kind != EntryRemove || uncommitted[0].Entry.DocID != "doc-pending" {
		t.Fatalf("unexpected entry: %+v", uncommitted[0].Entry)
	}
}

func TestSegmentBoundaryPadding(t *testing.T) {
	// A small segment size forces several records to straddle segment
	// boundaries, exercising the pad-and-jump path in append/recoverCursor.
	l := openTestLog(t, 256)

	var txIDs []int64
	for i := 0; i < 20; i++ {
		txID, err := l.RecordAdd("doc", []FieldPayload{{Key: "k", Type: 2, Payload: []byte{1, 2, 3, 4}}})
		if err != nil {
			t.Fatalf("RecordAdd %d: %v", i, err)
		}
		txIDs = append(txIDs, txID)
	}

	uncommitted, err := l.ReadUncommitted()
	if err != nil {
		t.Fatalf("ReadUncommitted: %v", err)
	}
	if len(uncommitted) != len(txIDs) {
		t.Fatalf("got %d uncommitted entries, want %d", len(uncommitted), len(txIDs))
	}
}

func TestRecoverCursorAfterReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	l, err := Open(dir, 64*1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	txID, err := l.RecordAdd("doc-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(txID); err != nil {
		t.Fatal(err)
	}
	cursorBefore := l.CommittedOffset()
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, 64*1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.CommittedOffset() != cursorBefore {
		t.Fatalf("cursor after reopen = %d, want %d", reopened.CommittedOffset(), cursorBefore)
	}
}

// TestCheckpointArchivesMultiSegmentPrefix commits enough records to span
// several segments, then verifies Checkpoint archives the whole committed
// prefix and the archive decompresses back to the raw bytes.
func TestCheckpointArchivesMultiSegmentPrefix(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "log"), 256, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 30; i++ {
		txID, err := l.RecordAdd("doc", []FieldPayload{{Key: "k", Type: 2, Payload: []byte{1, 2, 3, 4}}})
		if err != nil {
			t.Fatalf("RecordAdd %d: %v", i, err)
		}
		if err := l.Commit(txID); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	archiveDir := filepath.Join(dir, "archive")
	archived, err := l.Checkpoint(archiveDir)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if archived <= 256 {
		t.Fatalf("archived %d bytes, want a multi-segment prefix", archived)
	}

	entries, err := os.ReadDir(archiveDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("archive dir: entries=%d err=%v", len(entries), err)
	}
	raw, err := RestoreArchive(filepath.Join(archiveDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("RestoreArchive: %v", err)
	}
	if int64(len(raw)) != archived {
		t.Fatalf("restored %d bytes, want %d", len(raw), archived)
	}
}

func encString(s string) []byte {
	buf := make([]byte, 4+len(s))
	buf[0] = byte(len(s))
	copy(buf[4:], s)
	return buf
}
