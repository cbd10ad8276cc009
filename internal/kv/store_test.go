package kv

import (
	"testing"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, Config{Buckets: 16, DataSegmentBytes: 64 * 1024, IndexSegmentBytes: 64 * 1024}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGetAllValueTypes(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	if err := s.PutString("s", "hello"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if err := s.PutInt("i", -42); err != nil {
		t.Fatalf("PutInt: %v", err)
	}
	if err := s.PutFloatArray("v", []float32{1, 2.5, -3}); err != nil {
		t.Fatalf("PutFloatArray: %v", err)
	}
	if err := s.PutFloatMatrix("m", 2, 3, []float32{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("PutFloatMatrix: %v", err)
	}
	if err := s.PutBytes("b", []byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	if v, ok, err := s.GetString("s"); err != nil || !ok || v != "hello" {
		t.Fatalf("GetString = %q ok=%v err=%v", v, ok, err)
	}
	if v, ok, err := s.GetInt("i"); err != nil || !ok || v != -42 {
		t.Fatalf("GetInt = %d ok=%v err=%v", v, ok, err)
	}
	if v, ok, err := s.GetFloatArray("v"); err != nil || !ok || len(v) != 3 || v[1] != 2.5 {
		t.Fatalf("GetFloatArray = %v ok=%v err=%v", v, ok, err)
	}
	if v, rows, cols, ok, err := s.GetFloatMatrix("m"); err != nil || !ok || rows != 2 || cols != 3 || v[5] != 6 {
		t.Fatalf("GetFloatMatrix = %v %dx%d ok=%v err=%v", v, rows, cols, ok, err)
	}
	if v, ok, err := s.GetBytes("b"); err != nil || !ok || len(v) != 2 || v[0] != 0xDE {
		t.Fatalf("GetBytes = %v ok=%v err=%v", v, ok, err)
	}
}

func TestGetAbsentKeyReturnsNotOK(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	if _, ok, err := s.GetString("missing"); err != nil || ok {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}
}

func TestTypeMismatchIsError(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	if err := s.PutString("k", "v"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if _, _, err := s.GetInt("k"); err == nil {
		t.Fatal("want type-mismatch error reading a string as an int")
	}
}

func TestLastWriterWins(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	if err := s.PutString("k", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutString("k", "second"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s.GetString("k"); !ok || v != "second" {
		t.Fatalf("got %q ok=%v, want last write", v, ok)
	}
}

// TestTombstoneHidesEarlierWrites: after Remove, the key reads as absent
// even though earlier segments still physically contain it.
func TestTombstoneHidesEarlierWrites(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	if err := s.PutString("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := s.GetString("k"); err != nil || ok {
		t.Fatalf("after Remove: ok=%v err=%v, want absent", ok, err)
	}
}

// TestDurabilityAcrossReopen: every key observable after close and reopen
// carries the most recent put.
func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	if err := s.PutString("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutInt("b", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.PutString("a", "updated"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := openTestStore(t, dir)
	defer s2.Close()
	if v, ok, _ := s2.GetString("a"); !ok || v != "updated" {
		t.Fatalf("a = %q ok=%v, want updated", v, ok)
	}
	if v, ok, _ := s2.GetInt("b"); !ok || v != 2 {
		t.Fatalf("b = %d ok=%v, want 2", v, ok)
	}
}

func TestOffsetStreamEnumeratesLiveKeysOnce(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	if err := s.PutString("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutString("a", "2"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutString("b", "3"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutString("c", "4"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("c"); err != nil {
		t.Fatal(err)
	}

	seen := map[string]int{}
	err := s.OffsetStream(func(key string, _ int64) bool {
		seen[key]++
		return true
	})
	if err != nil {
		t.Fatalf("OffsetStream: %v", err)
	}
	if seen["a"] != 1 || seen["b"] != 1 {
		t.Fatalf("want each live key exactly once, got %v", seen)
	}
	if seen["c"] != 0 {
		t.Fatalf("tombstoned key enumerated: %v", seen)
	}
}

// TestPutsAcrossSegmentBoundaries uses segments small enough that both
// the data log and the index buckets roll over many times, then checks
// every key survives lookup, enumeration and reopen.
func TestPutsAcrossSegmentBoundaries(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Buckets: 4, DataSegmentBytes: 256, IndexSegmentBytes: 128}
	s, err := Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		key := "key-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i%10))
		if err := s.PutInt(key+"-int", int32(i)); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		if err := s.PutString(key+"-str", "value-with-some-width"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	var seen int
	if err := s.OffsetStream(func(string, int64) bool { seen++; return true }); err != nil {
		t.Fatalf("offset stream: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	var seen2 int
	if err := s2.OffsetStream(func(key string, _ int64) bool {
		seen2++
		if _, _, err := s2.GetString(key); err != nil {
			if _, _, ierr := s2.GetInt(key); ierr != nil {
				t.Fatalf("key %q unreadable after reopen: %v / %v", key, err, ierr)
			}
		}
		return true
	}); err != nil {
		t.Fatalf("offset stream after reopen: %v", err)
	}
	if seen2 != seen {
		t.Fatalf("keys after reopen = %d, want %d", seen2, seen)
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.PutString("k", "v"); err == nil {
		t.Fatal("want error putting after close")
	}
	if _, _, err := s.GetString("k"); err == nil {
		t.Fatal("want error getting after close")
	}
}
