package catalog

import (
	"testing"
)

func mustOpen(t *testing.T, dir string) *Persister {
	t.Helper()
	p, err := Open(dir, Config{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

func TestAddGetRoundTrip(t *testing.T) {
	p := mustOpen(t, t.TempDir())
	defer p.Close()

	doc, err := NewDocument(NewDocumentID(),
		Field{Key: "name", Value: StringValue("John")},
		Field{Key: "age", Value: IntValue(30)},
		Field{Key: "embedding", Value: VectorValue([]float32{1, 0, 0})},
	)
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	res, err := p.Add(doc)
	if err != nil || !res.Success {
		t.Fatalf("add: res=%+v err=%v", res, err)
	}

	got, ok, err := p.GetByDocID(doc.ID())
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	name, _ := got.Field("name")
	if name.Value.Str != "John" {
		t.Fatalf("name = %q", name.Value.Str)
	}
	age, _ := got.Field("age")
	if age.Value.Int != 30 {
		t.Fatalf("age = %d", age.Value.Int)
	}
	emb, _ := got.Field("embedding")
	if len(emb.Value.Vector) != 3 || emb.Value.Vector[0] != 1 {
		t.Fatalf("embedding = %v", emb.Value.Vector)
	}
}

func TestOverwriteIsLastWriterWins(t *testing.T) {
	p := mustOpen(t, t.TempDir())
	defer p.Close()

	id := NewDocumentID()
	d1, _ := NewDocument(id, Field{Key: "v", Value: IntValue(1)})
	d2, _ := NewDocument(id, Field{Key: "v", Value: IntValue(2)})

	r1, err := p.Add(d1)
	if err != nil || !r1.Success {
		t.Fatalf("add d1: %v %v", r1, err)
	}
	r2, err := p.Add(d2)
	if err != nil || !r2.Success {
		t.Fatalf("add d2: %v %v", r2, err)
	}
	if r1.InternalID != r2.InternalID {
		t.Fatalf("internal id changed on overwrite: %d vs %d", r1.InternalID, r2.InternalID)
	}

	got, ok, err := p.GetByDocID(id)
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	v, _ := got.Field("v")
	if v.Value.Int != 2 {
		t.Fatalf("v = %d, want 2 (last writer wins)", v.Value.Int)
	}

	n, err := p.Count()
	if err != nil || n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestRemoveTombstones(t *testing.T) {
	p := mustOpen(t, t.TempDir())
	defer p.Close()

	doc, _ := NewDocument(NewDocumentID(), Field{Key: "v", Value: IntValue(1)})
	if _, err := p.Add(doc); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.Remove(doc.ID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, ok, err := p.GetByDocID(doc.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("want absent after remove")
	}
}

func TestCrashRecoveryDropsUncommittedLast(t *testing.T) {
	dir := t.TempDir()
	p := mustOpen(t, dir)

	var ids []DocumentID
	for i := 0; i < 99; i++ {
		doc, _ := NewDocument(NewDocumentID(), Field{Key: "v", Value: IntValue(int32(i))})
		if _, err := p.Add(doc); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		ids = append(ids, doc.ID())
	}

	// Simulate a crash between recordAdd and commit on the 100th document:
	// append the WAL record directly, bypassing Persister.Add's commit.
	doc100, _ := NewDocument(NewDocumentID(), Field{Key: "v", Value: IntValue(100)})
	payloads, err := encodeFieldPayloads(doc100.Fields())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := p.wal.RecordAdd(doc100.ID().String(), payloads); err != nil {
		t.Fatalf("record add: %v", err)
	}
	if err := p.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	if err := p.wal.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	reopened := mustOpen(t, dir)
	defer reopened.Close()

	n, err := reopened.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 99 {
		t.Fatalf("count = %d, want 99", n)
	}
	for _, id := range ids {
		if _, ok, err := reopened.GetByDocID(id); err != nil || !ok {
			t.Fatalf("expected prior doc %s recoverable: ok=%v err=%v", id, ok, err)
		}
	}
	if _, ok, err := reopened.GetByDocID(doc100.ID()); err != nil || ok {
		t.Fatalf("expected 100th doc dropped by replay: ok=%v err=%v", ok, err)
	}
}

func TestInternalIDsEnumeratesLiveDocs(t *testing.T) {
	p := mustOpen(t, t.TempDir())
	defer p.Close()

	for i := 0; i < 5; i++ {
		doc, _ := NewDocument(NewDocumentID(), Field{Key: "v", Value: IntValue(int32(i))})
		if _, err := p.Add(doc); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	seen := map[int64]bool{}
	if err := p.InternalIDs(func(id int64) bool { seen[id] = true; return true }); err != nil {
		t.Fatalf("internal ids: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("got %d internal ids, want 5", len(seen))
	}
}

func TestDuplicateFieldKeyRejected(t *testing.T) {
	_, err := NewDocument(NewDocumentID(),
		Field{Key: "v", Value: IntValue(1)},
		Field{Key: "v", Value: IntValue(2)},
	)
	if err == nil {
		t.Fatal("want error for duplicate field key")
	}
}

