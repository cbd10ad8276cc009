package ingest

import (
	"sync/atomic"
	"testing"
)

// TestBackpressureAllDocumentsIngested: 10,000 jobs through a queue of
// capacity 64 and 2 workers all complete, with no errors.
func TestBackpressureAllDocumentsIngested(t *testing.T) {
	s := Open(Config{QueueCapacity: 64, Workers: 2}, nil)
	defer s.Close()

	const total = 10000
	var ingested atomic.Int64
	var errs atomic.Int64

	done := make(chan error, total)
	for i := 0; i < total; i++ {
		go func() {
			c, err := s.Submit(func() error {
				ingested.Add(1)
				return nil
			})
			if err != nil {
				done <- err
				return
			}
			done <- c.Wait()
		}()
	}
	for i := 0; i < total; i++ {
		if err := <-done; err != nil {
			errs.Add(1)
		}
	}

	if ingested.Load() != total {
		t.Fatalf("ingested = %d, want %d", ingested.Load(), total)
	}
	if errs.Load() != 0 {
		t.Fatalf("errs = %d, want 0", errs.Load())
	}
}

func TestSubmitAfterCloseReturnsShutdownError(t *testing.T) {
	s := Open(Config{QueueCapacity: 4, Workers: 2}, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Submit(func() error { return nil }); err == nil {
		t.Fatal("want error submitting after close")
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	s := Open(Config{QueueCapacity: 16, Workers: 1}, nil)
	var n atomic.Int64
	handles := make([]*Completion, 0, 8)
	for i := 0; i < 8; i++ {
		c, err := s.Submit(func() error { n.Add(1); return nil })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		handles = append(handles, c)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, c := range handles {
		if err := c.Wait(); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if n.Load() != 8 {
		t.Fatalf("n = %d, want 8", n.Load())
	}
}

func TestWaitIsIdempotent(t *testing.T) {
	s := Open(Config{QueueCapacity: 4, Workers: 1}, nil)
	defer s.Close()
	c, err := s.Submit(func() error { return nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatalf("second wait: %v", err)
	}
}

func TestDefaultWorkerCount(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Workers < 2 {
		t.Fatalf("workers = %d, want >= 2", cfg.Workers)
	}
	if cfg.QueueCapacity != 1024 {
		t.Fatalf("queueCapacity = %d, want 1024", cfg.QueueCapacity)
	}
}
