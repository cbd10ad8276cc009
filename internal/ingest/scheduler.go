// Package ingest implements a bounded-queue worker pool: producers block
// on a full queue (backpressure), workers drain jobs until Close
// deterministically stops them, and queue depth / throughput are exposed
// through telemetry hooks.
package ingest

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/telemetry"
	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// Config sizes the scheduler. Workers defaults to max(cores/4, 2), the
// engine's own worker-pool rule.
type Config struct {
	QueueCapacity int
	Workers       int
	Hooks         telemetry.Hooks
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU() / 4
		if c.Workers < 2 {
			c.Workers = 2
		}
	}
	return c
}

type job struct {
	fn   func() error
	done chan error
}

// Completion is the handle Submit returns: Wait blocks until a worker has
// run the job and reports its error. Wait may be called more than once;
// every call returns the same outcome.
type Completion struct {
	once sync.Once
	done chan error
	err  error
}

// Wait blocks until the submitted job has run and returns its error.
func (c *Completion) Wait() error {
	c.once.Do(func() { c.err = <-c.done })
	return c.err
}

// Scheduler is a bounded work queue backed by a fixed worker pool.
type Scheduler struct {
	jobs   chan job
	hooks  telemetry.Hooks
	log    *zap.SugaredLogger
	wg     sync.WaitGroup
	depth  atomic.Int64
	closed atomic.Bool
}

// Open starts cfg.Workers workers draining a queue of capacity
// cfg.QueueCapacity.
func Open(cfg Config, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		jobs:  make(chan job, cfg.QueueCapacity),
		hooks: cfg.Hooks.Fill(),
		log:   log,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	log.Infow("ingestion scheduler started", "workers", cfg.Workers, "queueCapacity", cfg.QueueCapacity)
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.depth.Add(-1)
		s.hooks.Gauge(telemetry.GaugeInsertQueue, float64(s.depth.Load()))
		err := j.fn()
		if j.done != nil {
			j.done <- err
		}
	}
}

// Submit enqueues fn, blocking the caller only while the queue is full
// (backpressure), and returns a Completion the caller can Wait on for
// the job's eventual outcome.
func (s *Scheduler) Submit(fn func() error) (*Completion, error) {
	if s.closed.Load() {
		return nil, verrors.New(verrors.KindShutdown, "ingest.Scheduler.Submit", verrors.ErrClosed)
	}
	c := &Completion{done: make(chan error, 1)}
	s.depth.Add(1)
	s.hooks.Gauge(telemetry.GaugeInsertQueue, float64(s.depth.Load()))
	s.jobs <- job{fn: fn, done: c.done}
	return c, nil
}

// QueueDepth reports the number of submitted jobs no worker has taken
// yet, including submissions still blocked on a full queue; a job a
// worker is running is no longer counted.
func (s *Scheduler) QueueDepth() int64 { return s.depth.Load() }

// Close drains every already-queued job, waits for all workers to exit,
// then returns. Submit after Close returns a shutdown error.
func (s *Scheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.jobs)
	s.wg.Wait()
	s.log.Infow("ingestion scheduler stopped")
	return nil
}
