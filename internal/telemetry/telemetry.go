// Package telemetry defines the counter/timer/gauge hooks an embedder can
// supply to observe engine internals, and a no-op default so every
// component can call its hooks unconditionally.
package telemetry

import "time"

// Hooks is the full set of telemetry callbacks an embedder may supply.
// Every field defaults to a no-op when Hooks is the zero value via Fill.
type Hooks struct {
	Counter func(name string, delta int64)
	Timer   func(name string, d time.Duration)
	Gauge   func(name string, value float64)
}

// Metric names. Components should use these constants rather than inline
// string literals so a typo doesn't silently create a new metric.
const (
	CounterDocumentInserts  = "document_inserts"
	CounterDocumentRemovals = "document_removals"
	CounterSearchCount      = "search_count"
	CounterHNSWDistanceCalc = "hnsw_distance_calcs"

	TimerDocumentInsertLatency = "document_insert_latency"
	TimerDocumentRemoveLatency = "document_remove_latency"
	TimerSearchLatency         = "search_latency"

	GaugeOffHeapMemory       = "off_heap_memory"
	GaugeStoredDocuments     = "stored_documents"
	GaugeInsertQueue         = "insert_queue"
	GaugeIndexRecallEstimate = "index_recall_estimate"
)

func noopCounter(string, int64)       {}
func noopTimer(string, time.Duration) {}
func noopGauge(string, float64)       {}

// NewNop returns Hooks whose fields are all safe no-ops.
func NewNop() Hooks {
	return Hooks{Counter: noopCounter, Timer: noopTimer, Gauge: noopGauge}
}

// Fill replaces any nil field of h with its no-op counterpart, so callers
// that only care about one hook don't have to supply all three.
func (h Hooks) Fill() Hooks {
	if h.Counter == nil {
		h.Counter = noopCounter
	}
	if h.Timer == nil {
		h.Timer = noopTimer
	}
	if h.Gauge == nil {
		h.Gauge = noopGauge
	}
	return h
}

// Count is a convenience for Counter(name, 1).
func (h Hooks) Count(name string) { h.Counter(name, 1) }

// Since records a timer as the elapsed time since start.
func (h Hooks) Since(name string, start time.Time) { h.Timer(name, time.Since(start)) }
