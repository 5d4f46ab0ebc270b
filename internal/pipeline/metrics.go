package pipeline

import (
	"sync/atomic"
	"time"
)

// ProcessingMetrics holds the counters for one pipeline run. Counters are
// updated atomically after every chunk, batch, or item completes and are
// never decremented; a new run gets a fresh instance.
type ProcessingMetrics struct {
	processed atomic.Int64
	failed    atomic.Int64
	elapsed   atomic.Int64 // nanoseconds
}

// NewMetrics returns zeroed metrics for a new run.
func NewMetrics() *ProcessingMetrics {
	return &ProcessingMetrics{}
}

// AddProcessed adds n successfully processed records.
func (m *ProcessingMetrics) AddProcessed(n int) {
	m.processed.Add(int64(n))
}

// AddFailed adds n failed records.
func (m *ProcessingMetrics) AddFailed(n int) {
	m.failed.Add(int64(n))
}

// AddElapsed accumulates processing wall-clock time.
func (m *ProcessingMetrics) AddElapsed(d time.Duration) {
	m.elapsed.Add(d.Nanoseconds())
}

// Processed returns the successfully processed record count.
func (m *ProcessingMetrics) Processed() int64 { return m.processed.Load() }

// Failed returns the failed record count.
func (m *ProcessingMetrics) Failed() int64 { return m.failed.Load() }

// Throughput returns records per second, or 0 when no time has elapsed.
func (m *ProcessingMetrics) Throughput() float64 {
	nanos := m.elapsed.Load()
	if nanos == 0 {
		return 0
	}
	return float64(m.processed.Load()) / (float64(nanos) / float64(time.Second))
}

// Snapshot is an immutable view of the metrics at one point in time.
type Snapshot struct {
	RecordsProcessed int64         `json:"records_processed"`
	RecordsFailed    int64         `json:"records_failed"`
	ProcessingTime   time.Duration `json:"processing_time"`
	Throughput       float64       `json:"throughput"`
}

// Snapshot captures the current counter values.
func (m *ProcessingMetrics) Snapshot() Snapshot {
	return Snapshot{
		RecordsProcessed: m.processed.Load(),
		RecordsFailed:    m.failed.Load(),
		ProcessingTime:   time.Duration(m.elapsed.Load()),
		Throughput:       m.Throughput(),
	}
}
