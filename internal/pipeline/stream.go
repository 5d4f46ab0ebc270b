package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/metrics"
)

// StreamState is the lifecycle state of a stream processor.
type StreamState int32

// Stream processor states.
const (
	StreamIdle StreamState = iota
	StreamRunning
	StreamDraining
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamRunning:
		return "running"
	case StreamDraining:
		return "draining"
	case StreamStopped:
		return "stopped"
	}
	return "unknown"
}

// StreamConfig tunes the stream strategy.
type StreamConfig struct {
	// BufferCapacity is the fixed size of the ring buffer.
	BufferCapacity int
	// BackpressureRatio is the occupancy fraction at which ingestion
	// pauses before accepting more items.
	BackpressureRatio float64
	// ProcessingRate is the batch-trigger size: once this many items are
	// buffered, a batch of that size is drained and processed.
	ProcessingRate int
	// PauseInterval is the backpressure delay.
	PauseInterval time.Duration
}

// StreamProcessor ingests continuously into a bounded ring buffer with
// backpressure, draining FIFO batches as the processing-rate threshold is
// reached. Items are never dropped silently; the only flow control is the
// backpressure pause. Push and drain are mutually exclusive so discovery
// order is preserved.
type StreamProcessor struct {
	cfg    StreamConfig
	stage  Stage
	clock  joblens.Clock
	logger *zap.Logger

	state  atomic.Int32
	stop   atomic.Bool
	pauses atomic.Int64

	mu    sync.Mutex
	buf   []joblens.Posting
	head  int
	count int
}

// NewStream constructs a stream processor.
func NewStream(cfg StreamConfig, stage Stage, clock joblens.Clock, logger *zap.Logger) (*StreamProcessor, error) {
	if cfg.BufferCapacity <= 0 {
		return nil, &joblens.ConfigError{Field: "buffer capacity", Reason: "must be > 0"}
	}
	if cfg.BackpressureRatio <= 0 || cfg.BackpressureRatio > 1 {
		return nil, &joblens.ConfigError{Field: "backpressure ratio", Reason: "must be in (0, 1]"}
	}
	if cfg.ProcessingRate <= 0 || cfg.ProcessingRate > cfg.BufferCapacity {
		return nil, &joblens.ConfigError{Field: "processing rate", Reason: "must be in [1, buffer capacity]"}
	}
	if stage == nil {
		return nil, &joblens.ConfigError{Field: "stream stage", Reason: "is required"}
	}
	if cfg.PauseInterval <= 0 {
		cfg.PauseInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamProcessor{
		cfg:    cfg,
		stage:  stage,
		clock:  clock,
		logger: logger,
		buf:    make([]joblens.Posting, cfg.BufferCapacity),
	}, nil
}

// State returns the current lifecycle state.
func (s *StreamProcessor) State() StreamState {
	return StreamState(s.state.Load())
}

// Stop requests the transition to draining: no new items are accepted, the
// buffered items are fully processed, then the processor reaches Stopped.
func (s *StreamProcessor) Stop() {
	s.stop.Store(true)
}

// BackpressurePauses reports how many times ingestion paused.
func (s *StreamProcessor) BackpressurePauses() int64 {
	return s.pauses.Load()
}

// Process ingests the records as a stream: push with backpressure, drain
// batches at the processing-rate threshold, then drain the remainder.
func (s *StreamProcessor) Process(ctx context.Context, records []joblens.Posting) (Result, error) {
	m := NewMetrics()
	s.state.Store(int32(StreamRunning))
	var out []joblens.Posting

	for _, record := range records {
		if s.stop.Load() || ctx.Err() != nil {
			break
		}
		if err := s.push(ctx, record); err != nil {
			break
		}
		for s.occupancy() >= s.cfg.ProcessingRate {
			out = append(out, s.drainBatch(ctx, s.cfg.ProcessingRate, m)...)
		}
	}

	s.state.Store(int32(StreamDraining))
	for s.occupancy() > 0 {
		n := min(s.cfg.ProcessingRate, s.occupancy())
		out = append(out, s.drainBatch(ctx, n, m)...)
	}
	s.state.Store(int32(StreamStopped))

	return Result{Records: out, Metrics: m.Snapshot()}, ctx.Err()
}

// push appends one item, pausing first when occupancy has reached the
// backpressure threshold.
func (s *StreamProcessor) push(ctx context.Context, record joblens.Posting) error {
	threshold := int(float64(s.cfg.BufferCapacity) * s.cfg.BackpressureRatio)
	if s.occupancy() >= threshold {
		s.pauses.Add(1)
		metrics.IncBackpressurePause()
		if err := sleepCtx(ctx, s.cfg.PauseInterval); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == s.cfg.BufferCapacity {
		// The caller drains before the buffer can fill; reaching here
		// means the processing rate exceeds capacity, which the
		// constructor rejects.
		return joblens.ErrStopped
	}
	s.buf[(s.head+s.count)%s.cfg.BufferCapacity] = record
	s.count++
	return nil
}

func (s *StreamProcessor) occupancy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// drainBatch removes n items from the head in FIFO order and processes them
// one at a time, counting per-item failures without stopping the batch.
func (s *StreamProcessor) drainBatch(ctx context.Context, n int, m *ProcessingMetrics) []joblens.Posting {
	s.mu.Lock()
	if n > s.count {
		n = s.count
	}
	batch := make([]joblens.Posting, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, s.buf[s.head])
		s.head = (s.head + 1) % s.cfg.BufferCapacity
		s.count--
	}
	s.mu.Unlock()

	start := s.clock.Now()
	out := make([]joblens.Posting, 0, len(batch))
	for _, item := range batch {
		processed, err := s.stage(ctx, []joblens.Posting{item})
		if err != nil {
			m.AddFailed(1)
			metrics.AddPipelineRecords(string(ModeStream), "failed", 1)
			s.logger.Debug("item failed", zap.String("title", item.RawTitle), zap.Error(err))
			continue
		}
		m.AddProcessed(1)
		metrics.AddPipelineRecords(string(ModeStream), "ok", 1)
		out = append(out, processed...)
	}
	elapsed := s.clock.Now().Sub(start)
	m.AddElapsed(elapsed)
	metrics.ObserveChunk(string(ModeStream), elapsed.Seconds())
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
