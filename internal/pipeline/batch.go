package pipeline

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/metrics"
)

// BatchConfig tunes the batch strategy.
type BatchConfig struct {
	// Size bounds a chunk by item count.
	Size int
	// MemoryCeilingBytes bounds a chunk by measured heap allocation; a
	// chunk is cut early once the heap crosses the ceiling. Zero disables
	// the memory bound and the count bound alone governs chunking.
	MemoryCeilingBytes uint64
}

// BatchProcessor groups an incoming sequence into chunks bounded by item
// count or a best-effort memory ceiling, whichever triggers first. A failed
// chunk is counted and skipped; it never stops ingestion of the rest of the
// stream. The final partial chunk is flushed before returning.
type BatchProcessor struct {
	cfg    BatchConfig
	stage  Stage
	hasher joblens.Hasher
	clock  joblens.Clock
	logger *zap.Logger

	readMem func() uint64
}

// NewBatch constructs a batch processor around a stage chain.
func NewBatch(cfg BatchConfig, stage Stage, hasher joblens.Hasher, clock joblens.Clock, logger *zap.Logger) (*BatchProcessor, error) {
	if cfg.Size <= 0 {
		return nil, &joblens.ConfigError{Field: "batch size", Reason: "must be > 0"}
	}
	if stage == nil {
		return nil, &joblens.ConfigError{Field: "batch stage", Reason: "is required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		cfg:     cfg,
		stage:   stage,
		hasher:  hasher,
		clock:   clock,
		logger:  logger,
		readMem: heapAlloc,
	}, nil
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Process consumes records in order, cutting and processing chunks as the
// bounds trigger.
func (b *BatchProcessor) Process(ctx context.Context, records []joblens.Posting) (Result, error) {
	m := NewMetrics()
	var out []joblens.Posting

	buffer := make([]joblens.Posting, 0, b.cfg.Size)
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		processed, err := b.processChunk(ctx, buffer, m)
		buffer = buffer[:0]
		if err != nil {
			return err
		}
		out = append(out, processed...)
		return nil
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return Result{Records: out, Metrics: m.Snapshot()}, err
		}
		buffer = append(buffer, record)
		if len(buffer) >= b.cfg.Size || b.memoryExceeded() {
			if err := flush(); err != nil {
				return Result{Records: out, Metrics: m.Snapshot()}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Result{Records: out, Metrics: m.Snapshot()}, err
	}

	return Result{Records: out, Metrics: m.Snapshot()}, nil
}

// processChunk runs the stage chain over one chunk. A stage failure is
// recorded against the whole chunk and swallowed.
func (b *BatchProcessor) processChunk(ctx context.Context, items []joblens.Posting, m *ProcessingMetrics) ([]joblens.Posting, error) {
	chunk, err := NewChunk("", items, b.hasher, b.clock)
	if err != nil {
		return nil, err
	}

	start := b.clock.Now()
	processed, stageErr := b.stage(ctx, chunk.Items)
	elapsed := b.clock.Now().Sub(start)
	m.AddElapsed(elapsed)
	metrics.ObserveChunk(string(ModeBatch), elapsed.Seconds())

	if stageErr != nil {
		m.AddFailed(len(chunk.Items))
		metrics.AddPipelineRecords(string(ModeBatch), "failed", len(chunk.Items))
		b.logger.Warn("chunk failed",
			zap.String("chunk_id", chunk.ID),
			zap.Int("size", len(chunk.Items)),
			zap.Error(stageErr))
		return nil, nil
	}

	m.AddProcessed(len(chunk.Items))
	metrics.AddPipelineRecords(string(ModeBatch), "ok", len(chunk.Items))
	return processed, nil
}

func (b *BatchProcessor) memoryExceeded() bool {
	if b.cfg.MemoryCeilingBytes == 0 {
		return false
	}
	return b.readMem() >= b.cfg.MemoryCeilingBytes
}
