package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/metrics"
)

// KV is one key/value pair emitted by a map function.
type KV struct {
	Key   string
	Value any
}

// MapFunc turns one posting into zero or more key/value pairs.
type MapFunc func(ctx context.Context, record joblens.Posting) ([]KV, error)

// ReduceFunc folds all values observed for one key into a single result.
type ReduceFunc func(ctx context.Context, key string, values []any) (any, error)

// MapReduceConfig tunes the map-reduce strategy.
type MapReduceConfig struct {
	// Workers bounds map-phase parallelism.
	Workers int
	// Reducers bounds reduce-phase parallelism.
	Reducers int
}

// MapReduceProcessor runs map in parallel over the input, shuffles emitted
// pairs by key in first-seen order, then reduces each key with bounded
// concurrency. A failing record or key drops only its own contribution.
type MapReduceProcessor struct {
	cfg    MapReduceConfig
	mapFn  MapFunc
	reduce ReduceFunc
	clock  joblens.Clock
	logger *zap.Logger
}

// NewMapReduce constructs a map-reduce processor.
func NewMapReduce(cfg MapReduceConfig, mapFn MapFunc, reduce ReduceFunc, clock joblens.Clock, logger *zap.Logger) (*MapReduceProcessor, error) {
	if cfg.Workers <= 0 {
		return nil, &joblens.ConfigError{Field: "map workers", Reason: "must be > 0"}
	}
	if cfg.Reducers <= 0 {
		return nil, &joblens.ConfigError{Field: "reducer count", Reason: "must be > 0"}
	}
	if mapFn == nil || reduce == nil {
		return nil, &joblens.ConfigError{Field: "map/reduce functions", Reason: "are required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapReduceProcessor{
		cfg:    cfg,
		mapFn:  mapFn,
		reduce: reduce,
		clock:  clock,
		logger: logger,
	}, nil
}

// Process executes the three phases and returns one Reduction per key whose
// reduce succeeded. Throughput is computed once, from total wall-clock time.
func (p *MapReduceProcessor) Process(ctx context.Context, records []joblens.Posting) (Result, error) {
	m := NewMetrics()
	start := p.clock.Now()

	pairs, mapped := p.mapPhase(ctx, records, m)
	grouped, order := shuffle(pairs)
	reductions := p.reducePhase(ctx, grouped, order, m)

	m.AddProcessed(mapped)
	m.AddElapsed(p.clock.Now().Sub(start))
	metrics.AddPipelineRecords(string(ModeMapReduce), "ok", mapped)

	return Result{Reductions: reductions, Metrics: m.Snapshot()}, ctx.Err()
}

// mapPhase applies the map function to every record with bounded
// parallelism. Outputs are collected per input index so the shuffle sees
// pairs in deterministic input order regardless of scheduling.
func (p *MapReduceProcessor) mapPhase(ctx context.Context, records []joblens.Posting, m *ProcessingMetrics) ([]KV, int) {
	perRecord := make([][]KV, len(records))
	failed := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, record := range records {
		g.Go(func() error {
			pairs, err := p.mapFn(gctx, record)
			if err != nil {
				failed[i] = true
				p.logger.Debug("map failed", zap.String("title", record.RawTitle), zap.Error(err))
				return nil
			}
			perRecord[i] = pairs
			return nil
		})
	}
	_ = g.Wait()

	mapped := 0
	var pairs []KV
	for i := range records {
		if failed[i] {
			m.AddFailed(1)
			metrics.AddPipelineRecords(string(ModeMapReduce), "failed", 1)
			continue
		}
		mapped++
		pairs = append(pairs, perRecord[i]...)
	}
	return pairs, mapped
}

// shuffle groups pairs by key, keys ordered by first appearance.
func shuffle(pairs []KV) (map[string][]any, []string) {
	grouped := make(map[string][]any)
	var order []string
	for _, pair := range pairs {
		if _, seen := grouped[pair.Key]; !seen {
			order = append(order, pair.Key)
		}
		grouped[pair.Key] = append(grouped[pair.Key], pair.Value)
	}
	return grouped, order
}

func (p *MapReduceProcessor) reducePhase(ctx context.Context, grouped map[string][]any, order []string, m *ProcessingMetrics) []Reduction {
	results := make([]*Reduction, len(order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Reducers)
	for i, key := range order {
		g.Go(func() error {
			value, err := p.reduce(gctx, key, grouped[key])
			if err != nil {
				m.AddFailed(1)
				p.logger.Debug("reduce failed", zap.String("key", key), zap.Error(err))
				return nil
			}
			results[i] = &Reduction{Key: key, Value: value}
			return nil
		})
	}
	_ = g.Wait()

	reductions := make([]Reduction, 0, len(order))
	for _, r := range results {
		if r != nil {
			reductions = append(reductions, *r)
		}
	}
	return reductions
}
