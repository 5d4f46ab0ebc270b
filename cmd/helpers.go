package cmd

import (
	"context"
	"fmt"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/clock/system"
	"github.com/joblens/joblens/internal/config"
	"github.com/joblens/joblens/internal/enrich"
	sha256hash "github.com/joblens/joblens/internal/hash/sha256"
	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/pipeline"
	memorypub "github.com/joblens/joblens/internal/publisher/memory"
	"github.com/joblens/joblens/internal/publisher/pubsub"
	"github.com/joblens/joblens/internal/seencache"
	"github.com/joblens/joblens/internal/store"
)

func newHasher() joblens.Hasher { return sha256hash.New() }

// buildStore constructs the configured storage collaborator. The returned
// closer releases connection pool resources and is a no-op for the memory
// provider.
func buildStore(ctx context.Context, cfg config.Config, clock joblens.Clock) (joblens.Store, func(), error) {
	switch cfg.Store.Provider {
	case "memory":
		return store.NewMemory(clock), func() {}, nil
	case "postgres":
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{
			DSN:      cfg.Store.DSN,
			Table:    cfg.Store.Table,
			MaxConns: cfg.Store.MaxConns,
		}, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

// buildPublisher constructs the configured event publisher.
func buildPublisher(ctx context.Context, cfg config.Config) (joblens.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "memory":
		return memorypub.New(), func() {}, nil
	case "pubsub":
		client, err := pubsubv2.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub client: %w", err)
		}
		return pubsub.New(client.Publisher(cfg.Publisher.TopicName)), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher provider %q", cfg.Publisher.Provider)
	}
}

// buildSeenCache constructs and loads the cross-run dedup cache.
func buildSeenCache(cfg config.Config, clock joblens.Clock, logger *zap.Logger) (*seencache.Cache, error) {
	cache, err := seencache.New(cfg.Cache.Dir, cfg.CacheDuration(), clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init dedup cache: %w", err)
	}
	if err := cache.Load(cfg.Cache.ProfileID); err != nil {
		return nil, fmt.Errorf("load dedup cache: %w", err)
	}
	return cache, nil
}

// buildEnrichmentStage chains the description fetch and scoring stages.
func buildEnrichmentStage(cfg config.Config, logger *zap.Logger) pipeline.Stage {
	fetcher := enrich.NewDescriptionFetcher(enrich.FetchConfig{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		Selector:  cfg.Enrich.DescriptionSelector,
	}, logger)
	return pipeline.Chain(fetcher.Stage(), enrich.ScoreStage(cfg.Enrich.ScoreTerms))
}

// buildProcessor selects the pipeline strategy for the enrichment stage.
func buildProcessor(cfg config.Config, stage pipeline.Stage, logger *zap.Logger) (pipeline.Processor, error) {
	clock := system.New()
	switch pipeline.Mode(cfg.Pipeline.Mode) {
	case pipeline.ModeBatch:
		return pipeline.NewBatch(pipeline.BatchConfig{
			Size:               cfg.Pipeline.BatchSize,
			MemoryCeilingBytes: uint64(cfg.Pipeline.MemoryCeilingMB) * 1024 * 1024,
		}, stage, newHasher(), clock, logger)
	case pipeline.ModeStream:
		return pipeline.NewStream(pipeline.StreamConfig{
			BufferCapacity:    cfg.Pipeline.BufferCapacity,
			BackpressureRatio: cfg.Pipeline.BackpressureThresholdRatio,
			ProcessingRate:    cfg.Pipeline.ProcessingRate,
		}, stage, clock, logger)
	case pipeline.ModeMapReduce:
		return pipeline.NewMapReduce(pipeline.MapReduceConfig{
			Workers:  cfg.Pipeline.Workers,
			Reducers: cfg.Pipeline.ReducerCount,
		}, enrich.MapByCompany, enrich.ReduceScores, clock, logger)
	default:
		return nil, fmt.Errorf("unknown pipeline mode %q", cfg.Pipeline.Mode)
	}
}
