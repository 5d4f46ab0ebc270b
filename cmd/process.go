package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/clock/system"
	"github.com/joblens/joblens/internal/config"
	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/pipeline"
)

// newProcessCmd creates the 'process' subcommand: pending postings are read
// from the store, enriched by the configured pipeline strategy, and written
// back.
func newProcessCmd() *cobra.Command {
	var (
		watch bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Enriches pending postings through the processing pipeline",
		Long: `Reads postings stored in pending status, fetches and scores their
descriptions with the configured pipeline strategy (batch, mapreduce, or
stream), and persists the outcome. With --watch the command keeps polling
for new pending postings until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcessCommand(cmd, watch, limit)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling for pending postings")
	cmd.Flags().IntVar(&limit, "limit", 100, "max postings claimed per pass")
	return cmd
}

func runProcessCommand(cmd *cobra.Command, watch bool, limit int) error {
	d, err := resolveDeps(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := d.cfg, d.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	postingStore, closeStore, err := buildStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer closeStore()

	if pipeline.Mode(cfg.Pipeline.Mode) == pipeline.ModeMapReduce {
		return runScoreReport(cmd, cfg, postingStore, limit, logger)
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	stage := buildEnrichmentStage(cfg, logger)
	processor, err := buildProcessor(cfg, stage, logger)
	if err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		BatchLimit: limit,
		Topic:      cfg.Publisher.TopicName,
	}, postingStore, processor, publisher, clock, logger)
	if err != nil {
		return err
	}

	if watch {
		err := runner.Run(ctx)
		if err != nil && ctx.Err() != nil {
			// Interrupted; a partial pass has already been persisted.
			return nil
		}
		return err
	}

	enriched, err := runner.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("process pending postings: %w", err)
	}
	logger.Info("processing finished", zap.Int("enriched", enriched))
	return nil
}

// runScoreReport runs the map-reduce strategy as a reporting pass: average
// score per company over the already-enriched postings.
func runScoreReport(cmd *cobra.Command, cfg config.Config, postingStore joblens.Store, limit int, logger *zap.Logger) error {
	records, err := postingStore.ReadPending(cmd.Context(), joblens.StatusEnriched, limit)
	if err != nil {
		return fmt.Errorf("read enriched postings: %w", err)
	}
	if len(records) == 0 {
		logger.Info("no enriched postings to report on")
		return nil
	}

	postings := make([]joblens.Posting, 0, len(records))
	for _, record := range records {
		postings = append(postings, joblens.Posting{
			Candidate: joblens.Candidate{
				RawTitle:    record.Title,
				CompanyHint: record.Company,
			},
			FinalURL: record.URL,
			Score:    record.Score,
		})
	}

	processor, err := buildProcessor(cfg, nil, logger)
	if err != nil {
		return err
	}
	result, err := processor.Process(cmd.Context(), postings)
	if err != nil {
		return fmt.Errorf("score report: %w", err)
	}
	for _, reduction := range result.Reductions {
		logger.Info("company score",
			zap.String("company", reduction.Key),
			zap.Any("average", reduction.Value))
	}
	return nil
}
