package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
)

// RunnerConfig tunes the pending-record processing loop.
type RunnerConfig struct {
	// BatchLimit caps how many pending records one pass claims.
	BatchLimit int
	// PollInterval paces repeated passes in Run.
	PollInterval time.Duration
	// Topic receives one event per enriched record; empty disables
	// publishing.
	Topic string
}

// Runner feeds pending stored records through a processor and writes the
// outcome back: enriched records get their description and score persisted,
// records the processor dropped are marked failed.
type Runner struct {
	cfg       RunnerConfig
	store     joblens.Store
	processor Processor
	publisher joblens.Publisher
	clock     joblens.Clock
	logger    *zap.Logger
}

// NewRunner constructs a runner. publisher may be nil when cfg.Topic is
// empty.
func NewRunner(cfg RunnerConfig, store joblens.Store, processor Processor, publisher joblens.Publisher, clock joblens.Clock, logger *zap.Logger) (*Runner, error) {
	if cfg.BatchLimit <= 0 {
		return nil, &joblens.ConfigError{Field: "runner batch limit", Reason: "must be > 0"}
	}
	if cfg.Topic != "" && publisher == nil {
		return nil, &joblens.ConfigError{Field: "runner publisher", Reason: "is required when a topic is set"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		store:     store,
		processor: processor,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Run processes pending records in a loop until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("processing pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of pending records, processes it, and persists
// per-record outcomes. It returns how many records were enriched.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	records, err := r.store.ReadPending(ctx, joblens.StatusPending, r.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	// Distinct postings may share a URL, so results are matched back to
	// their records by the full (title, company, url) identity.
	postings := make([]joblens.Posting, 0, len(records))
	idByIdentity := make(map[joblens.IdentityKey]string, len(records))
	for _, record := range records {
		posting := joblens.Posting{
			Candidate: joblens.Candidate{
				RawTitle:     record.Title,
				CompanyHint:  record.Company,
				LocationHint: record.Location,
				SalaryHint:   record.Salary,
			},
			FinalURL:    record.URL,
			Description: record.Description,
			Score:       record.Score,
		}
		postings = append(postings, posting)
		idByIdentity[posting.Identity()] = record.ID
	}

	result, err := r.processor.Process(ctx, postings)
	if err != nil {
		return 0, fmt.Errorf("process pending batch: %w", err)
	}

	enriched := make(map[string]struct{}, len(result.Records))
	for _, posting := range result.Records {
		id, ok := idByIdentity[posting.Identity()]
		if !ok {
			continue
		}
		enriched[id] = struct{}{}
		fields := map[string]any{
			"description": posting.Description,
			"score":       posting.Score,
		}
		if err := r.store.UpdateStatus(ctx, id, joblens.StatusEnriched, fields); err != nil {
			return len(enriched), fmt.Errorf("mark enriched %s: %w", id, err)
		}
		r.publish(ctx, id, posting)
	}

	// Anything the processor dropped is marked failed so it is not
	// reclaimed forever.
	for _, record := range records {
		if _, ok := enriched[record.ID]; ok {
			continue
		}
		if err := r.store.UpdateStatus(ctx, record.ID, joblens.StatusFailed, nil); err != nil {
			return len(enriched), fmt.Errorf("mark failed %s: %w", record.ID, err)
		}
	}

	r.logger.Info("processing pass complete",
		zap.Int("claimed", len(records)),
		zap.Int("enriched", len(enriched)),
		zap.Int64("records_failed", result.Metrics.RecordsFailed))
	return len(enriched), nil
}

func (r *Runner) publish(ctx context.Context, id string, posting joblens.Posting) {
	if r.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"id":          id,
		"title":       posting.RawTitle,
		"company":     posting.CompanyHint,
		"url":         posting.FinalURL,
		"score":       posting.Score,
		"enriched_at": r.clock.Now().Format(time.RFC3339),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		// Publishing is advisory; the store remains the source of truth.
		r.logger.Warn("publish failed", zap.String("id", id), zap.Error(err))
	}
}
