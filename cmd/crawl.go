package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/browser"
	"github.com/joblens/joblens/internal/clock/system"
	"github.com/joblens/joblens/internal/config"
	"github.com/joblens/joblens/internal/id/uuid"
	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/orchestrator"
	"github.com/joblens/joblens/internal/resolver"
)

// newCrawlCmd creates the 'crawl' subcommand: one full pass over the
// keyword × page search space, writing new postings to the store in
// pending status.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl over the configured keywords",
		Long: `Crawls the configured search engine keyword by keyword, resolves each
result's destination URL, skips postings already seen in prior runs, and
stores the new ones for later enrichment. Interrupting the run finishes the
current page and saves the dedup state before exiting.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	d, err := resolveDeps(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := d.cfg, d.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	cache, err := buildSeenCache(cfg, clock, logger)
	if err != nil {
		return err
	}

	postingStore, closeStore, err := buildStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	session, err := browser.New(browser.Config{
		Headless:   cfg.Browser.Headless,
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: cfg.NavTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("browser close failed", zap.Error(cerr))
		}
	}()

	linkResolver := resolver.New(resolver.Config{
		NewTabTimeout: cfg.NewTabTimeout(),
		PollTimeout:   cfg.PollTimeout(),
		PollInterval:  cfg.PollInterval(),
	}, logger)

	orch, err := orchestrator.New(orchestrator.Config{
		Keywords:         cfg.Search.Keywords,
		Location:         cfg.Search.Location,
		MaxPages:         cfg.Search.MaxPagesPerKeyword,
		ProvisionalDedup: cfg.Dedup.Provisional,
		ProfileID:        cfg.Cache.ProfileID,
		NavTimeout:       cfg.NavTimeout(),
		PageQPS:          cfg.Search.PageQPS,
	}, siteFromConfig(cfg), session, linkResolver, cache, clock, idGen, logger)
	if err != nil {
		return err
	}

	// A signal requests a cooperative stop; the orchestrator finishes the
	// current page and saves the dedup state.
	go func() {
		<-ctx.Done()
		orch.Stop()
	}()

	emit := newStoreEmitter(postingStore, idGen, clock, logger)
	summary, err := orch.Run(cmd.Context(), emit)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl run: %w", err)
	}

	for keyword, stats := range cache.KeywordPerformance() {
		logger.Info("keyword performance",
			zap.String("keyword", keyword),
			zap.Int("found", stats.Found),
			zap.Int("resolved", stats.Resolved))
	}

	if cfg.Publisher.TopicName != "" {
		if _, perr := publisher.Publish(cmd.Context(), cfg.Publisher.TopicName, summary); perr != nil {
			logger.Warn("run summary publish failed", zap.Error(perr))
		}
	}
	return nil
}

func siteFromConfig(cfg config.Config) orchestrator.Site {
	return orchestrator.Site{
		BaseURL:          cfg.Site.BaseURL,
		QueryParam:       cfg.Site.QueryParam,
		LocationParam:    cfg.Site.LocationParam,
		PageParam:        cfg.Site.PageParam,
		CardSelector:     cfg.Site.CardSelector,
		TitleSelector:    cfg.Site.TitleSelector,
		LinkSelector:     cfg.Site.LinkSelector,
		CompanySelector:  cfg.Site.CompanySelector,
		LocationSelector: cfg.Site.LocationSelector,
		SalarySelector:   cfg.Site.SalarySelector,
	}
}

// newStoreEmitter persists each resolved posting in pending status.
// Unresolved postings are logged for visibility and not stored.
func newStoreEmitter(postingStore joblens.Store, idGen joblens.IDGenerator, clock joblens.Clock, logger *zap.Logger) orchestrator.EmitFunc {
	return func(ctx context.Context, posting joblens.Posting) error {
		if posting.ResolutionFailed {
			logger.Warn("posting emitted without resolution",
				zap.String("title", posting.RawTitle),
				zap.String("company", posting.CompanyHint))
			return nil
		}
		identity := posting.Identity()
		exists, err := postingStore.Exists(ctx, identity)
		if err != nil {
			return fmt.Errorf("check posting: %w", err)
		}
		if exists {
			return nil
		}
		id, err := idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate posting id: %w", err)
		}
		record := joblens.StoredRecord{
			ID:           id,
			Identity:     identity,
			Title:        posting.RawTitle,
			Company:      posting.CompanyHint,
			Location:     posting.LocationHint,
			Salary:       posting.SalaryHint,
			URL:          posting.FinalURL,
			Status:       joblens.StatusPending,
			DiscoveredAt: clock.Now(),
		}
		if err := postingStore.Upsert(ctx, record); err != nil {
			return fmt.Errorf("store posting: %w", err)
		}
		return nil
	}
}
