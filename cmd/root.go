// Package cmd defines and implements the CLI commands for the joblens
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/config"
	"github.com/joblens/joblens/internal/logging"
	"github.com/joblens/joblens/internal/metrics"
)

var cfgFile string

// depsKeyType is the key for storing shared dependencies in the context.
type depsKeyType string

const depsKey depsKeyType = "deps"

// deps holds what every subcommand needs: validated configuration and a
// logger.
type deps struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "joblens",
		Short: "A job-posting discovery and enrichment crawler.",
		Long: `joblens crawls a paginated job search engine, resolves each posting's
true destination URL through its popup interaction, deduplicates results
across runs, and feeds new postings through a staged enrichment pipeline.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			metrics.Init()

			ctx := context.WithValue(cmd.Context(), depsKey, &deps{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if d, ok := cmd.Context().Value(depsKey).(*deps); ok && d != nil {
				_ = d.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default relies on JOBLENS_* environment variables)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveDeps(ctx context.Context) (*deps, error) {
	d, ok := ctx.Value(depsKey).(*deps)
	if !ok || d == nil {
		return nil, errors.New("application services not initialized")
	}
	return d, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
