package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/api"
	"github.com/joblens/joblens/internal/clock/system"
)

// newServeCmd creates the 'serve' subcommand: the observability HTTP
// surface over the posting store and the last persisted run summary.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves metrics, health, and run summary endpoints",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
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

	cache, err := buildSeenCache(cfg, clock, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(cache, postingStore, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			return fmt.Errorf("shutdown http server: %w", serr)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
