// Package enrich provides the transform stages the processing pipeline
// applies to discovered postings: description fetching and keyword scoring.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/pipeline"
)

// FetchConfig controls the description collector.
type FetchConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Selector locates the posting body on the destination page.
	Selector string
}

// DescriptionFetcher fills Posting.Description by visiting the resolved
// destination URL with Colly. Fetch failures leave the description empty
// rather than failing the chunk; a dead destination page is common and not
// worth losing the rest of the batch over.
type DescriptionFetcher struct {
	cfg    FetchConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewDescriptionFetcher builds a fetcher around a reusable base collector.
func NewDescriptionFetcher(cfg FetchConfig, logger *zap.Logger) *DescriptionFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Selector == "" {
		cfg.Selector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	return &DescriptionFetcher{cfg: cfg, base: base, logger: logger}
}

// Stage adapts the fetcher to the pipeline stage contract.
func (f *DescriptionFetcher) Stage() pipeline.Stage {
	return func(ctx context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		for i := range records {
			if records[i].ResolutionFailed || records[i].FinalURL == "" {
				continue
			}
			if records[i].Description != "" {
				continue
			}
			description, err := f.fetch(ctx, records[i].FinalURL)
			if err != nil {
				f.logger.Debug("description fetch failed",
					zap.String("url", records[i].FinalURL), zap.Error(err))
				continue
			}
			records[i].Description = description
		}
		return records, nil
	}
}

// fetch visits one destination page and extracts the first selector match.
func (f *DescriptionFetcher) fetch(ctx context.Context, url string) (string, error) {
	collector := f.base.Clone()
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		description string
		fetchErr    error
	)
	collector.OnHTML(f.cfg.Selector, func(e *colly.HTMLElement) {
		if description == "" {
			description = strings.TrimSpace(e.Text)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("description fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("visit destination: %w", err)
		}
		if fetchErr != nil {
			return "", fmt.Errorf("destination response: %w", fetchErr)
		}
	}
	return description, nil
}
