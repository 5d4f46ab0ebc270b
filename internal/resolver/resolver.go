// Package resolver turns ambiguous search-result links into concrete
// destination URLs without blocking the crawl indefinitely.
package resolver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/metrics"
)

// Config bounds the dual-strategy race.
type Config struct {
	// NewTabTimeout bounds the explicit "new tab opened" wait.
	NewTabTimeout time.Duration
	// PollTimeout bounds the same-tab URL-change fallback.
	PollTimeout time.Duration
	// PollInterval is the URL poll granularity.
	PollInterval time.Duration
}

const (
	defaultNewTabTimeout = 5 * time.Second
	defaultPollTimeout   = 3 * time.Second
	defaultPollInterval  = 100 * time.Millisecond
	tabCloseBudget       = 2 * time.Second
)

// LinkResolver implements joblens.Resolver. Clicking a result card either
// opens a secondary tab or navigates the primary page in place; both
// detection strategies run concurrently and the first success wins.
type LinkResolver struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a LinkResolver with defaulted timeouts.
func New(cfg Config, logger *zap.Logger) *LinkResolver {
	if cfg.NewTabTimeout <= 0 {
		cfg.NewTabTimeout = defaultNewTabTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkResolver{cfg: cfg, logger: logger}
}

// Resolve clicks the element and races the two detection strategies. It
// never returns a fatal error for timeouts or secondary-context navigation
// faults; those yield Resolution{Failed: true} so a single unresolved link
// cannot stop the crawl. Any secondary tab opened during the call is closed
// before Resolve returns.
func (r *LinkResolver) Resolve(ctx context.Context, session joblens.Session, element joblens.Element) (joblens.Resolution, error) {
	before, err := session.Location(ctx)
	if err != nil {
		r.logger.Debug("could not read location before click", zap.Error(err))
		before = ""
	}

	if err := element.Click(ctx); err != nil {
		r.logger.Warn("result click failed", zap.Error(err))
		metrics.IncResolution("click_failed")
		return joblens.Resolution{Failed: true}, nil
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan string, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- r.waitNewTab(raceCtx, ctx, session)
	}()
	go func() {
		defer wg.Done()
		results <- r.pollLocation(raceCtx, session, before)
	}()

	resolved := ""
	for i := 0; i < 2; i++ {
		if url := <-results; url != "" {
			resolved = url
			cancel()
			break
		}
	}
	// The losing strategy must finish before Resolve returns so no goroutine
	// touches the session afterward and no tab outlives the call. The
	// channel is buffered, so the loser's send never blocks.
	wg.Wait()

	if resolved == "" {
		metrics.IncResolution("timeout")
		return joblens.Resolution{Failed: true}, nil
	}
	metrics.IncResolution("ok")
	return joblens.Resolution{URL: resolved}, nil
}

// waitNewTab is strategy one: wait for a secondary tab, capture its URL and
// close it. The tab is closed on every path, including timeout of the URL
// capture, keeping the call net-zero on open browsing contexts.
func (r *LinkResolver) waitNewTab(raceCtx, parent context.Context, session joblens.Session) string {
	tab, err := session.WaitForNewContext(raceCtx, r.cfg.NewTabTimeout)
	if err != nil {
		r.logger.Debug("new-tab wait failed", zap.Error(err))
		return ""
	}
	if tab == nil {
		return ""
	}

	// Close with a context detached from the race: the other strategy
	// winning must not leak this tab.
	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(parent), tabCloseBudget)
	defer closeCancel()
	defer func() {
		if err := session.CloseContext(closeCtx, tab); err != nil {
			r.logger.Warn("secondary tab close failed", zap.Error(err))
		}
	}()

	url, err := tab.URL(closeCtx)
	if err != nil {
		r.logger.Debug("secondary tab url read failed", zap.Error(err))
		return ""
	}
	if !joblens.IsAbsoluteURL(url) || joblens.IsPlaceholderLink(url) {
		return ""
	}
	return url
}

// pollLocation is strategy two: watch the primary page for an in-place URL
// change at fine-grained intervals up to the fallback ceiling.
func (r *LinkResolver) pollLocation(ctx context.Context, session joblens.Session, before string) string {
	deadline := time.NewTimer(r.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ""
		case <-deadline.C:
			return ""
		case <-ticker.C:
			loc, err := session.Location(ctx)
			if err != nil {
				continue
			}
			if loc != before && joblens.IsAbsoluteURL(loc) && !joblens.IsPlaceholderLink(loc) {
				return loc
			}
		}
	}
}
