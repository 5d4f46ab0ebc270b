// Package orchestrator drives the keyword × page search space and produces
// a deduplicated stream of resolved postings.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/metrics"
)

// Site describes how to build search URLs and locate result cards. It is
// decoupled from Viper so the orchestrator is testable on its own.
type Site struct {
	BaseURL          string
	QueryParam       string
	LocationParam    string
	PageParam        string
	CardSelector     string
	TitleSelector    string
	LinkSelector     string
	CompanySelector  string
	LocationSelector string
	SalarySelector   string
}

// Config holds the settings for one crawl run.
type Config struct {
	Keywords []string
	// Location filters results; the literal "default" omits the location
	// parameter so the engine applies its own default scope.
	Location         string
	MaxPages         int
	ProvisionalDedup bool
	ProfileID        string
	NavTimeout       time.Duration
	// PageQPS throttles page navigations. Zero disables throttling.
	PageQPS float64
}

// DefaultLocation is the "no filter" sentinel value.
const DefaultLocation = "default"

// EmitFunc receives each new posting in discovery order.
type EmitFunc func(ctx context.Context, posting joblens.Posting) error

// Orchestrator owns the browsing session and the dedup store for the
// duration of one run.
type Orchestrator struct {
	cfg      Config
	site     Site
	session  joblens.Session
	resolver joblens.Resolver
	seen     joblens.SeenStore
	clock    joblens.Clock
	idGen    joblens.IDGenerator
	logger   *zap.Logger
	limiter  *rate.Limiter

	stopped atomic.Bool

	mu          sync.Mutex
	lastSummary *joblens.RunSummary
}

// New constructs an Orchestrator. The caller owns the lifecycle of the
// session and the seen store.
func New(
	cfg Config,
	site Site,
	session joblens.Session,
	resolver joblens.Resolver,
	seen joblens.SeenStore,
	clock joblens.Clock,
	idGen joblens.IDGenerator,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if len(cfg.Keywords) == 0 {
		return nil, &joblens.ConfigError{Field: "keywords", Reason: "must not be empty"}
	}
	if cfg.MaxPages < 0 {
		return nil, &joblens.ConfigError{Field: "max pages", Reason: "must be >= 0"}
	}
	if site.BaseURL == "" {
		return nil, &joblens.ConfigError{Field: "site base url", Reason: "is required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.PageQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PageQPS), 1)
	}
	return &Orchestrator{
		cfg:      cfg,
		site:     site,
		session:  session,
		resolver: resolver,
		seen:     seen,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
		limiter:  limiter,
	}, nil
}

// Stop requests a cooperative stop. The orchestrator finishes the page it
// is on, declines to resolve further links, saves the dedup store, and
// returns from Run.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

// LastSummary returns the summary of the most recent run, or nil.
func (o *Orchestrator) LastSummary() *joblens.RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSummary
}

// Run crawls the whole search space and emits new postings in discovery
// order. It always produces a summary and saves the dedup store, even when
// individual pages or links failed along the way.
func (o *Orchestrator) Run(ctx context.Context, emit EmitFunc) (joblens.RunSummary, error) {
	runID, err := o.idGen.NewID()
	if err != nil {
		return joblens.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := o.clock.Now()
	summary := joblens.RunSummary{
		RunID:     runID,
		Keywords:  o.cfg.Keywords,
		StartedAt: started,
	}
	// Provisional identities resolved this run; duplicates on later pages
	// skip the popup interaction entirely.
	inRun := make(map[joblens.ProvisionalKey]struct{})

	runErr := o.crawl(ctx, emit, &summary, inRun)

	summary.Elapsed = o.clock.Now().Sub(started)
	o.finish(summary)
	return summary, runErr
}

func (o *Orchestrator) crawl(
	ctx context.Context,
	emit EmitFunc,
	summary *joblens.RunSummary,
	inRun map[joblens.ProvisionalKey]struct{},
) error {
keywords:
	for _, keyword := range o.cfg.Keywords {
		found, resolved := 0, 0
		for pageNum := 1; pageNum <= o.cfg.MaxPages; pageNum++ {
			if o.shouldStop(ctx) {
				o.logger.Info("stop requested, finishing run",
					zap.String("keyword", keyword), zap.Int("page", pageNum))
				break keywords
			}
			if err := o.waitPageBudget(ctx); err != nil {
				break keywords
			}

			pageURL := o.searchURL(keyword, pageNum)
			candidates, err := o.extractPage(ctx, pageURL)
			if err != nil {
				navErr := &joblens.NavigationError{URL: pageURL, Err: err}
				o.logger.Warn("page navigation failed, treating as empty",
					zap.String("keyword", keyword), zap.Int("page", pageNum), zap.Error(navErr))
				metrics.IncPage("nav_error")
				continue
			}
			metrics.IncPage("ok")
			summary.PagesVisited++
			metrics.AddCandidates(keyword, len(candidates))

			if len(candidates) == 0 {
				// Later pages are assumed empty as well.
				o.logger.Debug("empty page, stopping pagination",
					zap.String("keyword", keyword), zap.Int("page", pageNum))
				break
			}

			found += len(candidates)
			summary.Discovered += len(candidates)

			emitted, err := o.processCandidates(ctx, keyword, pageURL, candidates, emit, summary, inRun)
			resolved += emitted
			if err != nil {
				return err
			}
		}
		o.seen.RecordKeywordOutcome(keyword, found, resolved)
	}
	return nil
}

// processCandidates resolves, deduplicates, and emits the candidates of one
// page, in page order. It returns how many postings were resolved.
func (o *Orchestrator) processCandidates(
	ctx context.Context,
	keyword, pageURL string,
	candidates []joblens.Candidate,
	emit EmitFunc,
	summary *joblens.RunSummary,
	inRun map[joblens.ProvisionalKey]struct{},
) (int, error) {
	resolved := 0
	for _, candidate := range candidates {
		if o.shouldStop(ctx) {
			// Remaining links on this page are not resolved speculatively.
			return resolved, nil
		}
		provisional := candidate.Provisional()
		if o.cfg.ProvisionalDedup {
			if _, dup := inRun[provisional]; dup {
				summary.SkippedKnown++
				metrics.IncDedupSkip("provisional")
				continue
			}
			if o.seen.IsKnownProvisional(provisional) {
				summary.SkippedKnown++
				metrics.IncDedupSkip("provisional")
				continue
			}
		}

		posting, ok := o.resolveCandidate(ctx, keyword, pageURL, candidate)
		if !ok {
			// Unresolved posting: emitted for visibility, excluded from the
			// identity set.
			summary.ResolutionFailures++
			if err := emit(ctx, posting); err != nil {
				return resolved, fmt.Errorf("emit unresolved posting: %w", err)
			}
			continue
		}
		resolved++

		identity := posting.Identity()
		inRun[provisional] = struct{}{}
		if o.seen.IsKnown(identity) {
			summary.SkippedKnown++
			metrics.IncDedupSkip("known")
			continue
		}

		summary.Resolved++
		o.seen.MarkKnown(identity)
		metrics.IncPostingEmitted()
		if err := emit(ctx, posting); err != nil {
			return resolved, fmt.Errorf("emit posting: %w", err)
		}
	}
	return resolved, nil
}

// resolveCandidate produces a posting from a candidate, via the resolver
// when the raw link is a placeholder. ok is false when resolution failed.
func (o *Orchestrator) resolveCandidate(ctx context.Context, keyword, pageURL string, candidate joblens.Candidate) (joblens.Posting, bool) {
	posting := joblens.Posting{
		Candidate:  candidate,
		Keyword:    keyword,
		ResolvedAt: o.clock.Now(),
	}

	if joblens.IsAbsoluteURL(candidate.RawLink) && !joblens.IsPlaceholderLink(candidate.RawLink) {
		posting.FinalURL = candidate.RawLink
		return posting, true
	}

	element := o.findCandidateElement(ctx, candidate)
	if element == nil {
		posting.ResolutionFailed = true
		return posting, false
	}

	start := o.clock.Now()
	resolution, err := o.resolver.Resolve(ctx, o.session, element)
	metrics.ObserveResolutionWait(o.clock.Now().Sub(start).Seconds())
	// A same-tab resolution navigates the primary page away from the
	// results; bring it back so the remaining candidates stay locatable.
	o.restoreResultsPage(ctx, pageURL)
	if err != nil || resolution.Failed {
		if err != nil {
			o.logger.Warn("resolver error", zap.String("title", candidate.RawTitle), zap.Error(err))
		}
		posting.ResolutionFailed = true
		return posting, false
	}

	posting.FinalURL = resolution.URL
	posting.ResolvedAt = o.clock.Now()
	return posting, true
}

// restoreResultsPage re-navigates to the results page when a click left the
// primary page somewhere else. Popup resolutions never move the primary
// page, so the check is a cheap no-op for them.
func (o *Orchestrator) restoreResultsPage(ctx context.Context, pageURL string) {
	loc, err := o.session.Location(ctx)
	if err == nil && loc == pageURL {
		return
	}
	if err != nil {
		o.logger.Debug("location check failed, restoring results page", zap.Error(err))
	}
	if err := o.session.Navigate(ctx, pageURL, o.cfg.NavTimeout); err != nil {
		o.logger.Warn("could not restore results page",
			zap.String("url", pageURL), zap.Error(err))
	}
}

// findCandidateElement re-locates the candidate's card by matching titles,
// since clicking earlier cards may have navigated and restored the page.
func (o *Orchestrator) findCandidateElement(ctx context.Context, candidate joblens.Candidate) joblens.Element {
	elements, err := o.session.Elements(ctx, o.site.CardSelector)
	if err != nil {
		o.logger.Warn("card lookup failed", zap.Error(err))
		return nil
	}
	for _, el := range elements {
		title, err := el.Text(ctx, o.site.TitleSelector)
		if err != nil {
			continue
		}
		if joblens.NormalizeText(title) == joblens.NormalizeText(candidate.RawTitle) {
			return el
		}
	}
	return nil
}

// extractPage navigates to pageURL and extracts the ordered candidates
// visible on it.
func (o *Orchestrator) extractPage(ctx context.Context, pageURL string) ([]joblens.Candidate, error) {
	if err := o.session.Navigate(ctx, pageURL, o.cfg.NavTimeout); err != nil {
		return nil, err
	}
	elements, err := o.session.Elements(ctx, o.site.CardSelector)
	if err != nil {
		return nil, fmt.Errorf("extract cards: %w", err)
	}

	candidates := make([]joblens.Candidate, 0, len(elements))
	for _, el := range elements {
		candidate, err := o.extractCandidate(ctx, el)
		if err != nil {
			o.logger.Debug("card extraction failed", zap.Error(err))
			continue
		}
		if candidate.RawTitle == "" {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (o *Orchestrator) extractCandidate(ctx context.Context, el joblens.Element) (joblens.Candidate, error) {
	title, err := el.Text(ctx, o.site.TitleSelector)
	if err != nil {
		return joblens.Candidate{}, fmt.Errorf("title: %w", err)
	}
	link, _, err := el.Attr(ctx, o.site.LinkSelector, "href")
	if err != nil {
		return joblens.Candidate{}, fmt.Errorf("link: %w", err)
	}
	company, err := el.Text(ctx, o.site.CompanySelector)
	if err != nil {
		return joblens.Candidate{}, fmt.Errorf("company: %w", err)
	}
	location, err := el.Text(ctx, o.site.LocationSelector)
	if err != nil {
		return joblens.Candidate{}, fmt.Errorf("location: %w", err)
	}
	salary := ""
	if o.site.SalarySelector != "" {
		// Salary is optional on most cards.
		salary, _ = el.Text(ctx, o.site.SalarySelector)
	}
	return joblens.Candidate{
		RawTitle:     title,
		RawLink:      link,
		CompanyHint:  company,
		LocationHint: location,
		SalaryHint:   salary,
	}, nil
}

// searchURL builds the deterministic search URL for one keyword and page.
func (o *Orchestrator) searchURL(keyword string, page int) string {
	values := url.Values{}
	values.Set(o.site.QueryParam, keyword)
	if o.cfg.Location != "" && o.cfg.Location != DefaultLocation {
		values.Set(o.site.LocationParam, o.cfg.Location)
	}
	values.Set(o.site.PageParam, strconv.Itoa(page))
	return o.site.BaseURL + "?" + values.Encode()
}

func (o *Orchestrator) shouldStop(ctx context.Context) bool {
	return o.stopped.Load() || ctx.Err() != nil
}

func (o *Orchestrator) waitPageBudget(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("page rate limit: %w", err)
	}
	return nil
}

// finish records the summary, logs the keyword performance report, and
// saves the dedup store exactly once.
func (o *Orchestrator) finish(summary joblens.RunSummary) {
	o.mu.Lock()
	s := summary
	o.lastSummary = &s
	o.mu.Unlock()

	if err := o.seen.Save(o.cfg.ProfileID, summary); err != nil {
		o.logger.Error("dedup store save failed", zap.Error(err))
	}

	o.logger.Info("crawl run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("pages_visited", summary.PagesVisited),
		zap.Int("discovered", summary.Discovered),
		zap.Int("resolved", summary.Resolved),
		zap.Int("skipped_known", summary.SkippedKnown),
		zap.Int("resolution_failures", summary.ResolutionFailures),
		zap.Duration("elapsed", summary.Elapsed))
}
