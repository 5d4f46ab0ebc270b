// Package browser implements the joblens.Session contract with chromedp
// and headless Chrome. One primary tab drives navigation; popup tabs opened
// by result clicks are surfaced through WaitForNewContext and closed through
// CloseContext.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
)

// Config controls the browsing session.
type Config struct {
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
}

// Session is a chromedp-backed joblens.Session. The browsing session is
// exclusively owned by the orchestrator for the duration of one run.
type Session struct {
	allocCancel context.CancelFunc
	pageCtx     context.Context
	pageCancel  context.CancelFunc
	primaryID   target.ID
	newTargets  chan target.ID
	navTimeout  time.Duration
	logger      *zap.Logger
}

const newTargetBuffer = 4

// New launches Chrome, warms up the primary tab, and starts watching for
// secondary targets.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(pageCtx, target.SetDiscoverTargets(true)); err != nil {
		pageCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	s := &Session{
		allocCancel: allocCancel,
		pageCtx:     pageCtx,
		pageCancel:  pageCancel,
		newTargets:  make(chan target.ID, newTargetBuffer),
		navTimeout:  cfg.NavTimeout,
		logger:      logger,
	}
	if c := chromedp.FromContext(pageCtx); c != nil && c.Target != nil {
		s.primaryID = c.Target.TargetID
	}

	chromedp.ListenTarget(pageCtx, func(ev any) {
		created, ok := ev.(*target.EventTargetCreated)
		if !ok || created.TargetInfo == nil {
			return
		}
		info := created.TargetInfo
		if info.Type != "page" || info.TargetID == s.primaryID {
			return
		}
		select {
		case s.newTargets <- info.TargetID:
		default:
			s.logger.Warn("dropping unobserved popup target", zap.String("target", string(info.TargetID)))
		}
	})

	return s, nil
}

// Close tears down the browser and allocator contexts.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.pageCancel()
	s.allocCancel()
	return nil
}

// Navigate loads url in the primary tab within the configured timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.navTimeout
	}
	navCtx, cancel := context.WithTimeout(s.pageCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	return nil
}

// Location returns the primary tab's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	locCtx, cancel := context.WithTimeout(s.pageCtx, 2*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var loc string
	if err := chromedp.Run(locCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("chromedp location: %w", err)
	}
	return loc, nil
}

// Elements returns one handle per match of selector on the current page.
func (s *Session) Elements(ctx context.Context, selector string) ([]joblens.Element, error) {
	evalCtx, cancel := context.WithTimeout(s.pageCtx, 5*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var count int
	expr := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, &count)); err != nil {
		return nil, fmt.Errorf("count elements %q: %w", selector, err)
	}

	elements := make([]joblens.Element, 0, count)
	for i := 0; i < count; i++ {
		elements = append(elements, &element{session: s, selector: selector, index: i})
	}
	return elements, nil
}

// WaitForNewContext blocks until a popup tab opens or timeout elapses.
// It returns (nil, nil) when no tab appeared in time. Stale popups queued
// from earlier interactions are closed before waiting, so the tab returned
// always belongs to the interaction in flight.
func (s *Session) WaitForNewContext(ctx context.Context, timeout time.Duration) (joblens.TabContext, error) {
	for {
		select {
		case id := <-s.newTargets:
			s.closeTargetByID(id)
			continue
		default:
		}
		break
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, nil
	case <-timer.C:
		return nil, nil
	case id := <-s.newTargets:
		tabCtx, tabCancel := chromedp.NewContext(s.pageCtx, chromedp.WithTargetID(id))
		return &tab{ctx: tabCtx, cancel: tabCancel, id: id}, nil
	}
}

// CloseContext closes a popup tab returned by WaitForNewContext.
func (s *Session) CloseContext(ctx context.Context, tc joblens.TabContext) error {
	if tc == nil {
		return nil
	}
	return tc.Close(ctx)
}

func (s *Session) closeTargetByID(id target.ID) {
	closeCtx, cancel := context.WithTimeout(s.pageCtx, 2*time.Second)
	defer cancel()
	err := chromedp.Run(closeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(id).Do(ctx)
	}))
	if err != nil {
		s.logger.Warn("stale popup close failed", zap.Error(err))
	}
}

// tab is a transient secondary browsing context.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     target.ID
	closed bool
}

// URL polls the tab location until it reports something other than a blank
// page, or ctx expires. Popups typically start at about:blank and navigate
// shortly after opening.
func (t *tab) URL(ctx context.Context) (string, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		var loc string
		if err := chromedp.Run(t.ctx, chromedp.Location(&loc)); err != nil {
			return "", fmt.Errorf("popup location: %w", err)
		}
		if loc != "" && loc != "about:blank" && !strings.HasPrefix(loc, "chrome://") {
			return loc, nil
		}
		select {
		case <-ctx.Done():
			return loc, nil
		case <-ticker.C:
		}
	}
}

// Close shuts the popup target down and detaches from it.
func (t *tab) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.cancel()

	closeCtx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(closeCtx, page.Close()); err != nil {
		return fmt.Errorf("close popup: %w", err)
	}
	return nil
}

// element addresses the i-th match of a selector on the current page.
// Handles are positional: they stay valid only while the page they were
// queried from remains loaded.
type element struct {
	session  *Session
	selector string
	index    int
}

func (e *element) run(ctx context.Context, expr string, out any) error {
	evalCtx, cancel := context.WithTimeout(e.session.pageCtx, 5*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(evalCtx, chromedp.Evaluate(expr, out))
}

// Text returns the trimmed text of the first match of selector inside the
// element, or the element's own text when selector is empty.
func (e *element) Text(ctx context.Context, selector string) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const card = document.querySelectorAll(%q)[%d];
		if (!card) return "";
		const el = %q === "" ? card : card.querySelector(%q);
		return el ? el.textContent.trim() : "";
	})()`, e.selector, e.index, selector, selector)
	var text string
	if err := e.run(ctx, expr, &text); err != nil {
		return "", fmt.Errorf("element text: %w", err)
	}
	return text, nil
}

// Attr returns the named attribute of the first match of selector inside
// the element.
func (e *element) Attr(ctx context.Context, selector, name string) (string, bool, error) {
	expr := fmt.Sprintf(`(() => {
		const card = document.querySelectorAll(%q)[%d];
		if (!card) return null;
		const el = %q === "" ? card : card.querySelector(%q);
		if (!el || !el.hasAttribute(%q)) return null;
		return el.getAttribute(%q);
	})()`, e.selector, e.index, selector, selector, name, name)
	var value *string
	if err := e.run(ctx, expr, &value); err != nil {
		return "", false, fmt.Errorf("element attr: %w", err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

// Click triggers the card's primary anchor (or the card itself when it has
// none). The click may open a popup tab or navigate in place; detecting
// which is the resolver's job.
func (e *element) Click(ctx context.Context) error {
	expr := fmt.Sprintf(`(() => {
		const card = document.querySelectorAll(%q)[%d];
		if (!card) return false;
		const link = card.querySelector("a") || card;
		link.click();
		return true;
	})()`, e.selector, e.index)
	var clicked bool
	if err := e.run(ctx, expr, &clicked); err != nil {
		return fmt.Errorf("element click: %w", err)
	}
	if !clicked {
		return fmt.Errorf("element %d of %q no longer present", e.index, e.selector)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
