// Package seencache persists cross-run dedup identities and keyword
// performance counters with TTL-based staleness.
package seencache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joblens/joblens/internal/joblens"
)

// KeywordStats accumulates per-keyword effectiveness counters for a run.
type KeywordStats struct {
	Found    int `json:"found"`
	Resolved int `json:"resolved"`
}

// Cache is the dedup store. It is loaded once at orchestrator start, mutated
// only by the orchestrator during a run, and saved exactly once at the end.
type Cache struct {
	mu     sync.Mutex
	dir    string
	ttl    time.Duration
	clock  joblens.Clock
	logger *zap.Logger

	seen        map[joblens.IdentityKey]struct{}
	provisional map[joblens.ProvisionalKey]int
	keywords    map[string]KeywordStats
	lastRun     *joblens.RunSummary
}

type diskState struct {
	SavedAt    time.Time               `json:"saved_at"`
	Identities []joblens.IdentityKey   `json:"identities"`
	Keywords   map[string]KeywordStats `json:"keyword_performance"`
	LastRun    *joblens.RunSummary     `json:"last_run,omitempty"`
}

// New constructs an empty Cache rooted at dir.
func New(dir string, ttl time.Duration, clock joblens.Clock, logger *zap.Logger) (*Cache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		dir:         dir,
		ttl:         ttl,
		clock:       clock,
		logger:      logger,
		seen:        make(map[joblens.IdentityKey]struct{}),
		provisional: make(map[joblens.ProvisionalKey]int),
		keywords:    make(map[string]KeywordStats),
	}, nil
}

// Load reads prior state for profileID. Missing, expired, or corrupt state
// all yield a cold start; corrupt files are renamed aside for inspection
// rather than deleted.
func (c *Cache) Load(profileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = make(map[joblens.IdentityKey]struct{})
	c.provisional = make(map[joblens.ProvisionalKey]int)
	c.keywords = make(map[string]KeywordStats)
	c.lastRun = nil

	path := c.statePath(profileID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Info("no prior cache state, cold start", zap.String("profile", profileID))
			return nil
		}
		return fmt.Errorf("read cache state %s: %w", path, err)
	}

	var state diskState
	if err := json.Unmarshal(data, &state); err != nil {
		corrupt := &joblens.CacheCorruptionError{Path: path, Err: err}
		c.logger.Warn("cache state unreadable, cold start", zap.Error(corrupt))
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			c.logger.Warn("could not preserve corrupt cache file", zap.Error(renameErr))
		}
		return nil
	}

	age := c.clock.Now().Sub(state.SavedAt)
	if age >= c.ttl {
		c.logger.Info("cache state expired, cold start",
			zap.String("profile", profileID),
			zap.Duration("age", age),
			zap.Duration("ttl", c.ttl))
		return nil
	}

	for _, key := range state.Identities {
		c.seen[key] = struct{}{}
		c.provisional[joblens.ProvisionalKey{Title: key.Title, Company: key.Company}]++
	}
	for kw, stats := range state.Keywords {
		c.keywords[kw] = stats
	}
	c.lastRun = state.LastRun
	c.logger.Info("cache state loaded",
		zap.String("profile", profileID),
		zap.Int("identities", len(c.seen)))
	return nil
}

// IsKnown reports whether the identity was seen in this or a prior run.
func (c *Cache) IsKnown(key joblens.IdentityKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

// IsKnownProvisional reports whether any known identity shares the
// (title, company) pair. Backs the orchestrator's pre-resolution
// short-circuit.
func (c *Cache) IsKnownProvisional(key joblens.ProvisionalKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provisional[key] > 0
}

// MarkKnown records an identity. It is idempotent, and IsKnown returns true
// for the key immediately afterward for the remainder of the session.
func (c *Cache) MarkKnown(key joblens.IdentityKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.provisional[joblens.ProvisionalKey{Title: key.Title, Company: key.Company}]++
}

// RecordKeywordOutcome accumulates found/resolved counters for a keyword.
func (c *Cache) RecordKeywordOutcome(keyword string, found, resolved int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.keywords[keyword]
	stats.Found += found
	stats.Resolved += resolved
	c.keywords[keyword] = stats
}

// KeywordPerformance returns a copy of the accumulated keyword counters.
func (c *Cache) KeywordPerformance() map[string]KeywordStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]KeywordStats, len(c.keywords))
	for kw, stats := range c.keywords {
		out[kw] = stats
	}
	return out
}

// LastSummary returns the persisted summary of the most recent run, or nil.
func (c *Cache) LastSummary() *joblens.RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// Size returns the number of known identities.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Save overwrites the on-disk state atomically with a fresh savedAt stamp.
// The state is written to a temporary file and renamed into place so a crash
// mid-save never corrupts the previous valid state.
func (c *Cache) Save(profileID string, summary joblens.RunSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := diskState{
		SavedAt:    c.clock.Now(),
		Identities: make([]joblens.IdentityKey, 0, len(c.seen)),
		Keywords:   c.keywords,
		LastRun:    &summary,
	}
	c.lastRun = &summary
	for key := range c.seen {
		state.Identities = append(state.Identities, key)
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache state: %w", err)
	}

	path := c.statePath(profileID)
	tmp, err := os.CreateTemp(c.dir, profileID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace cache state %s: %w", path, err)
	}

	c.logger.Info("cache state saved",
		zap.String("profile", profileID),
		zap.Int("identities", len(state.Identities)))
	return nil
}

func (c *Cache) statePath(profileID string) string {
	return filepath.Join(c.dir, profileID+".json")
}
