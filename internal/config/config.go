// Package config loads and validates joblens configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joblens/joblens/internal/joblens"
)

// DefaultLocation is the "no filter" sentinel. When the location equals this
// value the search URL omits the location parameter entirely, matching the
// search engine's own default-scope behavior.
const DefaultLocation = "default"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Search    SearchConfig    `mapstructure:"search"`
	Site      SiteConfig      `mapstructure:"site"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SearchConfig defines the crawl search space.
type SearchConfig struct {
	Keywords           []string `mapstructure:"keywords"`
	Location           string   `mapstructure:"location"`
	MaxPagesPerKeyword int      `mapstructure:"max_pages_per_keyword"`
	PageQPS            float64  `mapstructure:"page_qps"`
}

// SiteConfig describes how to build search URLs and extract result cards.
type SiteConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	QueryParam       string `mapstructure:"query_param"`
	LocationParam    string `mapstructure:"location_param"`
	PageParam        string `mapstructure:"page_param"`
	CardSelector     string `mapstructure:"card_selector"`
	TitleSelector    string `mapstructure:"title_selector"`
	LinkSelector     string `mapstructure:"link_selector"`
	CompanySelector  string `mapstructure:"company_selector"`
	LocationSelector string `mapstructure:"location_selector"`
	SalarySelector   string `mapstructure:"salary_selector"`
}

// BrowserConfig configures the chromedp browsing session.
type BrowserConfig struct {
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// ResolverConfig bounds the dual-strategy link resolution race.
type ResolverConfig struct {
	NewTabTimeoutSeconds int `mapstructure:"new_tab_timeout_seconds"`
	PollTimeoutSeconds   int `mapstructure:"poll_timeout_seconds"`
	PollIntervalMs       int `mapstructure:"poll_interval_ms"`
}

// CacheConfig controls the cross-run dedup cache.
type CacheConfig struct {
	Dir           string `mapstructure:"dir"`
	ProfileID     string `mapstructure:"profile_id"`
	DurationHours int    `mapstructure:"duration_hours"`
}

// DedupConfig tunes identity comparison.
type DedupConfig struct {
	// Provisional toggles the pre-resolution (title, company) short-circuit.
	// Disabling it resolves every candidate, trading popup interactions for
	// precision when distinct roles share a title/company pair.
	Provisional bool `mapstructure:"provisional"`
}

// PipelineConfig selects and tunes the processing strategy.
type PipelineConfig struct {
	Mode                       string  `mapstructure:"mode"`
	BatchSize                  int     `mapstructure:"batch_size"`
	MemoryCeilingMB            int     `mapstructure:"memory_ceiling_mb"`
	BufferCapacity             int     `mapstructure:"buffer_capacity"`
	BackpressureThresholdRatio float64 `mapstructure:"backpressure_threshold_ratio"`
	ProcessingRate             int     `mapstructure:"processing_rate"`
	Workers                    int     `mapstructure:"workers"`
	ReducerCount               int     `mapstructure:"reducer_count"`
}

// EnrichConfig tunes the enrichment stages the pipeline runs.
type EnrichConfig struct {
	// DescriptionSelector locates the posting body on the destination page.
	DescriptionSelector string `mapstructure:"description_selector"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	// ScoreTerms are matched against title and description; each hit adds
	// one point to the posting score.
	ScoreTerms []string `mapstructure:"score_terms"`
}

// StoreConfig controls the storage collaborator.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PublisherConfig holds metadata for publish-subscribe notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the observability HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.location", DefaultLocation)
	v.SetDefault("search.max_pages_per_keyword", 5)
	v.SetDefault("search.page_qps", 0.5)
	v.SetDefault("site.query_param", "q")
	v.SetDefault("site.location_param", "l")
	v.SetDefault("site.page_param", "page")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "joblens-bot/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("resolver.new_tab_timeout_seconds", 5)
	v.SetDefault("resolver.poll_timeout_seconds", 3)
	v.SetDefault("resolver.poll_interval_ms", 100)
	v.SetDefault("cache.dir", ".joblens")
	v.SetDefault("cache.profile_id", "default")
	v.SetDefault("cache.duration_hours", 72)
	v.SetDefault("dedup.provisional", true)
	v.SetDefault("pipeline.mode", "batch")
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.memory_ceiling_mb", 256)
	v.SetDefault("pipeline.buffer_capacity", 1000)
	v.SetDefault("pipeline.backpressure_threshold_ratio", 0.8)
	v.SetDefault("pipeline.processing_rate", 100)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.reducer_count", 2)
	v.SetDefault("enrich.description_selector", "article, .job-description, body")
	v.SetDefault("enrich.fetch_timeout_seconds", 15)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.table", "postings")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values before any crawling begins.
func (c Config) Validate() error {
	if len(c.Search.Keywords) == 0 {
		return &joblens.ConfigError{Field: "search.keywords", Reason: "must not be empty"}
	}
	for _, kw := range c.Search.Keywords {
		if strings.TrimSpace(kw) == "" {
			return &joblens.ConfigError{Field: "search.keywords", Reason: "contains a blank keyword"}
		}
	}
	if c.Search.MaxPagesPerKeyword < 0 {
		return &joblens.ConfigError{Field: "search.max_pages_per_keyword", Reason: "must be >= 0"}
	}
	if c.Site.BaseURL == "" {
		return &joblens.ConfigError{Field: "site.base_url", Reason: "is required"}
	}
	if c.Cache.DurationHours <= 0 {
		return &joblens.ConfigError{Field: "cache.duration_hours", Reason: "must be > 0"}
	}
	switch c.Pipeline.Mode {
	case "batch", "mapreduce", "stream":
	default:
		return &joblens.ConfigError{Field: "pipeline.mode", Reason: "must be batch, mapreduce, or stream"}
	}
	if c.Pipeline.BatchSize <= 0 {
		return &joblens.ConfigError{Field: "pipeline.batch_size", Reason: "must be > 0"}
	}
	if c.Pipeline.BufferCapacity <= 0 {
		return &joblens.ConfigError{Field: "pipeline.buffer_capacity", Reason: "must be > 0"}
	}
	if c.Pipeline.BackpressureThresholdRatio <= 0 || c.Pipeline.BackpressureThresholdRatio > 1 {
		return &joblens.ConfigError{Field: "pipeline.backpressure_threshold_ratio", Reason: "must be in (0, 1]"}
	}
	if c.Pipeline.ProcessingRate <= 0 || c.Pipeline.ProcessingRate > c.Pipeline.BufferCapacity {
		return &joblens.ConfigError{Field: "pipeline.processing_rate", Reason: "must be > 0 and <= pipeline.buffer_capacity"}
	}
	if c.Pipeline.Workers <= 0 {
		return &joblens.ConfigError{Field: "pipeline.workers", Reason: "must be > 0"}
	}
	if c.Pipeline.ReducerCount <= 0 {
		return &joblens.ConfigError{Field: "pipeline.reducer_count", Reason: "must be > 0"}
	}
	if c.Store.Provider == "postgres" && c.Store.DSN == "" {
		return &joblens.ConfigError{Field: "store.dsn", Reason: "is required when store.provider is postgres"}
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return &joblens.ConfigError{Field: "publisher.project_id", Reason: "and publisher.topic_name are required when publisher.provider is pubsub"}
	}
	if c.Server.Port <= 0 {
		return &joblens.ConfigError{Field: "server.port", Reason: "must be > 0"}
	}
	return nil
}

// CacheDuration returns the dedup cache TTL as a duration.
func (c Config) CacheDuration() time.Duration {
	return time.Duration(c.Cache.DurationHours) * time.Hour
}

// NavTimeout returns the per-navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// NewTabTimeout bounds the resolver's new-tab wait strategy.
func (c Config) NewTabTimeout() time.Duration {
	return time.Duration(c.Resolver.NewTabTimeoutSeconds) * time.Second
}

// PollTimeout bounds the resolver's same-tab URL poll strategy.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Resolver.PollTimeoutSeconds) * time.Second
}

// PollInterval is the same-tab poll granularity.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Resolver.PollIntervalMs) * time.Millisecond
}

// FetchTimeout bounds one enrichment description fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Enrich.FetchTimeoutSeconds) * time.Second
}
