package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/joblens/internal/joblens"
)

func validConfig() Config {
	cfg := Config{}
	cfg.Search.Keywords = []string{"golang"}
	cfg.Search.MaxPagesPerKeyword = 3
	cfg.Site.BaseURL = "https://jobs.example.com/search"
	cfg.Cache.DurationHours = 72
	cfg.Pipeline.Mode = "batch"
	cfg.Pipeline.BatchSize = 50
	cfg.Pipeline.BufferCapacity = 1000
	cfg.Pipeline.BackpressureThresholdRatio = 0.8
	cfg.Pipeline.ProcessingRate = 100
	cfg.Pipeline.Workers = 4
	cfg.Pipeline.ReducerCount = 2
	cfg.Server.Port = 8080
	return cfg
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
search:
  keywords:
    - golang
    - data engineer
site:
  base_url: https://jobs.example.com/search
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"golang", "data engineer"}, cfg.Search.Keywords)
	assert.Equal(t, DefaultLocation, cfg.Search.Location)
	assert.Equal(t, 5, cfg.Search.MaxPagesPerKeyword)
	assert.Equal(t, "q", cfg.Site.QueryParam)
	assert.Equal(t, "l", cfg.Site.LocationParam)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 72*time.Hour, cfg.CacheDuration())
	assert.Equal(t, 5*time.Second, cfg.NewTabTimeout())
	assert.Equal(t, 3*time.Second, cfg.PollTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout())
	assert.Equal(t, "batch", cfg.Pipeline.Mode)
	assert.True(t, cfg.Dedup.Provisional)
	assert.Equal(t, "memory", cfg.Store.Provider)
	assert.Equal(t, "postings", cfg.Store.Table)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
search:
  keywords: [golang]
  max_pages_per_keyword: 2
site:
  base_url: https://jobs.example.com/search
pipeline:
  mode: stream
  buffer_capacity: 10
  processing_rate: 10
dedup:
  provisional: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Search.MaxPagesPerKeyword)
	assert.Equal(t, "stream", cfg.Pipeline.Mode)
	assert.Equal(t, 10, cfg.Pipeline.BufferCapacity)
	assert.Equal(t, 10, cfg.Pipeline.ProcessingRate)
	assert.False(t, cfg.Dedup.Provisional)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidConfigReturnsConfigError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
site:
  base_url: https://jobs.example.com/search
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	var cfgErr *joblens.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "search.keywords", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "no keywords",
			mutate: func(c *Config) { c.Search.Keywords = nil },
			field:  "search.keywords",
		},
		{
			name:   "blank keyword",
			mutate: func(c *Config) { c.Search.Keywords = []string{"golang", "  "} },
			field:  "search.keywords",
		},
		{
			name:   "negative max pages",
			mutate: func(c *Config) { c.Search.MaxPagesPerKeyword = -1 },
			field:  "search.max_pages_per_keyword",
		},
		{
			name:   "missing base url",
			mutate: func(c *Config) { c.Site.BaseURL = "" },
			field:  "site.base_url",
		},
		{
			name:   "zero cache ttl",
			mutate: func(c *Config) { c.Cache.DurationHours = 0 },
			field:  "cache.duration_hours",
		},
		{
			name:   "unknown pipeline mode",
			mutate: func(c *Config) { c.Pipeline.Mode = "turbo" },
			field:  "pipeline.mode",
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Pipeline.BatchSize = 0 },
			field:  "pipeline.batch_size",
		},
		{
			name:   "ratio above one",
			mutate: func(c *Config) { c.Pipeline.BackpressureThresholdRatio = 1.5 },
			field:  "pipeline.backpressure_threshold_ratio",
		},
		{
			name:   "rate exceeds capacity",
			mutate: func(c *Config) { c.Pipeline.ProcessingRate = c.Pipeline.BufferCapacity + 1 },
			field:  "pipeline.processing_rate",
		},
		{
			name:   "zero workers",
			mutate: func(c *Config) { c.Pipeline.Workers = 0 },
			field:  "pipeline.workers",
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Store.Provider = "postgres" },
			field:  "store.dsn",
		},
		{
			name:   "pubsub without project",
			mutate: func(c *Config) { c.Publisher.Provider = "pubsub"; c.Publisher.TopicName = "jobs" },
			field:  "publisher.project_id",
		},
		{
			name:   "zero port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			field:  "server.port",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *joblens.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}
