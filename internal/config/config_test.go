package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Crawl.MaxDepth)
	assert.Equal(t, 500, cfg.Crawl.MaxPagesPerSite)
	assert.True(t, cfg.Crawl.RespectRobotsTxt)
	assert.False(t, cfg.Crawl.FollowExternalLinks)
	assert.Contains(t, cfg.Crawl.DownloadExtensions, ".pdf")
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Dispatcher.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 5*time.Second, cfg.Cooldown())
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
crawl:
  max_depth: 5
  max_pages_per_site: 40
  user_agent: test-agent
  request_delay_seconds: 0.5
  follow_external_links: true
  exclude_patterns:
    - /wp-admin/
    - \.jpg$
  priority_patterns:
    high:
      - /publikace/
    medium:
      - /news/
    low:
      - /gallery/
fetch:
  timeout_seconds: 12
storage:
  provider: gcs
  gcs_bucket: crawl-artifacts
  prefix: runs
db:
  driver: postgres
  dsn: postgres://localhost/orgscraper
dispatcher:
  concurrency: 2
  cooldown_seconds: 1
logging:
  development: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Crawl.MaxDepth)
	assert.Equal(t, "test-agent", cfg.Crawl.UserAgent)
	assert.True(t, cfg.Crawl.FollowExternalLinks)
	assert.Equal(t, []string{"/publikace/"}, cfg.Crawl.PriorityPatterns.High)
	assert.Equal(t, "gcs", cfg.Storage.Provider)
	assert.Equal(t, "crawl-artifacts", cfg.Storage.GCSBucket)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 12*time.Second, cfg.FetchTimeout())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ORGSCRAPER_SERVER_PORT", "9999")
	t.Setenv("ORGSCRAPER_CRAWL_USER_AGENT", "env-agent")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "env-agent", cfg.Crawl.UserAgent)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "negative depth",
			mutate: func(c *Config) { c.Crawl.MaxDepth = -1 },
			want:   "crawl.max_depth",
		},
		{
			name:   "zero pages",
			mutate: func(c *Config) { c.Crawl.MaxPagesPerSite = 0 },
			want:   "crawl.max_pages_per_site",
		},
		{
			name:   "empty user agent",
			mutate: func(c *Config) { c.Crawl.UserAgent = "" },
			want:   "crawl.user_agent",
		},
		{
			name:   "bad exclude regex",
			mutate: func(c *Config) { c.Crawl.ExcludePatterns = []string{"([unclosed"} },
			want:   "crawl.exclude_patterns",
		},
		{
			name:   "bad priority regex",
			mutate: func(c *Config) { c.Crawl.PriorityPatterns.High = []string{"([unclosed"} },
			want:   "crawl.priority_patterns",
		},
		{
			name:   "unknown storage provider",
			mutate: func(c *Config) { c.Storage.Provider = "s3" },
			want:   "storage.provider",
		},
		{
			name:   "gcs without bucket",
			mutate: func(c *Config) { c.Storage.Provider = "gcs" },
			want:   "storage.gcs_bucket",
		},
		{
			name:   "unknown db driver",
			mutate: func(c *Config) { c.DB.Driver = "mysql" },
			want:   "db.driver",
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.DB.Driver = "postgres" },
			want:   "db.dsn",
		},
		{
			name:   "pubsub enabled without topic",
			mutate: func(c *Config) { c.PubSub.Enabled = true },
			want:   "pubsub",
		},
		{
			name:   "zero concurrency",
			mutate: func(c *Config) { c.Dispatcher.Concurrency = 0 },
			want:   "dispatcher.concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPolicyConversion(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Crawl.RequestDelaySeconds = 1.5
	cfg.Crawl.ExcludePatterns = []string{"/admin/"}

	policy := cfg.Policy()
	assert.Equal(t, cfg.Crawl.MaxDepth, policy.MaxDepth)
	assert.Equal(t, cfg.Crawl.UserAgent, policy.UserAgent)
	assert.Equal(t, 1500*time.Millisecond, policy.RequestDelay)
	assert.Equal(t, []string{"/admin/"}, policy.ExcludePatterns)
	assert.Equal(t, cfg.Crawl.CheckpointEvery, policy.CheckpointEvery)
}
