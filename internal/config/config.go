// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Inputs     InputsConfig     `mapstructure:"inputs"`
}

// CrawlConfig governs per-organization crawl behavior.
type CrawlConfig struct {
	MaxDepth            int                      `mapstructure:"max_depth"`
	MaxPagesPerSite     int                      `mapstructure:"max_pages_per_site"`
	RespectRobotsTxt    bool                     `mapstructure:"respect_robots_txt"`
	FollowExternalLinks bool                     `mapstructure:"follow_external_links"`
	UserAgent           string                   `mapstructure:"user_agent"`
	RequestDelaySeconds float64                  `mapstructure:"request_delay_seconds"`
	ExcludePatterns     []string                 `mapstructure:"exclude_patterns"`
	PriorityPatterns    crawler.PriorityPatterns `mapstructure:"priority_patterns"`
	DownloadExtensions  []string                 `mapstructure:"download_extensions"`
	MinContentLength    int                      `mapstructure:"min_content_length"`
	CheckDuplicates     bool                     `mapstructure:"check_duplicates"`
	CheckpointEvery     int                      `mapstructure:"checkpoint_every"`
	MaxFetchAttempts    int                      `mapstructure:"max_fetch_attempts"`
}

// FetchConfig configures the HTTP fetch primitive.
type FetchConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig selects and configures the session store backend.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for session completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DispatcherConfig controls multi-organization fan-out.
type DispatcherConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// InputsConfig points at the seed files and the output tree.
type InputsConfig struct {
	OrganizationsFile string `mapstructure:"organizations_file"`
	SeedsFile         string `mapstructure:"seeds_file"`
	OutputDir         string `mapstructure:"output_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORGSCRAPER")
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
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.max_pages_per_site", 500)
	v.SetDefault("crawl.respect_robots_txt", true)
	v.SetDefault("crawl.follow_external_links", false)
	v.SetDefault("crawl.user_agent", "orgscraper/1.0 (+https://github.com/vkadlec/orgscraper)")
	v.SetDefault("crawl.request_delay_seconds", 1.0)
	v.SetDefault("crawl.download_extensions", []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"})
	v.SetDefault("crawl.min_content_length", 100)
	v.SetDefault("crawl.check_duplicates", true)
	v.SetDefault("crawl.checkpoint_every", 10)
	v.SetDefault("crawl.max_fetch_attempts", 3)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data/runs")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.sqlite_path", "data/sessions.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("dispatcher.concurrency", 3)
	v.SetDefault("dispatcher.cooldown_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("inputs.organizations_file", "config/organizations.csv")
	v.SetDefault("inputs.seeds_file", "config/url_seeds.csv")
	v.SetDefault("inputs.output_dir", "data/runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxPagesPerSite <= 0 {
		return fmt.Errorf("crawl.max_pages_per_site must be > 0")
	}
	if c.Crawl.UserAgent == "" {
		return fmt.Errorf("crawl.user_agent must be set")
	}
	if c.Crawl.RequestDelaySeconds < 0 {
		return fmt.Errorf("crawl.request_delay_seconds must be >= 0")
	}
	if c.Crawl.MaxFetchAttempts <= 0 {
		return fmt.Errorf("crawl.max_fetch_attempts must be > 0")
	}
	if err := crawler.ValidatePatterns(c.Crawl.ExcludePatterns); err != nil {
		return fmt.Errorf("crawl.exclude_patterns: %w", err)
	}
	for _, tier := range c.Crawl.PriorityPatterns.Tiers() {
		if err := crawler.ValidatePatterns(tier); err != nil {
			return fmt.Errorf("crawl.priority_patterns: %w", err)
		}
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "local", "gcs", "memory":
	default:
		return fmt.Errorf("storage.provider must be one of local, gcs, memory, got %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.DB.Driver == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.driver is postgres")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher.concurrency must be > 0")
	}
	return nil
}

// Policy converts the crawl section into the engine's typed policy.
func (c Config) Policy() crawler.Policy {
	return crawler.Policy{
		MaxDepth:            c.Crawl.MaxDepth,
		MaxPagesPerSite:     c.Crawl.MaxPagesPerSite,
		RespectRobotsTxt:    c.Crawl.RespectRobotsTxt,
		FollowExternalLinks: c.Crawl.FollowExternalLinks,
		UserAgent:           c.Crawl.UserAgent,
		ExcludePatterns:     c.Crawl.ExcludePatterns,
		PriorityPatterns:    c.Crawl.PriorityPatterns,
		DownloadExtensions:  c.Crawl.DownloadExtensions,
		MinContentLength:    c.Crawl.MinContentLength,
		CheckDuplicates:     c.Crawl.CheckDuplicates,
		RequestDelay:        time.Duration(c.Crawl.RequestDelaySeconds * float64(time.Second)),
		CheckpointEvery:     c.Crawl.CheckpointEvery,
		MaxFetchAttempts:    c.Crawl.MaxFetchAttempts,
	}
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// Cooldown converts the dispatcher cooldown into a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Dispatcher.CooldownSeconds) * time.Second
}
