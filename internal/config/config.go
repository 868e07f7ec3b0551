package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for bundlewatch.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"   yaml:"source"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"  yaml:"fetcher"`
	Parser   ParserConfig   `mapstructure:"parser"   yaml:"parser"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
}

// SourceConfig describes where bundles are discovered.
type SourceConfig struct {
	BaseURL          string `mapstructure:"base_url"           yaml:"base_url"`
	LandingPage      string `mapstructure:"landing_page"       yaml:"landing_page"`
	LandingElementID string `mapstructure:"landing_element_id" yaml:"landing_element_id"`
	LandingKey       string `mapstructure:"landing_key"        yaml:"landing_key"`
	ProductElementID string `mapstructure:"product_element_id" yaml:"product_element_id"`
	ProductKey       string `mapstructure:"product_key"        yaml:"product_key"`
	Concurrency      int    `mapstructure:"concurrency"        yaml:"concurrency"`
}

// FetcherConfig controls the page fetcher.
type FetcherConfig struct {
	Type           string        `mapstructure:"type"            yaml:"type"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"     yaml:"max_retries"`
	RetryWait      time.Duration `mapstructure:"retry_wait"      yaml:"retry_wait"`
	RetryMaxWait   time.Duration `mapstructure:"retry_max_wait"  yaml:"retry_max_wait"`
	MaxBodySize    int64         `mapstructure:"max_body_size"   yaml:"max_body_size"`
	MaxRedirects   int           `mapstructure:"max_redirects"   yaml:"max_redirects"`
	UserAgents     []string      `mapstructure:"user_agents"     yaml:"user_agents"`
	Stealth        bool          `mapstructure:"stealth"         yaml:"stealth"`
}

// ParserConfig controls how embedded script payloads are located and decoded.
type ParserConfig struct {
	Locator string `mapstructure:"locator" yaml:"locator"` // css, xpath
	Lenient bool   `mapstructure:"lenient" yaml:"lenient"`
}

// SnapshotConfig controls the monthly snapshot files.
type SnapshotConfig struct {
	Dir       string `mapstructure:"dir"       yaml:"dir"`
	Prefix    string `mapstructure:"prefix"    yaml:"prefix"`
	Extension string `mapstructure:"extension" yaml:"extension"`
}

// DatabaseConfig controls the store snapshots are loaded into.
type DatabaseConfig struct {
	Backend       string `mapstructure:"backend"        yaml:"backend"` // sqlite, mongo
	File          string `mapstructure:"file"           yaml:"file"`
	URL           string `mapstructure:"url"            yaml:"url"`
	AuthToken     string `mapstructure:"auth_token"     yaml:"auth_token"`
	MongoURI      string `mapstructure:"mongo_uri"      yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:          "https://www.humblebundle.com",
			LandingPage:      "bundles",
			LandingElementID: "landingPage-json-data",
			LandingKey:       "data",
			ProductElementID: "webpack-bundle-page-data",
			ProductKey:       "bundleData",
			Concurrency:      1,
		},
		Fetcher: FetcherConfig{
			Type:           "http",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryWait:      2 * time.Second,
			RetryMaxWait:   30 * time.Second,
			MaxBodySize:    10 * 1024 * 1024, // 10MB
			MaxRedirects:   10,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Parser: ParserConfig{
			Locator: "css",
			Lenient: true,
		},
		Snapshot: SnapshotConfig{
			Dir:       "data",
			Prefix:    "bundles",
			Extension: "jsonl",
		},
		Database: DatabaseConfig{
			Backend:       "sqlite",
			File:          "bundles.db",
			MongoDatabase: "bundlewatch",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
