package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if err := ValidateURL(cfg.Source.BaseURL); err != nil {
		return fmt.Errorf("source.base_url: %w", err)
	}
	if cfg.Source.LandingElementID == "" || cfg.Source.ProductElementID == "" {
		return fmt.Errorf("source.landing_element_id and source.product_element_id are required")
	}
	if cfg.Source.Concurrency < 1 {
		return fmt.Errorf("source.concurrency must be >= 1, got %d", cfg.Source.Concurrency)
	}
	if cfg.Source.Concurrency > 32 {
		return fmt.Errorf("source.concurrency must be <= 32, got %d", cfg.Source.Concurrency)
	}

	if cfg.Fetcher.Type != "http" && cfg.Fetcher.Type != "browser" {
		return fmt.Errorf("fetcher.type must be 'http' or 'browser', got %q", cfg.Fetcher.Type)
	}
	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher.max_retries must be >= 0, got %d", cfg.Fetcher.MaxRetries)
	}
	if cfg.Fetcher.RetryWait < 0 || cfg.Fetcher.RetryMaxWait < cfg.Fetcher.RetryWait {
		return fmt.Errorf("fetcher.retry_wait must be >= 0 and <= fetcher.retry_max_wait")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}

	if cfg.Parser.Locator != "css" && cfg.Parser.Locator != "xpath" {
		return fmt.Errorf("parser.locator must be 'css' or 'xpath', got %q", cfg.Parser.Locator)
	}

	if cfg.Snapshot.Dir == "" || cfg.Snapshot.Prefix == "" || cfg.Snapshot.Extension == "" {
		return fmt.Errorf("snapshot.dir, snapshot.prefix and snapshot.extension are required")
	}
	if strings.ContainsAny(cfg.Snapshot.Prefix, `/\`) {
		return fmt.Errorf("snapshot.prefix must not contain path separators, got %q", cfg.Snapshot.Prefix)
	}

	switch cfg.Database.Backend {
	case "sqlite":
		if cfg.Database.File == "" && cfg.Database.URL == "" {
			return fmt.Errorf("database.file or database.url is required for the sqlite backend")
		}
	case "mongo":
		if cfg.Database.MongoURI == "" {
			return fmt.Errorf("database.mongo_uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("database.backend must be 'sqlite' or 'mongo', got %q", cfg.Database.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is usable as a fetch base.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
