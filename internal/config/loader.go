package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// Priority (highest to lowest): env vars > config file > defaults.
// CLI flags are layered on afterwards with ApplyOverrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("BUNDLEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bundlewatch")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".bundlewatch"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// ApplyOverrides copies every non-zero field of overrides onto cfg.
// Zero values (empty strings, 0, false, nil slices) leave cfg untouched.
func ApplyOverrides(cfg *Config, overrides *Config) error {
	if overrides == nil {
		return nil
	}
	if err := mergo.Merge(cfg, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("apply overrides: %w", err)
	}
	return nil
}

// setDefaults registers default values in viper so env vars can bind to every key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("source.base_url", cfg.Source.BaseURL)
	v.SetDefault("source.landing_page", cfg.Source.LandingPage)
	v.SetDefault("source.landing_element_id", cfg.Source.LandingElementID)
	v.SetDefault("source.landing_key", cfg.Source.LandingKey)
	v.SetDefault("source.product_element_id", cfg.Source.ProductElementID)
	v.SetDefault("source.product_key", cfg.Source.ProductKey)
	v.SetDefault("source.concurrency", cfg.Source.Concurrency)

	v.SetDefault("fetcher.type", cfg.Fetcher.Type)
	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.max_retries", cfg.Fetcher.MaxRetries)
	v.SetDefault("fetcher.retry_wait", cfg.Fetcher.RetryWait)
	v.SetDefault("fetcher.retry_max_wait", cfg.Fetcher.RetryMaxWait)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)
	v.SetDefault("fetcher.stealth", cfg.Fetcher.Stealth)

	v.SetDefault("parser.locator", cfg.Parser.Locator)
	v.SetDefault("parser.lenient", cfg.Parser.Lenient)

	v.SetDefault("snapshot.dir", cfg.Snapshot.Dir)
	v.SetDefault("snapshot.prefix", cfg.Snapshot.Prefix)
	v.SetDefault("snapshot.extension", cfg.Snapshot.Extension)

	v.SetDefault("database.backend", cfg.Database.Backend)
	v.SetDefault("database.file", cfg.Database.File)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.auth_token", cfg.Database.AuthToken)
	v.SetDefault("database.mongo_uri", cfg.Database.MongoURI)
	v.SetDefault("database.mongo_database", cfg.Database.MongoDatabase)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
