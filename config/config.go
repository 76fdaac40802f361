// Package config loads the ambient application configuration: roots
// to index, exclusion rules, and the crawler/engine tunables, via
// spf13/viper with file, environment, and default layering.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	errthang "github.com/business-tech-dev/errthang"
)

// Config is the root configuration struct, unmarshaled by viper.
type Config struct {
	Roots              []string      `mapstructure:"roots"`
	ExcludePrefixes    []string      `mapstructure:"excludePrefixes"`
	ExcludeHiddenFiles bool          `mapstructure:"excludeHiddenFiles"`
	SnapshotPath       string        `mapstructure:"snapshotPath"`
	CatalogDSN         string        `mapstructure:"catalogDSN"`
	Crawler            CrawlerConfig `mapstructure:"crawler"`
	Engine             EngineConfig  `mapstructure:"engine"`
}

// CrawlerConfig holds the directory-walk batching settings. The
// crawler package does not read them: it uses fixed batches of 1000
// and checks for cancellation every 1000 iterations.
type CrawlerConfig struct {
	BatchSize     int `mapstructure:"batchSize"`
	CheckInterval int `mapstructure:"checkInterval"`
}

// EngineConfig tunes the SearchEngine's debounced rebuild.
type EngineConfig struct {
	DebounceDelay    time.Duration `mapstructure:"debounceDelay"`
	MaxDebounceDelay time.Duration `mapstructure:"maxDebounceDelay"`
}

// Load reads configuration from configPath if given, otherwise
// searches the working directory and the well-known config directory
// for config.yaml, layering environment-variable overrides ("." in
// keys becomes "_") over file values over defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(errthang.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("roots", []string{})
	v.SetDefault("excludePrefixes", []string{})
	v.SetDefault("excludeHiddenFiles", true)
	v.SetDefault("snapshotPath", errthang.DefaultSnapshotPath)
	v.SetDefault("catalogDSN", errthang.DefaultCatalogDSN)
	v.SetDefault("crawler.batchSize", 1000)
	v.SetDefault("crawler.checkInterval", 1000)
	v.SetDefault("engine.debounceDelay", 5*time.Second)
	v.SetDefault("engine.maxDebounceDelay", 30*time.Second)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = filepath.Join(errthang.DefaultConfigPath, "index.bin")
	}
	return &cfg, nil
}
