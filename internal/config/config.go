// Package config loads and validates webserial configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/khoward/webserial/internal/book"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Rules    book.RuleSet   `mapstructure:"rules"`
	Download DownloadConfig `mapstructure:"download"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Stall    StallConfig    `mapstructure:"stall"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DownloadConfig governs the download scheduler.
type DownloadConfig struct {
	// Concurrency bounds in-flight chapter fetches and, implicitly, the
	// number of concurrent renderer sessions.
	Concurrency int `mapstructure:"concurrency"`
	// PageRetries is the number of render attempts per chapter page.
	PageRetries int `mapstructure:"page_retries"`
	// RetryDelayMs is the base delay between render attempts.
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
}

// RendererConfig configures the headless rendering subsystem.
type RendererConfig struct {
	Proxy             string  `mapstructure:"proxy"`
	UserAgent         string  `mapstructure:"user_agent"`
	NavTimeoutSec     int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
	StaticProbe       bool    `mapstructure:"static_probe"`
	ProbeMinHTMLBytes int     `mapstructure:"probe_min_html_bytes"`
}

// StallConfig controls the anti-automation interstitial poll loop.
type StallConfig struct {
	CheckIntervalSec int `mapstructure:"check_interval_seconds"`
	MaxWaitSec       int `mapstructure:"max_wait_seconds"`
}

// StorageConfig sets the directories for snapshots and chapter artifacts.
type StorageConfig struct {
	MetadataDir string `mapstructure:"metadata_dir"`
	ChaptersDir string `mapstructure:"chapters_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus scrape endpoint. An empty listen
// address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBSERIAL")
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
	v.SetDefault("download.concurrency", 3)
	v.SetDefault("download.page_retries", 2)
	v.SetDefault("download.retry_delay_ms", 500)
	v.SetDefault("renderer.user_agent", "webserial/0.1")
	v.SetDefault("renderer.nav_timeout_seconds", 25)
	v.SetDefault("renderer.domain_qps", 2.0)
	v.SetDefault("renderer.static_probe", false)
	v.SetDefault("renderer.probe_min_html_bytes", 2048)
	v.SetDefault("stall.check_interval_seconds", 5)
	v.SetDefault("stall.max_wait_seconds", 120)
	v.SetDefault("storage.metadata_dir", "chapters/metadata")
	v.SetDefault("storage.chapters_dir", "chapters")
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits. Rule XPaths are
// validated only when a command actually needs them, since download runs can
// reload rules from a stored snapshot instead.
func (c Config) Validate() error {
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be > 0")
	}
	if c.Renderer.NavTimeoutSec <= 0 {
		return fmt.Errorf("renderer.nav_timeout_seconds must be > 0")
	}
	if c.Stall.CheckIntervalSec <= 0 {
		return fmt.Errorf("stall.check_interval_seconds must be > 0")
	}
	if c.Stall.MaxWaitSec < c.Stall.CheckIntervalSec {
		return fmt.Errorf("stall.max_wait_seconds must be >= stall.check_interval_seconds")
	}
	if strings.TrimSpace(c.Storage.MetadataDir) == "" {
		return fmt.Errorf("storage.metadata_dir must be set")
	}
	if strings.TrimSpace(c.Storage.ChaptersDir) == "" {
		return fmt.Errorf("storage.chapters_dir must be set")
	}
	return nil
}

// NavTimeout converts the renderer navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Renderer.NavTimeoutSec) * time.Second
}

// StallCheckInterval converts the stall poll interval into a duration.
func (c Config) StallCheckInterval() time.Duration {
	return time.Duration(c.Stall.CheckIntervalSec) * time.Second
}

// StallMaxWait converts the stall wait ceiling into a duration.
func (c Config) StallMaxWait() time.Duration {
	return time.Duration(c.Stall.MaxWaitSec) * time.Second
}

// RetryDelay converts the scheduler retry delay into a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Download.RetryDelayMs) * time.Millisecond
}
