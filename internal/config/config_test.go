package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
rules:
  chapter_xpath: '//ul[@class="toc"]//a'
  content_xpath: '//div[@id="content"]'
  list_pagination_xpath: '//a[@rel="next"]'
  filter_pattern: '(?s)<p>(.*?)</p>'
  replacements:
    - find: "foo"
      replace: "bar"
  case_sensitive: true
download:
  concurrency: 5
  page_retries: 3
  retry_delay_ms: 250
renderer:
  proxy: "http://127.0.0.1:8080"
  user_agent: custom-agent
  nav_timeout_seconds: 40
  domain_qps: 1.5
  static_probe: true
stall:
  check_interval_seconds: 2
  max_wait_seconds: 30
storage:
  metadata_dir: /tmp/meta
  chapters_dir: /tmp/chapters
logging:
  development: false
metrics:
  listen_addr: "127.0.0.1:9091"
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Rules.ChapterXPath != `//ul[@class="toc"]//a` {
		t.Fatalf("expected chapter xpath override, got %q", cfg.Rules.ChapterXPath)
	}
	if len(cfg.Rules.Replacements) != 1 || cfg.Rules.Replacements[0].Find != "foo" {
		t.Fatalf("expected replacements to load: %+v", cfg.Rules.Replacements)
	}
	if !cfg.Rules.CaseSensitive {
		t.Fatalf("expected case_sensitive to be true")
	}
	if cfg.Download.Concurrency != 5 || cfg.Download.PageRetries != 3 {
		t.Fatalf("expected download overrides to apply: %+v", cfg.Download)
	}
	if cfg.Renderer.Proxy != "http://127.0.0.1:8080" || !cfg.Renderer.StaticProbe {
		t.Fatalf("expected renderer overrides to apply: %+v", cfg.Renderer)
	}
	if got := cfg.NavTimeout(); got != 40*time.Second {
		t.Fatalf("expected nav timeout 40s, got %v", got)
	}
	if got := cfg.StallMaxWait(); got != 30*time.Second {
		t.Fatalf("expected stall max wait 30s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9091" {
		t.Fatalf("expected metrics listen addr override, got %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Download.Concurrency != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.Download.Concurrency)
	}
	if cfg.Stall.MaxWaitSec != 120 {
		t.Fatalf("expected default stall max wait 120, got %d", cfg.Stall.MaxWaitSec)
	}
	if cfg.Storage.MetadataDir != "chapters/metadata" {
		t.Fatalf("unexpected default metadata dir %q", cfg.Storage.MetadataDir)
	}
	if cfg.Metrics.ListenAddr != "" {
		t.Fatalf("expected metrics endpoint disabled by default, got %q", cfg.Metrics.ListenAddr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	bad := cfg
	bad.Download.Concurrency = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}

	bad = cfg
	bad.Stall.MaxWaitSec = 1
	bad.Stall.CheckIntervalSec = 5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for max wait below check interval")
	}

	bad = cfg
	bad.Storage.ChaptersDir = " "
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty chapters dir")
	}
}
