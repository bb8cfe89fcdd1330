// ABOUTME: Tests for config loading: defaults, YAML values, env overrides, validation.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models.Text != "gpt-4o" || cfg.Runner.MaxConcurrent != 5 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.Cooldown.Std() != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Runner.RenderImages {
		t.Error("image rendering must default off")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
db_path: /tmp/sb.db
models:
  text: test-model
  text_fallback: test-fallback
runner:
  max_concurrent: 2
  render_images: true
layout:
  min_extent: 0.1
  max_non_dominant: 0.6
breaker:
  failure_threshold: 5
  success_threshold: 2
  cooldown: 5s
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/sb.db" || cfg.Models.Text != "test-model" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if cfg.Runner.MaxConcurrent != 2 || !cfg.Runner.RenderImages {
		t.Errorf("runner values not applied: %+v", cfg.Runner)
	}
	if cfg.Breaker.Cooldown.Std() != 5*time.Second {
		t.Errorf("duration string not parsed: %v", cfg.Breaker.Cooldown)
	}
	// Untouched sections keep their defaults.
	if cfg.Models.Image != "gpt-image-1" || cfg.Server.Bind != "127.0.0.1:7780" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("models:\n  text: from-yaml\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORYBOARD_TEXT_MODEL", "from-env")
	t.Setenv("STORYBOARD_MAX_CONCURRENT", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models.Text != "from-env" {
		t.Errorf("env override lost: %q", cfg.Models.Text)
	}
	if cfg.Runner.MaxConcurrent != 3 {
		t.Errorf("env override lost: %d", cfg.Runner.MaxConcurrent)
	}
}

func TestValidationRejectsBadClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("layout:\n  min_extent: 0.5\n  max_non_dominant: 0.4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected rejection of max_non_dominant <= min_extent")
	}
}

func TestAPIKeyResolution(t *testing.T) {
	cfg := Default()
	t.Setenv("OPENAI_API_KEY", "env-key")
	if got := cfg.APIKey(); got != "env-key" {
		t.Errorf("expected env key, got %q", got)
	}
	cfg.Models.APIKey = "file-key"
	if got := cfg.APIKey(); got != "file-key" {
		t.Errorf("config key must win, got %q", got)
	}
}
