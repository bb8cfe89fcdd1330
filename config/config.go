// ABOUTME: Process configuration: YAML file plus STORYBOARD_* environment overrides.
// ABOUTME: Defaults run the full pipeline locally with image rendering off.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned when no generative API key is configured.
var ErrMissingAPIKey = errors.New("no API key: set OPENAI_API_KEY or models.api_key")

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Models selects the generative models per operation, with optional fallbacks.
type Models struct {
	Text          string `yaml:"text"`
	TextFallback  string `yaml:"text_fallback"`
	Image         string `yaml:"image"`
	ImageFallback string `yaml:"image_fallback"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
}

// Breaker tunes the per-(operation, model) circuit breakers.
type Breaker struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	SuccessThreshold int      `yaml:"success_threshold"`
}

// Layout tunes geometry clamps and an optional custom template library.
type Layout struct {
	MinExtent      float64 `yaml:"min_extent"`
	MaxNonDominant float64 `yaml:"max_non_dominant"`
	TemplatesPath  string  `yaml:"templates_path"`
}

// Runner tunes story execution.
type Runner struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	MaxScenes     int    `yaml:"max_scenes"`
	MaxPanels     int    `yaml:"max_panels"`
	RenderImages  bool   `yaml:"render_images"`
	ImageSize     string `yaml:"image_size"`
	DefaultStyle  string `yaml:"default_style"`
}

// Server tunes the HTTP API.
type Server struct {
	Bind string `yaml:"bind"`
}

// Config is the full process configuration.
type Config struct {
	DBPath      string `yaml:"db_path"`
	ProgressDir string `yaml:"progress_dir"`
	Models      Models `yaml:"models"`
	Breaker     Breaker `yaml:"breaker"`
	Layout      Layout `yaml:"layout"`
	Runner      Runner `yaml:"runner"`
	Server      Server `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:      "storyboard.db",
		ProgressDir: ".",
		Models: Models{
			Text:          "gpt-4o",
			TextFallback:  "gpt-4o-mini",
			Image:         "gpt-image-1",
			ImageFallback: "dall-e-3",
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			Cooldown:         Duration(30 * time.Second),
			SuccessThreshold: 2,
		},
		Layout: Layout{
			MinExtent:      0.12,
			MaxNonDominant: 0.70,
		},
		Runner: Runner{
			MaxConcurrent: 5,
			MaxScenes:     6,
			MaxPanels:     4,
			ImageSize:     "1024x1024",
			DefaultStyle:  "clean ink and watercolor",
		},
		Server: Server{
			Bind: "127.0.0.1:7780",
		},
	}
}

// Load reads the YAML config at path (missing file = defaults), then applies
// STORYBOARD_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// APIKey resolves the generative API key: config value first, then the
// conventional environment variable.
func (c *Config) APIKey() string {
	if c.Models.APIKey != "" {
		return c.Models.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STORYBOARD_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STORYBOARD_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("STORYBOARD_TEXT_MODEL"); v != "" {
		cfg.Models.Text = v
	}
	if v := os.Getenv("STORYBOARD_IMAGE_MODEL"); v != "" {
		cfg.Models.Image = v
	}
	if v := os.Getenv("STORYBOARD_BASE_URL"); v != "" {
		cfg.Models.BaseURL = v
	}
	if v := os.Getenv("STORYBOARD_RENDER_IMAGES"); v == "true" || v == "1" || v == "yes" {
		cfg.Runner.RenderImages = true
	}
	if v := os.Getenv("STORYBOARD_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runner.MaxConcurrent = n
		}
	}
}

func (c *Config) validate() error {
	if c.Layout.MinExtent <= 0 || c.Layout.MinExtent >= 1 {
		return fmt.Errorf("layout.min_extent %v outside (0, 1)", c.Layout.MinExtent)
	}
	if c.Layout.MaxNonDominant <= c.Layout.MinExtent || c.Layout.MaxNonDominant > 1 {
		return fmt.Errorf("layout.max_non_dominant %v must be in (min_extent, 1]", c.Layout.MaxNonDominant)
	}
	if c.Runner.MaxConcurrent <= 0 {
		return fmt.Errorf("runner.max_concurrent must be positive, got %d", c.Runner.MaxConcurrent)
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker thresholds must be positive")
	}
	return nil
}
