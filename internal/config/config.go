// Package config provides configuration management for the publisher.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"notepub/internal/browser"
	"notepub/internal/logger"
)

// Configuration validation errors.
var (
	ErrInvalidOrigin        = errors.New("api.origin must be an absolute http(s) URL")
	ErrMissingEndpoint      = errors.New("api endpoint paths must not be empty")
	ErrInvalidUpdateMethod  = errors.New("api.update_method must be POST or PUT")
	ErrMissingFieldName     = errors.New("api.fields body, title and status are required")
	ErrInvalidMaxRetries    = errors.New("retry.max_retries must be non-negative")
	ErrInvalidBaseDelay     = errors.New("retry.base_delay_ms must be non-negative")
	ErrInvalidTimeout       = errors.New("retry.timeout_sec must be at least 1")
	ErrInvalidMinInterval   = errors.New("rate_limit.min_interval_ms must be non-negative")
	ErrMissingBrowserURL    = errors.New("browser new_article_url, edit_url and login_url are required")
	ErrInvalidEditURL       = errors.New("browser.edit_url must contain {key}")
	ErrInvalidUITimeout     = errors.New("timeouts must be positive")
	ErrInvalidPolling       = errors.New("timeouts.max_polls must be >= 1 and >= stall_min_polls")
	ErrMissingLocators      = errors.New("locators are missing required elements")
	ErrInvalidCookieMaxAge  = errors.New("auth.max_age_hours must be at least 1")
	ErrInvalidLogLevel      = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrMissingUsername      = errors.New("username is required (auth.username or NOTE_USERNAME)")
	ErrUnknownPathVariables = errors.New("unresolved path variable")
)

// Environment variables read by ApplyEnv.
const (
	EnvUsername = "NOTE_USERNAME"
	EnvEmail    = "NOTE_EMAIL"
	EnvPassword = "NOTE_PASSWORD"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config represents the complete publisher configuration.
type Config struct {
	Locators  browser.Catalog `yaml:"locators"`
	API       APIConfig       `yaml:"api"`
	Browser   BrowserConfig   `yaml:"browser"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retry     RetryPolicy     `yaml:"retry"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIConfig describes the REST surface. Paths may contain {id} and
// {username}; field names are the JSON keys of the update payload.
type APIConfig struct {
	Fields       FieldNames `yaml:"fields"`
	Origin       string     `yaml:"origin"`
	UserAgent    string     `yaml:"user_agent"`
	CreatePath   string     `yaml:"create_path"`
	UpdatePath   string     `yaml:"update_path"`
	UpdateMethod string     `yaml:"update_method"`
	UploadPath   string     `yaml:"upload_path"`
	CreatorsPath string     `yaml:"creators_path"`
}

// FieldNames maps logical payload fields to the platform's JSON keys.
type FieldNames struct {
	Body     string `yaml:"body"`
	Title    string `yaml:"title"`
	Status   string `yaml:"status"`
	Eyecatch string `yaml:"eyecatch"`
}

// RetryPolicy defines retry behavior for API calls.
type RetryPolicy struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	TimeoutSec  int `yaml:"timeout_sec"`
}

// RateLimitConfig defines the dispatch floor shared by all API calls.
type RateLimitConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms"`
}

// BrowserConfig defines how editor sessions are opened.
type BrowserConfig struct {
	NewArticleURL string `yaml:"new_article_url"`
	EditURL       string `yaml:"edit_url"`
	LoginURL      string `yaml:"login_url"`
	BinPath       string `yaml:"bin_path"`
	Headless      bool   `yaml:"headless"`
}

// TimeoutConfig holds UI waits in milliseconds.
type TimeoutConfig struct {
	PageLoadMs     int `yaml:"page_load_ms"`
	ElementMs      int `yaml:"element_ms"`
	CropGraceMs    int `yaml:"crop_grace_ms"`
	SettleMs       int `yaml:"settle_ms"`
	SaveConfirmMs  int `yaml:"save_confirm_ms"`
	SaveGraceMs    int `yaml:"save_grace_ms"`
	PublishPanelMs int `yaml:"publish_panel_ms"`
	PublishGraceMs int `yaml:"publish_grace_ms"`
	TagDelayMs     int `yaml:"tag_delay_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxPolls       int `yaml:"max_polls"`
	StallMinPolls  int `yaml:"stall_min_polls"`
}

// AuthConfig defines credential storage.
type AuthConfig struct {
	Username    string `yaml:"username"`
	CookieFile  string `yaml:"cookie_file"`
	MaxAgeHours int    `yaml:"max_age_hours"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a complete configuration for note.com.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Origin:       "https://note.com",
			UserAgent:    defaultUserAgent,
			CreatePath:   "/api/v1/text_notes",
			UpdatePath:   "/api/v1/text_notes/draft_save?id={id}&is_temp_saved=false",
			UpdateMethod: "POST",
			UploadPath:   "/api/v1/image_upload/note_eyecatch",
			CreatorsPath: "/api/v2/creators/{username}",
			Fields: FieldNames{
				Body:     "body",
				Title:    "name",
				Status:   "status",
				Eyecatch: "eyecatch_image_src",
			},
		},
		Retry: RetryPolicy{
			MaxRetries:  3,
			BaseDelayMs: 1000,
			TimeoutSec:  30,
		},
		RateLimit: RateLimitConfig{MinIntervalMs: 1000},
		Browser: BrowserConfig{
			NewArticleURL: "https://note.com/notes/new",
			EditURL:       "https://note.com/notes/{key}/edit",
			LoginURL:      "https://note.com/login?redirectPath=%2F",
			Headless:      true,
		},
		Timeouts: TimeoutConfig{
			PageLoadMs:     30000,
			ElementMs:      10000,
			CropGraceMs:    3000,
			SettleMs:       800,
			SaveConfirmMs:  10000,
			SaveGraceMs:    3000,
			PublishPanelMs: 1000,
			PublishGraceMs: 2000,
			TagDelayMs:     200,
			PollIntervalMs: 1000,
			MaxPolls:       30,
			StallMinPolls:  10,
		},
		Locators: browser.DefaultCatalog(),
		Auth:     AuthConfig{MaxAgeHours: 24},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// LoadConfig overlays the YAML file at path onto Default and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv fills the username from the environment when unset in the file.
func (c *Config) ApplyEnv() {
	if c.Auth.Username == "" {
		c.Auth.Username = os.Getenv(EnvUsername)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	origin, err := url.Parse(c.API.Origin)
	if err != nil || origin.Host == "" || (origin.Scheme != "http" && origin.Scheme != "https") {
		return ErrInvalidOrigin
	}

	if c.API.CreatePath == "" || c.API.UpdatePath == "" || c.API.UploadPath == "" || c.API.CreatorsPath == "" {
		return ErrMissingEndpoint
	}

	switch strings.ToUpper(c.API.UpdateMethod) {
	case "POST", "PUT":
	default:
		return ErrInvalidUpdateMethod
	}

	if c.API.Fields.Body == "" || c.API.Fields.Title == "" || c.API.Fields.Status == "" {
		return ErrMissingFieldName
	}

	// Validate retry policy
	if c.Retry.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if c.Retry.BaseDelayMs < 0 {
		return ErrInvalidBaseDelay
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.RateLimit.MinIntervalMs < 0 {
		return ErrInvalidMinInterval
	}

	// Validate browser config
	if c.Browser.NewArticleURL == "" || c.Browser.EditURL == "" || c.Browser.LoginURL == "" {
		return ErrMissingBrowserURL
	}

	if !strings.Contains(c.Browser.EditURL, "{key}") {
		return ErrInvalidEditURL
	}

	t := c.Timeouts
	for _, v := range []int{t.PageLoadMs, t.ElementMs, t.CropGraceMs, t.SettleMs, t.SaveConfirmMs, t.SaveGraceMs, t.PublishPanelMs, t.PublishGraceMs, t.TagDelayMs, t.PollIntervalMs} {
		if v <= 0 {
			return ErrInvalidUITimeout
		}
	}

	if t.MaxPolls < 1 || t.StallMinPolls < 0 || t.StallMinPolls > t.MaxPolls {
		return ErrInvalidPolling
	}

	if missing := c.Locators.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingLocators, strings.Join(missing, ", "))
	}

	if c.Auth.MaxAgeHours < 1 {
		return ErrInvalidCookieMaxAge
	}

	if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		return ErrInvalidLogLevel
	}

	return nil
}

// RequireUsername reports ErrMissingUsername when no account is configured.
func (c *Config) RequireUsername() error {
	if c.Auth.Username == "" {
		return ErrMissingUsername
	}

	return nil
}

// GetRetryDelay returns the backoff before retrying after the given
// 0-indexed attempt: base * 2^attempt.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	return time.Duration(rp.BaseDelayMs) * time.Millisecond << uint(attempt)
}

// GetTimeout returns the per-request timeout.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// MinInterval returns the dispatch floor.
func (r RateLimitConfig) MinInterval() time.Duration {
	return time.Duration(r.MinIntervalMs) * time.Millisecond
}

// MaxAge returns how long stored cookies are trusted.
func (a AuthConfig) MaxAge() time.Duration {
	return time.Duration(a.MaxAgeHours) * time.Hour
}

// Endpoint joins the origin with a path template, substituting {name}
// variables from vars.
func (a APIConfig) Endpoint(path string, vars map[string]string) (string, error) {
	for name, value := range vars {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	if strings.Contains(path, "{") {
		return "", fmt.Errorf("%w in %s", ErrUnknownPathVariables, path)
	}

	return strings.TrimRight(a.Origin, "/") + path, nil
}

// ArticleURL returns the public URL of an article.
func (a APIConfig) ArticleURL(username, key string) string {
	return fmt.Sprintf("%s/%s/n/%s", strings.TrimRight(a.Origin, "/"), username, key)
}

// EditURLFor returns the editor URL for an existing article key.
func (b BrowserConfig) EditURLFor(key string) string {
	return strings.ReplaceAll(b.EditURL, "{key}", key)
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Origin: %s, MaxRetries: %d, MinInterval: %dms, Locators: v%d}",
		c.API.Origin,
		c.Retry.MaxRetries,
		c.RateLimit.MinIntervalMs,
		c.Locators.Version,
	)
}
