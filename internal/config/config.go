package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Validation lives in validate.go, hot reload in watch.go.

// Policy defaults. Both windows are fixed policy, not derived from talk
// durations.
const (
	DefaultCacheValidity = 24 * time.Hour
	DefaultMissedWindow  = 120 * time.Minute
	DefaultLimit         = 5

	DefaultListen   = "127.0.0.1:8080"
	DefaultTimezone = "America/Argentina/Buenos_Aires"
	DefaultRefresh  = "*/15 * * * *"

	DefaultAgendaURL  = "https://nerdear.la/agenda/"
	DefaultDayLabel   = "Martes 23"
	DefaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultFetchLimit = 90 * time.Second
)

// Source kinds.
const (
	SourceScrape = "scrape"
	SourceICS    = "ics"
)

// SourceConfig selects and tunes the event source.
type SourceConfig struct {
	// Kind is "scrape" (headless browser over the agenda page) or "ics".
	Kind string `yaml:"kind" json:"kind" validate:"oneof=scrape ics"`

	// URL is the agenda page (scrape) or the ICS feed (ics).
	URL string `yaml:"url" json:"url" validate:"required,url"`

	// Timeout bounds one whole fetch.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// DefaultDay is the day label given to scraped talks whose card is not
	// inside a recognisable day container.
	DefaultDay string `yaml:"default_day" json:"default_day"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// ICSCacheDir holds ETag/Last-Modified metadata and the last body.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// HorizonDays is how far ahead ICS events are taken. Day labels only
	// place dates up to a month out, hence the cap.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"gte=1,lte=27"`
}

// AuthConfig protects the HTTP API. An empty BearerToken disables auth.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token" json:"-"`

	// AllowedOrigins is an Origin allow-list; "*" allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" validate:"min=1,dive,required"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the query API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the single IANA zone every talk time is interpreted in.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	// RefreshCron is a cron schedule on which the cache is checked and
	// refreshed if it has expired.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required"`

	CacheValidity time.Duration `yaml:"cache_validity" json:"cache_validity" validate:"gt=0"`
	MissedWindow  time.Duration `yaml:"missed_window" json:"missed_window" validate:"gt=0"`
	DefaultLimit  int           `yaml:"default_limit" json:"default_limit" validate:"gte=1,lte=100"`

	Source SourceConfig `yaml:"source" json:"source"`
	Auth   AuthConfig   `yaml:"auth" json:"auth"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        DefaultListen,
		Timezone:      DefaultTimezone,
		RefreshCron:   DefaultRefresh,
		CacheValidity: DefaultCacheValidity,
		MissedWindow:  DefaultMissedWindow,
		DefaultLimit:  DefaultLimit,
		Source: SourceConfig{
			Kind:        SourceScrape,
			URL:         DefaultAgendaURL,
			Timeout:     DefaultFetchLimit,
			DefaultDay:  DefaultDayLabel,
			UserAgent:   DefaultUserAgent,
			ICSCacheDir: "./var/ics-cache",
			HorizonDays: 7,
		},
		Auth: AuthConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.CacheValidity <= 0 {
		c.CacheValidity = d.CacheValidity
	}
	if c.MissedWindow <= 0 {
		c.MissedWindow = d.MissedWindow
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}

	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	if c.Source.Kind == "" {
		c.Source.Kind = d.Source.Kind
	}
	if c.Source.URL == "" && c.Source.Kind == SourceScrape {
		c.Source.URL = d.Source.URL
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = d.Source.Timeout
	}
	if c.Source.DefaultDay == "" {
		c.Source.DefaultDay = d.Source.DefaultDay
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = d.Source.UserAgent
	}
	if c.Source.ICSCacheDir == "" {
		c.Source.ICSCacheDir = d.Source.ICSCacheDir
	}
	if c.Source.HorizonDays <= 0 {
		c.Source.HorizonDays = d.Source.HorizonDays
	}

	if len(c.Auth.AllowedOrigins) == 0 {
		c.Auth.AllowedOrigins = d.Auth.AllowedOrigins
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// ApplyEnv applies the environment overrides the service has always
// honoured in container deployments:
//   - MCP_BEARER:       bearer token for the API
//   - ALLOWED_ORIGINS:  comma-separated Origin allow-list
//   - MCP_PORT / PORT:  listen port (host part of Listen is kept)
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("MCP_BEARER")); v != "" {
		c.Auth.BearerToken = v
	}
	if v := strings.TrimSpace(getenv("ALLOWED_ORIGINS")); v != "" {
		origins := make([]string, 0)
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			c.Auth.AllowedOrigins = origins
		}
	}
	port := strings.TrimSpace(getenv("MCP_PORT"))
	if port == "" {
		port = strings.TrimSpace(getenv("PORT"))
	}
	if port != "" {
		host := c.Listen
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		c.Listen = host + ":" + port
	}
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendacal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
