package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file. They may
// also be supplied through a .env file next to the working directory.
const (
	EnvListen    = "DAYPLAN_LISTEN"
	EnvTimezone  = "DAYPLAN_TIMEZONE"
	EnvLogLevel  = "DAYPLAN_LOG_LEVEL"
	EnvStorePath = "DAYPLAN_STORE_PATH"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID tags imported events so a refresh replaces only that feed.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for "today" and for ICS import.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Day track geometry.
	HourHeight     float64 `yaml:"hour_height" json:"hour_height"`
	MinEventHeight float64 `yaml:"min_event_height" json:"min_event_height"`
	// WidthMode is "global" (one width for the whole day) or "cluster".
	WidthMode string `yaml:"width_mode" json:"width_mode"`

	MaxEventsPerDay int `yaml:"max_events_per_day" json:"max_events_per_day"`

	// StorePath is the JSON file holding all events.
	StorePath string `yaml:"store_path" json:"store_path"`
	// CacheDir holds ICS HTTP cache entries.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a cron-style schedule for ICS feed sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen     = "127.0.0.1:8080"
	defaultTimezone   = "Local"
	defaultLogLevel   = "info"
	defaultHourHeight = 80
	defaultMinHeight  = 25
	defaultWidthMode  = "global"
	defaultMaxPerDay  = 200
	defaultStorePath  = "./var/events.json"
	defaultCacheDir   = "./var/ics-cache"
	defaultRefresh    = "*/30 * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		Timezone:        defaultTimezone,
		LogLevel:        defaultLogLevel,
		HourHeight:      defaultHourHeight,
		MinEventHeight:  defaultMinHeight,
		WidthMode:       defaultWidthMode,
		MaxEventsPerDay: defaultMaxPerDay,
		StorePath:       defaultStorePath,
		CacheDir:        defaultCacheDir,
		RefreshCron:     defaultRefresh,
		ICS:             []ICSConfig{},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.HourHeight <= 0 {
		c.HourHeight = defaultHourHeight
	}
	if c.MinEventHeight <= 0 {
		c.MinEventHeight = defaultMinHeight
	}
	switch c.WidthMode {
	case "global", "cluster":
	default:
		c.WidthMode = defaultWidthMode
	}
	if c.MaxEventsPerDay <= 0 {
		c.MaxEventsPerDay = defaultMaxPerDay
	}
	if c.StorePath == "" {
		c.StorePath = defaultStorePath
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// applyEnv overrides fields from the environment. A missing .env file is
// not an error.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := getEnv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := getEnv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := getEnv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getEnv(EnvStorePath); v != "" {
		c.StorePath = v
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and normalized.
//   - Environment overrides are applied last and never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.applyEnv()
			cfg.Normalize()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".dayplan-config-*.tmp")
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
