package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/ports"
	"github.com/hyperengineering/peersync/internal/types"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Ports    PortsConfig    `yaml:"ports"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// AppConfig identifies this application to its peers.
type AppConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Version          string `yaml:"version"`
	ClientTypeFilter string `yaml:"client_type_filter"`
}

// ServerConfig contains listener settings shared by every domain.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	RootPath string `yaml:"root_path"`
}

// SyncConfig contains peer synchronization settings.
type SyncConfig struct {
	RequestTimeout      Duration `yaml:"request_timeout"`
	DiscoveryInterval   Duration `yaml:"discovery_interval"`
	StaggerStep         Duration `yaml:"stagger_step"`
	RediscoveryMinGap   Duration `yaml:"rediscovery_min_gap"`
	BroadcastQueue      int      `yaml:"broadcast_queue"`
	RetryBase           Duration `yaml:"retry_base"`
	RetryMax            Duration `yaml:"retry_max"`
	TombstoneRetention  Duration `yaml:"tombstone_retention"`
	TombstoneGCInterval Duration `yaml:"tombstone_gc_interval"`
	ChangeLogRetention  Duration `yaml:"change_log_retention"`
	CompactionInterval  Duration `yaml:"compaction_interval"`
	IdempotencyTTL      Duration `yaml:"idempotency_ttl"`
}

// PortsConfig holds the base port of each domain's 100-port window.
type PortsConfig struct {
	Theme          int `yaml:"theme"`
	Language       int `yaml:"language"`
	Profile        int `yaml:"profile"`
	History        int `yaml:"history"`
	Bookmark       int `yaml:"bookmark"`
	RSS            int `yaml:"rss"`
	Preferences    int `yaml:"preferences"`
	TorrentSharing int `yaml:"torrent_sharing"`
}

// Base returns the base port configured for d, or 0 for unknown domains.
func (p PortsConfig) Base(d types.Domain) int {
	switch d {
	case types.DomainTheme:
		return p.Theme
	case types.DomainLanguage:
		return p.Language
	case types.DomainProfile:
		return p.Profile
	case types.DomainHistory:
		return p.History
	case types.DomainBookmark:
		return p.Bookmark
	case types.DomainRSS:
		return p.RSS
	case types.DomainPreferences:
		return p.Preferences
	case types.DomainTorrentSharing:
		return p.TorrentSharing
	default:
		return 0
	}
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("PEERSYNC_CONFIG_PATH", "config/peersync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStoresConfig loads configuration like Load but skips validation.
// Offline commands that only inspect local stores or port windows use it,
// so they work without an app identity.
func LoadStoresConfig() (*Config, error) {
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("PEERSYNC_CONFIG_PATH", "config/peersync.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns a Config with all default values and no app identity.
func Defaults() *Config {
	return newDefaults()
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		App: AppConfig{
			Version: "dev",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Database: DatabaseConfig{
			RootPath: "~/.peersync/stores",
		},
		Sync: SyncConfig{
			RequestTimeout:      Duration(3 * time.Second),
			DiscoveryInterval:   Duration(30 * time.Second),
			StaggerStep:         Duration(150 * time.Millisecond),
			RediscoveryMinGap:   Duration(10 * time.Second),
			BroadcastQueue:      256,
			RetryBase:           Duration(1 * time.Second),
			RetryMax:            Duration(2 * time.Minute),
			TombstoneRetention:  Duration(30 * 24 * time.Hour),
			TombstoneGCInterval: Duration(1 * time.Hour),
			ChangeLogRetention:  Duration(7 * 24 * time.Hour),
			CompactionInterval:  Duration(6 * time.Hour),
			IdempotencyTTL:      Duration(24 * time.Hour),
		},
		Ports: PortsConfig{
			Theme:          47100,
			Language:       47200,
			Profile:        47300,
			History:        47400,
			Bookmark:       47500,
			RSS:            47600,
			Preferences:    47700,
			TorrentSharing: 47800,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// App
	if v := os.Getenv("PEERSYNC_APP_ID"); v != "" {
		cfg.App.ID = v
	}
	if v := os.Getenv("PEERSYNC_APP_NAME"); v != "" {
		cfg.App.Name = v
	}
	if v := os.Getenv("PEERSYNC_APP_VERSION"); v != "" {
		cfg.App.Version = v
	}
	if v := os.Getenv("PEERSYNC_CLIENT_TYPE_FILTER"); v != "" {
		cfg.App.ClientTypeFilter = v
	}

	// Server
	if v := os.Getenv("PEERSYNC_HOST"); v != "" {
		cfg.Server.Host = v
	}

	// Database
	if v := os.Getenv("PEERSYNC_DB_ROOT"); v != "" {
		cfg.Database.RootPath = v
	}

	// Auth
	if v := os.Getenv("PEERSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Sync
	envDuration("PEERSYNC_REQUEST_TIMEOUT", &cfg.Sync.RequestTimeout)
	envDuration("PEERSYNC_DISCOVERY_INTERVAL", &cfg.Sync.DiscoveryInterval)
	envDuration("PEERSYNC_STAGGER_STEP", &cfg.Sync.StaggerStep)
	envDuration("PEERSYNC_TOMBSTONE_RETENTION", &cfg.Sync.TombstoneRetention)
	envDuration("PEERSYNC_CHANGE_LOG_RETENTION", &cfg.Sync.ChangeLogRetention)
	if v := os.Getenv("PEERSYNC_BROADCAST_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BroadcastQueue = n
		}
	}

	// Log
	if v := os.Getenv("PEERSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PEERSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// Validate checks that required values are set and port windows do not
// collide.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.App.ID) == "" {
		errs = append(errs, errors.New("app.id is required (PEERSYNC_APP_ID)"))
	}
	if f := c.App.ClientTypeFilter; f != "" && !knownServiceType(f) {
		errs = append(errs, fmt.Errorf("app.client_type_filter %q is not one of %s", f, strings.Join(domain.ServiceTypes(), ", ")))
	}

	domains := types.AllDomains()
	for i, d := range domains {
		base := c.Ports.Base(d)
		if err := ports.ValidateBase(base); err != nil {
			errs = append(errs, fmt.Errorf("ports.%s: %w", d, err))
			continue
		}
		for _, other := range domains[i+1:] {
			if ports.Overlaps(base, c.Ports.Base(other)) {
				errs = append(errs, fmt.Errorf("ports.%s and ports.%s windows overlap", d, other))
			}
		}
	}

	positive := []struct {
		name string
		d    Duration
	}{
		{"sync.request_timeout", c.Sync.RequestTimeout},
		{"sync.discovery_interval", c.Sync.DiscoveryInterval},
		{"sync.retry_base", c.Sync.RetryBase},
		{"sync.retry_max", c.Sync.RetryMax},
		{"sync.tombstone_retention", c.Sync.TombstoneRetention},
		{"sync.tombstone_gc_interval", c.Sync.TombstoneGCInterval},
		{"sync.change_log_retention", c.Sync.ChangeLogRetention},
		{"sync.compaction_interval", c.Sync.CompactionInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.Sync.StaggerStep < 0 {
		errs = append(errs, errors.New("sync.stagger_step must not be negative"))
	}
	if c.Sync.BroadcastQueue <= 0 {
		errs = append(errs, errors.New("sync.broadcast_queue must be positive"))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	return errors.Join(errs...)
}

func knownServiceType(s string) bool {
	for _, t := range domain.ServiceTypes() {
		if strings.EqualFold(t, s) {
			return true
		}
	}
	return false
}

// NewLogger builds the process logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(l.Level)}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLogLevel maps a level name to a slog level. Unknown names map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
