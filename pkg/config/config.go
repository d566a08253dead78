// Package config loads the session layer configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only supported config API version.
const CurrentVersion = "v1"

// Storage kinds.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	APIVersion  string        `yaml:"apiVersion"`
	API         APIConfig     `yaml:"api"`
	Routes      RoutesConfig  `yaml:"routes"`
	Idle        IdleConfig    `yaml:"idle"`
	Assets      AssetsConfig  `yaml:"assets"`
	Storage     StorageConfig `yaml:"storage"`
	Denials     DenialsConfig `yaml:"denials"`
	Health      HealthConfig  `yaml:"health"`
	Logging     LoggingConfig `yaml:"logging"`
	Development bool          `yaml:"development"`
}

// APIConfig describes the remote API.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	HeaderName string        `yaml:"header_name"`
	Scheme     string        `yaml:"scheme"`
}

// RoutesConfig names the views recovery navigates to.
type RoutesConfig struct {
	Home         string `yaml:"home"`
	Login        string `yaml:"login"`
	AccessDenied string `yaml:"access_denied"`
}

// IdleConfig configures the idle deadline.
type IdleConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Floor    time.Duration `yaml:"floor"`
	Fraction float64       `yaml:"fraction"`
}

// IsEnabled reports whether idle monitoring runs. It defaults to true.
func (c IdleConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AssetsConfig configures binary asset loading.
type AssetsConfig struct {
	RawTemplate     string        `yaml:"raw_template"`
	PreviewTemplate string        `yaml:"preview_template"`
	MaxBytes        int64         `yaml:"max_bytes"`
	Timeout         time.Duration `yaml:"timeout"`

	// Listen is the local address serving object URLs.
	Listen string `yaml:"listen"`
}

// StorageConfig selects the durable credential slot.
type StorageConfig struct {
	Kind   string `yaml:"kind"`
	Name   string `yaml:"name"`
	Dir    string `yaml:"dir"`
	Secret string `yaml:"secret"`

	// DSN is used by the postgres kind and by the denial store.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DenialsConfig configures permission denial retention.
type DenialsConfig struct {
	Capacity        int           `yaml:"capacity"`
	Persist         bool          `yaml:"persist"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// HealthConfig configures the development health prober.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentVersion
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.HeaderName == "" {
		cfg.API.HeaderName = "Authorization"
	}
	if cfg.API.Scheme == "" {
		cfg.API.Scheme = "Bearer"
	}
	if cfg.Routes.Home == "" {
		cfg.Routes.Home = "/"
	}
	if cfg.Routes.Login == "" {
		cfg.Routes.Login = "/login"
	}
	if cfg.Routes.AccessDenied == "" {
		cfg.Routes.AccessDenied = "/access-denied"
	}
	if cfg.Idle.Floor == 0 {
		cfg.Idle.Floor = 10 * time.Minute
	}
	if cfg.Idle.Fraction == 0 {
		cfg.Idle.Fraction = 0.9
	}
	if cfg.Assets.RawTemplate == "" {
		cfg.Assets.RawTemplate = "/files/{id}/download"
	}
	if cfg.Assets.PreviewTemplate == "" {
		cfg.Assets.PreviewTemplate = "/files/{id}/preview"
	}
	if cfg.Assets.MaxBytes == 0 {
		cfg.Assets.MaxBytes = 256 << 20
	}
	if cfg.Assets.Timeout == 0 {
		cfg.Assets.Timeout = 2 * time.Minute
	}
	if cfg.Assets.Listen == "" {
		cfg.Assets.Listen = "127.0.0.1:0"
	}
	if cfg.Storage.Kind == "" {
		cfg.Storage.Kind = StorageFile
	}
	if cfg.Storage.Name == "" {
		cfg.Storage.Name = "token"
	}
	if cfg.Storage.Dir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.Storage.Dir = dir + string(os.PathSeparator) + "adminsession"
		}
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 5
	}
	if cfg.Denials.Capacity == 0 {
		cfg.Denials.Capacity = 100
	}
	if cfg.Denials.RetentionDays == 0 {
		cfg.Denials.RetentionDays = 30
	}
	if cfg.Denials.CleanupInterval == 0 {
		cfg.Denials.CleanupInterval = time.Hour
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 15 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.APIVersion != CurrentVersion {
		errs = append(errs, fmt.Sprintf("apiVersion %q is not supported (want %q)", c.APIVersion, CurrentVersion))
	}

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "api.base_url must be an absolute URL")
	}

	for name, path := range map[string]string{
		"routes.home":          c.Routes.Home,
		"routes.login":         c.Routes.Login,
		"routes.access_denied": c.Routes.AccessDenied,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, name+" must start with /")
		}
	}

	if c.Idle.Fraction <= 0 || c.Idle.Fraction > 1 {
		errs = append(errs, "idle.fraction must be in (0, 1]")
	}
	if c.Idle.Floor < 0 {
		errs = append(errs, "idle.floor must not be negative")
	}

	for name, tmpl := range map[string]string{
		"assets.raw_template":     c.Assets.RawTemplate,
		"assets.preview_template": c.Assets.PreviewTemplate,
	} {
		if !strings.Contains(tmpl, "{id}") {
			errs = append(errs, name+" must contain {id}")
		}
	}

	switch c.Storage.Kind {
	case StorageFile:
		if c.Storage.Dir == "" {
			errs = append(errs, "storage.dir is required for file storage")
		}
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, "storage.dsn is required for postgres storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.kind %q is not one of file, memory, postgres", c.Storage.Kind))
	}

	if c.Denials.Persist && c.Storage.DSN == "" {
		errs = append(errs, "storage.dsn is required when denials.persist is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
