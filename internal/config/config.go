// ABOUTME: Configuration loading and parsing for the nightlife agent and principal
// ABOUTME: Supports YAML or TOML files with env var expansion, NIGHTLIFE_* overrides, and role defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/nightlife/internal/statedir"
)

// Role selects which service a configuration is for.
type Role string

const (
	RoleAgent     Role = "agent"
	RolePrincipal Role = "principal"
)

// Config represents the complete configuration of one nightlife service.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Topics   TopicsConfig   `yaml:"topics" toml:"topics"`
	Events   EventsConfig   `yaml:"events" toml:"events"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Dispatch DispatchConfig `yaml:"dispatch" toml:"dispatch"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TopicsConfig controls the handler execution engine.
type TopicsConfig struct {
	Dir            string        `yaml:"dir" toml:"dir"`
	HandlerTimeout time.Duration `yaml:"-" toml:"-"`
	OutputLimit    int           `yaml:"output_limit" toml:"output_limit"`

	HandlerTimeoutRaw string `yaml:"handler_timeout" toml:"handler_timeout"`
}

// EventsConfig controls trigger scripts on the principal.
type EventsConfig struct {
	Dir          string        `yaml:"dir" toml:"dir"`
	Timeout      time.Duration `yaml:"-" toml:"-"`
	PayloadLimit int64         `yaml:"payload_limit" toml:"payload_limit"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// AuthConfig holds token verification settings. On the agent these apply to
// inbound broadcasts; on the principal to control-plane requests. Issuer and
// Audience are also the claims the principal mints for broadcasts
// (BroadcastIssuer/BroadcastAudience).
type AuthConfig struct {
	PublicKeyFile    string        `yaml:"public_key_file" toml:"public_key_file"`
	Issuer           string        `yaml:"issuer" toml:"issuer"`
	Audience         string        `yaml:"audience" toml:"audience"`
	Tolerance        time.Duration `yaml:"-" toml:"-"`
	ReplayProtection bool          `yaml:"replay_protection" toml:"replay_protection"`

	BroadcastIssuer   string `yaml:"broadcast_issuer" toml:"broadcast_issuer"`
	BroadcastAudience string `yaml:"broadcast_audience" toml:"broadcast_audience"`

	ToleranceRaw string `yaml:"timesync_tolerance" toml:"timesync_tolerance"`
}

// DispatchConfig controls the principal's broadcast fan-out.
type DispatchConfig struct {
	Concurrency    int           `yaml:"concurrency" toml:"concurrency"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// DatabaseConfig holds the dispatch log location (principal only)
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

const (
	agentIssuer     = "urn:nightlife:principal"
	agentAudience   = "urn:nightlife:agent"
	adminIssuer     = "urn:nightlife:admin"
	adminAudience   = "urn:nightlife:principal"
	defaultKeyFile  = "config/auth/keys/pub"
	defaultTopics   = "config/handlers"
	defaultEvents   = "config/events"
	defaultDBName   = "dispatches.db"
	defaultMaxBytes = 16 << 20
)

// Default returns the built-in configuration for role.
func Default(role Role) *Config {
	cfg := &Config{
		Topics: TopicsConfig{
			Dir:            defaultTopics,
			HandlerTimeout: 15 * time.Second,
			OutputLimit:    1024,
		},
		Events: EventsConfig{
			Dir:          defaultEvents,
			Timeout:      30 * time.Second,
			PayloadLimit: defaultMaxBytes,
		},
		Auth: AuthConfig{
			Tolerance:         30 * time.Second,
			BroadcastIssuer:   agentIssuer,
			BroadcastAudience: agentAudience,
		},
		Dispatch: DispatchConfig{
			Concurrency:    8,
			RequestTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	switch role {
	case RolePrincipal:
		cfg.Server.HTTPAddr = "127.0.0.1:8000"
		cfg.Auth.Issuer = adminIssuer
		cfg.Auth.Audience = adminAudience
		cfg.Database.Path = statedir.File(defaultDBName)
	default:
		cfg.Server.HTTPAddr = "127.0.0.1:8001"
		cfg.Auth.PublicKeyFile = defaultKeyFile
		cfg.Auth.Issuer = agentIssuer
		cfg.Auth.Audience = agentAudience
	}
	return cfg
}

// DefaultPath is where a role's config file lives when no path is given.
func DefaultPath(role Role) string {
	return statedir.ConfigFile(string(role) + ".yaml")
}

// Resolve picks the config file path: explicit flag, then NIGHTLIFE_CONFIG,
// then the XDG default. explicit reports whether the file must exist.
func Resolve(flagPath string, role Role) (path string, explicit bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if env := os.Getenv("NIGHTLIFE_CONFIG"); env != "" {
		return env, true
	}
	return DefaultPath(role), false
}

// LoadForRole resolves the config path and loads it. A missing default file
// yields the role defaults with environment overrides applied.
func LoadForRole(flagPath string, role Role) (*Config, string, error) {
	path, explicit := Resolve(flagPath, role)
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := Load(path, role)
	return cfg, path, err
}

// Load reads the configuration file at path on top of the role defaults.
// An empty path loads defaults only. Environment variables in the format
// ${VAR_NAME} are expanded, then NIGHTLIFE_* overrides are applied.
func Load(path string, role Role) (*Config, error) {
	cfg := Default(role)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decode(path, content string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(content, cfg)
		return err
	default:
		return yaml.Unmarshal([]byte(content), cfg)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ParseDuration accepts a Go duration string or a plain number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"topics.handler_timeout", cfg.Topics.HandlerTimeoutRaw, &cfg.Topics.HandlerTimeout},
		{"events.timeout", cfg.Events.TimeoutRaw, &cfg.Events.Timeout},
		{"auth.timesync_tolerance", cfg.Auth.ToleranceRaw, &cfg.Auth.Tolerance},
		{"dispatch.request_timeout", cfg.Dispatch.RequestTimeoutRaw, &cfg.Dispatch.RequestTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// applyEnv overlays NIGHTLIFE_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"NIGHTLIFE_HTTP_ADDR":          &cfg.Server.HTTPAddr,
		"NIGHTLIFE_TOPICS_DIR":         &cfg.Topics.Dir,
		"NIGHTLIFE_EVENTS_DIR":         &cfg.Events.Dir,
		"NIGHTLIFE_PUBLIC_KEY_FILE":    &cfg.Auth.PublicKeyFile,
		"NIGHTLIFE_JWT_ISSUER":         &cfg.Auth.Issuer,
		"NIGHTLIFE_JWT_AUDIENCE":       &cfg.Auth.Audience,
		"NIGHTLIFE_BROADCAST_ISSUER":   &cfg.Auth.BroadcastIssuer,
		"NIGHTLIFE_BROADCAST_AUDIENCE": &cfg.Auth.BroadcastAudience,
		"NIGHTLIFE_DATABASE_PATH":      &cfg.Database.Path,
		"NIGHTLIFE_LOG_LEVEL":          &cfg.Logging.Level,
		"NIGHTLIFE_LOG_FORMAT":         &cfg.Logging.Format,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"NIGHTLIFE_HANDLER_TIMEOUT":    &cfg.Topics.HandlerTimeout,
		"NIGHTLIFE_EVENT_TIMEOUT":      &cfg.Events.Timeout,
		"NIGHTLIFE_TIMESYNC_TOLERANCE": &cfg.Auth.Tolerance,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", name, v, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv("NIGHTLIFE_HANDLER_OUTPUT_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NIGHTLIFE_HANDLER_OUTPUT_LIMIT=%q: %w", v, err)
		}
		cfg.Topics.OutputLimit = n
	}

	if v, ok := os.LookupEnv("NIGHTLIFE_REPLAY_PROTECTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NIGHTLIFE_REPLAY_PROTECTION=%q: %w", v, err)
		}
		cfg.Auth.ReplayProtection = b
	}

	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Topics.Dir == "" {
		return fmt.Errorf("topics.dir is required")
	}
	if c.Topics.HandlerTimeout <= 0 {
		return fmt.Errorf("topics.handler_timeout must be positive")
	}
	if c.Topics.OutputLimit <= 0 {
		return fmt.Errorf("topics.output_limit must be positive")
	}
	if c.Events.Timeout <= 0 {
		return fmt.Errorf("events.timeout must be positive")
	}
	if c.Events.PayloadLimit <= 0 {
		return fmt.Errorf("events.payload_limit must be positive")
	}
	if c.Auth.Issuer == "" || c.Auth.Audience == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.Auth.BroadcastIssuer == "" || c.Auth.BroadcastAudience == "" {
		return fmt.Errorf("auth.broadcast_issuer and auth.broadcast_audience are required")
	}
	if c.Auth.Tolerance <= 0 {
		return fmt.Errorf("auth.timesync_tolerance must be positive")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be positive")
	}
	if c.Dispatch.RequestTimeout <= 0 {
		return fmt.Errorf("dispatch.request_timeout must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}
