package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	Agent        AgentConfig        `yaml:"agent"`
	Attachments  AttachmentsConfig  `yaml:"attachments"`
	Identity     IdentityConfig     `yaml:"identity"`
	Auth         AuthConfig         `yaml:"auth"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig contains local HTTP API settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig locates the two durable databases. They are separate files
// so a queue wipe can never lose report data and vice versa.
type DatabaseConfig struct {
	ReportsPath string `yaml:"reports_path"`
	QueuePath   string `yaml:"queue_path"`
}

// RemoteConfig describes the remote reconciliation service.
type RemoteConfig struct {
	SyncURL     string   `yaml:"sync_url"`
	UpdateURL   string   `yaml:"update_url"`
	HealthURL   string   `yaml:"health_url"`
	APIKey      string   `yaml:"-"` // env-only, never in YAML
	HTTPTimeout Duration `yaml:"http_timeout"`
}

// ConnectivityConfig tunes the online/offline monitor.
type ConnectivityConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
	Debounce      Duration `yaml:"debounce"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	SettleDelay     Duration `yaml:"settle_delay"`
	LocationTimeout Duration `yaml:"location_timeout"`
}

// AgentConfig tunes the background replay agent.
type AgentConfig struct {
	ReplayInterval Duration `yaml:"replay_interval"`
	MaxRetention   Duration `yaml:"max_retention"`
	PassMaxRetries int      `yaml:"pass_max_retries"`
	PassBackoff    Duration `yaml:"pass_backoff"`
}

// AttachmentsConfig contains optional S3-compatible storage for report
// photos. An empty bucket disables uploads entirely.
type AttachmentsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool  `yaml:"use_ssl"`
}

// IdentityConfig carries the responder/device provenance stamped onto
// every report at creation.
type IdentityConfig struct {
	ResponderID string `yaml:"responder_id"`
	DeviceID    string `yaml:"device_id"`
	AppVersion  string `yaml:"app_version"`
}

// AuthConfig contains local API authentication settings.
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

	configPath := getEnv("AEGIS_CONFIG_PATH", "config/aegis.yaml")

	// Missing config file is not an error; defaults plus env apply.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadLenient loads configuration without validating required remote
// settings. Used by local inspection commands that never touch the network.
func LoadLenient() *Config {
	cfg := newDefaults()

	configPath := getEnv("AEGIS_CONFIG_PATH", "config/aegis.yaml")
	_ = loadYAMLFile(cfg, configPath)
	applyEnvOverrides(cfg)

	return cfg
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values. The debounce and
// timeout literals are deliberate configuration, not hidden constants: 2s
// hold-down against flapping links, 30s network deadline, 1s settle delay
// before an auto-drain, 5s location capture bound, 48h queue retention.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8787,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			ReportsPath: "data/reports.db",
			QueuePath:   "data/queue.db",
		},
		Remote: RemoteConfig{
			HTTPTimeout: Duration(30 * time.Second),
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration(30 * time.Second),
			Debounce:      Duration(2 * time.Second),
		},
		Sync: SyncConfig{
			SettleDelay:     Duration(1 * time.Second),
			LocationTimeout: Duration(5 * time.Second),
		},
		Agent: AgentConfig{
			ReplayInterval: Duration(5 * time.Minute),
			MaxRetention:   Duration(48 * time.Hour),
			PassMaxRetries: 3,
			PassBackoff:    Duration(2 * time.Second),
		},
		Identity: IdentityConfig{
			AppVersion: "dev",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
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
	// Server
	if v := os.Getenv("AEGIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	overrideDuration("AEGIS_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	overrideDuration("AEGIS_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	overrideDuration("AEGIS_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("AEGIS_REPORTS_DB_PATH"); v != "" {
		cfg.Database.ReportsPath = v
	}
	if v := os.Getenv("AEGIS_QUEUE_DB_PATH"); v != "" {
		cfg.Database.QueuePath = v
	}

	// Remote
	if v := os.Getenv("AEGIS_SYNC_URL"); v != "" {
		cfg.Remote.SyncURL = v
	}
	if v := os.Getenv("AEGIS_UPDATE_URL"); v != "" {
		cfg.Remote.UpdateURL = v
	}
	if v := os.Getenv("AEGIS_HEALTH_URL"); v != "" {
		cfg.Remote.HealthURL = v
	}
	if v := os.Getenv("AEGIS_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	overrideDuration("AEGIS_HTTP_TIMEOUT", &cfg.Remote.HTTPTimeout)

	// Connectivity
	overrideDuration("AEGIS_PROBE_INTERVAL", &cfg.Connectivity.ProbeInterval)
	overrideDuration("AEGIS_DEBOUNCE", &cfg.Connectivity.Debounce)

	// Sync
	overrideDuration("AEGIS_SETTLE_DELAY", &cfg.Sync.SettleDelay)
	overrideDuration("AEGIS_LOCATION_TIMEOUT", &cfg.Sync.LocationTimeout)

	// Agent
	overrideDuration("AEGIS_REPLAY_INTERVAL", &cfg.Agent.ReplayInterval)
	overrideDuration("AEGIS_MAX_RETENTION", &cfg.Agent.MaxRetention)
	if v := os.Getenv("AEGIS_PASS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.PassMaxRetries = n
		}
	}
	overrideDuration("AEGIS_PASS_BACKOFF", &cfg.Agent.PassBackoff)

	// Attachments
	if v := os.Getenv("AEGIS_ATTACHMENTS_ENDPOINT"); v != "" {
		cfg.Attachments.Endpoint = v
	}
	if v := os.Getenv("AEGIS_ATTACHMENTS_REGION"); v != "" {
		cfg.Attachments.Region = v
	}
	if v := os.Getenv("AEGIS_ATTACHMENTS_BUCKET"); v != "" {
		cfg.Attachments.Bucket = v
	}
	if v := os.Getenv("AEGIS_ATTACHMENTS_ACCESS_KEY"); v != "" {
		cfg.Attachments.AccessKey = v
	}
	if v := os.Getenv("AEGIS_ATTACHMENTS_SECRET_KEY"); v != "" {
		cfg.Attachments.SecretKey = v
	}

	// Identity
	if v := os.Getenv("AEGIS_RESPONDER_ID"); v != "" {
		cfg.Identity.ResponderID = v
	}
	if v := os.Getenv("AEGIS_DEVICE_ID"); v != "" {
		cfg.Identity.DeviceID = v
	}
	if v := os.Getenv("AEGIS_APP_VERSION"); v != "" {
		cfg.Identity.AppVersion = v
	}

	// Auth
	if v := os.Getenv("AEGIS_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AEGIS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func overrideDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (AEGIS_DEV_MODE=true), endpoint and key validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("AEGIS_DEV_MODE") == "true" {
		return nil
	}

	if c.Remote.SyncURL == "" {
		return errors.New("AEGIS_SYNC_URL is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("AEGIS_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
