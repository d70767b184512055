package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultWarningLead    = 5 * time.Minute
	DefaultMaxUploadBytes = 10 << 20
	DefaultServerAddress  = ":8090"

	DefaultDraftTTL           = 2 * time.Hour
	DefaultDraftCleanInterval = 10 * time.Minute
)

// DefaultJurists lists the reviewers offered when the config names none.
var DefaultJurists = []string{"Ilse Kers", "Linda Lemckert", "Lars"}

// Env overrides for values that should not live in the config file.
const (
	EnvUsername     = "VSOPORTAL_USERNAME"
	EnvPassword     = "VSOPORTAL_PASSWORD"
	EnvPasswordHash = "VSOPORTAL_PASSWORD_HASH"
	EnvWebhookURL   = "VSOPORTAL_WEBHOOK_URL"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" toml:"redis" yaml:"redis"`
	Webhook     WebhookConfig             `json:"webhook" toml:"webhook" yaml:"webhook"`
	Auth        AuthConfig                `json:"auth" toml:"auth" yaml:"auth"`
	Jurists     []string                  `json:"jurists" toml:"jurists" yaml:"jurists"`
}

// BasicConfig holds server tuning. Durations are expressed in minutes.
type BasicConfig struct {
	ServerAddress      string `json:"server_address" toml:"server_address" yaml:"server_address"`
	SessionTimeout     int    `json:"session_timeout" toml:"session_timeout" yaml:"session_timeout"`
	WarningLead        int    `json:"warning_lead" toml:"warning_lead" yaml:"warning_lead"`
	MaxUploadBytes     int64  `json:"max_upload_bytes" toml:"max_upload_bytes" yaml:"max_upload_bytes"`
	UploadDir          string `json:"upload_dir" toml:"upload_dir" yaml:"upload_dir"`
	DraftTTL           int    `json:"draft_ttl" toml:"draft_ttl" yaml:"draft_ttl"`
	DraftCleanInterval int    `json:"draft_clean_interval" toml:"draft_clean_interval" yaml:"draft_clean_interval"`
	MinWorkers         int    `json:"min_workers" toml:"min_workers" yaml:"min_workers"`
	MaxWorkers         int    `json:"max_workers" toml:"max_workers" yaml:"max_workers"`
	QueueSize          int    `json:"queue_size" toml:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout  int    `json:"worker_idle_timeout" toml:"worker_idle_timeout" yaml:"worker_idle_timeout"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn" yaml:"dsn"`
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username" toml:"username" yaml:"username"`
	Password string `json:"password" toml:"password" yaml:"password"`
	DBName   string `json:"db_name" toml:"db_name" yaml:"db_name"`
	Params   string `json:"params" toml:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username" toml:"username" yaml:"username"`
	Password string `json:"password" toml:"password" yaml:"password"`
	DB       int    `json:"db" toml:"db" yaml:"db"`
}

type WebhookConfig struct {
	URL string `json:"url" toml:"url" yaml:"url"`
}

// AuthConfig holds the single staff credential pair. PasswordHash (bcrypt)
// takes precedence over Password when both are set.
type AuthConfig struct {
	Username     string `json:"username" toml:"username" yaml:"username"`
	Password     string `json:"password" toml:"password" yaml:"password"`
	PasswordHash string `json:"password_hash" toml:"password_hash" yaml:"password_hash"`
}

// Load reads configuration from the provided path (defaults to config.json).
// The decoder is picked from the file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if sqlite, ok := cfg.Databases["sqlite3"]; ok && sqlite.DSN != "" && sqlite.DSN != ":memory:" && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(filepath.Dir(absPath), sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}
	if cfg.BasicConfig.UploadDir != "" && !filepath.IsAbs(cfg.BasicConfig.UploadDir) {
		cfg.BasicConfig.UploadDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.UploadDir)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvUsername)); v != "" {
		c.Auth.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Auth.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPasswordHash)); v != "" {
		c.Auth.PasswordHash = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWebhookURL)); v != "" {
		c.Webhook.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.MaxUploadBytes <= 0 {
		c.BasicConfig.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(c.Jurists) == 0 {
		c.Jurists = append([]string(nil), DefaultJurists...)
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	if c.Auth.Username == "" || (c.Auth.Password == "" && c.Auth.PasswordHash == "") {
		return errors.New("auth username and password (or password_hash) must be configured")
	}
	if c.Webhook.URL == "" {
		return errors.New("webhook url must be configured")
	}
	u, err := url.Parse(c.Webhook.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook url %q must be an absolute http(s) url", c.Webhook.URL)
	}
	if c.SessionTimeout() <= c.WarningLead() {
		return errors.New("warning_lead must be shorter than session_timeout")
	}
	return nil
}

// SessionTimeout returns the idle timeout, falling back to 30 minutes.
func (c *Config) SessionTimeout() time.Duration {
	if c.BasicConfig.SessionTimeout <= 0 {
		return DefaultSessionTimeout
	}
	return time.Duration(c.BasicConfig.SessionTimeout) * time.Minute
}

// DraftTTL returns how long an untouched document draft is kept.
func (c *Config) DraftTTL() time.Duration {
	if c.BasicConfig.DraftTTL <= 0 {
		return DefaultDraftTTL
	}
	return time.Duration(c.BasicConfig.DraftTTL) * time.Minute
}

// DraftCleanInterval returns how often abandoned drafts are swept.
func (c *Config) DraftCleanInterval() time.Duration {
	if c.BasicConfig.DraftCleanInterval <= 0 {
		return DefaultDraftCleanInterval
	}
	return time.Duration(c.BasicConfig.DraftCleanInterval) * time.Minute
}

// WarningLead returns how long before expiry the warning is shown.
func (c *Config) WarningLead() time.Duration {
	if c.BasicConfig.WarningLead <= 0 {
		return DefaultWarningLead
	}
	return time.Duration(c.BasicConfig.WarningLead) * time.Minute
}
