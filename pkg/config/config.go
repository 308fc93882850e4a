// Package config provides configuration management for Grantly
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/grantly/grantly/pkg/types"
)

// AuthConfig controls the credential & session authenticator
type AuthConfig struct {
	// LoginFields are the user columns matched against a supplied login
	// identifier, OR-combined. Defaults to ["username"].
	LoginFields []string `json:"login_fields" yaml:"login_fields"`

	// Firewall is the namespace prefix for admin-area routes (e.g. "admin_")
	Firewall string `json:"firewall" yaml:"firewall"`

	// LegacySalting keeps the movable-salt MD5 scheme for newly written
	// hashes. Off by default; verification accepts legacy hashes either way.
	LegacySalting bool `json:"legacy_salting" yaml:"legacy_salting"`

	// RehashOnLogin upgrades legacy hashes to the modern scheme after a
	// successful credential check
	RehashOnLogin bool `json:"rehash_on_login" yaml:"rehash_on_login"`

	// Power selects the single-role mode: the user's group id comes from
	// the user row instead of the membership table
	Power bool `json:"power" yaml:"power"`

	// Patterns maps a login field to regex patterns a value must satisfy
	Patterns map[string][]string `json:"patterns,omitempty" yaml:"patterns,omitempty"`

	// Cookie settings for the remember-me pair
	CookieName string        `json:"cookie_name" yaml:"cookie_name"`
	CookieKey  string        `json:"cookie_key" yaml:"cookie_key"`
	CookieTTL  time.Duration `json:"cookie_ttl" yaml:"cookie_ttl"`

	// JWT session token settings
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiry time.Duration `json:"jwt_expiry" yaml:"jwt_expiry"`
}

// GrantsConfig holds the statically configured grant lists per scope
type GrantsConfig struct {
	Public types.GrantList `json:"public" yaml:"public"`
	Group  types.GrantList `json:"group" yaml:"group"`
	User   types.GrantList `json:"user" yaml:"user"`
}

// APIConfig controls the API request authenticator
type APIConfig struct {
	// PublicMethods are "option.view" pairs served without credentials,
	// in addition to the built-in baseline
	PublicMethods []string `json:"public_methods" yaml:"public_methods"`

	// DisablePublic turns the public allow-list off entirely
	DisablePublic bool `json:"disable_public" yaml:"disable_public"`

	// UserOnly ignores the password half of composite keys
	UserOnly bool `json:"user_only" yaml:"user_only"`

	// CacheTTL caches credential-validation results per (api_key, ip).
	// Zero disables the cache. Signatures are always re-checked.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// PasswordConfig controls generated passwords and activation keys
type PasswordConfig struct {
	Length        int  `json:"length" yaml:"length" validate:"min=6"`
	SpecialChars  bool `json:"special_chars" yaml:"special_chars"`
	ActivationLen int  `json:"activation_len" yaml:"activation_len" validate:"min=6"`
}

// DatabaseConfig selects the backing store
type DatabaseConfig struct {
	Type string `json:"type" yaml:"type" validate:"required,oneof=sqlite"`
	Path string `json:"path" yaml:"path"`
}

// RedisConfig holds the optional redis cache backend settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DB       int    `json:"db" yaml:"db"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
}

// NATSConfig holds the optional login event publisher settings
type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

// WebhookConfig holds the optional webhook notifier settings
type WebhookConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Retries uint          `json:"retries" yaml:"retries"`
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
}

// Config is the root Grantly configuration
type Config struct {
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Grants   GrantsConfig   `json:"grants" yaml:"grants"`
	API      APIConfig      `json:"api" yaml:"api"`
	Password PasswordConfig `json:"password" yaml:"password"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	LogLevel string         `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`

	mu        sync.RWMutex
	validator *validator.Validate
	viper     *viper.Viper
}

// DefaultConfig returns the default Grantly configuration
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			LoginFields:   []string{"username"},
			RehashOnLogin: true,
			CookieName:    "grantly_user",
			CookieKey:     "grantly_key",
			CookieTTL:     30 * 24 * time.Hour,
			JWTExpiry:     24 * time.Hour,
		},
		API: APIConfig{
			CacheTTL: 10 * time.Minute,
		},
		Password: PasswordConfig{
			Length:        12,
			SpecialChars:  false,
			ActivationLen: 9,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./data/grantly.db",
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "grantly.auth.login",
		},
		Webhook: WebhookConfig{
			Timeout: 5 * time.Second,
			Retries: 3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LogLevel:  "info",
		validator: validator.New(),
	}
}

// yamlTagNames makes viper decode onto the same field names the yaml
// tags declare
func yamlTagNames(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
}

// Load reads configuration from the given file on top of the defaults.
// Environment variables prefixed GRANTLY_ override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("GRANTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg, yamlTagNames); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.viper = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.validator == nil {
		c.validator = validator.New()
	}
	if err := c.validator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Auth.LoginFields) == 0 {
		return fmt.Errorf("invalid configuration: auth.login_fields must not be empty")
	}
	return nil
}

// Watch re-reads the file on change and invokes the callback with a
// fresh configuration snapshot. The receiver is never mutated, so
// concurrent readers of the live config stay safe.
func (c *Config) Watch(callback func(*Config)) {
	if c.viper == nil {
		return
	}
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		fresh := DefaultConfig()
		if err := c.viper.Unmarshal(fresh, yamlTagNames); err != nil {
			return
		}
		fresh.viper = c.viper
		if err := fresh.Validate(); err != nil {
			return
		}
		if callback != nil {
			callback(fresh)
		}
	})
}

// ToYAMLFile saves the configuration to a YAML file
func (c *Config) ToYAMLFile(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoginFields returns the configured login identifier fields, defaulting
// to username
func (c *Config) LoginFields() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.Auth.LoginFields) == 0 {
		return []string{"username"}
	}
	return c.Auth.LoginFields
}
