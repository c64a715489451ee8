// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cineai/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"`
	RatePerMinute  int           `yaml:"rate_per_minute"` // per user, 0 disables
}

type DatabaseConfig struct {
	URL      string `yaml:"url"` // empty selects in-memory stores
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables cache, leader lock and rate limiting
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TTL       time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Root             string `yaml:"root"`
	MaxDownloadBytes int64  `yaml:"max_download_bytes"`
}

type DispatchConfig struct {
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	HistoryLimit     int           `yaml:"history_limit"`
	MaxContextTokens int           `yaml:"max_context_tokens"`
	SystemPrompt     string        `yaml:"system_prompt"`
}

type ReconcileConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MaxUnresolved time.Duration `yaml:"max_unresolved"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	Concurrency   int           `yaml:"concurrency"`
}

type WorkerConfig struct {
	Size int `yaml:"size"`
}

// ProviderConfig holds credentials and knobs for one provider id.
type ProviderConfig struct {
	Kind            string        `yaml:"kind"` // implementation; defaults to the provider id
	Enabled         *bool         `yaml:"enabled"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	Region          string        `yaml:"region"`
	VoiceID         string        `yaml:"voice_id"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent calls
	Timeout         time.Duration `yaml:"timeout"`
}

// KindOr returns Kind, or id when Kind is unset.
func (p ProviderConfig) KindOr(id string) string {
	if p.Kind != "" {
		return p.Kind
	}
	return id
}

// IsEnabled defaults to true when the flag is omitted.
func (p ProviderConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

type Config struct {
	Log          LogConfig                 `yaml:"log"`
	HTTP         HTTPConfig                `yaml:"http"`
	Database     DatabaseConfig            `yaml:"database"`
	Redis        RedisConfig               `yaml:"redis"`
	Security     SecurityConfig            `yaml:"security"`
	Auth         AuthConfig                `yaml:"auth"`
	Storage      StorageConfig             `yaml:"storage"`
	Dispatch     DispatchConfig            `yaml:"dispatch"`
	Reconcile    ReconcileConfig           `yaml:"reconcile"`
	Workers      WorkerConfig              `yaml:"workers"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Capabilities map[string][]string       `yaml:"capabilities"` // capability -> ordered provider ids

	Runtime RuntimeConfig `yaml:"-"`
}

// DefaultCapabilities is the fallback order used when the file does not set one.
var DefaultCapabilities = map[string][]string{
	string(model.CapabilityChat):     {"openai", "gemini"},
	string(model.CapabilityAvatar):   {"heygen"},
	string(model.CapabilityVoice):    {"elevenlabs", "polly"},
	string(model.CapabilityVideo):    {"runway", "veo"},
	string(model.CapabilityAssembly): {"composer"},
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 60 * time.Second
	}
	if cfg.HTTP.StreamTimeout <= 0 {
		cfg.HTTP.StreamTimeout = 5 * time.Minute
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.TTL <= 0 {
		cfg.Auth.TTL = time.Hour
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "cineai"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./data/assets"
	}
	if cfg.Storage.MaxDownloadBytes <= 0 {
		cfg.Storage.MaxDownloadBytes = 512 << 20
	}
	if cfg.Dispatch.AttemptTimeout <= 0 {
		cfg.Dispatch.AttemptTimeout = 30 * time.Second
	}
	if cfg.Dispatch.FailureThreshold <= 0 {
		cfg.Dispatch.FailureThreshold = 3
	}
	if cfg.Dispatch.Cooldown <= 0 {
		cfg.Dispatch.Cooldown = 60 * time.Second
	}
	if cfg.Dispatch.HistoryLimit <= 0 {
		cfg.Dispatch.HistoryLimit = 10
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = 15 * time.Second
	}
	if cfg.Reconcile.MaxUnresolved <= 0 {
		cfg.Reconcile.MaxUnresolved = 30 * time.Minute
	}
	if cfg.Reconcile.PollTimeout <= 0 {
		cfg.Reconcile.PollTimeout = 20 * time.Second
	}
	if cfg.Reconcile.Concurrency <= 0 {
		cfg.Reconcile.Concurrency = 8
	}
	if cfg.Workers.Size <= 0 {
		cfg.Workers.Size = 8
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = map[string][]string{}
	}
	for c, ids := range DefaultCapabilities {
		if _, ok := cfg.Capabilities[c]; !ok {
			cfg.Capabilities[c] = append([]string(nil), ids...)
		}
	}
}

func validate(cfg *Config) error {
	for c, ids := range cfg.Capabilities {
		if _, err := model.ParseCapability(c); err != nil {
			return fmt.Errorf("capabilities: %w", err)
		}
		seen := map[string]bool{}
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				return fmt.Errorf("capabilities.%s: empty provider id", c)
			}
			if seen[id] {
				return fmt.Errorf("capabilities.%s: provider %q listed twice", c, id)
			}
			seen[id] = true
		}
	}
	if k := cfg.Security.EncryptionKey; k != "" && len(k) != 16 && len(k) != 24 && len(k) != 32 {
		return errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	return nil
}

// Order returns the configured provider priority list for a capability.
func (c *Config) Order(capability model.Capability) []string {
	return c.Capabilities[string(capability)]
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
