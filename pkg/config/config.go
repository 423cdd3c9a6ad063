// Package config loads service configuration: struct defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "/etc/chatrelay/config.yaml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Store     StoreConfig     `koanf:"store"`
	Scylla    ScyllaConfig    `koanf:"scylla"`
	Redis     RedisConfig     `koanf:"redis"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Chat      ChatConfig      `koanf:"chat"`
	AI        AIConfig        `koanf:"ai"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	UploadDir       string        `koanf:"upload_dir"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // memory or scylla
}

type ScyllaConfig struct {
	Hosts    []string      `koanf:"hosts"`
	Keyspace string        `koanf:"keyspace"`
	Timeout  time.Duration `koanf:"timeout"`
}

type RedisConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

type ChatConfig struct {
	DefaultChannels []string `koanf:"default_channels"`
	HistoryLimit    int      `koanf:"history_limit"`
	// HTTPAutoEnroll applies the public-channel auto-enroll policy to
	// POST /messages as well as to realtime sends.
	HTTPAutoEnroll bool `koanf:"http_auto_enroll"`
	SendBuffer     int  `koanf:"send_buffer"`
}

type AIConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

type RateLimitConfig struct {
	AuthRequests int           `koanf:"auth_requests"`
	Window       time.Duration `koanf:"window"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration before any file or env overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
			UploadDir:       "uploads",
			MaxUploadBytes:  10 << 20,
		},
		Auth: AuthConfig{
			TokenTTL:   7 * 24 * time.Hour,
			BcryptCost: 12,
		},
		Store: StoreConfig{Driver: "memory"},
		Scylla: ScyllaConfig{
			Hosts:    []string{"localhost"},
			Keyspace: "chat",
			Timeout:  5 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "chat-events",
			GroupID: "unread-counter",
		},
		Chat: ChatConfig{
			DefaultChannels: []string{"general", "random", "tech-talk", "osdhack2025"},
			HistoryLimit:    50,
			SendBuffer:      256,
		},
		AI: AIConfig{
			URL:     "http://localhost:11434/api/generate",
			Model:   "llama3",
			Timeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			AuthRequests: 20,
			Window:       time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration. Environment beats file, file beats defaults.
func Load() (*Config, error) {
	return load(findConfigFile())
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	// PORT=5000 style values
	if cfg.Server.Addr != "" && !strings.Contains(cfg.Server.Addr, ":") {
		cfg.Server.Addr = ":" + cfg.Server.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
	"scylla.hosts",
	"kafka.brokers",
	"chat.default_channels",
}

// processSliceFields splits comma separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings keeps the variable names the deployment scripts already use.
var envMappings = map[string]string{
	"port":             "server.addr",
	"http_addr":        "server.addr",
	"cors_origins":     "server.cors_origins",
	"upload_dir":       "server.upload_dir",
	"max_upload_bytes": "server.max_upload_bytes",
	"jwt_secret":       "auth.jwt_secret",
	"token_ttl":        "auth.token_ttl",
	"bcrypt_cost":      "auth.bcrypt_cost",
	"store_driver":     "store.driver",
	"scylla_hosts":     "scylla.hosts",
	"scylla_keyspace":  "scylla.keyspace",
	"redis_enabled":    "redis.enabled",
	"redis_addr":       "redis.addr",
	"kafka_enabled":    "kafka.enabled",
	"kafka_brokers":    "kafka.brokers",
	"kafka_topic":      "kafka.topic",
	"kafka_group_id":   "kafka.group_id",
	"default_channels": "chat.default_channels",
	"history_limit":    "chat.history_limit",
	"http_auto_enroll": "chat.http_auto_enroll",
	"ai_enabled":       "ai.enabled",
	"ollama_url":       "ai.url",
	"ollama_model":     "ai.model",
	"log_level":        "logging.level",
	"log_format":       "logging.format",
}

// envTransformFunc maps an environment variable to a koanf path. Unknown
// variables map to "" and are ignored.
func envTransformFunc(key string) string {
	path, ok := envMappings[strings.ToLower(key)]
	if !ok {
		return ""
	}
	return path
}

// MaxHistoryLimit bounds how many messages a history request returns.
const MaxHistoryLimit = 50

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	} else if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	switch c.Store.Driver {
	case "memory":
	case "scylla":
		if len(c.Scylla.Hosts) == 0 || c.Scylla.Keyspace == "" {
			errs = append(errs, errors.New("scylla.hosts and scylla.keyspace are required for the scylla store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, scylla", c.Store.Driver))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > MaxHistoryLimit {
		errs = append(errs, fmt.Errorf("chat.history_limit must be between 1 and %d", MaxHistoryLimit))
	}
	if c.Chat.SendBuffer <= 0 {
		errs = append(errs, errors.New("chat.send_buffer must be positive"))
	}
	return errors.Join(errs...)
}
