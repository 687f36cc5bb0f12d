// Package config loads the node-level configuration: Store, Bus,
// PubSub, Auth and Hub settings. A JSON document is read once from a
// file and then overridden by environment variables, the layering most
// deployment tooling expects operators to use: a checked-in base config
// plus per-environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Store configures the Postgres adapter.
type Store struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	User        string `json:"user"`
	Password    string `json:"password"`
	MaxPoolSize int    `json:"max_pool_size"`
}

// DSN builds a libpq-style connection string from the Store config.
func (s Store) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=%d",
		s.User, s.Password, s.Host, s.Port, s.Database, s.MaxPoolSize)
}

// Bus configures the RabbitMQ connection.
type Bus struct {
	URL       string `json:"url"`
	Exchange  string `json:"exchange"`
	QueueName string `json:"queue_name"`
}

// PubSub configures the Redis connection.
type PubSub struct {
	URL      string `json:"url"`
	Password string `json:"password"`
}

// Auth configures the embedded bearer-token issuer.
type Auth struct {
	Secret   string `json:"secret"`
	ExpiryIn int    `json:"expiry_seconds"`
}

// Expiry returns the configured token lifetime, defaulting to 24 hours
// when unset.
func (a Auth) Expiry() time.Duration {
	if a.ExpiryIn <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.ExpiryIn) * time.Second
}

// Hub configures the websocket listener.
type Hub struct {
	ListenPort      int `json:"listen_port"`
	PingIntervalSec int `json:"ping_interval_seconds"`
	WriteTimeoutSec int `json:"write_timeout_seconds"`
}

// Media configures the presigned-upload-url signer.
type Media struct {
	Bucket  string `json:"bucket"`
	Region  string `json:"region"`
	BaseURL string `json:"base_url"`
}

// Config is the full node configuration.
type Config struct {
	Store  Store  `json:"store"`
	Bus    Bus    `json:"bus"`
	PubSub PubSub `json:"pubsub"`
	Auth   Auth   `json:"auth"`
	Hub    Hub    `json:"hub"`
	Media  Media  `json:"media"`
	// InstanceID identifies this node in PubSub loop-prevention; if empty,
	// Load falls back to the hostname. The Bus queue name is configured
	// separately in Bus.QueueName.
	InstanceID string `json:"instance_id"`
}

// Load reads path as JSON into a Config, then applies environment
// variable overrides (FANOUT_* family) on top: a checked-in base
// config, overridden per-environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Bus.Exchange == "" {
		cfg.Bus.Exchange = "chat_events"
	}
	if cfg.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.InstanceID = host
		}
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str(&cfg.Store.Host, "FANOUT_STORE_HOST")
	str(&cfg.Store.Database, "FANOUT_STORE_DATABASE")
	str(&cfg.Store.User, "FANOUT_STORE_USER")
	str(&cfg.Store.Password, "FANOUT_STORE_PASSWORD")
	str(&cfg.Bus.URL, "FANOUT_BUS_URL")
	str(&cfg.Bus.QueueName, "FANOUT_BUS_QUEUE_NAME")
	str(&cfg.PubSub.URL, "FANOUT_PUBSUB_URL")
	str(&cfg.PubSub.Password, "FANOUT_PUBSUB_PASSWORD")
	str(&cfg.Auth.Secret, "FANOUT_AUTH_SECRET")
	str(&cfg.InstanceID, "FANOUT_INSTANCE_ID")
}

func str(dst *string, envKey string) {
	if v := os.Getenv(envKey); v != "" {
		*dst = v
	}
}
