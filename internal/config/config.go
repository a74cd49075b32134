package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// UnlimitedRetries means the polling engine never expires a registration
// and startup tolerates an unreachable object store.
const UnlimitedRetries = -1

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Polling     PollingConfig     `yaml:"polling"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Storage     StorageConfig     `yaml:"storage"`
	Sinks       SinksConfig       `yaml:"sinks"`
	Client      ClientConfig      `yaml:"client"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

type ServerConfig struct {
	WsPort   int    `yaml:"ws_port"`
	HTTPPort int    `yaml:"http_port"`
	Env      string `yaml:"env"`
}

type PollingConfig struct {
	// IntervalMs between bucket scans
	IntervalMs int `yaml:"interval_ms"`

	// MaxRetries before an expected invoice is dropped; UnlimitedRetries (-1)
	// disables expiry. Parses from the YAML/env spelling "unlimited".
	MaxRetries RetryBudget `yaml:"max_retries"`

	// StreamThresholdBytes: artifacts at or above this size are base64-encoded
	// to disk through a streaming writer instead of in one buffer
	StreamThresholdBytes int64 `yaml:"stream_threshold_bytes"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

type StorageConfig struct {
	InvoiceDir string `yaml:"invoice_dir"`
}

type SinksConfig struct {
	GameOverURL     string `yaml:"game_over_url"`
	ProcessOrderURL string `yaml:"process_order_url"`
	TimeoutMs       int    `yaml:"timeout_ms"`
}

// ClientConfig drives the reconnecting WebSocket client used by the order
// surface to reach the core.
type ClientConfig struct {
	ServerURL        string `yaml:"server_url"`
	ClientID         string `yaml:"client_id"`
	HeartbeatSec     int    `yaml:"heartbeat_sec"`
	BackoffInitialMs int    `yaml:"backoff_initial_ms"`
	BackoffMaxMs     int    `yaml:"backoff_max_ms"`
	QueueSize        int    `yaml:"queue_size"`
}

type LeaderboardConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Key           string `yaml:"key"`
}

// RetryBudget is an int that also parses from the spelling "unlimited".
type RetryBudget int

func (r RetryBudget) Unlimited() bool { return r == UnlimitedRetries }

// UnmarshalYAML accepts either an integer or the string "unlimited".
func (r *RetryBudget) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		*r = RetryBudget(n)
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseRetryBudget(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRetryBudget parses "unlimited" or a base-10 integer.
func ParseRetryBudget(s string) (RetryBudget, error) {
	if strings.EqualFold(strings.TrimSpace(s), "unlimited") {
		return UnlimitedRetries, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid max_retries %q: %w", s, err)
	}
	return RetryBudget(n), nil
}

// Load reads the YAML config at path. A missing file is not an error — the
// zero config plus defaults plus environment overrides is a valid setup.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FromEnv()
			cfg.ApplyDefaults()
			return &cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.FromEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// FromEnv overlays environment variables onto the config. Env wins over file.
func (c *Config) FromEnv() {
	if v := os.Getenv("WS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.WsPort = n
		}
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = n
		}
	}
	if v := os.Getenv("POLLING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Polling.IntervalMs = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if budget, err := ParseRetryBudget(v); err == nil {
			c.Polling.MaxRetries = budget
		}
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		c.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		c.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		c.ObjectStore.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		c.ObjectStore.Region = v
	}
	if v := os.Getenv("INVOICE_STORAGE_DIR"); v != "" {
		c.Storage.InvoiceDir = v
	}
	if v := os.Getenv("GAME_OVER_URL"); v != "" {
		c.Sinks.GameOverURL = v
	}
	if v := os.Getenv("PROCESS_ORDER_URL"); v != "" {
		c.Sinks.ProcessOrderURL = v
	}
	if v := os.Getenv("GAME_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Leaderboard.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Leaderboard.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Leaderboard.RedisDB = n
		}
	}
}

// ApplyDefaults fills every zero field that has a sensible default.
func (c *Config) ApplyDefaults() {
	if c.Server.WsPort == 0 {
		c.Server.WsPort = 8081
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Polling.IntervalMs == 0 {
		c.Polling.IntervalMs = 10000
	}
	if c.Polling.MaxRetries == 0 {
		c.Polling.MaxRetries = UnlimitedRetries
	}
	if c.Polling.StreamThresholdBytes == 0 {
		c.Polling.StreamThresholdBytes = 8 << 20 // 8 MiB
	}
	if c.ObjectStore.Bucket == "" {
		c.ObjectStore.Bucket = "invoices"
	}
	if c.Storage.InvoiceDir == "" {
		c.Storage.InvoiceDir = "./invoices"
	}
	if c.Sinks.TimeoutMs == 0 {
		c.Sinks.TimeoutMs = 5000
	}
	if c.Client.HeartbeatSec == 0 {
		c.Client.HeartbeatSec = 15
	}
	if c.Client.BackoffInitialMs == 0 {
		c.Client.BackoffInitialMs = 500
	}
	if c.Client.BackoffMaxMs == 0 {
		c.Client.BackoffMaxMs = 30000
	}
	if c.Client.QueueSize == 0 {
		c.Client.QueueSize = 256
	}
	if c.Leaderboard.Key == "" {
		c.Leaderboard.Key = "leaderboard:scores"
	}
}

// PollInterval returns the polling cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMs) * time.Millisecond
}

// SinkTimeout returns the outbound HTTP timeout as a duration.
func (c *Config) SinkTimeout() time.Duration {
	return time.Duration(c.Sinks.TimeoutMs) * time.Millisecond
}
