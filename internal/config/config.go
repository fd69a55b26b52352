package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon configuration from ~/.shieldsms/config.toml.
// Environment variables override file values after decoding.
type Config struct {
	Classifier ClassifierConfig `toml:"classifier"`
	Queue      QueueConfig      `toml:"queue"`
	Cache      CacheConfig      `toml:"cache"`
}

// ClassifierConfig configures the remote classification service.
type ClassifierConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// QueueConfig configures the background classification queue.
type QueueConfig struct {
	MaxAttempts    int `toml:"max_attempts"`
	Workers        int `toml:"workers"`
	PollIntervalMS int `toml:"poll_interval_ms"`
	BaseBackoffMS  int `toml:"base_backoff_ms"`
	MaxBackoffMS   int `toml:"max_backoff_ms"`
}

// CacheConfig configures the optional Redis verdict cache. The cache is
// disabled when Addr is empty.
type CacheConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 10,
		},
		Queue: QueueConfig{
			MaxAttempts:    3,
			Workers:        4,
			PollIntervalMS: 500,
			BaseBackoffMS:  2000,
			MaxBackoffMS:   60000,
		},
		Cache: CacheConfig{
			TTLSeconds: 86400,
		},
	}
}

// Load reads config from the given path, falling back to defaults when the
// file is missing, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHIELD_CLASSIFIER_URL"); v != "" {
		cfg.Classifier.BaseURL = v
	}
	if v := os.Getenv("SHIELD_CLASSIFIER_TOKEN"); v != "" {
		cfg.Classifier.Token = v
	}
	if v := os.Getenv("SHIELD_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SHIELD_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
}

func (c *Config) validate() error {
	if c.Classifier.BaseURL == "" {
		return errors.New("classifier.base_url must not be empty")
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		return errors.New("classifier.timeout_seconds must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return errors.New("queue.max_attempts must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return errors.New("queue.workers must be > 0")
	}
	if c.Queue.PollIntervalMS <= 0 {
		return errors.New("queue.poll_interval_ms must be > 0")
	}
	if c.Queue.BaseBackoffMS <= 0 || c.Queue.MaxBackoffMS < c.Queue.BaseBackoffMS {
		return errors.New("queue backoff bounds are invalid")
	}
	return nil
}

// Timeout returns the classifier call timeout.
func (c *ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the queue poll interval.
func (q *QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMS) * time.Millisecond
}

// BaseBackoff returns the first retry delay.
func (q *QueueConfig) BaseBackoff() time.Duration {
	return time.Duration(q.BaseBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (q *QueueConfig) MaxBackoff() time.Duration {
	return time.Duration(q.MaxBackoffMS) * time.Millisecond
}

// TTL returns the verdict cache entry lifetime.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Enabled reports whether the verdict cache is configured.
func (c *CacheConfig) Enabled() bool {
	return c.Addr != ""
}
