package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Gateway GatewayConfig `koanf:"gateway"`
	Feed    FeedConfig    `koanf:"feed"`
	Query   QueryConfig   `koanf:"query"`
	Session SessionConfig `koanf:"session"`
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Media   MediaConfig   `koanf:"media"`

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool `koanf:"-"`
}

type GatewayConfig struct {
	URL         string        `koanf:"url"`
	Timeout     time.Duration `koanf:"timeout"`
	ReadRetries int           `koanf:"read_retries"`
}

type FeedConfig struct {
	PageSize          int           `koanf:"page_size"`
	RefreshInterval   time.Duration `koanf:"refresh_interval"`
	StaleAfter        time.Duration `koanf:"stale_after"`
	AuthorConcurrency int           `koanf:"author_concurrency"`
}

type QueryConfig struct {
	IdleAfter time.Duration `koanf:"idle_after"`
	Tick      time.Duration `koanf:"tick"`
}

type SessionConfig struct {
	RedisURL string        `koanf:"redis_url"`
	Profile  string        `koanf:"profile"`
	Token    string        `koanf:"token"`
	TTL      time.Duration `koanf:"ttl"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MediaConfig struct {
	MaxBytes          int    `koanf:"max_bytes"`
	MaxDimension      int    `koanf:"max_dimension"`
	R2AccountID       string `koanf:"r2_account_id"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2PublicURL       string `koanf:"r2_public_url"`
	R2Endpoint        string `koanf:"r2_endpoint"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{Timeout: 10 * time.Second, ReadRetries: 2},
		Feed: FeedConfig{
			PageSize:          50,
			RefreshInterval:   30 * time.Second,
			StaleAfter:        30 * time.Second,
			AuthorConcurrency: 8,
		},
		Query:   QueryConfig{IdleAfter: 2 * time.Minute, Tick: time.Second},
		Session: SessionConfig{Profile: "default"},
		Server:  ServerConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Media:   MediaConfig{MaxBytes: 10 * 1024 * 1024, MaxDimension: 2048},
	}
}

// LoadConfig layers defaults, the optional TOML file at path, a .env file
// and the process environment, in that order of increasing precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	cfg.EnvFileLoaded = godotenv.Load() == nil

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway url is required (GATEWAY_URL)"))
	}
	if c.Feed.PageSize <= 0 {
		errs = append(errs, errors.New("feed page size must be positive"))
	}
	if c.Feed.RefreshInterval <= 0 || c.Feed.StaleAfter <= 0 {
		errs = append(errs, errors.New("feed intervals must be positive"))
	}
	if c.Query.Tick <= 0 {
		errs = append(errs, errors.New("query tick must be positive"))
	}
	if c.Gateway.ReadRetries < 0 {
		errs = append(errs, errors.New("gateway read retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func applyEnv(c *Config) error {
	envString("GATEWAY_URL", &c.Gateway.URL)
	envString("SESSION_REDIS_URL", &c.Session.RedisURL)
	envString("SESSION_PROFILE", &c.Session.Profile)
	envString("SESSION_TOKEN", &c.Session.Token)
	envString("SERVER_ADDR", &c.Server.Addr)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
	envString("R2_ACCOUNT_ID", &c.Media.R2AccountID)
	envString("R2_ACCESS_KEY_ID", &c.Media.R2AccessKeyID)
	envString("R2_SECRET_ACCESS_KEY", &c.Media.R2SecretAccessKey)
	envString("R2_BUCKET_NAME", &c.Media.R2BucketName)
	envString("R2_PUBLIC_URL", &c.Media.R2PublicURL)
	envString("R2_ENDPOINT", &c.Media.R2Endpoint)

	return errors.Join(
		envDuration("GATEWAY_TIMEOUT", &c.Gateway.Timeout),
		envInt("GATEWAY_READ_RETRIES", &c.Gateway.ReadRetries),
		envInt("FEED_PAGE_SIZE", &c.Feed.PageSize),
		envDuration("FEED_REFRESH_INTERVAL", &c.Feed.RefreshInterval),
		envDuration("FEED_STALE_AFTER", &c.Feed.StaleAfter),
		envInt("FEED_AUTHOR_CONCURRENCY", &c.Feed.AuthorConcurrency),
		envDuration("QUERY_IDLE_AFTER", &c.Query.IdleAfter),
		envDuration("QUERY_TICK", &c.Query.Tick),
		envDuration("SESSION_TTL", &c.Session.TTL),
		envInt("MEDIA_MAX_BYTES", &c.Media.MaxBytes),
		envInt("MEDIA_MAX_DIMENSION", &c.Media.MaxDimension),
	)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
