package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"wikistream/pkg/batch"
	"wikistream/pkg/consumer"
	"wikistream/pkg/ingest"
)

const (
	DefaultRunTimeout = 600
	maxBatchSize      = 10000
)

var ErrMissingToken = errors.New("TINYBIRD_TOKEN is not set")

type Config struct {
	Token     string
	StreamURL string
	IngestURL string
	UserAgent string
	BatchSize int

	// Durations in seconds
	RunTimeoutSeconds     int
	ConnectTimeoutSeconds int
	SendTimeoutSeconds    int

	API     APIConfig
	Logging LoggingConfig
}

type APIConfig struct {
	Port      string
	TokenHash string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, after loading envFile into
// it when the file exists. Variables already set in the environment win over
// the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("tinybird_token", "")
	v.SetDefault("stream_url", consumer.DefaultStreamURL)
	v.SetDefault("ingest_url", ingest.DefaultEndpoint)
	v.SetDefault("user_agent", consumer.DefaultUserAgent)
	v.SetDefault("batch_size", batch.DefaultCapacity)
	v.SetDefault("run_timeout", DefaultRunTimeout)
	v.SetDefault("connect_timeout", int(consumer.DefaultConnectTimeout/time.Second))
	v.SetDefault("send_timeout", int(ingest.DefaultTimeout/time.Second))
	v.SetDefault("api_port", "")
	v.SetDefault("api_token_hash", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	token := strings.TrimSpace(v.GetString("tinybird_token"))
	if token == "" {
		return Config{}, ErrMissingToken
	}

	batchSize := v.GetInt("batch_size")
	if batchSize <= 0 {
		batchSize = batch.DefaultCapacity
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	cfg := Config{
		Token:                 token,
		StreamURL:             strings.TrimSpace(v.GetString("stream_url")),
		IngestURL:             strings.TrimSpace(v.GetString("ingest_url")),
		UserAgent:             strings.TrimSpace(v.GetString("user_agent")),
		BatchSize:             batchSize,
		RunTimeoutSeconds:     positiveOr(v.GetInt("run_timeout"), DefaultRunTimeout),
		ConnectTimeoutSeconds: positiveOr(v.GetInt("connect_timeout"), int(consumer.DefaultConnectTimeout/time.Second)),
		SendTimeoutSeconds:    positiveOr(v.GetInt("send_timeout"), int(ingest.DefaultTimeout/time.Second)),
		API: APIConfig{
			Port:      strings.TrimSpace(v.GetString("api_port")),
			TokenHash: strings.TrimSpace(v.GetString("api_token_hash")),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		},
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = consumer.DefaultStreamURL
	}
	if cfg.IngestURL == "" {
		cfg.IngestURL = ingest.DefaultEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = consumer.DefaultUserAgent
	}
	return cfg, nil
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c Config) APIEnabled() bool {
	return c.API.Port != ""
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
