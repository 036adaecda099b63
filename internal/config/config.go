package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Replication ReplicationConfig `yaml:"replication"`
	API         APIConfig         `yaml:"api"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Exports     ExportConfig      `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// MarketplaceConfig points the client at the remote marketplace API.
type MarketplaceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenURL       string        `yaml:"token_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AccountRPS caps outbound calls per connected account.
	AccountRPS   float64 `yaml:"account_rps"`
	AccountBurst int     `yaml:"account_burst"`
}

// ReplicationConfig tunes the fan-out engine and retry ceilings.
type ReplicationConfig struct {
	TargetConcurrency int           `yaml:"target_concurrency"`
	RateLimitRetries  int           `yaml:"rate_limit_retries"`
	TransientRetries  int           `yaml:"transient_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	QueuePollInterval time.Duration `yaml:"queue_poll_interval"`
}

type APIConfig struct {
	Enabled     bool               `yaml:"enabled"`
	Port        int                `yaml:"port"`
	AdminSecret string             `yaml:"admin_secret"`
	Auth        APIAuthConfig      `yaml:"auth"`
	RateLimit   APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// AlertsConfig configures the operator alert channel. Alerts fire for
// ledger-consistency errors and partial replace failures.
type AlertsConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Marketplace.BaseURL == "" {
		return errors.New("marketplace base_url is required")
	}
	if c.Replication.RateLimitRetries < 1 {
		return errors.New("replication rate_limit_retries must be at least 1")
	}
	if c.Replication.TransientRetries < 1 {
		return errors.New("replication transient_retries must be at least 1")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Marketplace.TokenURL == "" && c.Marketplace.BaseURL != "" {
		c.Marketplace.TokenURL = c.Marketplace.BaseURL + "/oauth/token"
	}
	if c.Marketplace.RequestTimeout == 0 {
		c.Marketplace.RequestTimeout = 30 * time.Second
	}
	if c.Marketplace.AccountRPS == 0 {
		c.Marketplace.AccountRPS = 5
	}
	if c.Marketplace.AccountBurst == 0 {
		c.Marketplace.AccountBurst = 5
	}

	if c.Replication.TargetConcurrency == 0 {
		c.Replication.TargetConcurrency = 4
	}
	if c.Replication.RateLimitRetries == 0 {
		c.Replication.RateLimitRetries = 5
	}
	if c.Replication.TransientRetries == 0 {
		c.Replication.TransientRetries = 3
	}
	if c.Replication.InitialBackoff == 0 {
		c.Replication.InitialBackoff = 3 * time.Second
	}
	if c.Replication.MaxBackoff == 0 {
		c.Replication.MaxBackoff = time.Minute
	}
	if c.Replication.QueuePollInterval == 0 {
		c.Replication.QueuePollInterval = 2 * time.Second
	}
}
