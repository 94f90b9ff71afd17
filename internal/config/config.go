package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "TABLEORDER_"

// Store drivers
const (
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all configuration for the ordering client
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Store    StoreConfig    `yaml:"store"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Payment  PaymentConfig  `yaml:"payment"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// BackendConfig points at the remote order service
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects where client state is persisted: redis, mysql or memory
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	RedisAddr string `yaml:"redis_addr"`
	MySQLDSN  string `yaml:"mysql_dsn"`
}

// RabbitMQConfig enables lifecycle event publishing when URL is set
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type PaymentConfig struct {
	Window       time.Duration `yaml:"window"`
	PollInterval time.Duration `yaml:"poll_interval"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

type CatalogConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LoadFile reads configuration from a YAML file and applies environment
// overrides. A missing file is not an error: defaults and env are used.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML data into a Config with defaults filled in.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":50051"
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8000/api"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverRedis
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = "localhost:6379"
	}
	if cfg.Store.MySQLDSN == "" {
		cfg.Store.MySQLDSN = "root:root@tcp(localhost:3306)/tableorder?parseTime=true"
	}
	if cfg.RabbitMQ.Exchange == "" {
		cfg.RabbitMQ.Exchange = "table_order"
	}
	if cfg.Payment.Window == 0 {
		cfg.Payment.Window = 1200 * time.Second
	}
	if cfg.Payment.PollInterval == 0 {
		cfg.Payment.PollInterval = 3 * time.Second
	}
	if cfg.Payment.TickInterval == 0 {
		cfg.Payment.TickInterval = time.Second
	}
	if cfg.Catalog.TTL == 0 {
		cfg.Catalog.TTL = 5 * time.Minute
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverRedis, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}
	if c.Payment.Window < 0 || c.Payment.PollInterval < 0 || c.Payment.TickInterval < 0 {
		return fmt.Errorf("payment intervals must be positive")
	}
	return nil
}

// applyEnv overrides file values with TABLEORDER_* environment variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	stringVars := map[string]*string{
		"HTTP_ADDR":         &c.Server.HTTPAddr,
		"GRPC_ADDR":         &c.Server.GRPCAddr,
		"BACKEND_URL":       &c.Backend.BaseURL,
		"STORE_DRIVER":      &c.Store.Driver,
		"REDIS_ADDR":        &c.Store.RedisAddr,
		"MYSQL_DSN":         &c.Store.MySQLDSN,
		"RABBITMQ_URL":      &c.RabbitMQ.URL,
		"RABBITMQ_EXCHANGE": &c.RabbitMQ.Exchange,
		"LOG_LEVEL":         &c.LogLevel,
	}
	for name, dst := range stringVars {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"BACKEND_TIMEOUT": &c.Backend.Timeout,
		"PAYMENT_WINDOW":  &c.Payment.Window,
		"POLL_INTERVAL":   &c.Payment.PollInterval,
		"TICK_INTERVAL":   &c.Payment.TickInterval,
		"CATALOG_TTL":     &c.Catalog.TTL,
	}
	for name, dst := range durations {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}

	return c.Validate()
}

// parseDuration accepts Go duration strings or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
