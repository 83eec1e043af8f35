package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ServiceName    = "crop-exchange"
	ServiceVersion = "0.1.0"
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`

	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Anchor  AnchorConfig  `yaml:"anchor"`
	Otel    OtelConfig    `yaml:"otel"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	MySQLDSN    string `yaml:"mysql_dsn"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Migrate     bool   `yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
}

type AnchorConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Timeout           time.Duration `yaml:"timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileWorkers  int           `yaml:"reconcile_workers"`
}

type OtelConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AuthHeader string `yaml:"auth_header"`
}

func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		LogLevel: "info",
		Storage: StorageConfig{
			Driver: DriverMemory,
		},
		Redis: RedisConfig{
			PoolSize: 100,
		},
		Anchor: AnchorConfig{
			Timeout:           5 * time.Second,
			ReconcileInterval: time.Minute,
			ReconcileWorkers:  4,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty or missing path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":        &c.HTTPAddr,
		"GRPC_ADDR":        &c.GRPCAddr,
		"LOG_LEVEL":        &c.LogLevel,
		"STORAGE_DRIVER":   &c.Storage.Driver,
		"MYSQL_DSN":        &c.Storage.MySQLDSN,
		"POSTGRES_DSN":     &c.Storage.PostgresDSN,
		"REDIS_ADDR":       &c.Redis.Addr,
		"KAFKA_BROKER":     &c.Kafka.Broker,
		"ANCHOR_ENDPOINT":  &c.Anchor.Endpoint,
		"OTEL_ENDPOINT":    &c.Otel.Endpoint,
		"OTEL_AUTH_HEADER": &c.Otel.AuthHeader,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("ANCHOR_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: ANCHOR_TIMEOUT: %w", err)
		}
		c.Anchor.Timeout = d
	}
	return nil
}

func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Storage.MySQLDSN == "" {
			return fmt.Errorf("config: storage driver mysql requires MYSQL_DSN")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage driver postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		return fmt.Errorf("config: at least one of http_addr or grpc_addr is required")
	}
	if c.Anchor.Timeout <= 0 {
		return fmt.Errorf("config: anchor timeout must be positive")
	}
	if c.Anchor.ReconcileInterval <= 0 {
		return fmt.Errorf("config: anchor reconcile interval must be positive")
	}
	return nil
}
