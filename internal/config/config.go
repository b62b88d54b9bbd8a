package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete worker configuration
type Config struct {
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Datasets DatasetsConfig `yaml:"datasets"`
	Status   StatusConfig   `yaml:"status"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// QueueConfig holds the queue-service endpoint and polling behaviour
type QueueConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollLimit      int           `yaml:"poll_limit"`
	IdleSleep      time.Duration `yaml:"idle_sleep"`
	JobTypes       []string      `yaml:"job_types"`
	RetryMax       int           `yaml:"retry_max"`
}

// DatabaseConfig holds the benchmark result store configuration.
// Driver "sqlite" uses Path; driver "postgres" uses the connection fields.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// WorkerConfig holds execution caps for cost-bounded test runs
type WorkerConfig struct {
	MaxUtterances int           `yaml:"max_utterances"`
	MaxPerSubset  int           `yaml:"max_per_subset"`
	WriterBatch   int           `yaml:"writer_batch"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DatasetsConfig points at the local dataset root directory
type DatasetsConfig struct {
	Root string `yaml:"root"`
}

// StatusConfig holds the worker's status HTTP endpoint settings
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.RequestTimeout <= 0 {
		c.Queue.RequestTimeout = 15 * time.Second
	}
	if c.Queue.PollLimit <= 0 {
		c.Queue.PollLimit = 10
	}
	if c.Queue.IdleSleep <= 0 {
		c.Queue.IdleSleep = 3 * time.Second
	}
	if len(c.Queue.JobTypes) == 0 {
		c.Queue.JobTypes = []string{"post_onboard_eval"}
	}
	if c.Queue.RetryMax <= 0 {
		c.Queue.RetryMax = 3
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "instance/spectragram.db"
	}
	if c.Worker.WriterBatch <= 0 {
		c.Worker.WriterBatch = 64
	}
	if c.Worker.ShutdownGrace <= 0 {
		c.Worker.ShutdownGrace = 30 * time.Second
	}
	if c.Datasets.Root == "" {
		c.Datasets.Root = "data"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Queue.BaseURL == "" {
		return fmt.Errorf("queue base_url is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Status.Enabled {
		if c.Status.Port < MinPort || c.Status.Port > MaxPort {
			return fmt.Errorf("invalid status port: %d (must be between %d and %d)", c.Status.Port, MinPort, MaxPort)
		}
	}

	if c.Worker.MaxUtterances < 0 {
		return fmt.Errorf("worker max_utterances must not be negative")
	}
	if c.Worker.MaxPerSubset < 0 {
		return fmt.Errorf("worker max_per_subset must not be negative")
	}

	return nil
}
