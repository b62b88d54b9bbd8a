package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, "http://localhost:5000", cfg.Queue.BaseURL)
				assert.Equal(t, 10, cfg.Queue.PollLimit)
				assert.Equal(t, 3*time.Second, cfg.Queue.IdleSleep)
				assert.Equal(t, []string{"post_onboard_eval"}, cfg.Queue.JobTypes)
				assert.Equal(t, "sqlite", cfg.Database.Driver)
				assert.Equal(t, "instance/spectragram.db", cfg.Database.Path)
				assert.Equal(t, 8090, cfg.Status.Port)
				assert.Equal(t, "bench-worker", cfg.App.Name)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	// valid_config.yaml sets everything; defaults are exercised through an
	// empty struct instead.
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 15*time.Second, cfg.Queue.RequestTimeout)
	assert.Equal(t, 10, cfg.Queue.PollLimit)
	assert.Equal(t, 3*time.Second, cfg.Queue.IdleSleep)
	assert.Equal(t, []string{"post_onboard_eval"}, cfg.Queue.JobTypes)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "instance/spectragram.db", cfg.Database.Path)
	assert.Equal(t, 64, cfg.Worker.WriterBatch)
	assert.Equal(t, "data", cfg.Datasets.Root)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Queue: QueueConfig{
				BaseURL: "http://localhost:5000",
			},
			Database: DatabaseConfig{
				Driver: "sqlite",
				Path:   "instance/spectragram.db",
			},
		}
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid sqlite config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid postgres config",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{
					Driver:   "postgres",
					Host:     "localhost",
					Port:     5432,
					Database: "benchmarks",
				}
			},
			wantErr: false,
		},
		{
			name: "missing queue base url",
			mutate: func(c *Config) {
				c.Queue.BaseURL = ""
			},
			wantErr:   true,
			errString: "queue base_url is required",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Database.Path = ""
			},
			wantErr:   true,
			errString: "database path is required",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "postgres", Port: 5432, Database: "benchmarks"}
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "postgres with invalid port",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 70000, Database: "benchmarks"}
			},
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name: "unknown driver",
			mutate: func(c *Config) {
				c.Database.Driver = "oracle"
			},
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name: "status enabled with invalid port",
			mutate: func(c *Config) {
				c.Status = StatusConfig{Enabled: true, Port: 0}
			},
			wantErr:   true,
			errString: "invalid status port",
		},
		{
			name: "negative max_per_subset",
			mutate: func(c *Config) {
				c.Worker.MaxPerSubset = -1
			},
			wantErr:   true,
			errString: "max_per_subset must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
