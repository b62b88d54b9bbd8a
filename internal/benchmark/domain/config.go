package domain

import (
	"encoding/json"
	"fmt"
)

// JobConfig is the benchmark job payload carried by the queue service.
// Field names are fixed by the queue-service contract.
type JobConfig struct {
	BenchmarkID       string            `json:"BenchmarkID"`
	Provider          string            `json:"Provider"`
	Model             string            `json:"Model"`
	ApiKeys           map[string]string `json:"ApiKeys"`
	EvaluationVersion string            `json:"EvaluationVersion"`
	Datasets          []string          `json:"Datasets"`
	RunNotes          string            `json:"RunNotes,omitempty"`
}

// ParseJobConfig decodes and validates a job payload.
func ParseJobConfig(raw []byte) (*JobConfig, error) {
	var cfg JobConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse job config: %w", err)
	}
	if cfg.EvaluationVersion == "" {
		cfg.EvaluationVersion = "v1"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the worker cannot run without.
func (c *JobConfig) Validate() error {
	if c.BenchmarkID == "" {
		return fmt.Errorf("job config: BenchmarkID is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("job config: Provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("job config: Model is required")
	}
	if len(c.Datasets) == 0 {
		return fmt.Errorf("job config: Datasets must not be empty")
	}
	return nil
}

// APIKey returns the key for the configured provider.
func (c *JobConfig) APIKey() (string, error) {
	key := c.ApiKeys[c.Provider]
	if key == "" {
		return "", fmt.Errorf("%w: provider %q", ErrMissingAPIKey, c.Provider)
	}
	return key, nil
}
