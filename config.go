package llmgate

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level gate configuration.
type Config struct {
	// APIKey is the upstream bearer token, shared by providers that do not
	// set their own.
	APIKey string `yaml:"api_key"`

	Providers    []ProviderDescriptor `yaml:"providers"`
	Tenant       TenantLimits         `yaml:"tenant"`
	Unrestricted []string             `yaml:"unrestricted"`
	Dispatch     DispatchConfig       `yaml:"dispatch"`
}

// DispatchConfig holds the retry/backoff and failure-escalation constants.
type DispatchConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	ErrorThreshold    int           `yaml:"error_threshold"`
	Cooldown          time.Duration `yaml:"cooldown"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// withDefaults fills in zero-valued dispatch constants.
func (d DispatchConfig) withDefaults() DispatchConfig {
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 3
	}
	if d.BackoffBase == 0 {
		d.BackoffBase = time.Second
	}
	if d.BackoffMultiplier == 0 {
		d.BackoffMultiplier = 2.0
	}
	if d.BackoffMax == 0 {
		d.BackoffMax = 30 * time.Second
	}
	if d.ErrorThreshold == 0 {
		d.ErrorThreshold = 5
	}
	if d.Cooldown == 0 {
		d.Cooldown = 5 * time.Minute
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = 2 * time.Minute
	}
	return d
}

// LoadConfig reads and parses a YAML config file. A .env file next to the
// process, if present, is loaded first; environment variables in the format
// ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("llmgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("llmgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llmgate: config: at least one provider is required")
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("llmgate: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("llmgate: config: duplicate provider name %q", p.Name)
		}
		names[p.Name] = true

		if p.Model == "" {
			return fmt.Errorf("llmgate: config: providers[%d] (%s): model is required", i, p.Name)
		}
		if p.TokensPerMinute <= 0 {
			return fmt.Errorf("llmgate: config: providers[%d] (%s): tokens_per_minute must be positive", i, p.Name)
		}
		if p.RequestsPerMinute <= 0 {
			return fmt.Errorf("llmgate: config: providers[%d] (%s): requests_per_minute must be positive", i, p.Name)
		}
	}

	if c.Tenant.DailyTokens < 0 || c.Tenant.MinuteTokens < 0 {
		return fmt.Errorf("llmgate: config: tenant limits must not be negative")
	}

	if c.Dispatch.MaxAttempts < 0 {
		return fmt.Errorf("llmgate: config: dispatch max_attempts must not be negative")
	}

	return nil
}
