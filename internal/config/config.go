package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"sigs.k8s.io/yaml"
)

// Duration accepts "5m"-style strings from both the environment and the YAML
// config file. The file path round-trips through JSON, where a plain
// time.Duration only takes integer nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(value))
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Config struct {
	LogLevel  string   `envconfig:"HOST_MOVER_LOG_LEVEL" default:"info" json:"logLevel,omitempty"`
	LogDir    string   `envconfig:"HOST_MOVER_LOG_DIR" default:"." json:"logDir,omitempty"`
	BackupDir string   `envconfig:"HOST_MOVER_BACKUP_DIR" default:"." json:"backupDir,omitempty"`
	Timeout   Duration `envconfig:"HOST_MOVER_TIMEOUT" default:"30m" json:"timeout,omitempty"`
	Insecure  bool     `envconfig:"HOST_MOVER_INSECURE" default:"true" json:"insecure,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`
}

// RetryConfig drives the capped-exponential retry applied to every mutating
// management-API call.
type RetryConfig struct {
	Attempts int      `envconfig:"HOST_MOVER_RETRY_ATTEMPTS" default:"4" json:"attempts,omitempty"`
	Delay    Duration `envconfig:"HOST_MOVER_RETRY_DELAY" default:"2s" json:"delay,omitempty"`
	MaxDelay Duration `envconfig:"HOST_MOVER_RETRY_MAX_DELAY" default:"30s" json:"maxDelay,omitempty"`
}

// New builds the configuration from the environment, optionally overridden by
// a YAML file. An empty path means environment only.
func New(configFile string) (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configFile, err)
		}
	}

	if cfg.Retry.Attempts < 1 {
		return nil, fmt.Errorf("retry attempts must be at least 1, got %d", cfg.Retry.Attempts)
	}
	return cfg, nil
}
