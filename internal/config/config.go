// Package config loads orchestrator configuration from a YAML file,
// environment variables (ORCH_ prefix), and command line flags, in that
// order of increasing precedence. It binds exactly the fields enumerated
// in the specification's external-interfaces section.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable named by the specification.
type Config struct {
	// Control-channel endpoint.
	CrunchID string `mapstructure:"crunch_id"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`

	// Per-call deadline for fan-out calls. Executor.Call takes its timeout
	// as an argument; cmd/orchestrator does not pass this field to it.
	Timeout time.Duration `mapstructure:"timeout"`

	// Worker-handle connect policy.
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBackoffBase  time.Duration `mapstructure:"retry_backoff_base"`
	MinRetryInterval  time.Duration `mapstructure:"min_retry_interval"`

	// Fan-out thresholds.
	MaxConsecutiveFailures        int `mapstructure:"max_consecutive_failures"`
	MaxConsecutiveTimeouts        int `mapstructure:"max_consecutive_timeouts"`
	MaxConsecutiveTimeoutsForSkip int `mapstructure:"max_consecutive_timeouts_for_skip"`

	// Optional mutual TLS material for the worker RPC channel.
	SecureCredentialsDir string `mapstructure:"secure_credentials"`

	// Testing knob: suppress outbound report_failure messages.
	ReportFailure bool `mapstructure:"report_failure"`
}

// defaults mirror the specification's §3 and §6 default values.
func defaults(v *viper.Viper) {
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("retry_attempts", 5)
	v.SetDefault("retry_backoff_base", 2*time.Second)
	v.SetDefault("min_retry_interval", 2*time.Second)
	v.SetDefault("max_consecutive_failures", 3)
	v.SetDefault("max_consecutive_timeouts", 3)
	v.SetDefault("max_consecutive_timeouts_for_skip", 3)
	v.SetDefault("report_failure", true)
}

// Load builds a Config from an optional YAML file path, environment
// variables prefixed ORCH_, and the given flag set (may be nil).
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("orch")
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about, so keys without a
	// default are bound to their ORCH_ variables explicitly.
	for _, key := range []string{"crunch_id", "host", "port", "secure_credentials"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: binding env %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.CrunchID == "" {
		return fmt.Errorf("config: crunch_id is required")
	}
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("config: port must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: retry_attempts must be positive")
	}
	return nil
}

// Flags registers the CLI surface of Config onto the given flag set, for
// callers that want flag-level overrides passed to Load. cmd/orchestrator
// does not use it; it calls Load with a nil flag set.
func Flags(flags *pflag.FlagSet) {
	flags.String("crunch_id", "", "cluster identity used as the control-channel path")
	flags.String("host", "", "control-channel endpoint host")
	flags.Int("port", 0, "control-channel endpoint port")
	flags.Duration("timeout", 30*time.Second, "per-call deadline")
	flags.Int("retry_attempts", 5, "worker connect retry attempts")
	flags.Duration("retry_backoff_base", 2*time.Second, "exponential backoff base")
	flags.Duration("min_retry_interval", 2*time.Second, "backoff floor")
	flags.Int("max_consecutive_failures", 3, "eviction threshold for failures")
	flags.Int("max_consecutive_timeouts", 3, "eviction threshold for timeouts")
	flags.Int("max_consecutive_timeouts_for_skip", 3, "skip threshold for timeouts")
	flags.String("secure_credentials", "", "directory with ca.crt/tls.crt/tls.key for mutual TLS")
	flags.Bool("report_failure", true, "publish report_failure events to the control plane")
}
