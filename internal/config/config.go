// Package config loads gateway configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the configuration surface consumed by the gateway core and its
// inbound surfaces.
type Config struct {
	// AuthorityBaseURL is the base endpoint of the clearance authority.
	AuthorityBaseURL string `mapstructure:"authority_base_url"`
	// AuthToken is the long-lived authorization token.
	AuthToken string `mapstructure:"auth_token"`
	// ContextIdentifier names the taxpayer context the token belongs to.
	ContextIdentifier string `mapstructure:"context_identifier"`

	// CallTimeout bounds a single authority HTTP call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxRetryAttempts bounds retries of transient failures.
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`
	// PollBase and PollCap bound the status-poll backoff.
	PollBase time.Duration `mapstructure:"poll_base"`
	PollCap  time.Duration `mapstructure:"poll_cap"`

	// ListenAddr is the HTTP surface listen address.
	ListenAddr string `mapstructure:"listen_addr"`
	// Debug enables verbose logging and gin debug mode.
	Debug bool `mapstructure:"debug"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		CallTimeout:      30 * time.Second,
		MaxRetryAttempts: 3,
		PollBase:         1 * time.Second,
		PollCap:          30 * time.Second,
		ListenAddr:       ":8080",
	}
}

// Load reads configuration from the given file (optional), the environment
// (EINVOICE_GATEWAY_* with underscores for nested keys) and defaults, in
// ascending precedence of default < file < environment.
func Load(configFile string) (Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("max_retry_attempts", d.MaxRetryAttempts)
	v.SetDefault("poll_base", d.PollBase)
	v.SetDefault("poll_cap", d.PollCap)
	v.SetDefault("listen_addr", d.ListenAddr)

	v.SetEnvPrefix("EINVOICE_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"authority_base_url", "auth_token", "context_identifier",
		"call_timeout", "max_retry_attempts", "poll_base", "poll_cap",
		"listen_addr", "debug",
	} {
		_ = v.BindEnv(key)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields the core cannot run without.
func (c Config) Validate() error {
	if c.AuthorityBaseURL == "" {
		return fmt.Errorf("authority base URL is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("authorization token is required")
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max retry attempts must be at least 1")
	}
	if c.PollBase <= 0 || c.PollCap < c.PollBase {
		return fmt.Errorf("poll interval bounds are invalid")
	}
	return nil
}
