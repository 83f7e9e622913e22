// Package config provides configuration loading and validation for netsrp.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fzdarsky/netsrp/internal/auth"
)

// Defaults applied to empty settings.
const (
	DefaultKeySize     = 1024
	DefaultExpiration  = "22s"
	DefaultRegistryTTL = "5m"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// KeySizeEnv overrides srp.key_size when set.
const KeySizeEnv = "NETSRP_KEY_SIZE"

// Config represents the netsrp configuration.
type Config struct {
	SRP         SRPSettings       `yaml:"srp"`
	Logging     LoggingSettings   `yaml:"logging"`
	Registry    RegistrySettings  `yaml:"registry"`
	Credentials []CredentialEntry `yaml:"credentials"`
}

// SRPSettings contains handshake parameters. Both parties must agree on them.
type SRPSettings struct {
	KeySize    int    `yaml:"key_size"`
	Expiration string `yaml:"expiration"`
}

// LoggingSettings contains logging configuration.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RegistrySettings contains per-connection handshake registry configuration.
type RegistrySettings struct {
	TTL string `yaml:"ttl"`
}

// CredentialEntry is a statically configured user.
type CredentialEntry struct {
	Username string `yaml:"username"`
	Salt     string `yaml:"salt"`     // Base64-encoded
	Verifier string `yaml:"verifier"` // Hex-encoded
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
//
//nolint:gosec // G304: Config path is from command-line argument
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Allow environment variable override for the group size
	if v := os.Getenv(KeySizeEnv); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeySizeEnv, err)
		}
		cfg.SRP.KeySize = size
	}

	cfg.applyDefaults()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SRP.KeySize == 0 {
		c.SRP.KeySize = DefaultKeySize
	}
	if c.SRP.Expiration == "" {
		c.SRP.Expiration = DefaultExpiration
	}
	if c.Registry.TTL == "" {
		c.Registry.TTL = DefaultRegistryTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// GetExpiration parses and returns the handshake expiration window.
func (c *Config) GetExpiration() (time.Duration, error) {
	return positiveDuration("srp.expiration", c.SRP.Expiration)
}

// GetRegistryTTL parses and returns the registry idle TTL.
func (c *Config) GetRegistryTTL() (time.Duration, error) {
	return positiveDuration("registry.ttl", c.Registry.TTL)
}

func positiveDuration(name, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}

	return duration, nil
}

// CredentialStore builds an in-memory credential store from the configured entries.
func (c *Config) CredentialStore() (*auth.MemoryStore, error) {
	store := auth.NewMemoryStore()
	for _, entry := range c.Credentials {
		cred, err := auth.ParseCredential(entry.Username, entry.Salt, entry.Verifier)
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", entry.Username, err)
		}
		store.Add(entry.Username, cred)
	}
	return store, nil
}
