package config

import (
	"fmt"

	"github.com/fzdarsky/netsrp/internal/auth"
	"github.com/fzdarsky/netsrp/internal/logging"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// Validate performs comprehensive validation on the configuration.
func Validate(cfg *Config) error {
	if err := validateSRP(cfg); err != nil {
		return fmt.Errorf("srp validation failed: %w", err)
	}

	if err := validateLogging(cfg); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if _, err := cfg.GetRegistryTTL(); err != nil {
		return fmt.Errorf("registry validation failed: %w", err)
	}

	if err := validateCredentials(cfg); err != nil {
		return fmt.Errorf("credential validation failed: %w", err)
	}

	return nil
}

func validateSRP(cfg *Config) error {
	if !srp.IsSupportedKeySize(cfg.SRP.KeySize) {
		return fmt.Errorf("key_size %d is not one of %v", cfg.SRP.KeySize, srp.KeySizes)
	}

	if _, err := cfg.GetExpiration(); err != nil {
		return err
	}

	return nil
}

func validateLogging(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		return err
	}
	return nil
}

func validateCredentials(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Credentials))

	for i, entry := range cfg.Credentials {
		if entry.Username == "" {
			return fmt.Errorf("credentials[%d]: username is required", i)
		}
		if seen[entry.Username] {
			return fmt.Errorf("credentials[%d]: duplicate username %q", i, entry.Username)
		}
		seen[entry.Username] = true

		if _, err := auth.ParseCredential(entry.Username, entry.Salt, entry.Verifier); err != nil {
			return fmt.Errorf("credentials[%d]: %w", i, err)
		}
	}

	return nil
}
