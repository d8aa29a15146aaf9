package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// secret overrides, and validates the result. It is a convenience wrapper
// around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, layers it over [Default],
// applies environment-variable secret overrides, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides installs secrets from the environment. These fields are
// tagged yaml:"-" precisely so they can never be set from the committed
// config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COREVOX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("COREVOX_STORAGE_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("config: server.listen_addr is required"))
	}
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: server.log_level %q is not one of debug|info|warn|error", cfg.Server.LogLevel))
	}
	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("config: llm.provider is required"))
	}
	if cfg.Storage.MaxConns <= 0 {
		errs = append(errs, errors.New("config: storage.max_conns must be positive"))
	}
	if cfg.Observer.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("config: observer.inactivity_timeout must be positive"))
	}
	return errors.Join(errs...)
}
