// Package config provides the configuration schema and loader for the
// corevox voice agent orchestrator.
//
// Configuration loading is named as an external-interface concern by the
// specification (the orchestrator core does not care how it got its
// settings), but a real daemon still needs one: this follows the teacher's
// nested YAML-tagged struct convention (internal/config/config.go) with a
// Load entry point and environment-variable overrides for secrets that
// should never be committed to the YAML file itself.
package config

import (
	"time"
)

// Config is the root configuration for the corevoxd daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Observer ObserverConfig `yaml:"observer"`
	Agents   AgentsConfig   `yaml:"agents"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP boot façade and carrier
	// WebSocket endpoint listen on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls slog verbosity. Valid values: "debug", "info",
	// "warn", "error".
	LogLevel string `yaml:"log_level"`

	// Environment is reported on GlobalContext.Environment and in telemetry
	// resource attributes (e.g. "production", "staging", "dev").
	Environment string `yaml:"environment"`
}

// LLMConfig selects and configures the live-session provider backing every
// agent's conversation (§6 LiveSession contract).
type LLMConfig struct {
	// Provider selects the registered llmsession.Provider implementation.
	// Currently only "openai-realtime" is wired (internal/llmsession/openairt).
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. Populated from the
	// COREVOX_LLM_API_KEY environment variable at load time, never from the
	// YAML file itself.
	APIKey string `yaml:"-"`

	// Model selects the realtime model name.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default WebSocket endpoint, primarily
	// for pointing at a local mock server in integration tests.
	BaseURL string `yaml:"base_url"`
}

// StorageConfig configures the repository backing UserRepo/TaskRepo (§6).
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Populated from the
	// COREVOX_STORAGE_DSN environment variable at load time.
	PostgresDSN string `yaml:"-"`

	// MaxConns bounds the pgxpool connection pool size.
	MaxConns int32 `yaml:"max_conns"`
}

// ObserverConfig tunes the Intervention Observer (§4.6).
type ObserverConfig struct {
	// Hotwords overrides the default hotword table when non-empty.
	Hotwords []string `yaml:"hotwords"`

	// InactivityTimeout is the silence duration after which the observer
	// raises a TIMEOUT intervention. Default 30s per §4.6/§8 scenario 6.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// EnableSentiment turns on the optional keyword-based sentiment check.
	EnableSentiment bool `yaml:"enable_sentiment"`
}

// AgentsConfig carries per-agent prompt and model overrides, keyed by
// registered agent name ("router", "identity", "task_manager").
type AgentsConfig struct {
	PromptDir string                  `yaml:"prompt_dir"`
	Overrides map[string]AgentOverride `yaml:"overrides"`
}

// AgentOverride overrides the compiled-in defaults for one agent.
type AgentOverride struct {
	ModelName   string  `yaml:"model_name"`
	Temperature float64 `yaml:"temperature"`
	VoiceName   string  `yaml:"voice_name"`
}

// Default returns the built-in configuration used when no YAML file is
// supplied, suitable for the CLI test harness.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			LogLevel:    "info",
			Environment: "dev",
		},
		LLM: LLMConfig{
			Provider: "openai-realtime",
			Model:    "gpt-4o-realtime-preview",
		},
		Storage: StorageConfig{
			MaxConns: 10,
		},
		Observer: ObserverConfig{
			InactivityTimeout: 30 * time.Second,
		},
	}
}
