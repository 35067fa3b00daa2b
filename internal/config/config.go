// Package config loads runtime configuration for the cascade demo
// binaries: defaults, then a TOML file, then env vars (env wins).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	cascade "github.com/nevindra/cascade"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Agent    AgentConfig    `toml:"agent"`
	Context  ContextConfig  `toml:"context"`
	EventLog EventLogConfig `toml:"eventlog"`
	Tools    ToolsConfig    `toml:"tools"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

type AgentConfig struct {
	MaxToolIterations int  `toml:"max_tool_iterations"`
	LoopDetection     bool `toml:"loop_detection"`
}

type ContextConfig struct {
	MaxTokens        int     `toml:"max_tokens"`
	InputOutputRatio float64 `toml:"input_output_ratio"`
}

type EventLogConfig struct {
	// DSN is a pgx connection string; empty disables the Postgres sink.
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

type ToolsConfig struct {
	FactsDBPath string `toml:"facts_db_path"`
	DocumentDir string `toml:"document_dir"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		Agent: AgentConfig{
			MaxToolIterations: 10,
			LoopDetection:     true,
		},
		Context:  ContextConfig{MaxTokens: 128_000, InputOutputRatio: 4.0},
		EventLog: EventLogConfig{Table: "events"},
		Tools:    ToolsConfig{FactsDBPath: "cascade-facts.db", DocumentDir: "."},
		Observer: ObserverConfig{ServiceName: "cascade"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "cascade.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, &cascade.ErrConfig{
				Code:    cascade.ConfigParseError,
				Field:   path,
				Message: err.Error(),
			}
		}
	}

	// Env overrides
	if v := os.Getenv("CASCADE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CASCADE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CASCADE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CASCADE_EVENTLOG_DSN"); v != "" {
		cfg.EventLog.DSN = v
	}
	if v := os.Getenv("CASCADE_MAX_TOOL_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxToolIterations = n
		}
	}
	if v := os.Getenv("CASCADE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.LLM.Model == "" {
		return &cascade.ErrConfig{
			Code:    cascade.ConfigMissingField,
			Field:   "llm.model",
			Message: "model is required",
		}
	}
	if c.LLM.BaseURL == "" {
		return &cascade.ErrConfig{
			Code:    cascade.ConfigMissingField,
			Field:   "llm.base_url",
			Message: "base URL is required",
		}
	}
	if c.Agent.MaxToolIterations < 1 {
		return &cascade.ErrConfig{
			Code:    cascade.ConfigInvalidValue,
			Field:   "agent.max_tool_iterations",
			Message: "must be at least 1",
		}
	}
	if c.Context.MaxTokens < 1 {
		return &cascade.ErrConfig{
			Code:    cascade.ConfigInvalidValue,
			Field:   "context.max_tokens",
			Message: "must be at least 1",
		}
	}
	if c.Context.InputOutputRatio <= 0 {
		return &cascade.ErrConfig{
			Code:    cascade.ConfigInvalidValue,
			Field:   "context.input_output_ratio",
			Message: "must be positive",
		}
	}
	return nil
}
