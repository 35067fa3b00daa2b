package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	cascade "github.com/nevindra/cascade"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Agent.MaxToolIterations != 10 || !cfg.Agent.LoopDetection {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Context.MaxTokens != 128_000 || cfg.Context.InputOutputRatio != 4.0 {
		t.Fatalf("context = %+v", cfg.Context)
	}
	if cfg.EventLog.Table != "events" {
		t.Fatalf("eventlog = %+v", cfg.EventLog)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", cfg.LLM.Model)
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.toml")
	body := `
[llm]
base_url = "http://localhost:11434/v1"
model = "llama3"

[agent]
max_tool_iterations = 5

[context]
max_tokens = 32000
input_output_ratio = 3.0

[eventlog]
dsn = "postgres://localhost/cascade"
table = "run_events"

[observer]
enabled = true
service_name = "cascade-dev"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" || cfg.LLM.Model != "llama3" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Agent.MaxToolIterations != 5 {
		t.Fatalf("iterations = %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Context.MaxTokens != 32_000 || cfg.Context.InputOutputRatio != 3.0 {
		t.Fatalf("context = %+v", cfg.Context)
	}
	if cfg.EventLog.DSN != "postgres://localhost/cascade" || cfg.EventLog.Table != "run_events" {
		t.Fatalf("eventlog = %+v", cfg.EventLog)
	}
	if !cfg.Observer.Enabled || cfg.Observer.ServiceName != "cascade-dev" {
		t.Fatalf("observer = %+v", cfg.Observer)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Tools.FactsDBPath != "cascade-facts.db" {
		t.Fatalf("tools = %+v", cfg.Tools)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.toml")
	if err := os.WriteFile(path, []byte("[llm]\nmodel = \"from-file\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CASCADE_LLM_MODEL", "from-env")
	t.Setenv("CASCADE_LLM_API_KEY", "sk-env")
	t.Setenv("CASCADE_MAX_TOOL_ITERATIONS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Fatalf("model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Agent.MaxToolIterations != 7 {
		t.Fatalf("iterations = %d", cfg.Agent.MaxToolIterations)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[llm\nmodel="), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var ce *cascade.ErrConfig
	if !errors.As(err, &ce) || ce.Code != cascade.ConfigParseError {
		t.Fatalf("err = %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
		code  cascade.ConfigErrorCode
	}{
		{"empty model", "[llm]\nmodel = \"\"\n", "llm.model", cascade.ConfigMissingField},
		{"empty base url", "[llm]\nbase_url = \"\"\n", "llm.base_url", cascade.ConfigMissingField},
		{"zero iterations", "[agent]\nmax_tool_iterations = 0\n", "agent.max_tool_iterations", cascade.ConfigInvalidValue},
		{"zero tokens", "[context]\nmax_tokens = 0\n", "context.max_tokens", cascade.ConfigInvalidValue},
		{"negative ratio", "[context]\ninput_output_ratio = -2.0\n", "context.input_output_ratio", cascade.ConfigInvalidValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cascade.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			var ce *cascade.ErrConfig
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v", err)
			}
			if ce.Code != tc.code || ce.Field != tc.field {
				t.Fatalf("got [%s] %s, want [%s] %s", ce.Code, ce.Field, tc.code, tc.field)
			}
		})
	}
}
