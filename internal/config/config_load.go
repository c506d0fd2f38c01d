package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Turn: TurnConfig{
			MaxMessagesPerTurn:   40,
			MaxSystemPromptChars: 24000,
		},
		Adapter: AdapterConfig{
			DefaultModel: "claude-sonnet-4-5-20250929",
			CursorAgent:  CursorAgentConfig{Enabled: true, BinaryPath: "cursor-agent-cli", TimeoutMS: 120000},
			Ollama:       OllamaConfig{Enabled: false, BaseURL: "http://localhost:11434", Model: "llama3"},
			Anthropic:    AnthropicConfig{Enabled: false, Model: "claude-sonnet-4-5-20250929"},
			OpenAI:       OpenAICompatConfig{Enabled: false, BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
			DashScope:    OpenAICompatConfig{Enabled: false, Model: "qwen3-max"},
			Fallback:     FallbackConfig{Enabled: true},
		},
		Tools: ToolsConfig{
			Exec:     ExecToolConfig{Enabled: true, WorkingDir: "~/.agentcore/workspace", AllowList: []string{"ls", "cat", "grep", "echo"}},
			WebFetch: WebFetchToolConfig{Enabled: true, TimeoutSeconds: 15, MaxBodyBytes: 1 << 20},
		},
		Privacy: PrivacyConfig{FailClosedOnError: true},
		Memory: MemoryConfig{
			Dir:                "~/.agentcore/memory",
			MaxRecordsPerScope: 500,
			CompactAfter:       200,
		},
		Journal: JournalConfig{
			Path:                "~/.agentcore/journal.ndjson",
			MaxBytes:            10 << 20,
			ObservationCapacity: 500,
		},
		Guard: GuardConfig{StepBackThreshold: 3, DeepScanThreshold: 6},
		Scheduler: SchedulerConfig{
			HeartbeatMinMS:       5000,
			HeartbeatMaxMS:       300000,
			HeartbeatInactiveMin: 120,
			MaxConcurrentCron:    2,
			CronTickIntervalMS:   1000,
			BudgetMaxPerHour:     6,
			BudgetMaxPerDay:      30,
			WorkflowStateDir:     "~/.agentcore/workflows",
		},
		Sessions: SessionsConfig{Storage: "~/.agentcore/sessions"},
		Run:      RunConfig{Path: "~/.agentcore/runs.json"},
		Control:  ControlConfig{Host: "127.0.0.1", Port: 18791},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: the defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays CURSORCLAW_*-prefixed env vars; env always wins
// over the file, matching the teacher's config.Load layering order.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("CURSORCLAW_MODEL", &c.Adapter.DefaultModel)
	envStr("CURSORCLAW_CURSOR_AGENT_BINARY", &c.Adapter.CursorAgent.BinaryPath)
	envBool("CURSORCLAW_CURSOR_AGENT_ENABLED", &c.Adapter.CursorAgent.Enabled)
	envStr("CURSORCLAW_OLLAMA_BASE_URL", &c.Adapter.Ollama.BaseURL)
	envStr("CURSORCLAW_OLLAMA_MODEL", &c.Adapter.Ollama.Model)
	envBool("CURSORCLAW_OLLAMA_ENABLED", &c.Adapter.Ollama.Enabled)
	envStr("CURSORCLAW_ANTHROPIC_API_KEY", &c.Adapter.Anthropic.APIKey)
	envStr("CURSORCLAW_ANTHROPIC_MODEL", &c.Adapter.Anthropic.Model)
	envBool("CURSORCLAW_ANTHROPIC_ENABLED", &c.Adapter.Anthropic.Enabled)
	envStr("CURSORCLAW_OPENAI_API_KEY", &c.Adapter.OpenAI.APIKey)
	envStr("CURSORCLAW_OPENAI_BASE_URL", &c.Adapter.OpenAI.BaseURL)
	envStr("CURSORCLAW_OPENAI_MODEL", &c.Adapter.OpenAI.Model)
	envBool("CURSORCLAW_OPENAI_ENABLED", &c.Adapter.OpenAI.Enabled)
	envStr("CURSORCLAW_DASHSCOPE_API_KEY", &c.Adapter.DashScope.APIKey)
	envBool("CURSORCLAW_DASHSCOPE_ENABLED", &c.Adapter.DashScope.Enabled)

	envStr("CURSORCLAW_EXEC_WORKDIR", &c.Tools.Exec.WorkingDir)
	envBool("CURSORCLAW_EXEC_ENABLED", &c.Tools.Exec.Enabled)
	envBool("CURSORCLAW_WEB_FETCH_ENABLED", &c.Tools.WebFetch.Enabled)

	envStr("CURSORCLAW_MEMORY_DIR", &c.Memory.Dir)
	envStr("CURSORCLAW_JOURNAL_PATH", &c.Journal.Path)
	envStr("CURSORCLAW_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("CURSORCLAW_RUN_STORE_PATH", &c.Run.Path)
	envStr("CURSORCLAW_WORKFLOW_STATE_DIR", &c.Scheduler.WorkflowStateDir)

	envStr("CURSORCLAW_CONTROL_HOST", &c.Control.Host)
	envInt("CURSORCLAW_CONTROL_PORT", &c.Control.Port)

	envInt("CURSORCLAW_MAX_MESSAGES_PER_TURN", &c.Turn.MaxMessagesPerTurn)
	envInt("CURSORCLAW_MAX_SYSTEM_PROMPT_CHARS", &c.Turn.MaxSystemPromptChars)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Hash returns a short SHA-256 hash of the config, for optimistic
// concurrency on reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
