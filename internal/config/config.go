// Package config loads and resolves this core's configuration, grounded on
// the teacher's internal/config package: a JSON5 file overlaid with
// CURSORCLAW_*-prefixed env vars, the same layering order as the teacher's
// config.Load, narrowed to the components this core actually has (no
// channel, sandbox, TTS, or managed-Postgres config groups — those are this
// core's Non-goals).
package config

import (
	"os"
	"sync"
)

// Config is the root configuration.
type Config struct {
	Turn      TurnConfig      `json:"turn"`
	Adapter AdapterConfig `json:"adapter"`
	Tools     ToolsConfig     `json:"tools"`
	Privacy   PrivacyConfig   `json:"privacy"`
	Memory    MemoryConfig    `json:"memory"`
	Journal   JournalConfig   `json:"journal"`
	Guard     GuardConfig     `json:"guard"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sessions  SessionsConfig  `json:"sessions"`
	Run       RunConfig       `json:"run"`
	Control   ControlConfig   `json:"control"`

	mu sync.RWMutex
}

// TurnConfig bounds one TurnRuntime.RunTurn call (spec §4.6).
type TurnConfig struct {
	MaxMessagesPerTurn   int `json:"maxMessagesPerTurn"`
	MaxSystemPromptChars int `json:"maxSystemPromptChars"`
}

// AdapterConfig configures the ModelAdapter's provider chain (spec §4.5).
type AdapterConfig struct {
	DefaultModel string            `json:"defaultModel"`
	CursorAgent  CursorAgentConfig `json:"cursorAgent"`
	Ollama       OllamaConfig      `json:"ollama"`
	Anthropic    AnthropicConfig   `json:"anthropic"`
	OpenAI       OpenAICompatConfig `json:"openai"`
	DashScope    OpenAICompatConfig `json:"dashscope"`
	Fallback     FallbackConfig    `json:"fallback"`
}

// AnthropicConfig configures the direct Anthropic Messages API provider.
type AnthropicConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

// OpenAICompatConfig configures an OpenAI-compatible Chat Completions
// endpoint: OpenAI itself, Groq, OpenRouter, DeepSeek, vLLM, or DashScope.
type OpenAICompatConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

// CursorAgentConfig configures the subprocess model provider.
type CursorAgentConfig struct {
	Enabled    bool   `json:"enabled"`
	BinaryPath string `json:"binaryPath"`
	TimeoutMS  int    `json:"timeoutMs"`
}

// OllamaConfig configures the HTTP-streaming model provider.
type OllamaConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

// FallbackConfig toggles the deterministic last-resort provider.
type FallbackConfig struct {
	Enabled bool `json:"enabled"`
}

// ToolsConfig configures ToolRouter's tools (spec §4.3).
type ToolsConfig struct {
	Exec     ExecToolConfig     `json:"exec"`
	WebFetch WebFetchToolConfig `json:"webFetch"`
}

type ExecToolConfig struct {
	Enabled    bool     `json:"enabled"`
	WorkingDir string   `json:"workingDir"`
	AllowList  []string `json:"allowList"`
}

type WebFetchToolConfig struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeoutSeconds"`
	MaxBodyBytes   int  `json:"maxBodyBytes"`
}

// PrivacyConfig configures PrivacyScrubber (spec §4.1).
type PrivacyConfig struct {
	FailClosedOnError bool `json:"failClosedOnError"`
}

// MemoryConfig configures MemoryStore (spec §4.9).
type MemoryConfig struct {
	Dir               string `json:"dir"`
	MaxRecordsPerScope int   `json:"maxRecordsPerScope"`
	CompactAfter       int   `json:"compactAfter"`
}

// JournalConfig configures DecisionJournal + ObservationStore (spec §4.10).
type JournalConfig struct {
	Path                string `json:"path"`
	MaxBytes            int64  `json:"maxBytes"`
	ObservationCapacity int    `json:"observationCapacity"`
}

// GuardConfig configures FailureLoopGuard + ReasoningResetController (spec §4.7).
type GuardConfig struct {
	StepBackThreshold int `json:"stepBackThreshold"`
	DeepScanThreshold int `json:"deepScanThreshold"`
}

// SchedulerConfig configures HeartbeatRunner, AutonomyBudget, CronService,
// WorkflowRuntime (spec §4.8).
type SchedulerConfig struct {
	HeartbeatMinMS       int64            `json:"heartbeatMinMs"`
	HeartbeatMaxMS       int64            `json:"heartbeatMaxMs"`
	HeartbeatInactiveMin int              `json:"heartbeatInactiveMinutes"`
	MaxConcurrentCron    int              `json:"maxConcurrentCron"`
	CronTickIntervalMS   int              `json:"cronTickIntervalMs"`
	BudgetMaxPerHour     int              `json:"budgetMaxPerHour"`
	BudgetMaxPerDay      int              `json:"budgetMaxPerDay"`
	QuietHours           QuietHoursConfig `json:"quietHours"`
	WorkflowStateDir     string           `json:"workflowStateDir"`
}

type QuietHoursConfig struct {
	Enabled      bool `json:"enabled"`
	StartHourUTC int  `json:"startHourUtc"`
	EndHourUTC   int  `json:"endHourUtc"`
}

// SessionsConfig configures the session history store.
type SessionsConfig struct {
	Storage string `json:"storage"`
}

// RunConfig configures RunStore persistence.
type RunConfig struct {
	Path string `json:"path"`
}

// ControlConfig configures the local status-stream control plane.
type ControlConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
