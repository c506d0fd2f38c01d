// Package modeladapter implements ModelAdapter (spec §4.5): a
// provider-agnostic streaming abstraction over model backends, with a
// fallback chain driven by transport/auth failure signals.
package modeladapter

import "encoding/json"

// Role is a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation history.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolDefinition describes a callable tool to the provider.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a single model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage reports token accounting for a turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EventType enumerates the normalized stream frame kinds (spec §4.5).
type EventType string

const (
	EventAssistantDelta EventType = "assistant_delta"
	EventToolCall       EventType = "tool_call"
	EventUsage          EventType = "usage"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one frame of a streamed turn.
type Event struct {
	Type     EventType
	Delta    string
	ToolCall *ToolCall
	Usage    *Usage
	Err      error
}

// SendTurnRequest bundles a turn's full input: the message history, the
// tools on offer, and per-turn timing/identity.
type SendTurnRequest struct {
	TurnID    string
	Model     string
	Messages  []Message
	Tools     []ToolDefinition
	TimeoutMS int
}

// Session is the provider-side handle returned by CreateSession.
type Session struct {
	ID          string
	ChannelID   string
	ChannelKind string
	Model       string
	AuthProfile string
}

// Provider is a single model backend (spec §4.5's "provider abstraction").
type Provider interface {
	Name() string
	DefaultModel() string
	// SendTurn streams events for one turn. The returned channel is closed
	// after a done or error event; it is not restartable.
	SendTurn(req SendTurnRequest) (<-chan Event, error)
	// Cancel aborts an in-flight turn by ID.
	Cancel(turnID string) error
	// Close releases provider-specific resources (subprocess handles, idle
	// HTTP connections).
	Close() error
}

// isTransportOrAuthFailure classifies an error as a signal that the fallback
// chain should advance to the next provider, per spec §4.5's "sendTurn may
// internally retry with the next element of fallbackModels when the primary
// fails with a transport- or auth-like signal".
func isTransportOrAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(interface{ TransportOrAuth() bool }); ok {
		return te.TransportOrAuth()
	}
	return false
}
