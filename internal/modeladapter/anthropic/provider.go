// Package anthropic implements the Anthropic Messages API as a
// modeladapter.Provider: it builds the wire request directly from
// modeladapter.Message/ToolDefinition, POSTs to /v1/messages with
// stream:true, and decodes the SSE event stream straight into
// modeladapter.Event frames.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5-20250929"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retry        providers.RetryConfig

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

type Option func(*Provider)

// WithBaseURL points the client at a non-default endpoint; tests use it to
// aim at an httptest.Server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

func New(apiKey, model string, opts ...Option) *Provider {
	if model == "" {
		model = defaultModel
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		defaultModel: model,
		client:       &http.Client{Timeout: 0},
		retry:        providers.DefaultRetryConfig(),
		cancel:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string         { return "anthropic" }
func (p *Provider) DefaultModel() string { return p.defaultModel }

// wireMessage is the Anthropic Messages API's turn shape: unlike the
// OpenAI-style message list, tool results are user-role messages carrying a
// tool_result content block rather than a dedicated "tool" role.
type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

// buildWireMessages splits off system messages (Anthropic takes a single
// top-level "system" string, not a system-role message) and turns tool
// results into user-role tool_result blocks.
func buildWireMessages(msgs []modeladapter.Message) (system string, out []wireMessage) {
	var systemParts []string
	for _, m := range msgs {
		switch m.Role {
		case modeladapter.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case modeladapter.RoleTool:
			out = append(out, wireMessage{Role: "user", Content: []wireContent{{
				Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
			}}})
		case modeladapter.RoleAssistant:
			out = append(out, wireMessage{Role: "assistant", Content: []wireContent{{Type: "text", Text: m.Content}}})
		default:
			out = append(out, wireMessage{Role: "user", Content: []wireContent{{Type: "text", Text: m.Content}}})
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func buildWireTools(defs []modeladapter.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, wireTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: providers.CleanSchemaForProvider("anthropic", d.Parameters),
		})
	}
	return out
}

func (p *Provider) SendTurn(req modeladapter.SendTurnRequest) (<-chan modeladapter.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	system, msgs := buildWireMessages(req.Messages)

	body, err := json.Marshal(wireRequest{
		Model: model, System: system, Messages: msgs, Tools: buildWireTools(req.Tools),
		MaxTokens: defaultMaxTokens, Stream: true,
	})
	if err != nil {
		return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	if req.TimeoutMS > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		prevCancel := cancel
		cancel = func() { timeoutCancel(); prevCancel() }
	}

	p.mu.Lock()
	p.cancel[req.TurnID] = cancel
	p.mu.Unlock()

	out := make(chan modeladapter.Event, 16)
	go func() {
		resp, err := providers.RetryDo(ctx, p.retry, func() (*http.Response, error) {
			return p.doRequest(ctx, body)
		})
		if err != nil {
			defer close(out)
			cancel()
			p.mu.Lock()
			delete(p.cancel, req.TurnID)
			p.mu.Unlock()
			// Any failed request, including a non-2xx HTTP status, is a
			// TransportError so the adapter falls back to the next provider.
			out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: p.Name(), Err: err}}
			return
		}
		p.pump(req.TurnID, resp.Body, cancel, out)
	}()
	return out, nil
}

func (p *Provider) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &providers.HTTPError{
			Status: resp.StatusCode, Body: string(respBody),
			RetryAfter: providers.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp, nil
}

// sseEvent mirrors the subset of Anthropic's Messages streaming events this
// pump cares about: text deltas, tool_use input-json deltas (which arrive as
// a stream of partial JSON fragments to be concatenated, not merged by key),
// and the two usage-bearing envelopes (message_start, message_delta).
type sseEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// pendingToolUse accumulates one content block's tool_use fields: the name
// and ID arrive on content_block_start, the input JSON streams in as
// concatenated partial_json fragments on content_block_delta.
type pendingToolUse struct {
	id, name string
	input    strings.Builder
}

func (p *Provider) pump(turnID string, body io.ReadCloser, cancel context.CancelFunc, out chan<- modeladapter.Event) {
	defer func() {
		body.Close()
		cancel()
		p.mu.Lock()
		delete(p.cancel, turnID)
		p.mu.Unlock()
		close(out)
	}()

	toolBlocks := make(map[int]*pendingToolUse)
	inputTokens, outputTokens := 0, 0
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			inputTokens = ev.Message.Usage.InputTokens
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				toolBlocks[ev.Index] = &pendingToolUse{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: ev.Delta.Text}
				}
			case "input_json_delta":
				if tb, ok := toolBlocks[ev.Index]; ok {
					tb.input.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if tb, ok := toolBlocks[ev.Index]; ok {
				args := tb.input.String()
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				out <- modeladapter.Event{Type: modeladapter.EventToolCall, ToolCall: &modeladapter.ToolCall{
					ID: tb.id, Name: tb.name, Arguments: json.RawMessage(args),
				}}
				delete(toolBlocks, ev.Index)
			}
		case "message_delta":
			if ev.Usage.OutputTokens > 0 {
				outputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: &modeladapter.Usage{
				PromptTokens: inputTokens, CompletionTokens: outputTokens, TotalTokens: inputTokens + outputTokens,
			}}
			out <- modeladapter.Event{Type: modeladapter.EventDone}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: "anthropic", Err: err}}
		return
	}
	out <- modeladapter.Event{Type: modeladapter.EventDone}
}

func (p *Provider) Cancel(turnID string) error {
	p.mu.Lock()
	cancel, ok := p.cancel[turnID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("anthropic: no active request for turn %s", turnID)
	}
	cancel()
	return nil
}

func (p *Provider) Close() error { return nil }
