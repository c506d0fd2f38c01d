// Package openaicompat implements the OpenAI-compatible Chat Completions
// wire protocol (OpenAI, Groq, OpenRouter, DeepSeek, vLLM, and DashScope's
// compatible-mode endpoint) as a modeladapter.Provider: it builds the
// request body directly from modeladapter types, streams Server-Sent
// Events, and accumulates fragmented tool_calls by index before emitting
// them as modeladapter.Event frames.
package openaicompat

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
	dashscopeDefaultBase  = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	dashscopeDefaultModel = "qwen3-max"
)

type Provider struct {
	name         string
	apiKey       string
	baseURL      string
	chatPath     string
	defaultModel string
	client       *http.Client
	retry        providers.RetryConfig

	// dashscopeToolsNoStream mirrors the teacher's DashScopeProvider: that
	// endpoint rejects stream:true requests that also carry tools, so such
	// turns fall back to one non-streaming call replayed as a single chunk.
	dashscopeToolsNoStream bool

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

// New wraps an OpenAI-compatible endpoint. name identifies the backend
// ("openai", "groq", "openrouter", ...) for logging and Provider.Name.
func New(name, apiKey, apiBase, defaultModel string) *Provider {
	return &Provider{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(apiBase, "/"),
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 0},
		retry:        providers.DefaultRetryConfig(),
		cancel:       make(map[string]context.CancelFunc),
	}
}

// NewDashScope wraps DashScope's OpenAI-compatible endpoint, which cannot
// stream while tools are attached.
func NewDashScope(apiKey, apiBase, defaultModel string) *Provider {
	if apiBase == "" {
		apiBase = dashscopeDefaultBase
	}
	if defaultModel == "" {
		defaultModel = dashscopeDefaultModel
	}
	p := New("dashscope", apiKey, apiBase, defaultModel)
	p.dashscopeToolsNoStream = true
	return p
}

func (p *Provider) Name() string         { return p.name }
func (p *Provider) DefaultModel() string { return p.defaultModel }

type wireMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

func buildWireMessages(msgs []modeladapter.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{
			Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func buildWireTools(provider string, defs []modeladapter.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, wireTool{Type: "function", Function: wireFunction{
			Name: d.Name, Description: d.Description, Parameters: providers.CleanSchemaForProvider(provider, d.Parameters),
		}})
	}
	return out
}

func (p *Provider) SendTurn(req modeladapter.SendTurnRequest) (<-chan modeladapter.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	stream := true
	if p.dashscopeToolsNoStream && len(req.Tools) > 0 {
		stream = false
	}

	body, err := json.Marshal(wireRequest{
		Model: model, Messages: buildWireMessages(req.Messages), Tools: buildWireTools(p.name, req.Tools), Stream: stream,
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
			if httpErr, ok := err.(*providers.HTTPError); ok {
				transport := httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden || httpErr.Status >= 500
				if transport {
					out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: p.Name(), Err: err}}
					return
				}
				out <- modeladapter.Event{Type: modeladapter.EventError, Err: err}
				return
			}
			out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: p.Name(), Err: err}}
			return
		}
		if stream {
			p.pumpStream(req.TurnID, resp.Body, cancel, out)
		} else {
			p.pumpNonStream(req.TurnID, resp.Body, cancel, out)
		}
	}()
	return out, nil
}

func (p *Provider) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// toolCallAccumulator merges a tool call's id/name/arguments fragments as
// they arrive across chunks, keyed by the delta's index: a model may send
// the name in one chunk and stream the arguments JSON string across several
// more.
type toolCallAccumulator struct {
	id, name string
	args     strings.Builder
}

func (p *Provider) pumpStream(turnID string, body io.ReadCloser, cancel context.CancelFunc, out chan<- modeladapter.Event) {
	defer func() {
		body.Close()
		cancel()
		p.mu.Lock()
		delete(p.cancel, turnID)
		p.mu.Unlock()
		close(out)
	}()

	accumulators := make(map[int]*toolCallAccumulator)
	var usage *modeladapter.Usage

	emitToolCalls := func() {
		for _, acc := range accumulators {
			args := acc.args.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			out <- modeladapter.Event{Type: modeladapter.EventToolCall, ToolCall: &modeladapter.ToolCall{
				ID: acc.id, Name: acc.name, Arguments: json.RawMessage(args),
			}}
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			emitToolCalls()
			if usage != nil {
				out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: usage}
			}
			out <- modeladapter.Event{Type: modeladapter.EventDone}
			return
		}
		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = &modeladapter.Usage{
				PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens,
			}
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: c.Delta.Content}
			}
			for _, tc := range c.Delta.ToolCalls {
				acc, ok := accumulators[tc.Index]
				if !ok {
					acc = &toolCallAccumulator{}
					accumulators[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: p.name, Err: err}}
		return
	}
	emitToolCalls()
	if usage != nil {
		out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: usage}
	}
	out <- modeladapter.Event{Type: modeladapter.EventDone}
}

type nonStreamResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// pumpNonStream handles DashScope's tools-present case: a single JSON
// response is read in full and replayed as one assistant_delta plus
// whatever tool_call/usage/done events would have come from a real stream,
// so callers see the same event shape regardless of which path ran.
func (p *Provider) pumpNonStream(turnID string, body io.ReadCloser, cancel context.CancelFunc, out chan<- modeladapter.Event) {
	defer func() {
		body.Close()
		cancel()
		p.mu.Lock()
		delete(p.cancel, turnID)
		p.mu.Unlock()
		close(out)
	}()

	raw, err := io.ReadAll(body)
	if err != nil {
		out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: p.name, Err: err}}
		return
	}
	var resp nonStreamResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		out <- modeladapter.Event{Type: modeladapter.EventError, Err: fmt.Errorf("%s: malformed response: %w", p.name, err)}
		return
	}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if msg.Content != "" {
			out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: msg.Content}
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out <- modeladapter.Event{Type: modeladapter.EventToolCall, ToolCall: &modeladapter.ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: args,
			}}
		}
	}
	out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: &modeladapter.Usage{
		PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens,
	}}
	out <- modeladapter.Event{Type: modeladapter.EventDone}
}

func (p *Provider) Cancel(turnID string) error {
	p.mu.Lock()
	cancel, ok := p.cancel[turnID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: no active request for turn %s", p.name, turnID)
	}
	cancel()
	return nil
}

func (p *Provider) Close() error { return nil }
