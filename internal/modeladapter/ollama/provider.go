// Package ollama implements the HTTP-streaming ModelAdapter provider named in
// spec §4.5: POSTs to /api/chat with stream:true and parses the NDJSON
// response, accumulating tool_calls by index across chunks the way the
// OpenAI-compatible provider accumulates streamed tool call fragments.
package ollama

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
)

type Provider struct {
	baseURL      string
	defaultModel string
	client       *http.Client

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func New(baseURL, defaultModel string) *Provider {
	return &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 0}, // streaming: bounded by request context instead
		cancel:       make(map[string]context.CancelFunc),
	}
}

func (p *Provider) Name() string        { return "ollama" }
func (p *Provider) DefaultModel() string { return p.defaultModel }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Tools    []ollamaTool  `json:"tools,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatChunk struct {
	Message struct {
		Role      string          `json:"role"`
		Content   string          `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done         bool   `json:"done"`
	PromptTokens int    `json:"prompt_eval_count"`
	EvalTokens   int    `json:"eval_count"`
}

type ollamaToolCall struct {
	Index    int `json:"index"`
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

// pendingToolCall accumulates one tool call's fields across chunks, since a
// model may send the name in one chunk and the arguments in a later one.
type pendingToolCall struct {
	name      string
	arguments map[string]interface{}
	emitted   bool
}

func toOllamaMessages(msgs []modeladapter.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func toOllamaTools(tools []modeladapter.ToolDefinition) []ollamaTool {
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, ollamaTool{Type: "function", Function: ollamaFunction{
			Name: t.Name, Description: t.Description, Parameters: t.Parameters,
		}})
	}
	return out
}

func (p *Provider) SendTurn(req modeladapter.SendTurnRequest) (<-chan modeladapter.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model: model, Messages: toOllamaMessages(req.Messages), Stream: true, Tools: toOllamaTools(req.Tools),
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		transport := resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500
		err := fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(respBody))
		if transport {
			return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
		}
		return nil, err
	}

	out := make(chan modeladapter.Event, 8)
	go p.pump(req.TurnID, resp.Body, cancel, out)
	return out, nil
}

// pump reads newline-delimited JSON chunks, buffering a partial trailing line
// across reads since the stream is not guaranteed to align chunks to lines.
func (p *Provider) pump(turnID string, body io.ReadCloser, cancel context.CancelFunc, out chan<- modeladapter.Event) {
	defer func() {
		body.Close()
		cancel()
		p.mu.Lock()
		delete(p.cancel, turnID)
		p.mu.Unlock()
		close(out)
	}()

	reader := bufio.NewReaderSize(body, 64*1024)
	var pending bytes.Buffer
	promptTokens, evalTokens := 0, 0
	toolCalls := make(map[int]*pendingToolCall)

	emit := func(idx int, tc *pendingToolCall) {
		args, _ := json.Marshal(tc.arguments)
		out <- modeladapter.Event{Type: modeladapter.EventToolCall, ToolCall: &modeladapter.ToolCall{
			Name: tc.name, Arguments: args,
		}}
		tc.emitted = true
	}

	for {
		chunk, err := reader.ReadBytes('\n')
		pending.Write(chunk)
		if pending.Len() > 0 {
			line := bytes.TrimSpace(pending.Bytes())
			if len(line) > 0 {
				var cc chatChunk
				if jerr := json.Unmarshal(line, &cc); jerr == nil {
					if cc.Message.Content != "" {
						out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: cc.Message.Content}
					}
					for _, tc := range cc.Message.ToolCalls {
						acc, ok := toolCalls[tc.Index]
						if !ok {
							acc = &pendingToolCall{arguments: make(map[string]interface{})}
							toolCalls[tc.Index] = acc
						}
						if tc.Function.Name != "" {
							acc.name = tc.Function.Name
						}
						for k, v := range tc.Function.Arguments {
							acc.arguments[k] = v
						}
						if !acc.emitted && acc.name != "" && len(acc.arguments) > 0 {
							emit(tc.Index, acc)
						}
					}
					if cc.PromptTokens > 0 {
						promptTokens = cc.PromptTokens
					}
					if cc.EvalTokens > 0 {
						evalTokens = cc.EvalTokens
					}
					if cc.Done {
						for idx, acc := range toolCalls {
							if !acc.emitted && acc.name != "" {
								emit(idx, acc)
							}
						}
						out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: &modeladapter.Usage{
							PromptTokens: promptTokens, CompletionTokens: evalTokens, TotalTokens: promptTokens + evalTokens,
						}}
						out <- modeladapter.Event{Type: modeladapter.EventDone}
						return
					}
				}
			}
			pending.Reset()
		}
		if err != nil {
			if err != io.EOF {
				out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{Provider: "ollama", Err: err}}
			}
			return
		}
	}
}

func (p *Provider) Cancel(turnID string) error {
	p.mu.Lock()
	cancel, ok := p.cancel[turnID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("ollama: no active request for turn %s", turnID)
	}
	cancel()
	return nil
}

func (p *Provider) Close() error { return nil }
