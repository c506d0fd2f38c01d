package openaicompat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

func TestSendTurnStreamsAssistantTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		write := func(s string) {
			fmt.Fprint(w, s)
			flusher.Flush()
		}
		write(`data: {"choices":[{"delta":{"content":"hel"}}]}` + "\n\n")
		write(`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n")
		write(`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}` + "\n\n")
		write("data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New("openai", "test-key", srv.URL, "gpt-test")
	ch, err := p.SendTurn(modeladapter.SendTurnRequest{
		TurnID:   "t1",
		Messages: []modeladapter.Message{{Role: modeladapter.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawUsage, sawDone bool
	for ev := range ch {
		switch ev.Type {
		case modeladapter.EventAssistantDelta:
			text += ev.Delta
		case modeladapter.EventUsage:
			sawUsage = true
			if ev.Usage.TotalTokens != 6 {
				t.Fatalf("expected total tokens 6, got %d", ev.Usage.TotalTokens)
			}
		case modeladapter.EventDone:
			sawDone = true
		case modeladapter.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if text != "hello" {
		t.Fatalf("expected accumulated text %q, got %q", "hello", text)
	}
	if !sawUsage || !sawDone {
		t.Fatalf("expected usage and done events")
	}
}

func TestSendTurnAccumulatesFragmentedToolCallAcrossChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		write := func(s string) {
			fmt.Fprint(w, s)
			flusher.Flush()
		}
		// Name and id arrive first, arguments stream in as partial JSON
		// fragments across several chunks, same index.
		write(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_fetch","arguments":""}}]}}]}` + "\n\n")
		write(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"url\":"}}]}}]}` + "\n\n")
		write(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"https://example.com\"}"}}]}}]}` + "\n\n")
		write(`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}` + "\n\n")
		write("data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New("openai", "test-key", srv.URL, "gpt-test")
	ch, err := p.SendTurn(modeladapter.SendTurnRequest{
		TurnID:   "t3",
		Messages: []modeladapter.Message{{Role: modeladapter.RoleUser, Content: "fetch that page"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var toolCalls []*modeladapter.ToolCall
	for ev := range ch {
		if ev.Type == modeladapter.EventToolCall {
			toolCalls = append(toolCalls, ev.ToolCall)
		}
		if ev.Type == modeladapter.EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if len(toolCalls) != 1 {
		t.Fatalf("expected exactly one merged tool_call event, got %d", len(toolCalls))
	}
	if toolCalls[0].Name != "web_fetch" || toolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool call identity: %+v", toolCalls[0])
	}
	var args map[string]interface{}
	if err := json.Unmarshal(toolCalls[0].Arguments, &args); err != nil {
		t.Fatalf("expected valid merged JSON arguments: %v", err)
	}
	if args["url"] != "https://example.com" {
		t.Fatalf("expected merged arguments to include the url, got %+v", args)
	}
}

func TestSendTurnEmitsErrorEventOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	p := New("openai", "test-key", srv.URL, "gpt-test")
	ch, err := p.SendTurn(modeladapter.SendTurnRequest{TurnID: "t2"})
	if err != nil {
		t.Fatalf("expected SendTurn to accept and report failure on the channel, got synchronous error: %v", err)
	}

	var sawErr bool
	for ev := range ch {
		if ev.Type == modeladapter.EventError {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatalf("expected an error event")
	}
}

func TestDashScopeFallsBackToNonStreamingWhenToolsPresent(t *testing.T) {
	var sawStream *bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawStream = &body.Stream

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"done","tool_calls":[{"id":"call_1","function":{"name":"web_fetch","arguments":{"url":"https://example.com"}}}]}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewDashScope("key", srv.URL, "qwen3-max")
	ch, err := p.SendTurn(modeladapter.SendTurnRequest{
		TurnID:   "t4",
		Messages: []modeladapter.Message{{Role: modeladapter.RoleUser, Content: "fetch that page"}},
		Tools:    []modeladapter.ToolDefinition{{Name: "web_fetch", Parameters: map[string]interface{}{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var toolCalls []*modeladapter.ToolCall
	var sawDone bool
	for ev := range ch {
		switch ev.Type {
		case modeladapter.EventToolCall:
			toolCalls = append(toolCalls, ev.ToolCall)
		case modeladapter.EventDone:
			sawDone = true
		case modeladapter.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if sawStream == nil || *sawStream {
		t.Fatalf("expected DashScope to send stream:false when tools are present")
	}
	if len(toolCalls) != 1 || toolCalls[0].Name != "web_fetch" {
		t.Fatalf("expected the single non-streaming tool_call to be replayed, got %+v", toolCalls)
	}
	if !sawDone {
		t.Fatalf("expected a done event")
	}
}

func TestNewDashScopeUsesDashScopeName(t *testing.T) {
	p := NewDashScope("key", "", "")
	if p.Name() != "dashscope" {
		t.Fatalf("expected provider name %q, got %q", "dashscope", p.Name())
	}
}

func TestCancelOnUnknownTurnErrors(t *testing.T) {
	p := New("openai", "test-key", "http://127.0.0.1:0", "gpt-test")
	if err := p.Cancel("no-such-turn"); err == nil {
		t.Fatalf("expected error cancelling an unknown turn")
	}
}
