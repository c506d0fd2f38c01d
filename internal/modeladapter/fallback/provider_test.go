package fallback

import (
	"testing"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

func TestProviderEchoesLastUserMessage(t *testing.T) {
	p := New()
	ch, err := p.SendTurn(modeladapter.SendTurnRequest{
		Messages: []modeladapter.Message{
			{Role: modeladapter.RoleSystem, Content: "sys"},
			{Role: modeladapter.RoleUser, Content: "hello there"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawDelta, sawDone bool
	for ev := range ch {
		switch ev.Type {
		case modeladapter.EventAssistantDelta:
			sawDelta = true
			if !contains(ev.Delta, "hello there") {
				t.Fatalf("expected echo to reference last user message, got: %s", ev.Delta)
			}
		case modeladapter.EventDone:
			sawDone = true
		}
	}
	if !sawDelta || !sawDone {
		t.Fatalf("expected both an assistant_delta and a done event")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
