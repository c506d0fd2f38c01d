// Package fallback implements the deterministic last-resort provider named
// in spec §4.5: when every configured upstream has failed, it yields a
// synthetic echo-style response rather than leaving a turn with no event at
// all.
package fallback

import (
	"fmt"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

// Provider never talks to a network or subprocess; it is deterministic so
// tests (and operators diagnosing an outage) can rely on its shape.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string        { return "fallback" }
func (p *Provider) DefaultModel() string { return "fallback-echo" }

func (p *Provider) SendTurn(req modeladapter.SendTurnRequest) (<-chan modeladapter.Event, error) {
	out := make(chan modeladapter.Event, 4)
	go func() {
		defer close(out)
		last := lastUserMessage(req.Messages)
		text := fmt.Sprintf("All configured model providers are unavailable. Last user message was: %q", last)
		out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: text}
		out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: &modeladapter.Usage{}}
		out <- modeladapter.Event{Type: modeladapter.EventDone}
	}()
	return out, nil
}

func (p *Provider) Cancel(turnID string) error { return nil }
func (p *Provider) Close() error               { return nil }

func lastUserMessage(msgs []modeladapter.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == modeladapter.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
