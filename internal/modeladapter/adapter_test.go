package modeladapter

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name   string
	events []Event
	err    error
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func (f *fakeProvider) SendTurn(req SendTurnRequest) (<-chan Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (f *fakeProvider) Cancel(turnID string) error { return nil }
func (f *fakeProvider) Close() error                { return nil }

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestSendTurnUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeProvider{name: "primary", events: []Event{
		{Type: EventAssistantDelta, Delta: "hi"},
		{Type: EventDone},
	}}
	a := New(primary, &fakeProvider{name: "secondary"})

	ch, err := a.SendTurn(context.Background(), SendTurnRequest{TurnID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := drain(ch)
	if len(events) != 2 || events[0].Delta != "hi" || events[1].Type != EventDone {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSendTurnFallsBackOnTransportError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: &TransportError{Provider: "primary", Err: errors.New("connection refused")}}
	secondary := &fakeProvider{name: "secondary", events: []Event{
		{Type: EventAssistantDelta, Delta: "from secondary"},
		{Type: EventDone},
	}}
	a := New(primary, secondary)

	ch, err := a.SendTurn(context.Background(), SendTurnRequest{TurnID: "t2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := drain(ch)
	if len(events) != 2 || events[0].Delta != "from secondary" {
		t.Fatalf("expected fallback to secondary, got: %+v", events)
	}
}

func TestSendTurnSurfacesErrorWhenAllProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: &TransportError{Provider: "primary", Err: errors.New("down")}}
	secondary := &fakeProvider{name: "secondary", err: &TransportError{Provider: "secondary", Err: errors.New("also down")}}
	a := New(primary, secondary)

	ch, err := a.SendTurn(context.Background(), SendTurnRequest{TurnID: "t3"})
	if err != nil {
		t.Fatalf("unexpected synchronous error: %v", err)
	}
	events := drain(ch)
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("expected a single error event, got: %+v", events)
	}
}

func TestSendTurnNonTransportErrorDoesNotFallBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("bad request")}
	secondary := &fakeProvider{name: "secondary", events: []Event{{Type: EventDone}}}
	a := New(primary, secondary)

	ch, err := a.SendTurn(context.Background(), SendTurnRequest{TurnID: "t4"})
	if err != nil {
		t.Fatalf("unexpected synchronous error: %v", err)
	}
	events := drain(ch)
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("expected a single error event without fallback, got: %+v", events)
	}
}

func TestCancelUnknownTurnErrors(t *testing.T) {
	a := New(&fakeProvider{name: "primary", events: []Event{{Type: EventDone}}})
	if _, err := a.SendTurn(context.Background(), SendTurnRequest{TurnID: "t5"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Cancel("unknown-turn"); err == nil {
		t.Fatalf("expected error cancelling an unknown turn")
	}
}
