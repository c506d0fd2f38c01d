package journal

import (
	"strings"
	"testing"
)

func TestObservationStoreBoundedRing(t *testing.T) {
	s := NewObservationStore(3, "")
	for i := 0; i < 5; i++ {
		s.Append(ObservationEvent{Source: "test", Kind: "note", Payload: i})
	}
	recent := s.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("expected ring bounded to 3 events, got %d", len(recent))
	}
	if recent[0].Payload != float64(2) {
		t.Fatalf("expected oldest surviving event to be index 2, got %v", recent[0].Payload)
	}
}

func TestObservationPayloadTruncation(t *testing.T) {
	s := NewObservationStore(10, "")
	huge := strings.Repeat("x", maxPayloadChars+500)
	ev := s.Append(ObservationEvent{Source: "test", Kind: "dump", Payload: huge})
	got, ok := ev.Payload.(string)
	if !ok || len(got) != maxPayloadChars {
		t.Fatalf("expected payload truncated to %d chars, got %d", maxPayloadChars, len(got))
	}
}

func TestObservationUnserializablePayload(t *testing.T) {
	s := NewObservationStore(10, "")
	ev := s.Append(ObservationEvent{Source: "test", Kind: "bad", Payload: make(chan int)})
	if ev.Payload != "[unserializable observation payload]" {
		t.Fatalf("expected placeholder for unserializable payload, got: %v", ev.Payload)
	}
}
