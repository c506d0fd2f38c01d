package journal

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxPayloadChars = 20_000

// ObservationEvent is one entry of the in-memory observation ring.
type ObservationEvent struct {
	ID        string      `json:"id"`
	At        time.Time   `json:"at"`
	SessionID string      `json:"sessionId,omitempty"`
	Source    string      `json:"source"`
	Kind      string      `json:"kind"`
	Sensitivity string    `json:"sensitivity"`
	Payload   interface{} `json:"payload"`
}

// ObservationStore is a bounded ring buffer of recent observations, with an
// optional serialized-write persistence file.
type ObservationStore struct {
	maxEvents    int
	persistPath  string
	chain        writeChain

	mu     sync.Mutex
	events []ObservationEvent
}

func NewObservationStore(maxEvents int, persistPath string) *ObservationStore {
	if maxEvents <= 0 {
		maxEvents = 200
	}
	return &ObservationStore{maxEvents: maxEvents, persistPath: persistPath}
}

// Append records an observation, truncating the payload and discarding the
// oldest event if the ring is at capacity. If persistPath is set, the full
// ring is rewritten through the write chain to prevent interleaving.
func (s *ObservationStore) Append(ev ObservationEvent) ObservationEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.Payload = sanitizePayload(ev.Payload)

	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	snapshot := make([]ObservationEvent, len(s.events))
	copy(snapshot, s.events)
	s.mu.Unlock()

	if s.persistPath != "" {
		_ = s.chain.do(func() error {
			data, err := json.Marshal(snapshot)
			if err != nil {
				return err
			}
			return os.WriteFile(s.persistPath, data, 0o644)
		})
	}
	return ev
}

// Recent returns a snapshot of the current ring, oldest first.
func (s *ObservationStore) Recent(limit int) []ObservationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.events) {
		out := make([]ObservationEvent, len(s.events))
		copy(out, s.events)
		return out
	}
	out := make([]ObservationEvent, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out
}

// sanitizePayload truncates string payloads to maxPayloadChars and replaces
// anything json.Marshal cannot handle with a placeholder, rather than
// letting one bad observation break the whole ring's persistence.
func sanitizePayload(payload interface{}) interface{} {
	switch v := payload.(type) {
	case string:
		if len(v) > maxPayloadChars {
			return v[:maxPayloadChars]
		}
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return errUnserializable.Error()
		}
		if len(b) > maxPayloadChars {
			return string(b[:maxPayloadChars])
		}
		var out interface{}
		if err := json.Unmarshal(b, &out); err != nil {
			return errUnserializable.Error()
		}
		return out
	}
}
