// Package run implements RunStore and LifecycleStream: a durable Run state
// machine plus a fan-out event stream, grounded on the teacher's
// store.TraceData/TraceCollector lifecycle (CreateTrace/FinishTrace) and
// bus.EventPublisher's Subscribe/Unsubscribe/Broadcast shape.
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is one state in the Run lifecycle.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Record is one durable run entry.
type Record struct {
	RunID      string     `json:"runId"`
	SessionID  string     `json:"sessionId"`
	ProfileID  string     `json:"profileId,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Store is a durable, file-backed Run state machine. It holds the full table
// in memory and rewrites a JSON snapshot to disk through a write chain, the
// way the teacher's file-backed stores serialize their persistence.
type Store struct {
	path string

	mu      sync.Mutex
	runs    map[string]*Record
	writeMu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path, runs: make(map[string]*Record)}
}

// Load reads the persisted snapshot, if any, into memory. Call before
// RecoverInterrupted.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var runs map[string]*Record
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("run: corrupted snapshot at %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.runs = runs
	s.mu.Unlock()
	return nil
}

// RecoverInterrupted transitions every pending run to interrupted, the
// defensive startup-recovery idiom the teacher applies to other durable
// state (e.g. upgrade hooks): a pending run implies the process that owned
// it died mid-turn.
func (s *Store) RecoverInterrupted() (recovered int, err error) {
	s.mu.Lock()
	now := time.Now()
	for _, r := range s.runs {
		if r.Status == StatusPending {
			r.Status = StatusInterrupted
			r.UpdatedAt = now
			recovered++
		}
	}
	s.mu.Unlock()
	if recovered > 0 {
		err = s.persist()
	}
	return recovered, err
}

// Create starts a new pending run.
func (s *Store) Create(sessionID, profileID string) *Record {
	now := time.Now()
	r := &Record{
		RunID:     uuid.NewString(),
		SessionID: sessionID,
		ProfileID: profileID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.runs[r.RunID] = r
	s.mu.Unlock()
	_ = s.persist()
	return r
}

// MarkCompleted transitions a run to completed with its result text.
func (s *Store) MarkCompleted(runID, result string) error {
	return s.transition(runID, func(r *Record) {
		r.Status = StatusCompleted
		r.Result = result
	})
}

// MarkFailed transitions a run to failed with its error text.
func (s *Store) MarkFailed(runID, errText string) error {
	return s.transition(runID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = errText
	})
}

func (s *Store) transition(runID string, mutate func(*Record)) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run: unknown run %s", runID)
	}
	mutate(r)
	r.UpdatedAt = time.Now()
	s.mu.Unlock()
	return s.persist()
}

// Get returns a copy of a run record.
func (s *Store) Get(runID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Consume marks a completed/failed/interrupted run as consumed, making it
// eligible for PruneConsumed beyond a configured cap.
func (s *Store) Consume(runID string) error {
	return s.transition(runID, func(r *Record) {
		now := time.Now()
		r.ConsumedAt = &now
	})
}

// PruneConsumed deletes the oldest consumed runs once the table exceeds cap.
func (s *Store) PruneConsumed(cap int) (pruned int, err error) {
	s.mu.Lock()
	if len(s.runs) <= cap {
		s.mu.Unlock()
		return 0, nil
	}
	type keyed struct {
		id string
		at time.Time
	}
	var consumed []keyed
	for id, r := range s.runs {
		if r.ConsumedAt != nil {
			consumed = append(consumed, keyed{id, *r.ConsumedAt})
		}
	}
	for len(s.runs) > cap && len(consumed) > 0 {
		oldestIdx := 0
		for i, k := range consumed {
			if k.at.Before(consumed[oldestIdx].at) {
				oldestIdx = i
			}
		}
		delete(s.runs, consumed[oldestIdx].id)
		consumed = append(consumed[:oldestIdx], consumed[oldestIdx+1:]...)
		pruned++
	}
	s.mu.Unlock()
	if pruned > 0 {
		err = s.persist()
	}
	return pruned, err
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	data, err := json.Marshal(s.runs)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
