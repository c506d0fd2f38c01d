package run

import (
	"path/filepath"
	"testing"
)

func TestCreateMarkCompletedRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "runs.json"))
	r := s.Create("sess-1", "")
	if r.Status != StatusPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
	if err := s.MarkCompleted(r.RunID, "ok"); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	got, ok := s.Get(r.RunID)
	if !ok || got.Status != StatusCompleted || got.Result != "ok" {
		t.Fatalf("unexpected record after completion: %+v", got)
	}
}

func TestRecoverInterruptedOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s1 := NewStore(path)
	r := s1.Create("sess-1", "")

	s2 := NewStore(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	recovered, err := s2.RecoverInterrupted()
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered run, got %d", recovered)
	}
	got, ok := s2.Get(r.RunID)
	if !ok || got.Status != StatusInterrupted {
		t.Fatalf("expected interrupted status, got %+v", got)
	}
}

func TestPruneConsumedRespectsCap(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "runs.json"))
	var ids []string
	for i := 0; i < 5; i++ {
		r := s.Create("sess-1", "")
		_ = s.MarkCompleted(r.RunID, "ok")
		_ = s.Consume(r.RunID)
		ids = append(ids, r.RunID)
	}
	pruned, err := s.PruneConsumed(2)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("expected 3 pruned, got %d", pruned)
	}
}

func TestLifecycleStreamBroadcastsToAllSubscribers(t *testing.T) {
	s := NewLifecycleStream()
	var a, b []LifecycleEvent
	s.Subscribe("a", func(ev LifecycleEvent) { a = append(a, ev) })
	s.Subscribe("b", func(ev LifecycleEvent) { b = append(b, ev) })
	s.Push(LifecycleEvent{RunID: "r1", Status: StatusCompleted})
	s.Unsubscribe("b")
	s.Push(LifecycleEvent{RunID: "r2", Status: StatusFailed})

	if len(a) != 2 {
		t.Fatalf("expected subscriber a to see both events, got %d", len(a))
	}
	if len(b) != 1 {
		t.Fatalf("expected subscriber b to see only the first event, got %d", len(b))
	}
}
