package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReadRecent(t *testing.T) {
	dir := t.TempDir()
	j := New(filepath.Join(dir, "journal.ndjson"), 0)

	for i := 0; i < 5; i++ {
		if err := j.Append(DecisionEntry{At: time.Now(), Type: "tool", Summary: "call"}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, err := j.ReadRecent(3)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestReadToleratesCorruptedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.ndjson")
	content := `{"at":"2026-01-01T00:00:00Z","type":"a","summary":"one"}
not json at all
{"at":"2026-01-02T00:00:00Z","type":"b","summary":"two"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	j := New(path, 0)

	entries, err := j.ReadRecent(10)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 valid entries, got %d", len(entries))
	}
}

func TestRotationKeepsSingleGeneration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.ndjson")
	j := New(path, 200) // small threshold to force rotation quickly

	for i := 0; i < 50; i++ {
		if err := j.Append(DecisionEntry{At: time.Now(), Type: "tool", Summary: "padding-to-force-rotation"}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected a .1 generation to exist: %v", err)
	}
	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Fatalf("expected no .2 generation, single-generation rotation only")
	}
}

func TestReadEntriesForReplaySinceLastSession(t *testing.T) {
	dir := t.TempDir()
	j := New(filepath.Join(dir, "journal.ndjson"), 0)

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()
	if err := j.Append(DecisionEntry{At: old, Type: "a", Summary: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Append(DecisionEntry{At: recent, Type: "b", Summary: "new"}); err != nil {
		t.Fatal(err)
	}

	entries, err := j.ReadEntriesForReplay(ReplayOptions{
		Mode:           ReplaySinceLastSession,
		SessionStartMs: recent.Add(-time.Minute).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Summary != "new" {
		t.Fatalf("expected only the recent entry, got: %+v", entries)
	}
}
