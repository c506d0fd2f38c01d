package sessions

import (
	"testing"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

func TestAddMessageAndGetHistory(t *testing.T) {
	m := NewManager("")
	key := SessionKey("default", "telegram:direct:1")

	m.AddMessage(key, modeladapter.Message{Role: modeladapter.RoleUser, Content: "hello"})
	m.AddMessage(key, modeladapter.Message{Role: modeladapter.RoleAssistant, Content: "hi there"})

	got := m.GetHistory(key)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Content != "hello" || got[1].Content != "hi there" {
		t.Fatalf("unexpected history order: %+v", got)
	}
}

func TestTruncateHistoryKeepsTail(t *testing.T) {
	m := NewManager("")
	key := "k1"
	for i := 0; i < 5; i++ {
		m.AddMessage(key, modeladapter.Message{Role: modeladapter.RoleUser, Content: string(rune('a' + i))})
	}
	m.TruncateHistory(key, 2)

	got := m.GetHistory(key)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after truncate, got %d", len(got))
	}
	if got[0].Content != "d" || got[1].Content != "e" {
		t.Fatalf("expected tail retained, got %+v", got)
	}
}

func TestResetClearsHistoryAndSummary(t *testing.T) {
	m := NewManager("")
	key := "k1"
	m.AddMessage(key, modeladapter.Message{Role: modeladapter.RoleUser, Content: "x"})
	m.SetSummary(key, "a summary")

	m.Reset(key)

	if len(m.GetHistory(key)) != 0 {
		t.Fatalf("expected history cleared")
	}
	if m.GetSummary(key) != "" {
		t.Fatalf("expected summary cleared")
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := "agent:default:telegram:direct:1"
	m.AddMessage(key, modeladapter.Message{Role: modeladapter.RoleUser, Content: "persist me"})
	m.SetSummary(key, "summary text")
	m.UpdateMetadata(key, "test-model", "ollama")

	if err := m.Save(key); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := NewManager(dir)
	history := reloaded.GetHistory(key)
	if len(history) != 1 || history[0].Content != "persist me" {
		t.Fatalf("expected persisted history to reload, got %+v", history)
	}
	if reloaded.GetSummary(key) != "summary text" {
		t.Fatalf("expected persisted summary to reload, got %q", reloaded.GetSummary(key))
	}
}

func TestMemoryFlushCompactionTracking(t *testing.T) {
	m := NewManager("")
	key := "k1"
	m.GetOrCreate(key)

	if got := m.GetMemoryFlushCompactionCount(key); got != -1 {
		t.Fatalf("expected -1 before any flush, got %d", got)
	}
	m.IncrementCompaction(key)
	m.IncrementCompaction(key)
	m.SetMemoryFlushDone(key)

	if got := m.GetMemoryFlushCompactionCount(key); got != 2 {
		t.Fatalf("expected flush recorded at compaction count 2, got %d", got)
	}
}

func TestParseAndClassifySessionKeys(t *testing.T) {
	cases := []struct {
		key        string
		isSubagent bool
		isCron     bool
	}{
		{BuildSubagentSessionKey("default", "research"), true, false},
		{BuildCronSessionKey("default", "reminder", "run1"), false, true},
		{BuildSessionKey("default", "telegram", PeerDirect, "123"), false, false},
	}
	for _, c := range cases {
		if got := IsSubagentSession(c.key); got != c.isSubagent {
			t.Errorf("IsSubagentSession(%q) = %v, want %v", c.key, got, c.isSubagent)
		}
		if got := IsCronSession(c.key); got != c.isCron {
			t.Errorf("IsCronSession(%q) = %v, want %v", c.key, got, c.isCron)
		}
	}
}

func TestBuildCronSessionKeyAvoidsDoublePrefixing(t *testing.T) {
	already := BuildSessionKey("default", "telegram", PeerDirect, "123")
	got := BuildCronSessionKey("default", already, "run1")
	want := "agent:default:cron:telegram:direct:123:run:run1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
