package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Default()
	if cfg.Adapter.DefaultModel != want.Adapter.DefaultModel {
		t.Fatalf("expected default model %q, got %q", want.Adapter.DefaultModel, cfg.Adapter.DefaultModel)
	}
	if cfg.Turn.MaxMessagesPerTurn != want.Turn.MaxMessagesPerTurn {
		t.Fatalf("expected default max messages %d, got %d", want.Turn.MaxMessagesPerTurn, cfg.Turn.MaxMessagesPerTurn)
	}
}

func TestLoadParsesJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// trailing comma and comments are valid json5
		turn: { maxMessagesPerTurn: 7 },
		adapter: { defaultModel: "custom-model" },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Turn.MaxMessagesPerTurn != 7 {
		t.Fatalf("expected maxMessagesPerTurn 7, got %d", cfg.Turn.MaxMessagesPerTurn)
	}
	if cfg.Adapter.DefaultModel != "custom-model" {
		t.Fatalf("expected overridden default model, got %q", cfg.Adapter.DefaultModel)
	}
	// Fields not present in the file keep their defaults.
	if cfg.Scheduler.BudgetMaxPerHour != Default().Scheduler.BudgetMaxPerHour {
		t.Fatalf("expected untouched field to retain its default")
	}
}

func TestLoadReturnsErrorOnMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{ not valid json5 :::"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error parsing a malformed config file")
	}
}

func TestApplyEnvOverridesWinsOverFileAndDefaults(t *testing.T) {
	t.Setenv("CURSORCLAW_MODEL", "env-model")
	t.Setenv("CURSORCLAW_MAX_MESSAGES_PER_TURN", "99")
	t.Setenv("CURSORCLAW_ANTHROPIC_ENABLED", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Adapter.DefaultModel != "env-model" {
		t.Fatalf("expected env override of default model, got %q", cfg.Adapter.DefaultModel)
	}
	if cfg.Turn.MaxMessagesPerTurn != 99 {
		t.Fatalf("expected env override of max messages, got %d", cfg.Turn.MaxMessagesPerTurn)
	}
	if !cfg.Adapter.Anthropic.Enabled {
		t.Fatalf("expected env override to enable anthropic")
	}
}

func TestApplyEnvOverridesIgnoresUnsetVars(t *testing.T) {
	cfg := Default()
	before := cfg.Adapter.DefaultModel
	cfg.applyEnvOverrides()
	if cfg.Adapter.DefaultModel != before {
		t.Fatalf("expected default model to be unchanged with no env vars set, got %q", cfg.Adapter.DefaultModel)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	cfg := Default()
	cfg.Adapter.DefaultModel = "round-trip-model"
	cfg.Turn.MaxMessagesPerTurn = 13

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Adapter.DefaultModel != "round-trip-model" {
		t.Fatalf("expected round-tripped default model, got %q", loaded.Adapter.DefaultModel)
	}
	if loaded.Turn.MaxMessagesPerTurn != 13 {
		t.Fatalf("expected round-tripped max messages, got %d", loaded.Turn.MaxMessagesPerTurn)
	}
}

func TestSaveCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestHashChangesWithContentAndIsStable(t *testing.T) {
	cfg := Default()
	h1 := cfg.Hash()
	h2 := cfg.Hash()
	if h1 != h2 {
		t.Fatalf("expected Hash to be stable across calls, got %q then %q", h1, h2)
	}

	cfg.Adapter.DefaultModel = "changed"
	h3 := cfg.Hash()
	if h3 == h1 {
		t.Fatalf("expected Hash to change after a field changes")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no tilde", "/abs/path", "/abs/path"},
		{"bare tilde", "~", home},
		{"tilde slash", "~/x/y", home + "/x/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandHome(tt.in); got != tt.want {
				t.Fatalf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
