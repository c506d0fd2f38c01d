package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchCallsOnChangeAfterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(`{ adapter: { defaultModel: "initial" } }`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stop := make(chan struct{})
	changed := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(path, stop, func(cfg *Config) { changed <- cfg })
	}()

	// Give the watcher time to register before mutating the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{ adapter: { defaultModel: "updated" } }`), 0o600); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Adapter.DefaultModel != "updated" {
			t.Fatalf("expected reloaded config to see the update, got %q", cfg.Adapter.DefaultModel)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for onChange after file write")
	}

	close(stop)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for Watch to return after stop was closed")
	}
}
