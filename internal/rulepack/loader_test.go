package rulepack

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writePack(t *testing.T, path, version string) {
	t.Helper()
	data := []byte(`{"version":"` + version + `","rules":[{"id":"r1","pattern":"abc","risk":"low","score":0.1}]}`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing pack: %v", err)
	}
}

func TestNewLoader_EmbeddedDefault(t *testing.T) {
	l, err := NewLoader(LoaderOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()
	if l.Current().Len() == 0 {
		t.Error("embedded default pack is empty")
	}
}

func TestNewLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(LoaderOptions{
		Path:   filepath.Join(t.TempDir(), "absent.json"),
		Logger: zerolog.Nop(),
	})
	if err == nil {
		t.Error("expected error for missing pack file")
	}
}

func TestNewLoader_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pack.json")
	writePack(t, path, "v1")

	l, err := NewLoader(LoaderOptions{Path: path, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()
	if l.Current().Version != "v1" {
		t.Errorf("Version = %q, want v1", l.Current().Version)
	}
}

func TestLoader_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pack.json")
	writePack(t, path, "v1")

	reloaded := make(chan string, 4)
	l, err := NewLoader(LoaderOptions{
		Path:            path,
		Watch:           true,
		WatchDebounceMs: 10,
		Logger:          zerolog.Nop(),
		OnReload: func(version string, err error) {
			if err == nil {
				reloaded <- version
			}
		},
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()

	writePack(t, path, "v2")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-reloaded:
			if v == "v2" {
				if got := l.Current().Version; got != "v2" {
					t.Errorf("Current().Version = %q after reload", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("reload of v2 not observed within deadline")
		}
	}
}

func TestLoader_ReloadFailureKeepsOldPack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pack.json")
	writePack(t, path, "v1")

	failed := make(chan error, 4)
	l, err := NewLoader(LoaderOptions{
		Path:            path,
		Watch:           true,
		WatchDebounceMs: 10,
		Logger:          zerolog.Nop(),
		OnReload: func(_ string, err error) {
			if err != nil {
				failed <- err
			}
		},
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()

	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("writing broken pack: %v", err)
	}

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("failed reload not observed")
	}
	if got := l.Current().Version; got != "v1" {
		t.Errorf("Current().Version = %q, want old v1 after failed reload", got)
	}
}

func TestLoader_CloseIdempotent(t *testing.T) {
	l, err := NewLoader(LoaderOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
