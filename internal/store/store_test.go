package store

import (
	"path/filepath"
	"testing"
	"time"

	"quorum/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCatalogCacheMiss(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetCatalog("openai|https://api.example.com", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected cache miss on empty store")
	}
}

func TestCatalogSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	key := "ollama|http://localhost:11434"
	models := []string{"llama3:latest", "mistral:latest"}

	if err := s.SaveCatalog(key, models); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.GetCatalog(key, time.Minute)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 || got[0] != "llama3:latest" || got[1] != "mistral:latest" {
		t.Errorf("unexpected models: %v", got)
	}
}

func TestCatalogStaleEntry(t *testing.T) {
	s := newTestStore(t)
	key := "k"

	if err := s.SaveCatalog(key, []string{"m"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A zero max age makes any entry stale.
	_, ok, err := s.GetCatalog(key, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected stale entry to miss")
	}
}

func TestCatalogOverwrite(t *testing.T) {
	s := newTestStore(t)
	key := "k"

	if err := s.SaveCatalog(key, []string{"old"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCatalog(key, []string{"new"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, ok, err := s.GetCatalog(key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0] != "new" {
		t.Errorf("expected overwritten entry, got %v", got)
	}
}
