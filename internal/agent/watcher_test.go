package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/localsession/sessiond/internal/collector"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/storage"
)

func TestWatcherTriggerCollectBroadcastsNewMessage(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	broadcaster := NewBroadcaster()
	coll := collector.New(store)
	w, err := NewWatcher(coll, broadcaster)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	connID, outbox := broadcaster.Register(&nopCloser{})
	broadcaster.Subscribe(connID, []protocol.EventType{protocol.EventNewMessage})

	dir := t.TempDir()
	path := filepath.Join(dir, "sess-1.jsonl")
	content := `{"type":"user","uuid":"u1","sessionId":"sess-1","cwd":"/tmp/proj","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := w.TriggerCollect(path); err != nil {
		t.Fatalf("trigger collect: %v", err)
	}

	mustRecv(t, outbox)

	// Re-triggering with no new content must not broadcast again.
	if err := w.TriggerCollect(path); err != nil {
		t.Fatalf("trigger collect again: %v", err)
	}
	mustNotRecv(t, outbox)
}

func TestWatcherExtensionsCoverAllAdapters(t *testing.T) {
	broadcaster := NewBroadcaster()
	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	w, err := NewWatcher(collector.New(store), broadcaster)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if !w.extensions["jsonl"] {
		t.Error("expected jsonl to be a watched extension")
	}
}
