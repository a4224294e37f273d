package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/localsession/sessiond/internal/storage"
	"github.com/localsession/sessiond/internal/transcript"
)

// rootedClaudeAdapter overrides ClaudeAdapter's default $HOME-derived root
// with a fixture directory, so tests don't depend on the machine's actual
// home directory contents.
type rootedClaudeAdapter struct {
	*transcript.ClaudeAdapter
	root string
}

func (a *rootedClaudeAdapter) Roots() []string { return []string{a.root} }

func newTestCollector(t *testing.T, root string) *Collector {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCollectByPathIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	content := `{"type":"user","uuid":"u1","sessionId":"sess-1","cwd":"/tmp/proj","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}
{"type":"assistant","uuid":"a1","sessionId":"sess-1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}
`
	path := writeFixture(t, dir, "sess-1.jsonl", content)

	c := newTestCollector(t, dir)

	result, ids, err := c.CollectByPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessagesInserted != 2 {
		t.Fatalf("expected 2 messages inserted, got %d", result.MessagesInserted)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 inserted ids, got %d", len(ids))
	}

	result2, _, err := c.CollectByPath(path)
	if err != nil {
		t.Fatalf("second collection: %v", err)
	}
	if result2.MessagesInserted != 0 {
		t.Errorf("expected 0 messages inserted on re-scan, got %d", result2.MessagesInserted)
	}
}

func TestCollectAllSkipsBadFilesWithoutAborting(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-tmp-proj")
	writeFixture(t, projectDir, "good.jsonl",
		`{"type":"user","uuid":"u1","sessionId":"good-session","cwd":"/tmp/proj","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}`+"\n")
	// An entirely empty file should never abort the scan or error the batch.
	writeFixture(t, projectDir, "empty.jsonl", "")

	c := newTestCollector(t, root)
	c.adapters[0] = &rootedClaudeAdapter{ClaudeAdapter: transcript.NewClaudeAdapter(), root: root}

	result := c.CollectAll()
	if result.SessionsScanned < 1 {
		t.Errorf("expected at least 1 session scanned, got %d", result.SessionsScanned)
	}
	if result.MessagesInserted < 1 {
		t.Errorf("expected at least 1 message inserted, got %d", result.MessagesInserted)
	}
}
