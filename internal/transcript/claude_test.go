package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func writeJSONL(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestClaudeAdapterParseSession(t *testing.T) {
	dir := t.TempDir()
	content := `{"type":"user","uuid":"u1","sessionId":"sess-1","cwd":"/Users/alice/code/app","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"How do I implement a binary search?"}}
{"type":"assistant","uuid":"a1","sessionId":"sess-1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","model":"claude-3","content":[{"type":"text","text":"Divide the sorted array in half repeatedly."}]}}
not json at all
{"type":"assistant","uuid":"a2","sessionId":"sess-1","timestamp":"2024-01-01T00:00:02Z","message":{"role":"assistant","content":[{"type":"tool_use","name":"Read","id":"t1"}]}}
`
	path := writeJSONL(t, dir, "sess-1.jsonl", content)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	a := NewClaudeAdapter()
	result, err := a.ParseSession(SessionMeta{
		Path:           path,
		EncodedDirName: "-Users-alice-code-app",
		ModTime:        info.ModTime().UnixMilli(),
		Size:           info.Size(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %q", result.SessionID)
	}
	if result.SkippedLines != 1 {
		t.Errorf("expected 1 skipped line, got %d", result.SkippedLines)
	}
	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	for i, m := range result.Messages {
		if m.Sequence != int64(i) {
			t.Errorf("message %d: expected sequence %d, got %d", i, i, m.Sequence)
		}
	}
	if result.Messages[2].ContentText != "[Used tool: Read]" {
		t.Errorf("expected tool-use placeholder, got %q", result.Messages[2].ContentText)
	}
}

func TestClaudeAdapterParseSessionNeverErrorsOnEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "empty.jsonl", "\n\n")

	a := NewClaudeAdapter()
	result, err := a.ParseSession(SessionMeta{Path: path})
	if err != nil {
		t.Fatalf("unexpected error on empty transcript: %v", err)
	}
	if len(result.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(result.Messages))
	}
}

func TestClaudeAdapterListSessions(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-Users-alice-code-app")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeJSONL(t, projectDir, "sess-1.jsonl", `{"type":"user"}`)
	writeJSONL(t, projectDir, "notes.txt", "ignore me")

	a := NewClaudeAdapter()
	metas, err := a.ListSessions(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("expected 1 session, got %d", len(metas))
	}
	if metas[0].EncodedDirName != "-Users-alice-code-app" {
		t.Errorf("unexpected encoded dir name: %q", metas[0].EncodedDirName)
	}
}
