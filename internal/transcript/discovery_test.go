package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestListProjectsOrdersByModTimeAndRespectsLimit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"-Users-alice-old", "-Users-alice-new", "-Users-alice-mid"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	chtimes := map[string]time.Time{
		"-Users-alice-old": now.Add(-2 * time.Hour),
		"-Users-alice-mid": now.Add(-1 * time.Hour),
		"-Users-alice-new": now,
	}
	for name, mtime := range chtimes {
		if err := os.Chtimes(filepath.Join(root, name), mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := ListProjects(root, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(infos))
	}
	if infos[0].EncodedDirName != "-Users-alice-new" {
		t.Errorf("expected newest project first, got %q", infos[0].EncodedDirName)
	}
	if infos[0].Path != "/Users/alice/new" {
		t.Errorf("expected decoded path, got %q", infos[0].Path)
	}

	limited, err := ListProjects(root, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit to cap results at 2, got %d", len(limited))
	}
}

func TestListProjectsMissingRootIsNotAnError(t *testing.T) {
	infos, err := ListProjects(filepath.Join(t.TempDir(), "does-not-exist"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if infos != nil {
		t.Errorf("expected nil result for a missing root, got %v", infos)
	}
}

func TestFindLatestSessionSkipsAgentSessionsAndAppliesRecencyWindow(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-Users-alice-app")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}

	old := writeJSONL(t, projectDir, "sess-old.jsonl", `{"type":"user"}`)
	oldTime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	agentPath := writeJSONL(t, projectDir, "agent-hidden.jsonl", `{"type":"user"}`)
	newTime := time.Now()
	if err := os.Chtimes(agentPath, newTime, newTime); err != nil {
		t.Fatal(err)
	}

	meta, err := FindLatestSession(root, "-Users-alice-app", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil {
		t.Fatal("expected a session, got nil")
	}
	if meta.Path != old {
		t.Errorf("expected the agent session to be skipped, got %q", meta.Path)
	}

	stale, err := FindLatestSession(root, "-Users-alice-app", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stale != nil {
		t.Errorf("expected no session within a 1s window, got %v", stale)
	}
}

func TestFindLatestSessionMissingProjectIsNotAnError(t *testing.T) {
	meta, err := FindLatestSession(t.TempDir(), "-no-such-project", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil, got %v", meta)
	}
}

func TestComputeSessionPath(t *testing.T) {
	got := ComputeSessionPath("/home/alice/.claude/projects", "-Users-alice-app", "sess-1")
	want := filepath.Join("/home/alice/.claude/projects", "-Users-alice-app", "sess-1.jsonl")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
