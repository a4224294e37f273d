//go:build integration

// Package integration exercises the end-to-end scenarios named in
// spec.md's testable-properties section against the real storage and
// collector packages (and, for the push-notification and approval
// scenarios, a real Agent listening on a Unix socket).
package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localsession/sessiond/internal/agent"
	"github.com/localsession/sessiond/internal/agentclient"
	"github.com/localsession/sessiond/internal/collector"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/session"
	"github.com/localsession/sessiond/internal/storage"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "sessions.db")
	store, err := storage.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeTranscript(t *testing.T, dir, name, cwd string, lines ...string) string {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// S1: fresh ingestion — two files, two sessions, three messages total.
func TestScenarioFreshIngestion(t *testing.T) {
	store := newStore(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	projectDir := filepath.Join(home, ".claude", "projects", "-tmp-P1")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeTranscript(t, projectDir, "s1.jsonl", "/tmp/P1",
		`{"type":"user","uuid":"u1","sessionId":"s1","cwd":"/tmp/P1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}`,
		`{"type":"assistant","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":"hi"}}`,
	)
	writeTranscript(t, projectDir, "s2.jsonl", "/tmp/P1",
		`{"type":"user","uuid":"u3","sessionId":"s2","cwd":"/tmp/P1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hey"}}`,
	)

	coll := collector.New(store)
	result := coll.CollectAll()

	if result.ProjectsScanned != 1 {
		t.Errorf("expected 1 project, got %d", result.ProjectsScanned)
	}
	if result.SessionsScanned != 2 {
		t.Errorf("expected 2 sessions, got %d", result.SessionsScanned)
	}
	if result.MessagesInserted != 3 {
		t.Errorf("expected 3 messages, got %d", result.MessagesInserted)
	}

	messages, err := store.ListMessages("s1", 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || messages[0].Sequence != 0 || messages[1].Sequence != 1 {
		t.Errorf("expected sequences [0,1], got %+v", messages)
	}
}

// S2: incremental append — appending one line to an already-collected
// file inserts exactly one new message, extending the sequence run.
func TestScenarioIncrementalAppend(t *testing.T) {
	store := newStore(t)
	dir := t.TempDir()
	path := writeTranscript(t, dir, "s1.jsonl", "/tmp/P1",
		`{"type":"user","uuid":"u1","sessionId":"s1","cwd":"/tmp/P1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}`,
		`{"type":"assistant","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":"hi"}}`,
	)

	coll := collector.New(store)
	if _, _, err := coll.CollectByPath(path); err != nil {
		t.Fatalf("initial collect: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"assistant","uuid":"u4","sessionId":"s1","timestamp":"2024-01-01T00:00:02Z","message":{"role":"assistant","content":"more"}}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	result, ids, err := coll.CollectByPath(path)
	if err != nil {
		t.Fatalf("incremental collect: %v", err)
	}
	if result.MessagesInserted != 1 || len(ids) != 1 {
		t.Errorf("expected 1 inserted message, got %d (%d ids)", result.MessagesInserted, len(ids))
	}

	messages, err := store.ListMessages("s1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, m := range messages {
		if m.Sequence != int64(i) {
			t.Errorf("message %d: expected sequence %d, got %d", i, i, m.Sequence)
		}
	}
}

// S3: duplicate input — re-inserting the same UUIDs is a no-op.
func TestScenarioDuplicateInput(t *testing.T) {
	store := newStore(t)
	dir := t.TempDir()
	path := writeTranscript(t, dir, "s1.jsonl", "/tmp/P1",
		`{"type":"user","uuid":"u1","sessionId":"s1","cwd":"/tmp/P1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}`,
		`{"type":"assistant","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":"hi"}}`,
	)

	coll := collector.New(store)
	if _, _, err := coll.CollectByPath(path); err != nil {
		t.Fatalf("initial collect: %v", err)
	}

	statsBefore, err := store.GetStats()
	if err != nil {
		t.Fatal(err)
	}

	result, _, err := coll.CollectByPath(path)
	if err != nil {
		t.Fatalf("repeat collect: %v", err)
	}
	if result.MessagesInserted != 0 {
		t.Errorf("expected 0 inserted on repeat collection, got %d", result.MessagesInserted)
	}

	statsAfter, err := store.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if statsAfter.MessageCount != statsBefore.MessageCount {
		t.Errorf("message count changed on duplicate collection: %d -> %d", statsBefore.MessageCount, statsAfter.MessageCount)
	}
}

// S4: search — a term present in only one message's content is found,
// with a non-empty snippet containing the term.
func TestScenarioSearch(t *testing.T) {
	store := newStore(t)
	dir := t.TempDir()
	path := writeTranscript(t, dir, "s1.jsonl", "/tmp/P1",
		`{"type":"user","uuid":"u1","sessionId":"s1","cwd":"/tmp/P1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"goodbye world"}}`,
		`{"type":"assistant","uuid":"u2","sessionId":"s1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":"hello world"}}`,
	)

	coll := collector.New(store)
	if _, _, err := coll.CollectByPath(path); err != nil {
		t.Fatalf("collect: %v", err)
	}

	results, err := store.SearchFTS("hello", 10, nil, session.OrderScore, nil, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 search result, got %d", len(results))
	}
	if results[0].Snippet == "" {
		t.Error("expected a non-empty snippet")
	}
}

// S5: push notification — a subscriber receives exactly one NewMessage
// push when another client notifies the Agent of a file change.
func TestScenarioPushNotification(t *testing.T) {
	dataDir := t.TempDir()
	cfg := agent.Config{DataDir: dataDir}

	a, err := agent.New(cfg)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	go func() {
		_ = a.Run()
	}()
	t.Cleanup(func() { os.Remove(cfg.SocketPath()) })

	waitForSocket(t, cfg.SocketPath())

	clientA, err := agentclient.Connect(agentclient.Config{
		DataDir:             dataDir,
		Component:           "client-a",
		Version:             "test",
		ConnectRetries:      5,
		RetryInterval:       100 * time.Millisecond,
		AgentBinaryOverride: "/bin/false", // never needed: the agent above is already up
	})
	if err != nil {
		t.Fatalf("client A connect: %v", err)
	}
	defer clientA.Close()

	if err := clientA.Subscribe([]protocol.EventType{protocol.EventNewMessage}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	dir := t.TempDir()
	path := writeTranscript(t, dir, "s1.jsonl", "/tmp/P1",
		`{"type":"user","uuid":"u1","sessionId":"s1","cwd":"/tmp/P1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}`,
	)

	clientB, err := agentclient.Connect(agentclient.Config{
		DataDir:             dataDir,
		Component:           "client-b",
		Version:             "test",
		ConnectRetries:      5,
		RetryInterval:       100 * time.Millisecond,
		AgentBinaryOverride: "/bin/false",
	})
	if err != nil {
		t.Fatalf("client B connect: %v", err)
	}
	defer clientB.Close()

	if err := clientB.NotifyFileChange(path); err != nil {
		t.Fatalf("notify file change: %v", err)
	}

	select {
	case push := <-clientA.Pushes():
		if push.Type != protocol.EventNewMessage || push.SessionID != "s1" {
			t.Errorf("unexpected push: %+v", push)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for push notification")
	}
}

// S6: approval flow — write_approve_result round-trips through the
// Agent and a later call overwrites the earlier status.
func TestScenarioApprovalFlow(t *testing.T) {
	dataDir := t.TempDir()
	cfg := agent.Config{DataDir: dataDir}

	a, err := agent.New(cfg)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	go func() {
		_ = a.Run()
	}()
	t.Cleanup(func() { os.Remove(cfg.SocketPath()) })

	waitForSocket(t, cfg.SocketPath())

	client, err := agentclient.Connect(agentclient.Config{
		DataDir:             dataDir,
		Component:           "client",
		Version:             "test",
		ConnectRetries:      5,
		RetryInterval:       100 * time.Millisecond,
		AgentBinaryOverride: "/bin/false",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	resolvedAt := time.UnixMilli(1700000000000)
	if err := client.WriteApproveResult("tc-1", protocol.ApprovalApproved, resolvedAt); err != nil {
		t.Fatalf("write approve result: %v", err)
	}
	if err := client.WriteApproveResult("tc-1", protocol.ApprovalRejected, resolvedAt); err != nil {
		t.Fatalf("write approve result (overwrite): %v", err)
	}

	storeCfg := storage.DefaultConfig()
	storeCfg.Path = cfg.DBPath()
	store, err := storage.Connect(storeCfg)
	if err != nil {
		t.Fatalf("connect to db: %v", err)
	}
	defer store.Close()

	rec, err := store.GetApproval("tc-1")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.Status != session.ApprovalRejected {
		t.Errorf("expected status Rejected after overwrite, got %v", rec.Status)
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for socket %s", path)
}
