package agentclient

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindAgentBinaryPrefersOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "custom-agent")
	if err := os.WriteFile(override, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig("test")
	cfg.DataDir = dir
	cfg.AgentBinaryOverride = override

	got, err := cfg.findAgentBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != override {
		t.Errorf("expected override path %q, got %q", override, got)
	}
}

func TestFindAgentBinaryFallsBackToEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env-agent")
	if err := os.WriteFile(envPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SESSIOND_AGENT_PATH", envPath)

	cfg := DefaultConfig("test")
	cfg.DataDir = t.TempDir()

	got, err := cfg.findAgentBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != envPath {
		t.Errorf("expected env path %q, got %q", envPath, got)
	}
}

func TestFindAgentBinaryErrorsWhenNothingFound(t *testing.T) {
	t.Setenv("SESSIOND_AGENT_PATH", "")
	cfg := DefaultConfig("test")
	cfg.DataDir = t.TempDir()

	if _, err := cfg.findAgentBinary(); err == nil {
		t.Error("expected an error when no binary can be found")
	}
}

func TestIsAgentStuckFalseWithoutPIDFile(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.DataDir = t.TempDir()

	if isAgentStuck(cfg) {
		t.Error("expected false when no pid file exists")
	}
}
