// Package transcript discovers and parses the on-disk session transcripts
// written by the supported AI CLI clients (Claude Code, Codex, OpenCode).
// Each client family gets its own Adapter; the collector only depends on
// this interface, never on a concrete client's file format.
package transcript

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/localsession/sessiond/internal/session"
)

// SessionMeta describes one transcript file found on disk, before it has
// been parsed.
type SessionMeta struct {
	Path           string
	EncodedDirName string
	ModTime        int64 // unix millis
	Size           int64
}

// Adapter knows how to find and parse one CLI family's transcripts.
type Adapter interface {
	// Source is the stable identifier stored on Project/Session/Message
	// rows ("claude", "codex", "opencode").
	Source() string
	// Roots returns the directories this adapter watches and scans,
	// expanded from $HOME. A root that doesn't exist is skipped silently
	// — not every client is installed on every machine.
	Roots() []string
	// Extensions lists the file extensions (without the leading dot)
	// this adapter's transcripts use; the watcher uses this to ignore
	// unrelated file-system events under a watched root.
	Extensions() []string
	// ListSessions walks one root directory and returns the transcripts
	// found under it. It never returns an error for an individual
	// unreadable file; it skips it.
	ListSessions(root string) ([]SessionMeta, error)
	// ParseSession reads one transcript file in full and returns every
	// message found in it. A malformed line contributes to SkippedLines
	// but never aborts the parse — see spec.md's parse_jsonl contract.
	ParseSession(meta SessionMeta) (*session.IndexableSession, error)
}

// All returns one adapter per supported CLI family, in the order the
// collector processes them.
func All() []Adapter {
	return []Adapter{
		NewClaudeAdapter(),
		NewCodexAdapter(),
		NewOpenCodeAdapter(),
	}
}

// ByExtension returns the adapters whose Extensions() include ext
// (without the leading dot), used by the file watcher to route a
// changed path to the adapter(s) that can parse it.
func ByExtension(adapters []Adapter, ext string) []Adapter {
	ext = strings.TrimPrefix(ext, ".")
	var matched []Adapter
	for _, a := range adapters {
		for _, e := range a.Extensions() {
			if e == ext {
				matched = append(matched, a)
				break
			}
		}
	}
	return matched
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func expandRoot(segments ...string) string {
	home := homeDir()
	if home == "" {
		return ""
	}
	parts := append([]string{home}, segments...)
	return filepath.Join(parts...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
