package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/localsession/sessiond/internal/session"
)

// syntheticUUIDNamespace scopes the deterministic UUIDs generated below
// for Codex/OpenCode lines that carry no id of their own, so re-parsing
// the same file always derives the same UUID for the same line and the
// storage layer's (session_id, uuid) dedup still applies.
var syntheticUUIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// genericLine is the flatter single-line-per-turn shape used by Codex and
// OpenCode transcripts: one JSON object per turn, no nested content-item
// arrays.
type genericLine struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	CWD       string `json:"cwd"`
	Model     string `json:"model"`
	ID        string `json:"id"`
}

// listFlatSessions walks root non-recursively, treating every file
// matching ext directly under root as one session transcript (Codex and
// OpenCode don't nest transcripts under a per-project directory the way
// Claude Code does; the project path is recovered from each line's cwd
// field instead).
func listFlatSessions(root, ext string) ([]SessionMeta, error) {
	if !fileExists(root) {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var metas []SessionMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "."+ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		metas = append(metas, SessionMeta{
			Path:    filepath.Join(root, e.Name()),
			ModTime: info.ModTime().UnixMilli(),
			Size:    info.Size(),
		})
	}
	return metas, nil
}

// parseGenericSession parses a flat JSONL session file, used by both the
// Codex and OpenCode adapters. A line that doesn't parse as JSON or has
// no content is skipped, not fatal.
func parseGenericSession(path, source string) (*session.IndexableSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := &session.IndexableSession{
		Source:    source,
		SessionID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	seq := int64(0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var gl genericLine
		if err := json.Unmarshal([]byte(line), &gl); err != nil || gl.Content == "" {
			out.SkippedLines++
			continue
		}
		if gl.CWD != "" {
			out.ProjectPath = gl.CWD
			out.CWD = gl.CWD
		}
		if gl.Model != "" {
			out.Model = gl.Model
		}
		ts := time.Now()
		if gl.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, gl.Timestamp); err == nil {
				ts = parsed
			}
		}

		msgUUID := gl.ID
		if msgUUID == "" {
			msgUUID = uuid.NewSHA1(syntheticUUIDNamespace, []byte(fmt.Sprintf("%s:%s:%d", source, out.SessionID, seq))).String()
		}

		out.Messages = append(out.Messages, session.Message{
			UUID:        msgUUID,
			Role:        session.ParseRole(gl.Role),
			ContentText: gl.Content,
			ContentFull: gl.Content,
			Timestamp:   ts,
			Sequence:    seq,
			Source:      source,
			Model:       gl.Model,
			Raw:         line,
		})
		seq++
	}
	if err := scanner.Err(); err != nil {
		out.SkippedLines++
	}
	if out.ProjectPath == "" {
		out.ProjectPath = "unknown"
	}
	return out, nil
}
