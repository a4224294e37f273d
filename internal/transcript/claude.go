package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/localsession/sessiond/internal/pathenc"
	"github.com/localsession/sessiond/internal/session"
)

// ClaudeAdapter parses Claude Code's ~/.claude/projects/<encoded-dir>/
// <session-uuid>.jsonl transcripts.
type ClaudeAdapter struct{}

func NewClaudeAdapter() *ClaudeAdapter { return &ClaudeAdapter{} }

func (a *ClaudeAdapter) Source() string       { return "claude" }
func (a *ClaudeAdapter) Extensions() []string { return []string{"jsonl"} }

func (a *ClaudeAdapter) Roots() []string {
	root := expandRoot(".claude", "projects")
	if root == "" {
		return nil
	}
	return []string{root}
}

func (a *ClaudeAdapter) ListSessions(root string) ([]SessionMeta, error) {
	if !fileExists(root) {
		return nil, nil
	}
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var metas []SessionMeta
	for _, project := range projectDirs {
		if !project.IsDir() {
			continue
		}
		projectPath := filepath.Join(root, project.Name())
		files, err := os.ReadDir(projectPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			metas = append(metas, SessionMeta{
				Path:           filepath.Join(projectPath, f.Name()),
				EncodedDirName: project.Name(),
				ModTime:        info.ModTime().UnixMilli(),
				Size:           info.Size(),
			})
		}
	}
	return metas, nil
}

// claudeLine is the envelope every line of a Claude Code transcript
// shares; Message's shape depends on Type.
type claudeLine struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	CWD       string          `json:"cwd"`
	Version   string          `json:"version"`
	Message   json.RawMessage `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Model   string          `json:"model"`
}

type claudeContentItem struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string           `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (a *ClaudeAdapter) ParseSession(meta SessionMeta) (*session.IndexableSession, error) {
	f, err := os.Open(meta.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := &session.IndexableSession{
		Source:         a.Source(),
		EncodedDirName: meta.EncodedDirName,
		ProjectPath:    pathenc.Decode(meta.EncodedDirName),
	}

	sessionID := strings.TrimSuffix(filepath.Base(meta.Path), ".jsonl")
	seq := int64(0)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env claudeLine
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			out.SkippedLines++
			continue
		}
		if env.SessionID != "" {
			sessionID = env.SessionID
		}
		if env.CWD != "" {
			out.CWD = env.CWD
			out.ProjectPath = env.CWD
		}

		msg, ok := parseClaudeMessage(env, seq, line)
		if !ok {
			continue
		}
		if msg.Model != "" {
			out.Model = msg.Model
		}
		msg.Sequence = seq
		out.Messages = append(out.Messages, msg)
		seq++
	}
	if err := scanner.Err(); err != nil {
		out.SkippedLines++
	}

	out.SessionID = sessionID
	return out, nil
}

func parseClaudeMessage(env claudeLine, seq int64, raw string) (session.Message, bool) {
	var cm claudeMessage
	if len(env.Message) == 0 || json.Unmarshal(env.Message, &cm) != nil {
		return session.Message{}, false
	}

	ts := time.Now()
	if env.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
			ts = parsed
		}
	}

	var text string
	switch env.Type {
	case "user":
		text = extractClaudeText(cm.Content)
		if text == "" {
			return session.Message{}, false
		}
	case "assistant":
		text = extractClaudeAssistantText(cm.Content)
		if text == "" {
			return session.Message{}, false
		}
	default:
		return session.Message{}, false
	}

	return session.Message{
		UUID:        env.UUID,
		Role:        session.ParseRole(env.Type),
		ContentText: text,
		ContentFull: text,
		Timestamp:   ts,
		Sequence:    seq,
		Source:      "claude",
		Model:       cm.Model,
		Raw:         raw,
	}, true
}

func extractClaudeText(content json.RawMessage) string {
	var asString string
	if json.Unmarshal(content, &asString) == nil {
		return asString
	}
	var items []claudeContentItem
	if json.Unmarshal(content, &items) == nil {
		var parts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func extractClaudeAssistantText(content json.RawMessage) string {
	var asString string
	if json.Unmarshal(content, &asString) == nil {
		return asString
	}
	var items []claudeContentItem
	if json.Unmarshal(content, &items) != nil {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch item.Type {
		case "text":
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		case "tool_use":
			parts = append(parts, "[Used tool: "+item.Name+"]")
		}
	}
	return strings.Join(parts, "\n")
}
