package transcript

import "github.com/localsession/sessiond/internal/session"

// CodexAdapter parses OpenAI Codex CLI's flat ~/.codex/sessions/*.jsonl
// transcripts, one file per session.
type CodexAdapter struct{}

func NewCodexAdapter() *CodexAdapter { return &CodexAdapter{} }

func (a *CodexAdapter) Source() string       { return "codex" }
func (a *CodexAdapter) Extensions() []string { return []string{"jsonl"} }

func (a *CodexAdapter) Roots() []string {
	root := expandRoot(".codex", "sessions")
	if root == "" {
		return nil
	}
	return []string{root}
}

func (a *CodexAdapter) ListSessions(root string) ([]SessionMeta, error) {
	return listFlatSessions(root, "jsonl")
}

func (a *CodexAdapter) ParseSession(meta SessionMeta) (*session.IndexableSession, error) {
	return parseGenericSession(meta.Path, a.Source())
}
