package transcript

import "github.com/localsession/sessiond/internal/session"

// OpenCodeAdapter parses OpenCode's flat ~/.local/share/opencode/
// sessions/*.jsonl transcripts, one file per session.
type OpenCodeAdapter struct{}

func NewOpenCodeAdapter() *OpenCodeAdapter { return &OpenCodeAdapter{} }

func (a *OpenCodeAdapter) Source() string       { return "opencode" }
func (a *OpenCodeAdapter) Extensions() []string { return []string{"jsonl"} }

func (a *OpenCodeAdapter) Roots() []string {
	root := expandRoot(".local", "share", "opencode", "sessions")
	if root == "" {
		return nil
	}
	return []string{root}
}

func (a *OpenCodeAdapter) ListSessions(root string) ([]SessionMeta, error) {
	return listFlatSessions(root, "jsonl")
}

func (a *OpenCodeAdapter) ParseSession(meta SessionMeta) (*session.IndexableSession, error) {
	return parseGenericSession(meta.Path, a.Source())
}
