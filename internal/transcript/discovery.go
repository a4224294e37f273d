package transcript

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/localsession/sessiond/internal/pathenc"
)

// ProjectInfo describes one encoded project directory found directly
// under a transcript root, before any transcript inside it has been
// parsed or upserted into storage.
type ProjectInfo struct {
	EncodedDirName string
	Path           string
	ModTime        time.Time
}

// ListProjects returns the encoded project directories immediately
// under root, most recently modified first, capped at limit entries
// (limit <= 0 means no cap). A missing root yields an empty slice, not
// an error — not every client family is installed on every machine.
func ListProjects(root string, limit int) ([]ProjectInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []ProjectInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ProjectInfo{
			EncodedDirName: e.Name(),
			Path:           pathenc.Decode(e.Name()),
			ModTime:        info.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ModTime.After(infos[j].ModTime) })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

// FindLatestSession returns the most recently modified session
// transcript under root/project, or nil if the directory has none, or
// the newest one was last modified more than withinSeconds ago
// (withinSeconds <= 0 disables the recency check). Agent sessions
// (ids beginning with "agent-") are excluded, matching parse_jsonl's
// default listing behavior.
func FindLatestSession(root, project string, withinSeconds int64) (*SessionMeta, error) {
	dir := filepath.Join(root, project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var latest *SessionMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		if strings.HasPrefix(id, "agent-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == nil || info.ModTime().UnixMilli() > latest.ModTime {
			latest = &SessionMeta{
				Path:           filepath.Join(dir, e.Name()),
				EncodedDirName: project,
				ModTime:        info.ModTime().UnixMilli(),
				Size:           info.Size(),
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	if withinSeconds > 0 {
		age := time.Since(time.UnixMilli(latest.ModTime))
		if age > time.Duration(withinSeconds)*time.Second {
			return nil, nil
		}
	}
	return latest, nil
}

// ComputeSessionPath builds the on-disk transcript path for a session,
// given its root, encoded project directory name and session id,
// matching the root/<encoded>/<id>.jsonl layout Claude Code and this
// package's own nested-adapter convention both use.
func ComputeSessionPath(root, encoded, id string) string {
	return filepath.Join(root, encoded, id+".jsonl")
}
