// Package collector reconciles transcripts discovered on disk against the
// storage engine: it is the only thing that turns a parsed transcript
// into rows, and it is what makes repeated scans of the same file
// idempotent.
package collector

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/localsession/sessiond/internal/pathenc"
	"github.com/localsession/sessiond/internal/session"
	"github.com/localsession/sessiond/internal/storage"
	"github.com/localsession/sessiond/internal/transcript"
)

// DefaultSafetyMarginMS is how far back from a session's last known
// checkpoint timestamp the incremental scan still re-reads, to absorb
// clock skew and out-of-order writes near the boundary without
// re-processing the whole file.
const DefaultSafetyMarginMS = 5000

// Result summarizes one collection pass. Only the first error
// encountered is kept; a malformed transcript or an unreadable file
// contributes to ErrorCount but never aborts the scan.
type Result struct {
	ProjectsScanned  int
	SessionsScanned  int
	MessagesInserted int
	ErrorCount       int
	FirstError       string
}

func (r *Result) recordError(err error) {
	r.ErrorCount++
	if r.FirstError == "" {
		r.FirstError = err.Error()
	}
}

// Collector is safe for concurrent use; all store operations it issues
// are already safe under the store's single-writer model.
type Collector struct {
	store          *storage.Store
	adapters       []transcript.Adapter
	safetyMarginMS int64
}

// New builds a Collector over every supported CLI family.
func New(store *storage.Store) *Collector {
	return &Collector{
		store:          store,
		adapters:       transcript.All(),
		safetyMarginMS: DefaultSafetyMarginMS,
	}
}

// CollectAll walks every adapter's roots and scans every session found.
// Running it twice with no filesystem changes inserts zero new messages
// the second time.
func (c *Collector) CollectAll() Result {
	result, _ := c.CollectAllNotify()
	return result
}

// SessionInsert reports the messages a single session contributed to one
// collection pass, for callers (the watcher's safety poll) that need to
// broadcast a push per affected session rather than just an aggregate.
type SessionInsert struct {
	SessionID  string
	Path       string
	MessageIDs []int64
}

// CollectAllNotify behaves like CollectAll but also returns, per session
// that actually gained rows, the ids inserted — the poll loop uses this
// to emit the same NewMessage pushes a single-file collection would.
func (c *Collector) CollectAllNotify() (Result, []SessionInsert) {
	var result Result
	var inserts []SessionInsert
	seenProjects := map[string]bool{}

	for _, adapter := range c.adapters {
		for _, root := range adapter.Roots() {
			if root == "" {
				continue
			}
			metas, err := adapter.ListSessions(root)
			if err != nil {
				result.recordError(fmt.Errorf("listing %s sessions: %w", adapter.Source(), err))
				continue
			}
			for _, meta := range metas {
				inserted, sessionID, projectPath, err := c.collectMeta(adapter, meta)
				if err != nil {
					result.recordError(err)
					continue
				}
				result.SessionsScanned++
				result.MessagesInserted += len(inserted)
				if len(inserted) > 0 {
					inserts = append(inserts, SessionInsert{SessionID: sessionID, Path: meta.Path, MessageIDs: inserted})
				}
				if projectPath != "" && !seenProjects[projectPath] {
					seenProjects[projectPath] = true
					result.ProjectsScanned++
				}
			}
		}
	}
	return result, inserts
}

// CollectByPath parses and ingests a single transcript file, identified
// by its extension against the adapter registry. It is what the file
// watcher and the NotifyFileChange/HookEvent protocol handlers call on a
// single changed path.
func (c *Collector) CollectByPath(path string) (Result, []int64, error) {
	var result Result
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	candidates := transcript.ByExtension(c.adapters, ext)
	if len(candidates) == 0 {
		return result, nil, fmt.Errorf("no adapter recognizes extension %q", ext)
	}

	// Adapters with a root containing this path are tried first, then the
	// rest in registry order; the first one that collects the file without
	// error is used, even if it finds no new messages.
	var owners, others []transcript.Adapter
	for _, adapter := range candidates {
		owned := false
		for _, root := range adapter.Roots() {
			rel, err := filepath.Rel(root, path)
			if root != "" && err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				owned = true
			}
		}
		if owned {
			owners = append(owners, adapter)
		} else {
			others = append(others, adapter)
		}
	}
	for _, adapter := range append(owners, others...) {
		meta := transcript.SessionMeta{Path: path}
		inserted, _, _, err := c.collectMeta(adapter, meta)
		if err != nil {
			result.recordError(err)
			continue
		}
		result.SessionsScanned++
		result.MessagesInserted += len(inserted)
		return result, inserted, nil
	}
	return result, nil, fmt.Errorf("collecting %s: %s", path, result.FirstError)
}

// collectMeta is the scan_session_incremental algorithm: parse, resolve
// the project, compute the sequence/time cutoff from the checkpoint,
// filter and renumber, upsert the session row, insert, then advance the
// checkpoint.
func (c *Collector) collectMeta(adapter transcript.Adapter, meta transcript.SessionMeta) ([]int64, string, string, error) {
	parsed, err := adapter.ParseSession(meta)
	if err != nil {
		return nil, "", "", fmt.Errorf("parsing %s: %w", meta.Path, err)
	}
	if parsed.ProjectPath == "" {
		parsed.ProjectPath = "unknown"
	}
	if parsed.SessionID == "" {
		return nil, "", "", fmt.Errorf("parsing %s: no session id found", meta.Path)
	}

	projectID, err := c.store.UpsertProject(parsed.ProjectPath, adapter.Source())
	if err != nil {
		return nil, "", "", fmt.Errorf("upserting project for %s: %w", meta.Path, err)
	}

	checkpoint, err := c.store.GetScanCheckpoint(parsed.SessionID)
	if err != nil {
		return nil, "", "", fmt.Errorf("reading checkpoint for %s: %w", parsed.SessionID, err)
	}

	cutoff := checkpoint.LastTimestamp.Add(-time.Duration(c.safetyMarginMS) * time.Millisecond)

	var candidates []session.Message
	for _, m := range parsed.Messages {
		if checkpoint.MaxSequence >= 0 && !m.Timestamp.After(cutoff) {
			continue
		}
		m.SessionID = parsed.SessionID
		if m.UUID == "" {
			m.UUID = fmt.Sprintf("%s-%d", parsed.SessionID, m.Sequence)
		}
		candidates = append(candidates, m)
	}

	// The safety margin deliberately re-reads messages already stored near
	// the checkpoint boundary, to tolerate clock skew and out-of-order
	// writes. Drop those here, before sequence numbers are assigned, so a
	// duplicate skipped by InsertMessages' ON CONFLICT never consumes a
	// sequence slot that a genuinely new message would otherwise need —
	// messages.sequence must stay a gapless [0..N-1] run per session.
	uuids := make([]string, len(candidates))
	for i, m := range candidates {
		uuids[i] = m.UUID
	}
	existing, err := c.store.ExistingMessageUUIDs(parsed.SessionID, uuids)
	if err != nil {
		return nil, "", "", fmt.Errorf("checking existing messages for %s: %w", parsed.SessionID, err)
	}

	nextSeq := checkpoint.MaxSequence + 1
	var toInsert []session.Message
	var maxTimestamp time.Time
	for _, m := range candidates {
		if existing[m.UUID] {
			continue
		}
		m.Sequence = nextSeq
		nextSeq++
		if m.Timestamp.After(maxTimestamp) {
			maxTimestamp = m.Timestamp
		}
		toInsert = append(toInsert, m)
	}

	var inserted []int64
	if len(toInsert) > 0 {
		inserted, err = c.store.InsertMessages(toInsert)
		if err != nil {
			return nil, "", "", fmt.Errorf("inserting messages for %s: %w", parsed.SessionID, err)
		}
	}

	var lastMessageAt *time.Time
	if !maxTimestamp.IsZero() {
		lastMessageAt = &maxTimestamp
	} else if !checkpoint.LastTimestamp.IsZero() {
		lastMessageAt = &checkpoint.LastTimestamp
	}

	var fileMtime *time.Time
	if meta.ModTime > 0 {
		t := time.UnixMilli(meta.ModTime)
		fileMtime = &t
	}

	sess := session.Session{
		SessionID:      parsed.SessionID,
		ProjectID:      projectID,
		MessageCount:   len(parsed.Messages),
		LastMessageAt:  lastMessageAt,
		CWD:            parsed.CWD,
		Model:          parsed.Model,
		Channel:        parsed.Channel,
		FileMtime:      fileMtime,
		FileSize:       meta.Size,
		EncodedDirName: parsed.EncodedDirName,
	}
	if sess.EncodedDirName == "" {
		sess.EncodedDirName = pathenc.Encode(parsed.ProjectPath)
	}
	if err := c.store.UpsertSession(sess); err != nil {
		return nil, "", "", fmt.Errorf("upserting session %s: %w", parsed.SessionID, err)
	}

	var inserted []int64
	if len(toInsert) > 0 {
		inserted, err = c.store.InsertMessages(toInsert)
		if err != nil {
			return nil, "", "", fmt.Errorf("inserting messages for %s: %w", parsed.SessionID, err)
		}
	}

	if len(toInsert) > 0 {
		newMaxSeq := nextSeq - 1
		ts := maxTimestamp
		if ts.IsZero() {
			ts = checkpoint.LastTimestamp
		}
		if err := c.store.UpdateScanCheckpoint(parsed.SessionID, newMaxSeq, ts); err != nil {
			return nil, "", "", fmt.Errorf("updating checkpoint for %s: %w", parsed.SessionID, err)
		}
	}

	return inserted, parsed.SessionID, parsed.ProjectPath, nil
}
