// Package session holds the data types shared by the storage engine,
// collector and protocol packages: projects, sessions, messages and the
// read-side views built on top of them.
package session

import "time"

// Role is the speaker of a Message. Encoded as a small int on the wire and
// in the C ABI rather than a string to keep both stable across renames.
type Role int

const (
	RoleHuman Role = iota
	RoleAssistant
)

func (r Role) String() string {
	if r == RoleAssistant {
		return "assistant"
	}
	return "human"
}

// ParseRole accepts both the canonical strings and a handful of source
// formats ("user" from Claude Code JSONL) so collectors don't each need
// their own mapping table.
func ParseRole(s string) Role {
	switch s {
	case "assistant", "model":
		return RoleAssistant
	default:
		return RoleHuman
	}
}

// Project is a single filesystem directory a collector has seen sessions
// under. (path, source) is unique: the same directory can appear once per
// originating CLI family.
type Project struct {
	ID        int64
	Path      string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one conversation transcript. CWD/Model/Channel/FileMtime/
// FileSize/EncodedDirName/Meta are supplemental fields carried from the
// richer prior schema (see SPEC_FULL.md §3); none of them participate in
// spec-mandated invariants.
type Session struct {
	ID             int64
	SessionID      string
	ProjectID      int64
	MessageCount   int
	LastMessageAt  *time.Time
	CWD            string
	Model          string
	Channel        string
	FileMtime      *time.Time
	FileSize       int64
	EncodedDirName string
	Meta           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionDetail is a denormalized read view joining a session to its
// project path and first message timestamp, for listing without a
// second round trip.
type SessionDetail struct {
	Session
	ProjectPath    string
	FirstMessageAt *time.Time
}

// Message is one turn of a Session. Sequence is contiguous starting at 0
// within a session and is rewritten by the collector on every incremental
// scan so gaps never appear regardless of what upstream filtering drops.
type Message struct {
	ID          int64
	SessionID   string
	UUID        string
	Role        Role
	ContentText string
	ContentFull string
	Timestamp   time.Time
	Sequence    int64
	Source      string
	Channel     string
	Model       string
	ToolCallID  string
	ToolName    string
	ToolArgs    string
	Raw         string
}

// ApprovalStatus mirrors the C ABI enum in spec.md §6.
type ApprovalStatus int

const (
	ApprovalPending ApprovalStatus = iota
	ApprovalApproved
	ApprovalRejected
	ApprovalTimeout
)

// ApprovalRecord is a side table keyed by tool_call_id, written
// independently of any message row (a HookEvent can report a resolution
// before or after the corresponding message is collected).
type ApprovalRecord struct {
	ToolCallID string
	Status     ApprovalStatus
	ResolvedAt *time.Time
}

// ScanCheckpoint is the per-session incremental-scan bookkeeping row:
// the highest sequence number assigned so far and the cutoff timestamp
// used to skip the already-ingested prefix of the transcript.
type ScanCheckpoint struct {
	SessionID     string
	MaxSequence   int64
	LastTimestamp time.Time
}

// SearchOrder selects how search_fts ranks its results.
type SearchOrder int

const (
	OrderScore SearchOrder = iota
	OrderTimeDesc
	OrderTimeAsc
)

// SearchResult is one FTS hit, joined back to its project for display.
type SearchResult struct {
	MessageID   int64
	SessionID   string
	ProjectID   int64
	ProjectName string
	Role        Role
	ContentFull string
	Snippet     string
	Score       float64
	Timestamp   time.Time
}

// Stats is the aggregate row count summary returned by get_stats.
type Stats struct {
	ProjectCount      int64
	SessionCount      int64
	MessageCount      int64
	DatabaseSizeBytes int64
}

// IndexableSession is what a transcript parser produces: a session's
// metadata plus the messages found in it, ready for the collector to
// reconcile against the checkpoint and insert. A session that fails to
// parse cleanly still yields whatever messages could be recovered —
// parse_jsonl never fails the whole session over one bad line.
type IndexableSession struct {
	SessionID      string
	ProjectPath    string
	Source         string
	CWD            string
	Model          string
	Channel        string
	EncodedDirName string
	Messages       []Message
	SkippedLines   int
}
