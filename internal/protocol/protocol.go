// Package protocol defines the Unix-socket JSONL wire format spoken
// between the Agent and its clients: one JSON object per line, a `type`
// discriminator field selecting the concrete Request/Push variant.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType names the kinds of push events a client can subscribe to.
type EventType int

const (
	EventNewMessage EventType = iota
	EventSessionStart
	EventSessionEnd
	EventHookEvent
)

func (e EventType) String() string {
	switch e {
	case EventNewMessage:
		return "NewMessage"
	case EventSessionStart:
		return "SessionStart"
	case EventSessionEnd:
		return "SessionEnd"
	case EventHookEvent:
		return "HookEvent"
	default:
		return "Unknown"
	}
}

// ApprovalStatus mirrors session.ApprovalStatus on the wire; kept as a
// distinct type here so the protocol package has no dependency on the
// storage-facing session package.
type ApprovalStatus int

const (
	ApprovalPending ApprovalStatus = iota
	ApprovalApproved
	ApprovalRejected
	ApprovalTimeout
)

// HookEvent is the payload an editor/CLI integration's lifecycle hook
// sends in. Optional fields are omitted from the JSON entirely when
// unset, and unrecognized fields in an incoming frame are ignored rather
// than rejected, so older/newer clients stay wire-compatible.
type HookEvent struct {
	EventType        string          `json:"event_type"`
	SessionID        string          `json:"session_id"`
	TranscriptPath   string          `json:"transcript_path,omitempty"`
	CWD              string          `json:"cwd,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
	ToolName         string          `json:"tool_name,omitempty"`
	NotificationType string          `json:"notification_type,omitempty"`
	Message          string          `json:"message,omitempty"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID        string          `json:"tool_use_id,omitempty"`
	// Context is an opaque value the Agent forwards unparsed to
	// subscribers; it never inspects or validates its shape.
	Context json.RawMessage `json:"context,omitempty"`
}

// Clone returns a deep-enough copy for safe concurrent broadcast (the
// RawMessage fields are never mutated in place, so a shallow copy of
// those slices is sufficient).
func (h HookEvent) Clone() HookEvent {
	return h
}

const (
	HookEventSessionStart      = "SessionStart"
	HookEventSessionEnd        = "SessionEnd"
	HookEventUserPromptSubmit  = "UserPromptSubmit"
	HookEventStop              = "Stop"
	HookEventNotification      = "Notification"
	HookEventPermissionRequest = "PermissionRequest"
)

// QueryType selects what a diagnostic Query request asks for.
type QueryType string

const (
	QueryStatus          QueryType = "status"
	QueryConnectionCount QueryType = "connection_count"
)

// Request is any frame a client may send to the Agent. Exactly one of
// the typed payload fields is populated, selected by Type.
type Request struct {
	Type string `json:"type"`

	// Handshake
	Component string `json:"component,omitempty"`
	Version   string `json:"version,omitempty"`

	// NotifyFileChange
	Path string `json:"path,omitempty"`

	// Subscribe / Unsubscribe
	Events []EventType `json:"events,omitempty"`

	// WriteApproveResult
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Status     ApprovalStatus `json:"status,omitempty"`
	ResolvedAt int64          `json:"resolved_at,omitempty"`

	// Query
	QueryType QueryType `json:"query_type,omitempty"`

	// HookEvent — embedded anonymously so its fields serialize flat
	// alongside "type":"HookEvent", matching the wire format the
	// editor-side hook scripts actually emit (no nested object).
	HookEvent
}

const (
	RequestHandshake          = "Handshake"
	RequestNotifyFileChange   = "NotifyFileChange"
	RequestSubscribe          = "Subscribe"
	RequestUnsubscribe        = "Unsubscribe"
	RequestWriteApproveResult = "WriteApproveResult"
	RequestQuery              = "Query"
	RequestHookEvent          = "HookEvent"
	RequestPing               = "Ping"
)

// ErrorKind is the Agent's own error taxonomy, independent of Go's error
// values, used in Response.Kind so a client can branch on failure class
// without parsing message strings.
type ErrorKind string

const (
	ErrInvalidRequest ErrorKind = "InvalidRequest"
	ErrDatabaseError  ErrorKind = "DatabaseError"
	ErrNotFound       ErrorKind = "NotFound"
	ErrInternal       ErrorKind = "Internal"
)

// Response is the Agent's reply to a Request.
type Response struct {
	OK bool `json:"ok"`

	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`

	AgentVersion string          `json:"agent_version,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// OK builds a bare success response.
func OK() Response { return Response{OK: true} }

// Err builds a failure response carrying an error kind and message.
func Err(kind ErrorKind, message string) Response {
	return Response{OK: false, Kind: kind, Message: message}
}

// Push is one event frame broadcast from the Agent to subscribed
// clients, independent of any particular Request/Response exchange.
type Push struct {
	Type EventType `json:"type"`

	// NewMessage
	SessionID     string  `json:"session_id,omitempty"`
	Path          string  `json:"path,omitempty"`
	Count         int     `json:"count,omitempty"`
	MessageIDs    []int64 `json:"message_ids,omitempty"`

	// SessionStart / SessionEnd
	ProjectPath string `json:"project_path,omitempty"`

	// HookEvent
	HookEvent *HookEvent `json:"hook_event,omitempty"`
}

// DecodeRequest parses one JSONL line into a Request. It returns an error
// for anything that isn't a well-formed JSON object with a non-empty
// "type" field — callers (the Agent's connection loop) are expected to
// drop the connection on error rather than continue reading, per this
// protocol's malformed-frame contract. Whether the type is one the Agent
// recognizes is not checked here; the handler answers an unknown type
// with an InvalidRequest response.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("malformed frame: %w", err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("malformed frame: missing type")
	}
	return req, nil
}

// Encode serializes any of Request/Response/Push as one JSONL line,
// including the trailing newline.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
