package agent

import (
	"encoding/json"
	"log"
	"time"

	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/session"
	"github.com/localsession/sessiond/internal/storage"
)

// Version is the Agent's own version string, reported on Handshake and
// surfed through Query{status}. It is a plain constant rather than a
// build-stamped value since this module has no release pipeline of its
// own yet.
const Version = "0.1.0"

// Handler dispatches decoded requests against the store, the
// broadcaster, and the file watcher.
type Handler struct {
	store       *storage.Store
	broadcaster *Broadcaster
	watcher     *Watcher
}

// NewHandler builds a Handler over the given collaborators.
func NewHandler(store *storage.Store, broadcaster *Broadcaster, watcher *Watcher) *Handler {
	return &Handler{store: store, broadcaster: broadcaster, watcher: watcher}
}

// Handle processes one request from the given connection and returns
// the response to send back.
func (h *Handler) Handle(connID ConnID, req protocol.Request) protocol.Response {
	switch req.Type {
	case protocol.RequestHandshake:
		log.Printf("agent: handshake conn=%d component=%s version=%s", connID, req.Component, req.Version)
		return protocol.Response{OK: true, AgentVersion: Version}

	case protocol.RequestNotifyFileChange:
		return h.handleFileChange(req.Path)

	case protocol.RequestSubscribe:
		h.broadcaster.Subscribe(connID, req.Events)
		return protocol.OK()

	case protocol.RequestUnsubscribe:
		h.broadcaster.Unsubscribe(connID, req.Events)
		return protocol.OK()

	case protocol.RequestWriteApproveResult:
		return h.handleWriteApproveResult(req)

	case protocol.RequestPing:
		return protocol.OK()

	case protocol.RequestQuery:
		return h.handleQuery(req.QueryType)

	case protocol.RequestHookEvent:
		return h.handleHookEvent(req.HookEvent)

	default:
		return protocol.Err(protocol.ErrInvalidRequest, "unrecognized request type: "+req.Type)
	}
}

func (h *Handler) handleFileChange(path string) protocol.Response {
	if path == "" {
		return protocol.Err(protocol.ErrInvalidRequest, "path is required")
	}
	if err := h.watcher.TriggerCollect(path); err != nil {
		log.Printf("agent: file change collection failed for %s: %v", path, err)
		return protocol.Err(protocol.ErrInternal, "collection failed: "+err.Error())
	}
	return protocol.OK()
}

func approvalStatusFromWire(s protocol.ApprovalStatus) session.ApprovalStatus {
	switch s {
	case protocol.ApprovalApproved:
		return session.ApprovalApproved
	case protocol.ApprovalRejected:
		return session.ApprovalRejected
	case protocol.ApprovalTimeout:
		return session.ApprovalTimeout
	default:
		return session.ApprovalPending
	}
}

func (h *Handler) handleWriteApproveResult(req protocol.Request) protocol.Response {
	if req.ToolCallID == "" {
		return protocol.Err(protocol.ErrInvalidRequest, "tool_call_id is required")
	}
	rec := session.ApprovalRecord{
		ToolCallID: req.ToolCallID,
		Status:     approvalStatusFromWire(req.Status),
	}
	if req.ResolvedAt > 0 {
		t := time.UnixMilli(req.ResolvedAt)
		rec.ResolvedAt = &t
	}
	if err := h.store.UpsertApproval(rec); err != nil {
		log.Printf("agent: failed to write approval result for %s: %v", req.ToolCallID, err)
		return protocol.Err(protocol.ErrDatabaseError, "failed to update approval status: "+err.Error())
	}
	return protocol.OK()
}

func (h *Handler) handleQuery(queryType protocol.QueryType) protocol.Response {
	switch queryType {
	case protocol.QueryStatus:
		data, _ := json.Marshal(map[string]any{
			"agent_version": Version,
			"connections":   h.broadcaster.ConnectionCount(),
		})
		return protocol.Response{OK: true, Data: data}
	case protocol.QueryConnectionCount:
		data, _ := json.Marshal(map[string]any{"count": h.broadcaster.ConnectionCount()})
		return protocol.Response{OK: true, Data: data}
	default:
		return protocol.Err(protocol.ErrInvalidRequest, "unrecognized query type")
	}
}

func (h *Handler) handleHookEvent(event protocol.HookEvent) protocol.Response {
	log.Printf("agent: hook event type=%s session=%s", event.EventType, event.SessionID)

	if event.TranscriptPath != "" {
		if err := h.watcher.TriggerCollect(event.TranscriptPath); err != nil {
			// A failed immediate collection never fails the hook request —
			// the periodic poll and the next file-write event will retry it.
			log.Printf("agent: hook event collection failed: %v", err)
		}
	}

	h.broadcaster.Broadcast(protocol.Push{
		Type:      protocol.EventHookEvent,
		HookEvent: &event,
	})

	return protocol.OK()
}
