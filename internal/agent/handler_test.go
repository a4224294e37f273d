package agent

import (
	"path/filepath"
	"testing"

	"github.com/localsession/sessiond/internal/collector"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *Broadcaster) {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	broadcaster := NewBroadcaster()
	coll := collector.New(store)
	watcher, err := NewWatcher(coll, broadcaster)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	return NewHandler(store, broadcaster, watcher), broadcaster
}

func TestHandlerHandshakeReturnsAgentVersion(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(1, protocol.Request{Type: protocol.RequestHandshake, Component: "test", Version: "1.0"})
	if !resp.OK {
		t.Fatalf("expected ok response, got %+v", resp)
	}
	if resp.AgentVersion != Version {
		t.Errorf("expected agent version %q, got %q", Version, resp.AgentVersion)
	}
}

func TestHandlerSubscribeUnsubscribe(t *testing.T) {
	h, b := newTestHandler(t)
	connID, outbox := b.Register(&nopCloser{})

	resp := h.Handle(connID, protocol.Request{
		Type:   protocol.RequestSubscribe,
		Events: []protocol.EventType{protocol.EventNewMessage},
	})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}

	b.Broadcast(protocol.Push{Type: protocol.EventNewMessage, SessionID: "s1"})
	mustRecv(t, outbox)

	resp = h.Handle(connID, protocol.Request{
		Type:   protocol.RequestUnsubscribe,
		Events: []protocol.EventType{protocol.EventNewMessage},
	})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}

	b.Broadcast(protocol.Push{Type: protocol.EventNewMessage, SessionID: "s2"})
	mustNotRecv(t, outbox)
}

func TestHandlerWriteApproveResultRoundTrips(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := h.Handle(1, protocol.Request{
		Type:       protocol.RequestWriteApproveResult,
		ToolCallID: "call-1",
		Status:     protocol.ApprovalApproved,
		ResolvedAt: 1700000000000,
	})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}

	rec, err := h.store.GetApproval("call-1")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestHandlerQueryStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(1, protocol.Request{Type: protocol.RequestQuery, QueryType: protocol.QueryStatus})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if len(resp.Data) == 0 {
		t.Error("expected status data to be populated")
	}
}

func TestHandlerUnrecognizedRequestType(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(1, protocol.Request{Type: "Bogus"})
	if resp.OK {
		t.Error("expected error response for unrecognized type")
	}
	if resp.Kind != protocol.ErrInvalidRequest {
		t.Errorf("expected ErrInvalidRequest, got %q", resp.Kind)
	}
}

func TestHandlerHookEventBroadcasts(t *testing.T) {
	h, b := newTestHandler(t)
	connID, outbox := b.Register(&nopCloser{})
	b.Subscribe(connID, []protocol.EventType{protocol.EventHookEvent})

	resp := h.Handle(2, protocol.Request{
		Type: protocol.RequestHookEvent,
		HookEvent: protocol.HookEvent{
			EventType: protocol.HookEventSessionStart,
			SessionID: "s1",
		},
	})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	mustRecv(t, outbox)
}
