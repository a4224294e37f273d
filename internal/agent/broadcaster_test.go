package agent

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/localsession/sessiond/internal/protocol"
)

// nopCloser is a no-op io.Closer that records whether Close was called,
// standing in for the net.Conn the real broadcaster closes on a
// must-deliver overflow.
type nopCloser struct {
	closed bool
}

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

var _ io.Closer = (*nopCloser)(nil)

func TestBroadcasterSubscribeAndBroadcast(t *testing.T) {
	b := NewBroadcaster()

	conn1, outbox1 := b.Register(&nopCloser{})
	conn2, outbox2 := b.Register(&nopCloser{})

	b.Subscribe(conn1, []protocol.EventType{protocol.EventNewMessage})
	b.Subscribe(conn2, []protocol.EventType{protocol.EventNewMessage, protocol.EventSessionStart})

	b.Broadcast(protocol.Push{
		Type:       protocol.EventNewMessage,
		SessionID:  "test-session",
		Path:       "/test/path",
		Count:      5,
		MessageIDs: []int64{1, 2, 3, 4, 5},
	})

	mustRecv(t, outbox1)
	mustRecv(t, outbox2)

	b.Broadcast(protocol.Push{
		Type:        protocol.EventSessionStart,
		SessionID:   "test-session",
		ProjectPath: "/test/project",
	})

	mustNotRecv(t, outbox1)
	mustRecv(t, outbox2)
}

func TestBroadcasterConnectionCount(t *testing.T) {
	b := NewBroadcaster()

	if got := b.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}

	conn1, _ := b.Register(&nopCloser{})
	if got := b.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	b.Register(&nopCloser{})
	if got := b.ConnectionCount(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	b.Unregister(conn1)
	if got := b.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 connection after unregister, got %d", got)
	}
}

func TestBroadcasterCriticalEventSurvivesFullOutbox(t *testing.T) {
	b := NewBroadcaster()
	closer := &nopCloser{}
	conn, outbox := b.Register(closer)
	b.Subscribe(conn, []protocol.EventType{protocol.EventHookEvent, protocol.EventNewMessage})

	// Fill the outbox completely.
	for i := 0; i < outboxSize; i++ {
		b.Broadcast(protocol.Push{Type: protocol.EventNewMessage, SessionID: "fill"})
	}

	// A non-critical push on a full outbox is dropped without blocking,
	// and the connection is left alone.
	hookEvent := protocol.HookEvent{EventType: "Stop", SessionID: "s1"}
	b.Broadcast(protocol.Push{Type: protocol.EventHookEvent, HookEvent: &hookEvent})
	if closer.closed {
		t.Error("a dropped HookEvent push must not close the connection")
	}

	// Drain one slot, then confirm a critical NewMessage push still gets
	// through even though the outbox was just full.
	<-outbox
	b.Broadcast(protocol.Push{Type: protocol.EventNewMessage, SessionID: "delivered"})

	found := false
	for i := 0; i < outboxSize; i++ {
		select {
		case frame := <-outbox:
			var push protocol.Push
			if err := json.Unmarshal(frame, &push); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if push.SessionID == "delivered" {
				found = true
			}
		default:
		}
	}
	if !found {
		t.Error("expected the critical NewMessage push to be delivered")
	}
	if closer.closed {
		t.Error("a successfully delivered push must not close the connection")
	}
}

func TestBroadcasterCriticalEventClosesConnectionOnSustainedOverflow(t *testing.T) {
	b := NewBroadcaster()
	closer := &nopCloser{}
	conn, _ := b.Register(closer)
	b.Subscribe(conn, []protocol.EventType{protocol.EventNewMessage})

	// Fill the outbox and never drain it: every further must-deliver push
	// fails both its initial send and its one retry.
	for i := 0; i < outboxSize; i++ {
		b.Broadcast(protocol.Push{Type: protocol.EventNewMessage, SessionID: "fill"})
	}
	b.Broadcast(protocol.Push{Type: protocol.EventNewMessage, SessionID: "overflow"})

	if !closer.closed {
		t.Error("expected the connection to be closed after a sustained must-deliver overflow")
	}
}

func mustRecv(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case <-ch:
	default:
		t.Error("expected a frame to be queued")
	}
}

func mustNotRecv(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case <-ch:
		t.Error("expected no frame to be queued")
	default:
	}
}
