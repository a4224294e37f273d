package agent

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/localsession/sessiond/internal/protocol"
)

// ConnID identifies one live client connection.
type ConnID uint64

// outboxSize bounds how many pending frames a slow client can accumulate
// before the broadcaster starts shedding its lower-priority traffic.
const outboxSize = 100

// Broadcaster tracks connected clients, their event subscriptions, and
// fans Push frames out to whichever subset of them asked for that event
// type. All its methods are safe for concurrent use from the connection
// goroutines and the file watcher.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[ConnID]map[protocol.EventType]bool
	outboxes      map[ConnID]chan []byte
	closers       map[ConnID]io.Closer
	nextConnID    uint64
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscriptions: make(map[ConnID]map[protocol.EventType]bool),
		outboxes:      make(map[ConnID]chan []byte),
		closers:       make(map[ConnID]io.Closer),
	}
}

// Register allocates a new connection id and its outbox, returning both.
// closer is torn down if a must-deliver push still doesn't fit after a
// retry — see critical and forceClose.
func (b *Broadcaster) Register(closer io.Closer) (ConnID, <-chan []byte) {
	id := ConnID(atomic.AddUint64(&b.nextConnID, 1))
	outbox := make(chan []byte, outboxSize)

	b.mu.Lock()
	b.subscriptions[id] = make(map[protocol.EventType]bool)
	b.outboxes[id] = outbox
	b.closers[id] = closer
	b.mu.Unlock()

	return id, outbox
}

// Unregister removes a connection and closes its outbox so the writer
// goroutine draining it can exit.
func (b *Broadcaster) Unregister(id ConnID) {
	b.mu.Lock()
	outbox, ok := b.outboxes[id]
	delete(b.outboxes, id)
	delete(b.subscriptions, id)
	delete(b.closers, id)
	b.mu.Unlock()

	if ok {
		close(outbox)
	}
}

// Subscribe adds event types to a connection's subscription set.
func (b *Broadcaster) Subscribe(id ConnID, events []protocol.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscriptions[id]
	if !ok {
		return
	}
	for _, e := range events {
		sub[e] = true
	}
}

// Unsubscribe removes event types from a connection's subscription set.
func (b *Broadcaster) Unsubscribe(id ConnID, events []protocol.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscriptions[id]
	if !ok {
		return
	}
	for _, e := range events {
		delete(sub, e)
	}
}

// critical reports whether an event type must never be silently dropped
// for a slow reader. NewMessage and session-lifecycle pushes are
// persisted history the client is expected to stay in sync with; losing
// one would desync a subscriber without either side noticing. HookEvent
// pushes are transient interactive feedback (e.g. a permission-request
// decoration) — a drop there just means a UI affordance flickers, which
// is an acceptable trade against blocking or dropping the connection.
func critical(t protocol.EventType) bool {
	return t == protocol.EventNewMessage || t == protocol.EventSessionStart || t == protocol.EventSessionEnd
}

// Broadcast fans a Push out to every connection subscribed to its event
// type. Delivery is always non-blocking from the caller's perspective:
// critical events get one retry against a full outbox, and if that still
// doesn't fit the connection is torn down rather than silently losing a
// persisted event; non-critical events drop immediately on a full
// outbox and the connection is left alone.
func (b *Broadcaster) Broadcast(push protocol.Push) {
	frame, err := protocol.Encode(push)
	if err != nil {
		return
	}

	type target struct {
		id     ConnID
		outbox chan []byte
	}
	var targets []target
	b.mu.RLock()
	for id, sub := range b.subscriptions {
		if !sub[push.Type] {
			continue
		}
		if outbox, ok := b.outboxes[id]; ok {
			targets = append(targets, target{id, outbox})
		}
	}
	b.mu.RUnlock()

	mustDeliver := critical(push.Type)
	for _, t := range targets {
		if !deliver(t.outbox, frame, mustDeliver) {
			b.forceClose(t.id)
		}
	}
}

// deliver attempts non-blocking delivery, retrying once for a
// must-deliver push against a momentarily full outbox. It reports
// whether the push was either queued or, for a non-critical push,
// acceptably dropped; false means a must-deliver push still didn't fit
// after the retry.
func deliver(outbox chan []byte, frame []byte, mustDeliver bool) bool {
	select {
	case outbox <- frame:
		return true
	default:
	}
	if !mustDeliver {
		return true
	}
	select {
	case outbox <- frame:
		return true
	default:
		return false
	}
}

// forceClose tears down a connection whose outbox is still full after a
// must-deliver retry — the reader is too far behind to keep a persisted
// event stream gapless, so the connection is dropped rather than handed
// a silent gap. Unregister (deferred by the connection's own goroutine)
// still does the bookkeeping once the close unblocks its read loop.
func (b *Broadcaster) forceClose(id ConnID) {
	b.mu.RLock()
	closer := b.closers[id]
	b.mu.RUnlock()
	if closer != nil {
		closer.Close()
	}
}

// ConnectionCount returns the number of currently registered connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.outboxes)
}

// HasConnections reports whether any client is currently connected.
func (b *Broadcaster) HasConnections() bool {
	return b.ConnectionCount() > 0
}

// SendTo delivers a single frame to one connection's outbox, used for
// request/response replies rather than broadcast pushes. It reports
// whether the connection was still registered.
func (b *Broadcaster) SendTo(id ConnID, frame []byte) bool {
	b.mu.RLock()
	outbox, ok := b.outboxes[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case outbox <- frame:
		return true
	default:
		return false
	}
}
