package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-pulse/backend/internal/session"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans session updates out to WebSocket consumers. Updates
// are queued and flushed on a throttle so a burst of hook events becomes
// one delta; full snapshots go out periodically as a safety net against
// missed deltas.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *session.Store
	throttle       time.Duration
	readyWindow    time.Duration
	snapshotTicker *time.Ticker
	done           chan struct{}
	pendingUpdates []*session.State
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

func NewBroadcaster(store *session.Store, throttle, snapshotInterval, readyWindow time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:     make(map[*client]bool),
		store:       store,
		throttle:    throttle,
		readyWindow: readyWindow,
		done:        make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// Stop halts the snapshot loop and disconnects all clients.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
	close(b.done)

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Status computes the derived flags over a snapshot.
func (b *Broadcaster) Status(states []*session.State) StatusPayload {
	return StatusPayload{
		AnyActive:           session.AnyActive(states),
		AnyAwaitingApproval: session.AnyAwaitingApproval(states),
		AnyReadyForInput:    session.AnyReadyForInput(states, b.readyWindow, time.Now()),
		SessionCount:        len(states),
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	states := b.store.Snapshot()
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: states,
			Status:   b.Status(states),
		},
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, _ := json.Marshal(b.snapshotMessage())

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueUpdate enqueues committed session states for the next delta.
// Safe to call from the store's notify hook.
func (b *Broadcaster) QueueUpdate(states ...*session.State) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, states...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueRemoval enqueues removed stable ids for the next delta.
func (b *Broadcaster) QueueRemoval(ids ...string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// NotifyEnded pushes an immediate ended notice, bypassing the throttle,
// so consumers can react to a session ending without waiting a flush.
func (b *Broadcaster) NotifyEnded(stableID, projectName string) {
	b.broadcast(WSMessage{
		Type: MsgEnded,
		Payload: EndedPayload{
			StableID:    stableID,
			ProjectName: projectName,
		},
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Updates: updates,
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
