// Package ws is a hand-rolled WebSocket broadcaster for live-tailing a
// decode run's reconstructed events, generalized from the TripWire
// dashboard's alert broadcaster to key every message by run ID instead
// of fanning every message to every client.
package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventMessage is one reconstructed-event notification pushed to
// clients tailing RunID.
type EventMessage struct {
	RunID     string `json:"run_id"`
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

// Client is a single tailing connection's outbound mailbox.
type Client struct {
	id      string
	runID   string
	send    chan []byte
	Dropped atomic.Int64
}

// ID returns the client's registration ID.
func (c *Client) ID() string { return c.id }

// Send enqueues payload for delivery without blocking; if the client's
// buffer is full the message is dropped and Dropped is incremented,
// mirroring the teacher broadcaster's slow-client handling exactly.
func (c *Client) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.Dropped.Add(1)
	}
}

// Recv returns the client's outbound channel for a handler's write loop
// to drain.
func (c *Client) Recv() <-chan []byte { return c.send }

// Broadcaster fans EventMessages out to every client currently tailing
// that message's run.
type Broadcaster struct {
	clients   sync.Map // id -> *Client
	clientCnt atomic.Int64
	bufSize   int
	logger    *slog.Logger
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster builds a Broadcaster whose per-client mailboxes hold up
// to bufSize pending messages before dropping.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{bufSize: bufSize, logger: logger}
}

// Register creates and tracks a new client tailing runID.
func (b *Broadcaster) Register(id, runID string) *Client {
	c := &Client{id: id, runID: runID, send: make(chan []byte, b.bufSize)}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes and closes the client's mailbox.
func (b *Broadcaster) Unregister(id string) {
	if v, ok := b.clients.LoadAndDelete(id); ok {
		close(v.(*Client).send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of currently registered clients.
func (b *Broadcaster) ClientCount() int64 { return b.clientCnt.Load() }

// Publish delivers payload to every client currently tailing runID.
func (b *Broadcaster) Publish(runID string, payload []byte) {
	if b.closed.Load() {
		return
	}
	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		if c.runID == runID {
			c.Send(payload)
		}
		return true
	})
}

// Close idempotently tears down every registered client.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.clients.Range(func(k, v any) bool {
			close(v.(*Client).send)
			b.clients.Delete(k)
			return true
		})
	})
}
