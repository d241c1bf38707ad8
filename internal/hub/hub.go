// Package hub implements the subscriber registry and broadcast fan-out: a
// set of connected push subscribers per session (plus the reserved
// "_download" channel), isolated so that one slow or disconnected subscriber
// never stalls delivery to any other. Broadcast enumerates a snapshot copy
// of the subscriber set rather than holding the registry lock across sends,
// mirroring the snapshot-on-iterate discipline the rest of this codebase
// uses for its shared collections.
package hub

import (
	"sync"

	"github.com/loquilex/sessiond/internal/events"
)

// Subscriber is a push connection receiving envelopes for one channel
// (a session id, or events.DownloadChannel). Send must be non-blocking: it
// returns false immediately if it cannot accept the envelope without
// blocking, and the hub treats that as a permanent failure for this
// subscriber.
type Subscriber interface {
	ID() string
	Send(env events.Envelope) bool
	Close()
}

// Hub owns the per-channel subscriber sets for the whole process.
type Hub struct {
	mu      sync.Mutex
	byChan  map[string]map[string]Subscriber
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{byChan: make(map[string]map[string]Subscriber)}
}

// Register adds sub to channel (a session id or events.DownloadChannel).
func (h *Hub) Register(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byChan[channel]
	if !ok {
		set = make(map[string]Subscriber)
		h.byChan[channel] = set
	}
	set[sub.ID()] = sub
}

// Unregister removes sub from channel, if present. Does not close sub; the
// caller owns that (mirrors teardown-by-owner elsewhere in this codebase).
func (h *Hub) Unregister(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byChan[channel]; ok {
		delete(set, sub.ID())
		if len(set) == 0 {
			delete(h.byChan, channel)
		}
	}
}

// Count reports the number of subscribers currently registered on channel.
func (h *Hub) Count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byChan[channel])
}

// Broadcast delivers env to every subscriber of channel. It copies the
// subscriber set under lock, then sends outside the lock so a slow Send
// never holds the registry lock. Sends run one after another on the
// caller's goroutine, so a Send that takes time delays the subscribers
// after it; isolation relies on Send being non-blocking. Any
// subscriber whose Send returns false is unregistered and closed; the
// failure never propagates to other subscribers or to the caller.
func (h *Hub) Broadcast(channel string, env events.Envelope) {
	for _, sub := range h.snapshot(channel) {
		if !sub.Send(env) {
			h.Unregister(channel, sub)
			sub.Close()
		}
	}
}

func (h *Hub) snapshot(channel string) []Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byChan[channel]
	out := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

// CloseChannel unregisters and closes every subscriber of channel, e.g. when
// a session is torn down.
func (h *Hub) CloseChannel(channel string) {
	for _, sub := range h.snapshot(channel) {
		h.Unregister(channel, sub)
		sub.Close()
	}
}
