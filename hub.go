package main

import (
	"errors"
	"sync"
)

var errDuplicateConn = errors.New("duplicate connection id")

// hub is the authoritative record of who is online. It owns two maps:
// conns (connection id -> live connection) and channels (token -> member
// set). Both are mutated under one mutex so a connection is never
// registered without channel membership or vice versa.
type hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	channels map[string]map[string]*connection
}

func newHub() *hub {
	return &hub{
		conns:    make(map[string]*connection),
		channels: make(map[string]map[string]*connection),
	}
}

// admit registers an authenticated connection and joins it to its
// token's channel. The channel is created lazily. A reused connection
// id is an invariant violation; the caller logs and refuses it.
func (h *hub) admit(c *connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; ok {
		return errDuplicateConn
	}
	h.conns[c.id] = c
	if _, ok := h.channels[c.token]; !ok {
		h.channels[c.token] = make(map[string]*connection)
		incr("channels", 1)
	}
	h.channels[c.token][c.id] = c
	return nil
}

// remove unregisters a connection and leaves its channel, discarding
// the channel if it became empty. A second remove for the same id is a
// no-op (transports can report closure more than once): ok is false and
// no cleanup runs.
func (h *hub) remove(id string) (token string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return "", false
	}
	delete(h.conns, id)
	if members, ok := h.channels[c.token]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.channels, c.token)
			decr("channels", 1)
		}
	}
	return c.token, true
}

func (h *hub) isOnline(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// members returns a snapshot of a channel's connections. Joins or
// leaves after the snapshot is taken do not affect an in-flight
// dispatch.
func (h *hub) members(token string) []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.channels[token]
	snapshot := make([]*connection, 0, len(members))
	for _, c := range members {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// everyone returns a snapshot of all live connections.
func (h *hub) everyone() []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snapshot := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	return snapshot
}
