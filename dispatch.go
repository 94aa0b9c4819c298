package main

import "encoding/json"

// envelope is the wire format for every server-to-client frame.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// dispatcher fans events out to hub snapshots. Delivery is
// fire-and-forget per recipient: a recipient that can't accept a frame
// never blocks the caller and never aborts delivery to the rest.
type dispatcher struct {
	h *hub
}

func newDispatcher(h *hub) *dispatcher {
	return &dispatcher{h: h}
}

// toChannel delivers an event to every current member of a token's
// channel. An empty channel is a silent no-op.
func (d *dispatcher) toChannel(token, event string, data interface{}, volatile bool) {
	d.deliver(d.h.members(token), "", event, data, volatile)
}

// toAll delivers an event to every live connection.
func (d *dispatcher) toAll(event string, data interface{}, volatile bool) {
	d.deliver(d.h.everyone(), "", event, data, volatile)
}

// fromPeer delivers an event to the sender's channel, excluding the
// sender itself.
func (d *dispatcher) fromPeer(sender *connection, event string, data interface{}, volatile bool) {
	d.deliver(d.h.members(sender.token), sender.id, event, data, volatile)
}

func (d *dispatcher) deliver(conns []*connection, exclude, event string, data interface{}, volatile bool) {
	if len(conns) == 0 {
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("dispatch: encode failed")
		return
	}
	for _, c := range conns {
		if c.id == exclude {
			continue
		}
		if volatile {
			c.pushVolatile(frame)
		} else {
			c.push(frame)
		}
	}
}
