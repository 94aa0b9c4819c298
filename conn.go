package main

import (
	"encoding/json"
	"sync"
)

// connection is one authenticated client session. The token is set at
// admission and never changes. A reader goroutine handles inbound
// frames in order; a writer goroutine drains the buffered send queue.
type connection struct {
	id    string
	token string

	w        websocketManager
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	h      *hub
	d      *dispatcher
	ticker *mTicker
}

func newConnection(w websocketManager, h *hub, d *dispatcher, ticker *mTicker, id, token string) *connection {
	return &connection{
		id:     id,
		token:  token,
		w:      w,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		h:      h,
		d:      d,
		ticker: ticker,
	}
}

// inbound events from a live connection, keyed by event name. The
// table is immutable; handlers run in the connection's reader
// goroutine, so inbound events for one connection are serialized.
var inboundHandlers = map[string]func(*connection, json.RawMessage){
	"status": (*connection).handleStatus,
	"notify": (*connection).handleNotify,
	"ping":   (*connection).handlePing,
}

// run pumps the connection until the transport closes, then tears it
// down: the hub forgets it and its former channel is told it went
// offline. The connection must already be admitted to the hub.
func (c *connection) run() {
	incr("websockets", 1)
	sub := c.ticker.subscribe()
	defer func() {
		c.stop()
		c.ticker.unsubscribe(sub)
		if token, ok := c.h.remove(c.id); ok {
			c.d.toChannel(token, "offline", c.id, false)
		}
		decr("websockets", 1)
	}()
	go c.writer(sub)
	c.reply("connected", map[string]string{"id": c.id})
	c.reader()
}

// stop closes the transport. Safe to call from any goroutine, any
// number of times; the reader unblocks and runs teardown exactly once.
func (c *connection) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.w.wsClose()
	})
}

func (c *connection) reader() {
	c.w.wsSetReadLimit()
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	for {
		_, frame, err := c.w.wsReadMessage()
		if err != nil {
			return
		}
		incr("conn.recv", 1)
		c.handleFrame(frame)
	}
}

func (c *connection) handleFrame(frame []byte) {
	var in struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		incr("conn.malformed", 1)
		logger.Warn().Str("conn", c.id).Msg("discarding malformed frame")
		return
	}
	handler, ok := inboundHandlers[in.Event]
	if !ok {
		incr("conn.unknown", 1)
		return
	}
	handler(c, in.Data)
}

// handleStatus answers a presence query with a direct reply. The
// prober always gets an answer: a query it garbled still comes back as
// connected:false rather than silence.
func (c *connection) handleStatus(data json.RawMessage) {
	var q struct {
		ID string `json:"id"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &q); err != nil {
			incr("conn.malformed", 1)
			q.ID = ""
		}
	}
	c.reply("status", map[string]interface{}{
		"id":        q.ID,
		"connected": q.ID != "" && c.h.isOnline(q.ID),
	})
}

// handleNotify broadcasts to the sender's channel, excluding the
// sender. A payload carrying name and content is re-emitted under that
// name; anything else goes out verbatim as a notify event.
func (c *connection) handleNotify(data json.RawMessage) {
	var body struct {
		Name     string          `json:"name"`
		Content  json.RawMessage `json:"content"`
		Volatile bool            `json:"volatile"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		incr("conn.malformed", 1)
		return
	}
	if body.Name != "" && len(body.Content) > 0 {
		c.d.fromPeer(c, body.Name, body.Content, body.Volatile)
		return
	}
	c.d.fromPeer(c, "notify", data, body.Volatile)
}

// handlePing echoes a direct pong, bypassing the router.
func (c *connection) handlePing(json.RawMessage) {
	c.reply("pong", map[string]string{"message": "pong"})
}

// reply writes a single event straight back to this connection.
func (c *connection) reply(event string, data interface{}) {
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("reply: encode failed")
		return
	}
	c.push(frame)
}

// push queues a frame for reliable delivery. A full queue means the
// transport has stalled past its buffer; the connection is dropped so
// the rest of a fan-out is unaffected.
func (c *connection) push(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		incr("drops", 1)
		c.stop()
	}
}

// pushVolatile queues a frame only if the transport can take it right
// now; otherwise the frame is discarded and the connection kept.
func (c *connection) pushVolatile(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		incr("volatile.drops", 1)
	}
}

func (c *connection) writer(sub *subscriber) {
	defer c.w.wsClose()
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteText(frame); err != nil {
				return
			}
			incr("conn.send", 1)
		case _, ok := <-sub.tick:
			if !ok {
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWritePing(); err != nil {
				return
			}
		}
	}
}
