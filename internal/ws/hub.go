// Package ws streams market data over WebSocket. Clients subscribe to
// topics ("trades.<instrument>", "depth.<instrument>"); each topic keeps a
// replay ring buffer so late joiners can catch up from a known sequence.
package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/pkg/models"
)

// TradesTopic names the trade stream for one instrument.
func TradesTopic(id models.InstrumentID) string { return fmt.Sprintf("trades.%d", id) }

// DepthTopic names the depth stream for one instrument.
func DepthTopic(id models.InstrumentID) string { return fmt.Sprintf("depth.%d", id) }

// Message wraps a WebSocket payload with sequencing for replay. On-connect
// snapshot frames carry Seq 0; feed sequence numbers start at 1.
type Message struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// SnapshotSource supplies the current depth of every instrument. Connecting
// clients receive one snapshot frame per instrument, even when the books are
// empty, so they never have to wait for a first mutation.
type SnapshotSource interface {
	DepthSnapshots() []models.DepthSnapshot
}

// ringBuffer holds the last N messages for a topic.
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

func (r *ringBuffer) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// getSince returns messages with Seq > since.
func (r *ringBuffer) getSince(since uint64) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	return out
}

// Client is a single WebSocket connection.
type Client struct {
	conn          *websocket.Conn
	send          chan Message
	subscriptions map[string]bool
	subMu         sync.RWMutex
	hub           *Hub
}

func (c *Client) subscribed(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[topic]
}

// Hub manages the client set and the per-topic replay buffers.
type Hub struct {
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	buffers    map[string]*ringBuffer
	bufMu      sync.Mutex
	replaySize int

	seqMu   sync.Mutex
	nextSeq uint64

	snapshots SnapshotSource

	upgrader websocket.Upgrader
}

// NewHub creates a hub with the given replay buffer size per topic and
// starts its pump.
func NewHub(logger *zap.Logger, replaySize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 1024),
		buffers:    make(map[string]*ringBuffer),
		replaySize: replaySize,
		nextSeq:    1,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Market data is public; mutations go through the REST layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	clients := make(map[*Client]struct{})
	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.logger.Debug("ws client connected", zap.Int("clients", len(clients)))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			h.buffer(msg)
			for c := range clients {
				if !c.subscribed(msg.Topic) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop it rather than stall the feed.
					delete(clients, c)
					close(c.send)
					h.logger.Warn("ws client dropped, send buffer full")
				}
			}
		}
	}
}

func (h *Hub) buffer(msg Message) {
	h.bufMu.Lock()
	buf, ok := h.buffers[msg.Topic]
	if !ok {
		buf = newRingBuffer(h.replaySize)
		h.buffers[msg.Topic] = buf
	}
	buf.add(msg)
	h.bufMu.Unlock()
}

// Broadcast publishes a payload to a topic, assigning the next feed
// sequence number. It never blocks; when the pump's queue is full the
// message is dropped.
func (h *Hub) Broadcast(topic string, data json.RawMessage) {
	h.seqMu.Lock()
	seq := h.nextSeq
	h.nextSeq++
	h.seqMu.Unlock()

	select {
	case h.broadcast <- Message{Topic: topic, Seq: seq, Data: data}:
	default:
		h.logger.Warn("ws broadcast queue full, message dropped", zap.String("topic", topic))
	}
}

// BroadcastTrade publishes a trade on its instrument's trade topic.
func (h *Hub) BroadcastTrade(t models.Trade) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	h.Broadcast(TradesTopic(t.InstrumentID), data)
}

// BroadcastDepth publishes a depth snapshot on its instrument's depth topic.
func (h *Hub) BroadcastDepth(d models.DepthSnapshot) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	h.Broadcast(DepthTopic(d.InstrumentID), data)
}

// Replay returns buffered messages for a topic with Seq > since.
func (h *Hub) Replay(topic string, since uint64) []Message {
	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	if buf, ok := h.buffers[topic]; ok {
		return buf.getSince(since)
	}
	return nil
}

// SetSnapshotSource attaches the provider of on-connect depth snapshots.
// Must be called before clients connect.
func (h *Hub) SetSnapshotSource(src SnapshotSource) { h.snapshots = src }

// ServeWS upgrades an HTTP request and attaches the connection to the hub.
// The current depth of every instrument is queued for the client before any
// feed messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		conn:          conn,
		send:          make(chan Message, 256),
		subscriptions: make(map[string]bool),
		hub:           h,
	}
	if h.snapshots != nil {
		for _, d := range h.snapshots.DepthSnapshots() {
			data, err := json.Marshal(d)
			if err != nil {
				continue
			}
			select {
			case c.send <- Message{Topic: DepthTopic(d.InstrumentID), Data: data}:
			default:
			}
		}
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// subscribeRequest is the only inbound frame clients send:
// {"subscribe":["trades.1"],"unsubscribe":[],"since":0}
type subscribeRequest struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
	Since       uint64   `json:"since"`
}

// readPump handles subscription frames and notices disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		c.subMu.Lock()
		for _, topic := range req.Subscribe {
			c.subscriptions[topic] = true
		}
		for _, topic := range req.Unsubscribe {
			delete(c.subscriptions, topic)
		}
		c.subMu.Unlock()
		for _, topic := range req.Subscribe {
			for _, m := range c.hub.Replay(topic, req.Since) {
				select {
				case c.send <- m:
				default:
				}
			}
		}
	}
}

// writePump drains the send channel and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
