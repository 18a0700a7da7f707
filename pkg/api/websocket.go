package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"go.uber.org/zap"
)

// ChannelAll receives every committed event.
const ChannelAll = "events"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

type broadcast struct {
	topics  []string
	payload []byte
}

type direct struct {
	client  *Client
	payload []byte
}

// Hub maintains active WebSocket connections and fans committed events
// out to subscribers. It implements events.Sink.
type Hub struct {
	// Registered clients; owned by Run
	clients map[*Client]struct{}

	broadcast  chan broadcast
	direct     chan direct
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	count int
	mu    sync.RWMutex // guards count
	log   *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan broadcast, 256),
		direct:     make(chan direct, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(len(h.clients))
			h.log.Infow("ws_client_connected", "client_id", client.id, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.Infow("ws_client_disconnected", "client_id", client.id, "total", len(h.clients))
			}

		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; !ok {
				continue
			}
			select {
			case msg.client.send <- msg.payload:
			default:
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(msg.topics) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Client send buffer full, disconnect
					h.log.Warnw("ws_client_slow", "client_id", client.id)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish queues records for delivery. It never blocks the caller; when
// the hub is backed up, events are dropped for websocket clients only.
func (h *Hub) Publish(_ context.Context, records []events.Record) error {
	for _, rec := range records {
		env, err := rec.Envelope()
		if err != nil {
			return err
		}
		topics := rec.Event.Topics()
		payload, err := json.Marshal(WSEvent{Seq: env.Seq, Type: env.Type, Data: env.Data, Topics: topics})
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- broadcast{topics: topics, payload: payload}:
		default:
			h.log.Warnw("ws_broadcast_dropped", "seq", rec.Seq)
		}
	}
	return nil
}

var _ events.Sink = (*Hub)(nil)

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// wants reports whether the client subscribed to any of topics.
func (c *Client) wants(topics []string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	if c.subscriptions[ChannelAll] {
		return true
	}
	for _, t := range topics {
		if c.subscriptions[t] {
			return true
		}
	}
	return false
}

// normalizeChannel canonicalizes account channels to checksummed form so
// they match event topics.
func normalizeChannel(ch string) (string, bool) {
	switch {
	case ch == ChannelAll, strings.HasPrefix(ch, "pair:"):
		return ch, true
	case strings.HasPrefix(ch, "account:"):
		addr, ok := parseAddress(strings.TrimPrefix(ch, "account:"))
		if !ok {
			return "", false
		}
		return events.AccountTopic(addr), true
	default:
		return "", false
	}
}

func (c *Client) update(op string, channels []string) []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	var applied []string
	for _, raw := range channels {
		ch, ok := normalizeChannel(raw)
		if !ok {
			c.hub.log.Debugw("ws_bad_channel", "client_id", c.id, "channel", raw)
			continue
		}
		if op == "subscribe" {
			c.subscriptions[ch] = true
		} else {
			delete(c.subscriptions, ch)
		}
		applied = append(applied, ch)
	}
	return applied
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Infow("ws_read_error", "client_id", c.id, "err", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "client_id", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe", "unsubscribe":
			applied := c.update(req.Op, req.Channels)
			ack, _ := json.Marshal(WSAck{Type: req.Op + "d", Channels: applied})
			select {
			case c.hub.direct <- direct{client: c, payload: ack}:
			case <-c.hub.done:
				return
			}
		default:
			c.hub.log.Debugw("ws_unknown_op", "client_id", c.id, "op", req.Op)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infow("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
