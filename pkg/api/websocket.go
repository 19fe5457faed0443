package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
)

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

// Feed is one kind of market data stream
type Feed string

const (
	FeedTrades Feed = "trades"
	FeedBook   Feed = "book"
)

// allTickers subscribes a client to a feed of every listed asset
const allTickers = "*"

// Channel is a feed for one ticker, written "trades:REP" or "book:*"
type Channel struct {
	Feed   Feed
	Ticker string
}

func tradesChannel(t asset.Ticker) Channel { return Channel{Feed: FeedTrades, Ticker: t.String()} }

func bookChannel(t asset.Ticker) Channel { return Channel{Feed: FeedBook, Ticker: t.String()} }

func (c Channel) String() string { return string(c.Feed) + ":" + c.Ticker }

// ParseChannel parses "<feed>:<ticker>" where ticker may be "*"
func ParseChannel(s string) (Channel, error) {
	feed, ticker, ok := strings.Cut(s, ":")
	if !ok {
		return Channel{}, fmt.Errorf("channel %q: want <feed>:<ticker>", s)
	}
	switch Feed(feed) {
	case FeedTrades, FeedBook:
	default:
		return Channel{}, fmt.Errorf("channel %q: unknown feed %q", s, feed)
	}
	if ticker != allTickers {
		t, err := asset.ParseTicker(ticker)
		if err != nil {
			return Channel{}, fmt.Errorf("channel %q: %w", s, err)
		}
		ticker = t.String()
	}
	return Channel{Feed: Feed(feed), Ticker: ticker}, nil
}

// Hub tracks connected clients and fans market data out to their subscriptions
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex  // guards clients and every close of a send channel
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes connects and disconnects until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws_client_connected", zap.String("client", client.id), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws_client_disconnected", zap.String("client", client.id), zap.Int("total", total))
		}
	}
}

// drop forgets client and closes its send channel; h.mu must be held
func (h *Hub) drop(client *Client) {
	if !client.closed {
		delete(h.clients, client)
		client.closed = true
		close(client.send)
	}
}

// Broadcast sends data to every client subscribed to ch or to its feed's wildcard
func (h *Hub) Broadcast(ch Channel, data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("ws_marshal_failed", zap.Stringer("channel", ch), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.wants(ch) {
			client.enqueue(message)
		}
	}
}

// reply sends message to a single client unless the hub already dropped it
func (h *Hub) reply(client *Client, data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("ws_marshal_failed", zap.String("client", client.id), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !client.closed {
		client.enqueue(message)
	}
}

// Client is one WebSocket connection and its subscriptions
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	closed bool // send is closed; guarded by hub.mu

	subsMu sync.RWMutex
	subs   map[Channel]bool
}

// enqueue drops the message when the client is too slow to keep up
func (c *Client) enqueue(message []byte) {
	select {
	case c.send <- message:
	default:
		c.hub.logger.Debug("ws_message_dropped", zap.String("client", c.id))
	}
}

func (c *Client) wants(ch Channel) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[ch] || c.subs[Channel{Feed: ch.Feed, Ticker: allTickers}]
}

// Subscriptions returns the client's channels sorted by name
func (c *Client) Subscriptions() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch.String())
	}
	sort.Strings(out)
	return out
}

// handle applies one subscription request; no channel changes if any is invalid
func (c *Client) handle(req WSSubscribeRequest) error {
	channels := make([]Channel, 0, len(req.Channels))
	for _, name := range req.Channels {
		ch, err := ParseChannel(name)
		if err != nil {
			return err
		}
		channels = append(channels, ch)
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	switch req.Op {
	case "subscribe":
		for _, ch := range channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range channels {
			delete(c.subs, ch)
		}
	default:
		return fmt.Errorf("unknown op %q", req.Op)
	}
	return nil
}

// readPump applies subscription requests until the connection drops
// Every request is answered with a WSAck.
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
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("ws_read_failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.reply(c, WSAck{Type: "error", Error: "invalid request: " + err.Error(), Channels: c.Subscriptions()})
			continue
		}
		if err := c.handle(req); err != nil {
			c.hub.reply(c, WSAck{Type: "error", Error: err.Error(), Channels: c.Subscriptions()})
			continue
		}
		c.hub.reply(c, WSAck{Type: "subscriptions", Channels: c.Subscriptions()})
	}
}

// writePump owns all writes to the connection, including keepalive pings
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   conn.RemoteAddr().String(),
		subs: make(map[Channel]bool),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
