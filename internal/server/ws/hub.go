package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	readLimit    = 4096
	outboxFrames = 256
)

// Channels are the bus channels the hub relays. New connections listen on
// all of them until they send an unsubscribe.
var Channels = []string{
	domain.ChannelPositions,
	domain.ChannelCandidates,
	domain.ChannelPolicy,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS and auth middleware in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope is one frame sent to a dashboard. Data carries the bus payload
// untouched.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// control is what a dashboard sends to change the channels it listens on.
// Channels may be globs such as "*".
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans signal bus messages out to WebSocket connections.
type Hub struct {
	bus    domain.SignalBus
	status func() any
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

// NewHub creates a Hub. status, when non-nil, builds the snapshot each
// connection receives first.
func NewHub(bus domain.SignalBus, status func() any, logger *slog.Logger) *Hub {
	return &Hub{
		bus:    bus,
		status: status,
		logger: logger.With(slog.String("component", "ws")),
		conns:  make(map[*conn]struct{}),
	}
}

// Run relays every channel in Channels until ctx is cancelled, then drops
// all connections.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "ws: subscribe failed", slog.String("channel", ch), slog.String("error", err.Error()))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.relay(ctx, ch, msgs)
		}()
	}
	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.conns {
		c.stop()
		delete(h.conns, c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription ended", slog.String("channel", channel))
				return
			}
			frame, err := json.Marshal(Envelope{Type: "event", Channel: channel, Data: data})
			if err != nil {
				h.logger.WarnContext(ctx, "ws: dropping non-JSON payload", slog.String("channel", channel))
				continue
			}
			h.broadcast(channel, frame)
		}
	}
}

func (h *Hub) broadcast(channel string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if c.wants(channel) && !c.enqueue(frame) {
			h.logger.Warn("ws: slow client, frame dropped", slog.String("channel", channel))
		}
	}
}

// Clients returns the number of live connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("clients", len(h.conns)))
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	c.stop()
	h.logger.Info("ws: client disconnected", slog.Int("clients", len(h.conns)))
}

// HandleWS upgrades the request and streams events to it.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(ws)
	if h.status != nil {
		if data, err := json.Marshal(h.status()); err == nil {
			if frame, err := json.Marshal(Envelope{Type: "status", Data: data}); err == nil {
				c.enqueue(frame)
			}
		}
	}
	if !h.add(c) {
		ws.Close()
		return
	}

	go c.writeLoop()
	go func() {
		c.readLoop()
		h.remove(c)
	}()
}

type conn struct {
	ws     *websocket.Conn
	outbox chan []byte
	once   sync.Once

	mu   sync.RWMutex
	subs map[string]struct{}
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		ws:     ws,
		outbox: make(chan []byte, outboxFrames),
		subs:   make(map[string]struct{}, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = struct{}{}
	}
	return c
}

// enqueue never blocks; it reports false when the outbox is full.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case c.outbox <- frame:
		return true
	default:
		return false
	}
}

// stop closes the outbox. Callers hold the hub lock so no enqueue races it.
func (c *conn) stop() {
	c.once.Do(func() { close(c.outbox) })
}

func (c *conn) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[channel]; ok {
		return true
	}
	for pattern := range c.subs {
		if ok, _ := path.Match(pattern, channel); ok {
			return true
		}
	}
	return false
}

func (c *conn) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = struct{}{}
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *conn) readLoop() {
	defer c.ws.Close()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg control
		if json.Unmarshal(raw, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *conn) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
