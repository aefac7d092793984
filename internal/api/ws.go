package api

import (
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meshapp/meshcore/internal/mesh"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local API: the daemon binds to loopback.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PacketEvent is pushed to subscribed hosts once per novel packet.
type PacketEvent struct {
	Type      string `json:"type"`
	PacketID  string `json:"packet_id"`
	ChannelID string `json:"channel_id"`
	TTL       uint8  `json:"ttl"`
	Timestamp int64  `json:"timestamp"`
}

// hostConn is one subscribed host connection.
type hostConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (hc *hostConn) sendJSON(v interface{}) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return hc.conn.WriteJSON(v)
}

// EventHub fans novel-packet events out to WebSocket subscribers.
type EventHub struct {
	mu    sync.RWMutex
	conns map[*hostConn]struct{}
	log   *slog.Logger
}

// NewEventHub creates an empty hub.
func NewEventHub(log *slog.Logger) *EventHub {
	return &EventHub{
		conns: make(map[*hostConn]struct{}),
		log:   log.With("component", "events"),
	}
}

// Handle upgrades the request and keeps the connection subscribed until
// it closes.
func (h *EventHub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}
	hc := &hostConn{conn: conn}

	h.mu.Lock()
	h.conns[hc] = struct{}{}
	h.mu.Unlock()
	h.log.Info("host subscribed", "remote", c.Request.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.conns, hc)
		h.mu.Unlock()
		conn.Close()
		h.log.Info("host unsubscribed", "remote", c.Request.RemoteAddr)
	}()

	// Read loop: hosts send nothing; detect close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("host websocket error", "err", err)
			}
			return
		}
	}
}

// BroadcastPacket pushes a novel packet to every subscriber. Failed
// connections are dropped.
func (h *EventHub) BroadcastPacket(p *mesh.Packet) {
	evt := PacketEvent{
		Type:      "packet",
		PacketID:  hex.EncodeToString(p.PacketID[:]),
		ChannelID: hex.EncodeToString(p.ChannelID[:]),
		TTL:       p.TTL,
		Timestamp: time.Now().Unix(),
	}

	h.mu.RLock()
	conns := make([]*hostConn, 0, len(h.conns))
	for hc := range h.conns {
		conns = append(conns, hc)
	}
	h.mu.RUnlock()

	for _, hc := range conns {
		if err := hc.sendJSON(evt); err != nil {
			h.log.Debug("drop dead subscriber", "err", err)
			h.mu.Lock()
			delete(h.conns, hc)
			h.mu.Unlock()
			hc.conn.Close()
		}
	}
}
