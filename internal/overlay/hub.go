package overlay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/metrics"
	"github.com/john/chatoverlay/internal/session"
)

const (
	outQueue   = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Frame is the JSON document pushed to overlays.
type Frame struct {
	Type     string         `json:"type"`
	Scroll   bool           `json:"scroll"`
	Messages []session.View `json:"messages"`
}

func snapshotFrame(s session.Snapshot) Frame {
	msgs := s.Messages
	if msgs == nil {
		msgs = []session.View{}
	}
	return Frame{Type: "snapshot", Scroll: s.Scroll, Messages: msgs}
}

// Conn is one connected overlay.
type Conn struct {
	ID string
	WS *websocket.Conn
	// bounded outbound queue (backpressure)
	Out chan []byte
}

// Hub fans snapshots out to every connected overlay. It implements
// session.Publisher.
type Hub struct {
	log *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
	last  []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:   log.Named("hub"),
		conns: make(map[string]*Conn),
	}
}

// Publish encodes the snapshot once and queues it on every connection. A
// connection whose queue is full misses this frame.
func (h *Hub) Publish(s session.Snapshot) {
	b, err := json.Marshal(snapshotFrame(s))
	if err != nil {
		h.log.Error("encode snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = b
	for _, c := range h.conns {
		select {
		case c.Out <- b:
		default:
			metrics.OverlayDropped.Inc()
			h.log.Debug("client queue full, frame dropped", zap.String("conn", c.ID))
		}
	}
}

// Add registers c and queues the most recently published frame on it. It
// reports false when nothing has been published yet.
func (h *Hub) Add(c *Conn) bool {
	h.mu.Lock()
	h.conns[c.ID] = c
	sent := false
	if h.last != nil {
		select {
		case c.Out <- h.last:
			sent = true
		default:
		}
	}
	n := len(h.conns)
	h.mu.Unlock()
	metrics.OverlayClients.Set(float64(n))
	return sent
}

// Send queues b on a registered connection without blocking.
func (h *Hub) Send(id string, b []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	select {
	case c.Out <- b:
		return true
	default:
		metrics.OverlayDropped.Inc()
		return false
	}
}

// Del unregisters the connection and closes its queue, which ends its write
// loop.
func (h *Hub) Del(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
		close(c.Out)
	}
	n := len(h.conns)
	h.mu.Unlock()
	metrics.OverlayClients.Set(float64(n))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return n
}

// Close disconnects every overlay.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, c := range h.conns {
		delete(h.conns, id)
		close(c.Out)
	}
	h.mu.Unlock()
	metrics.OverlayClients.Set(0)
}

func writeLoop(c *Conn, onClose func()) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.WS.Close()
		if onClose != nil {
			onClose()
		}
	}()
	for {
		select {
		case b, ok := <-c.Out:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.WS.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.WS.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
