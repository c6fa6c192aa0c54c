package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"bot_fleet/internal/models"
	"bot_fleet/pkg/logger"
)

// Frame is the envelope every hub message travels in.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	TS      time.Time   `json:"ts"`
}

// sendBuffer messages may queue per client before it counts as slow.
const sendBuffer = 64

// Hub fans fleet events (executed trades, health transitions) out to the
// connected operator websockets. A client that cannot keep up is dropped,
// never waited on, so a stuck dashboard cannot stall the trading loops.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*websocket.Conn]chan []byte
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan []byte),
	}
}

// HandleWebSocket upgrades the request and keeps the client registered
// until it disconnects or falls behind.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[OPS] ws upgrade: %v", err)
		return
	}

	send := make(chan []byte, sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[ws] = send
	n := len(h.conns)
	h.mu.Unlock()

	logger.Info("[OPS] ws client connected, active=%d", n)
	go h.writeLoop(ws, send)
	go h.readLoop(ws)
}

// Broadcast serializes one frame and offers it to every client. Отправка
// неблокирующая: переполненная очередь означает отключение клиента.
func (h *Hub) Broadcast(typ string, payload interface{}) {
	msg, err := sonic.Marshal(Frame{Type: typ, Payload: payload, TS: time.Now().UTC()})
	if err != nil {
		logger.Error("[OPS] ws marshal %s frame: %v", typ, err)
		return
	}

	var slow []*websocket.Conn

	// Sends happen under the read lock; drop closes channels only under
	// the write lock, so a queued send can never hit a closed channel.
	h.mu.RLock()
	for ws, send := range h.conns {
		select {
		case send <- msg:
		default:
			slow = append(slow, ws)
		}
	}
	h.mu.RUnlock()

	for _, ws := range slow {
		logger.Info("[OPS] ws client too slow, dropping")
		h.drop(ws)
	}
}

// BroadcastHealth pushes one health transition to the dashboards.
func (h *Hub) BroadcastHealth(e models.HealthLogEntry) {
	h.Broadcast("health", e)
}

// PublishTrade lets the hub sit behind the same fan-out as kafka.
func (h *Hub) PublishTrade(_ context.Context, rec models.TradeRecord) error {
	h.Broadcast("trade", rec)
	return nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for ws, send := range h.conns {
		delete(h.conns, ws)
		close(send)
		_ = ws.Close()
	}
	h.mu.Unlock()
	return nil
}

// Clients reports the number of connected websockets.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) writeLoop(ws *websocket.Conn, send chan []byte) {
	for msg := range send {
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(ws)
			return
		}
	}
}

// readLoop discards inbound frames; its job is noticing the disconnect.
func (h *Hub) readLoop(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.drop(ws)
			return
		}
	}
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	send, ok := h.conns[ws]
	if ok {
		delete(h.conns, ws)
		close(send)
	}
	h.mu.Unlock()

	if ok {
		_ = ws.Close()
	}
}
