package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/logic/sequencer"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DisplayHub pushes sequencer display snapshots to websocket viewers.
// New viewers get the latest snapshot right away.
type DisplayHub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	latest  []byte
}

// NewDisplayHub creates an empty hub.
func NewDisplayHub() *DisplayHub {
	return &DisplayHub{
		clients: make(map[chan []byte]struct{}),
	}
}

// Observe implements sequencer.Observer. Slow viewers miss intermediate
// snapshots but always keep up with the latest on their next receive.
func (h *DisplayHub) Observe(d sequencer.Display) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// drop the stale one, keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- data:
			default:
			}
		}
	}
}

func (h *DisplayHub) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	if h.latest != nil {
		ch <- h.latest
	}
	h.mu.Unlock()
	debug.Live("Viewer connected. Total: %d", h.ClientCount())

	unsub := func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		debug.Live("Viewer disconnected. Total: %d", h.ClientCount())
	}
	return ch, unsub
}

// ClientCount returns the number of connected viewers.
func (h *DisplayHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS handles GET /ws.
func (h *DisplayHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error(err)
		return
	}
	defer conn.Close()

	ch, unsub := h.subscribe()
	defer unsub()

	// Viewers never send anything useful; reading only tracks liveness.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
