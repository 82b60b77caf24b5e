package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// wsConn serializes writes to one connection; gorilla allows only a
// single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub tracks one WebSocket connection per session and pushes companion
// responses to it. A session with no listener just gets the HTTP
// response; push is additive, never required.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[string]*wsConn),
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	if session == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	wc := &wsConn{conn: conn}
	h.mu.Lock()
	if old, ok := h.conns[session]; ok {
		old.conn.Close()
	}
	h.conns[session] = wc
	h.mu.Unlock()
	h.log.Debug().Str("session", session).Msg("websocket listener attached")

	// Reads are drained only to detect the close; clients send nothing.
	go func() {
		defer h.detach(session, wc)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) detach(session string, wc *wsConn) {
	h.mu.Lock()
	if h.conns[session] == wc {
		delete(h.conns, session)
	}
	h.mu.Unlock()
	wc.conn.Close()
}

// Push sends the response to the session's listener, if any. Write
// failures drop the connection; the client reconnects on its own.
func (h *Hub) Push(session string, payload responsePayload) {
	h.mu.RLock()
	wc, ok := h.conns[session]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if err := wc.writeJSON(payload); err != nil {
		h.log.Warn().Err(err).Str("session", session).Msg("websocket push failed, dropping listener")
		h.detach(session, wc)
	}
}

// Close drops all listeners.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for session, wc := range h.conns {
		wc.conn.Close()
		delete(h.conns, session)
	}
}
