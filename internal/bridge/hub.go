package bridge

import (
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 100
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans events out to every connected UI socket.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan models.Envelope
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast queues env for every client. A client that cannot keep up is dropped.
func (h *Hub) Broadcast(env models.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			logger.Log.Warn("UI client too slow, dropping it")
			h.drop(c)
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

func (s *Server) upgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("❌ Failed to upgrade UI websocket", "err", err)
		return
	}
	cl := &client{conn: conn, send: make(chan models.Envelope, sendBuffer)}
	cl.send <- models.Envelope{Type: "hello", Payload: s.room()}
	if !s.hub.register(cl) {
		conn.Close()
		return
	}
	logger.Log.Info("UI client connected", "remote", conn.RemoteAddr().String())
	go s.hub.writePump(cl)
	go s.hub.readPump(cl)
}

// readPump only watches for the UI going away; the UI talks over HTTP.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn("UI websocket error", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logger.Log.Warn("Failed to write to UI client", "err", err)
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

type messageView struct {
	Sender  string `json:"sender"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Tag     any    `json:"tag,omitempty"`
	// Thumbnail is a base64 PNG for image offers.
	Thumbnail string `json:"thumbnail,omitempty"`
}

type eventView struct {
	Peer     string       `json:"peer,omitempty"`
	Room     string       `json:"room,omitempty"`
	Endpoint string       `json:"public_endpoint,omitempty"`
	Message  *messageView `json:"message,omitempty"`
	JobID    string       `json:"job_id,omitempty"`
	Progress float64      `json:"progress,omitempty"`
	Bytes    int64        `json:"bytes,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func envelopeFor(e models.Event) models.Envelope {
	v := eventView{Peer: e.Peer, Room: e.Room, Endpoint: e.Endpoint, JobID: e.JobID, Progress: e.Progress, Bytes: e.Bytes}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	if m := e.Message; m != nil {
		v.Message = &messageView{Sender: m.Sender, Kind: m.Kind.String(), Content: m.Content, Tag: m.Tag}
		if thumb, ok := encodeThumbnail(m.Extra); ok {
			v.Message.Thumbnail = base64.StdEncoding.EncodeToString(thumb)
		}
	}
	return models.Envelope{Type: string(e.Type), Payload: v}
}
