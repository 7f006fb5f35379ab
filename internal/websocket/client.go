package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBuffer is how many frames may queue for a slow watcher before
	// the hub disconnects it
	sendBuffer = 256

	// maxWatchedGames caps subscriptions per connection
	maxWatchedGames = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one watcher connection. The read loop owns watching; the write
// loop owns the socket writes.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	watching map[int64]struct{}
	logger   *slog.Logger
}

// ClientMessage is a request from a watcher
type ClientMessage struct {
	Type   string `json:"type"`
	GameID int64  `json:"game_id,omitempty"`
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		watching: make(map[int64]struct{}),
		logger:   logger.With("client_id", id),
	}
}

// readPump serves watcher requests until the connection drops, then leaves
// the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var req ClientMessage
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(errorReply("malformed request"))
			continue
		}
		if out, ok := c.handle(req); ok {
			c.reply(out)
		}
	}
}

// handle applies one request and returns the reply, if any
func (c *Client) handle(req ClientMessage) (Message, bool) {
	switch req.Type {
	case MessageTypeSubscribe:
		if req.GameID <= 0 {
			return errorReply("game_id required for subscribe"), true
		}
		if _, ok := c.watching[req.GameID]; !ok {
			if len(c.watching) >= maxWatchedGames {
				return errorReply("too many watched games"), true
			}
			c.watching[req.GameID] = struct{}{}
			c.hub.Subscribe(c, req.GameID)
		}
		return ackReply(MessageTypeSubscribed, req.GameID), true

	case MessageTypeUnsubscribe:
		if _, ok := c.watching[req.GameID]; !ok {
			return errorReply("not watching that game"), true
		}
		delete(c.watching, req.GameID)
		c.hub.Unsubscribe(c, req.GameID)
		return ackReply(MessageTypeUnsubscribed, req.GameID), true

	case MessageTypePing:
		return Message{Type: MessageTypePong}, true
	}

	c.logger.Debug("ignoring request", "type", req.Type)
	return Message{}, false
}

// writePump sends queued frames and keepalive pings. It stops when the hub
// closes send or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one event per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
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

// reply queues msg for this client alone. It is dropped when the buffer is
// full.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding reply", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func errorReply(text string) Message {
	return Message{Type: MessageTypeError, Data: map[string]string{"error": text}}
}

func ackReply(kind string, gameID int64) Message {
	return Message{Type: kind, GameID: gameID, Data: map[string]string{"status": "ok"}}
}

// ServeWs upgrades the request and attaches the connection to the hub
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	client.logger.Debug("watcher connected", "remote", r.RemoteAddr)
}
