package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"live-collab-sync/internal/engine"
	"live-collab-sync/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Dispatcher consumes decoded traffic from sockets.
type Dispatcher interface {
	Handle(ctx context.Context, connId string, frame []byte)
	Disconnect(connId string)
	SendError(connId, code, message string)
}

type WebSocketHandler struct {
	Hub          *Hub
	Engine       Dispatcher
	Upgrader     websocket.Upgrader
	MessageRate  rate.Limit
	MessageBurst int
	Log          zerolog.Logger
}

func NewWebSocketHandler(hub *Hub, dispatcher Dispatcher, allowedOrigins []string, messageRate float64, messageBurst int, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		Hub:          hub,
		Engine:       dispatcher,
		Upgrader:     NewUpgrader(allowedOrigins),
		MessageRate:  rate.Limit(messageRate),
		MessageBurst: messageBurst,
		Log:          log,
	}
}

// NewUpgrader accepts requests without an Origin header, requests from a
// listed origin, and anything when "*" is listed.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// HandleWebSocket godoc
// @Summary Open a realtime sync connection
// @Description Upgrades to a WebSocket. Share tokens travel inside each message, not in the URL.
// @Tags realtime
// @Success 101
// @Router /ws [get]
func (ws *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ws.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:      uuid.New().String(),
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		Hub:     ws.Hub,
		limiter: rate.NewLimiter(ws.MessageRate, ws.MessageBurst),
	}

	if !ws.Hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(ws)
}

func (c *Client) readPump(ws *WebSocketHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		ws.Engine.Disconnect(c.ID)
		c.Hub.drop(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ws.Log.Warn().Err(err).Str("conn_id", c.ID).Msg("websocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			metrics.RateLimitRejected.WithLabelValues("ws").Inc()
			ws.Engine.SendError(c.ID, engine.CodeRateLimited, "Too many messages.")
			continue
		}

		ws.Engine.Handle(ctx, c.ID, frame)
	}
}

// writePump sends one frame per queued message so every frame is a single
// JSON envelope.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
