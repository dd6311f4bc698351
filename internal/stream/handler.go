package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cryptobot/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Request is a control frame sent by a client.
type Request struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	Currency string `json:"currency"`
}

type SubscriptionResponse struct {
	Type       string            `json:"type"`
	Status     string            `json:"status"`
	Message    string            `json:"message"`
	Currencies []market.Currency `json:"currencies"`
}

type ErrorResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Handler upgrades the request and serves the client until it disconnects.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client, ok := h.RegisterClient(conn)
		if !ok {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			_ = conn.Close()
			return
		}

		go h.writePump(client)
		go h.readPump(client)
	}
}

func (h *Hub) readPump(client *Client) {
	defer h.UnregisterClient(client)

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}

		client.enqueue(h.handleRequest(client, message))
	}
}

func (h *Hub) handleRequest(client *Client, message []byte) any {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		return ErrorResponse{Type: "error", Error: "Invalid message format"}
	}

	cur := market.Currency(strings.ToLower(strings.TrimSpace(req.Currency)))
	if req.Action == "subscribe" || req.Action == "unsubscribe" {
		if !h.known(cur) {
			return ErrorResponse{Type: "error", Error: "Unknown currency " + req.Currency}
		}
	}

	switch req.Action {
	case "subscribe":
		client.Subscribe(cur)
		return SubscriptionResponse{
			Type:       "subscription",
			Status:     "success",
			Message:    "Subscribed to " + string(cur),
			Currencies: client.Subscriptions(h.currencies),
		}

	case "unsubscribe":
		client.Unsubscribe(cur, h.currencies)
		return SubscriptionResponse{
			Type:       "subscription",
			Status:     "success",
			Message:    "Unsubscribed from " + string(cur),
			Currencies: client.Subscriptions(h.currencies),
		}

	default:
		return ErrorResponse{Type: "error", Error: "Unknown action"}
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client_id", client.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
