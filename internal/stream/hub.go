package stream

import (
	"context"
	"sync"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const broadcastBuffer = 256

// Event is the JSON frame pushed to subscribers.
type Event struct {
	Type      string            `json:"type"` // "price" or "snapshot"
	Kind      market.UpdateKind `json:"kind,omitempty"`
	Currency  market.Currency   `json:"currency,omitempty"`
	Price     float64           `json:"price,omitempty"`
	OldPrice  float64           `json:"old_price,omitempty"`
	Change    float64           `json:"change"`
	ChangePct float64           `json:"change_pct"`
	Manual    bool              `json:"manual,omitempty"`
	Reset     bool              `json:"reset,omitempty"`
	Timestamp *market.Timestamp `json:"timestamp,omitempty"`

	Prices map[market.Currency]float64 `json:"prices,omitempty"`
}

// ConnRecorder counts open connections.
type ConnRecorder interface {
	StreamClientConnected()
	StreamClientDisconnected()
}

// Hub fans committed price updates out to websocket clients.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	mu         sync.RWMutex

	currencies []market.Currency
	snapshot   func() map[market.Currency]float64
	recorder   ConnRecorder
	logger     *zap.Logger
}

// NewHub creates a hub for the given currencies. snapshot, if not nil,
// supplies the prices sent to a client when it connects.
func NewHub(currencies []market.Currency, snapshot func() map[market.Currency]float64, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, broadcastBuffer),
		done:       make(chan struct{}),
		currencies: append([]market.Currency(nil), currencies...),
		snapshot:   snapshot,
		logger:     logger.Named("stream"),
	}
}

func (h *Hub) WithRecorder(r ConnRecorder) *Hub {
	h.recorder = r
	return h
}

// Run serves register, unregister and broadcast requests until ctx is
// cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.close()
				h.disconnected()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			if h.recorder != nil {
				h.recorder.StreamClientConnected()
			}
			h.logger.Debug("client connected", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.close()
				h.disconnected()
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.String("client_id", client.ID))

		case ev := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if !client.IsSubscribed(ev.Currency) {
					continue
				}
				if !client.enqueue(ev) {
					h.logger.Warn("client buffer full, skipping message", zap.String("client_id", client.ID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) disconnected() {
	if h.recorder != nil {
		h.recorder.StreamClientDisconnected()
	}
}

// RegisterClient adds conn to the hub. ok is false once the hub has stopped.
func (h *Hub) RegisterClient(conn *websocket.Conn) (client *Client, ok bool) {
	client = newClient(uuid.New().String(), conn)
	if h.snapshot != nil {
		client.enqueue(Event{Type: "snapshot", Prices: h.snapshot()})
	}

	select {
	case h.register <- client:
		return client, true
	case <-h.done:
		client.close()
		return client, false
	}
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// OnPriceUpdate queues one event per changed currency. It implements
// market.TickObserver and never blocks the caller.
func (h *Hub) OnPriceUpdate(_ context.Context, u market.Update) {
	for _, c := range u.Changes {
		ts := c.Entry.Timestamp
		ev := Event{
			Type:      "price",
			Kind:      u.Kind,
			Currency:  c.Currency,
			Price:     c.NewPrice,
			OldPrice:  c.OldPrice,
			Change:    c.Change,
			ChangePct: c.ChangePercent(),
			Manual:    c.Entry.Manual,
			Reset:     c.Entry.Reset,
			Timestamp: &ts,
		}
		select {
		case h.broadcast <- ev:
		default:
			h.logger.Warn("broadcast queue full, dropping price event", zap.String("currency", string(c.Currency)))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Currencies lists the currencies clients may subscribe to.
func (h *Hub) Currencies() []market.Currency {
	return append([]market.Currency(nil), h.currencies...)
}

func (h *Hub) known(c market.Currency) bool {
	for _, k := range h.currencies {
		if k == c {
			return true
		}
	}
	return false
}
