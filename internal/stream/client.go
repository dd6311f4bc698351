package stream

import (
	"sort"
	"sync"

	"cryptobot/internal/market"

	"github.com/gorilla/websocket"
)

const sendBuffer = 32

// Client is one websocket subscriber. Until it subscribes or unsubscribes
// explicitly it receives every currency.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan any

	mu       sync.RWMutex
	filtered bool
	wanted   map[market.Currency]bool

	sendMu sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan any, sendBuffer),
		wanted: make(map[market.Currency]bool),
	}
}

// Subscribe narrows the stream to c plus any earlier subscriptions.
func (c *Client) Subscribe(cur market.Currency) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filtered {
		c.filtered = true
		c.wanted = make(map[market.Currency]bool)
	}
	c.wanted[cur] = true
}

// Unsubscribe drops cur. all lists the currencies a client receives before
// it has filtered anything.
func (c *Client) Unsubscribe(cur market.Currency, all []market.Currency) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filtered {
		c.filtered = true
		c.wanted = make(map[market.Currency]bool, len(all))
		for _, a := range all {
			c.wanted[a] = true
		}
	}
	delete(c.wanted, cur)
}

func (c *Client) IsSubscribed(cur market.Currency) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.filtered || c.wanted[cur]
}

// Subscriptions returns the currencies the client receives, sorted.
func (c *Client) Subscriptions(all []market.Currency) []market.Currency {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.filtered {
		return append([]market.Currency(nil), all...)
	}
	out := make([]market.Currency, 0, len(c.wanted))
	for cur := range c.wanted {
		out = append(out, cur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// enqueue hands v to the write pump without blocking. It reports false when
// the buffer is full or the client is closed.
func (c *Client) enqueue(v any) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
