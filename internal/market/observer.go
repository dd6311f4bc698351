package market

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateTick   UpdateKind = "tick"
	UpdateManual UpdateKind = "manual"
	UpdateReset  UpdateKind = "reset"
)

// PriceChange describes what happened to one currency during an update.
type PriceChange struct {
	Currency Currency     `json:"currency"`
	OldPrice float64      `json:"old_price"`
	NewPrice float64      `json:"new_price"`
	Change   float64      `json:"change"`
	Entry    HistoryEntry `json:"entry"`
}

// ChangePercent is the true relative move, post clamp.
func (c PriceChange) ChangePercent() float64 {
	if c.OldPrice <= 0 {
		return 0
	}
	return (c.NewPrice - c.OldPrice) / c.OldPrice * 100
}

// Update is published to observers after a change has been persisted.
type Update struct {
	Kind    UpdateKind    `json:"kind"`
	At      time.Time     `json:"at"`
	Changes []PriceChange `json:"changes"`
}

// TickObserver is notified after every committed price change. Implementations
// must not block for long; they run on the caller's goroutine.
type TickObserver interface {
	OnPriceUpdate(ctx context.Context, update Update)
}

// ObserverFunc adapts a function to TickObserver.
type ObserverFunc func(ctx context.Context, update Update)

func (f ObserverFunc) OnPriceUpdate(ctx context.Context, update Update) { f(ctx, update) }
