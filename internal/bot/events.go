package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptobot/internal/market"
)

// Action names used in log events and trade records.
const (
	ActionBuy              = "buy"
	ActionSell             = "sell"
	ActionAdminGive        = "admin_give"
	ActionAdminRemoveMoney = "admin_remove_money"
	ActionAdminResetUser   = "admin_reset_user"
	ActionAdminPriceUpdate = "admin_price_update"
	ActionAdminPriceReset  = "admin_price_reset"
	ActionAdminPriceClear  = "admin_price_clear"
	ActionAdminAdd         = "admin_add"
	ActionAdminRemove      = "admin_remove"
)

// LogEvent is a transaction or admin action reported to the log channel.
type LogEvent struct {
	At       time.Time
	UserID   int64
	Username string
	Action   string
	Currency market.Currency
	Amount   float64
	Price    float64
	TargetID int64
}

// Text renders the event for a chat message.
func (e LogEvent) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 Transaction log\nUser: %s (ID: %d)\nAction: %s", displayName(e.Username, e.UserID), e.UserID, e.Action)
	if e.Currency != "" {
		fmt.Fprintf(&b, "\nCurrency: %s", title(string(e.Currency)))
	}
	if e.Amount != 0 {
		fmt.Fprintf(&b, "\nAmount: %s", formatAmount(e.Amount))
	}
	if e.Price != 0 {
		fmt.Fprintf(&b, "\nPrice: %s", formatEUR(e.Price))
	}
	if e.TargetID != 0 {
		fmt.Fprintf(&b, "\nTarget: %d", e.TargetID)
	}
	fmt.Fprintf(&b, "\nAt: %s", e.At.Format("2006-01-02 15:04:05"))
	return b.String()
}

// TradeEvent describes a completed buy or sell.
type TradeEvent struct {
	ID       string
	UserID   int64
	Side     string
	Currency market.Currency
	Amount   float64
	Price    float64
	Total    float64
	At       time.Time
}

// Notifier delivers text to a chat, e.g. the configured log channel.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// TradeRecorder archives completed trades.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade TradeEvent) error
}

// TradeHistory looks up archived trades of a user, newest first.
type TradeHistory interface {
	RecentTrades(ctx context.Context, userID int64, limit int) ([]TradeEvent, error)
}

// Recorder receives command and trade counts.
type Recorder interface {
	ObserveCommand(command, result string)
	ObserveTrade(side string, currency market.Currency)
}
