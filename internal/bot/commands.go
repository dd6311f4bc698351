package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cryptobot/internal/market"
	"cryptobot/internal/wallet"

	"go.uber.org/zap"
)

const (
	historyDefaultLimit = 10
	historyMaxLimit     = 30
	viewUserTrades      = 5
)

const (
	msgNotAdmin      = "❌ You do not have administrator permissions for this command."
	msgInternalError = "❌ Something went wrong, please try again later."
)

func (d *Dispatcher) currencyList() string {
	cs := d.book.Currencies()
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = "'" + string(c) + "'"
	}
	return strings.Join(names, " or ")
}

// currencyArg validates a currency argument.
func (d *Dispatcher) currencyArg(s string) (market.Currency, bool) {
	c := market.Currency(strings.ToLower(strings.TrimSpace(s)))
	return c, d.book.IsCurrency(c)
}

// positiveArg parses a strictly positive finite number.
func positiveArg(s string) (float64, bool) {
	v, err := parseAmount(s)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

func (d *Dispatcher) help(_ context.Context, _ Message, _ []string) Reply {
	var b strings.Builder
	b.WriteString("🤖 Available commands\n\n")
	b.WriteString("💰 Trading\n")
	b.WriteString("/prices - current prices\n")
	b.WriteString("/wallet - your wallet\n")
	b.WriteString("/buy <currency> <amount> - buy a currency\n")
	b.WriteString("/sell <currency> <amount> - sell a currency\n\n")
	b.WriteString("ℹ️ Information\n")
	b.WriteString("/help - this help\n")
	b.WriteString("/listadmins - list administrators\n")
	fmt.Fprintf(&b, "/pricehistory <currency> [limit] - price history (1-%d, default %d)\n\n", historyMaxLimit, historyDefaultLimit)
	b.WriteString("💡 Examples\n")
	b.WriteString("/buy buxcoin 10\n/sell bitcoin 5\n/pricehistory bitcoin 15")
	return Reply{Text: b.String()}
}

func (d *Dispatcher) prices(_ context.Context, _ Message, _ []string) Reply {
	summary := d.book.Summary()

	var b strings.Builder
	b.WriteString("🪙 Current prices\n")
	for _, c := range d.book.Currencies() {
		s := summary[c]
		fmt.Fprintf(&b, "%s: %s (%s)\n", title(string(c)), formatEUR(s.CurrentPrice), formatPercent(s.ChangePercentage))
	}
	if last, ok := d.book.LastUpdate(); ok {
		fmt.Fprintf(&b, "📅 Last update: %s", last.Format("2006-01-02 15:04:05"))
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

func (d *Dispatcher) renderWallet(header string, w wallet.Wallet, withTotal bool) string {
	prices := d.book.Prices()

	var b strings.Builder
	b.WriteString(header + "\n")
	fmt.Fprintf(&b, "💵 Balance: %s\n", formatEUR(w.Balance))

	cryptoValue := 0.0
	for _, c := range d.book.Currencies() {
		amount := w.Holding(c)
		value := amount * prices[c]
		cryptoValue += value
		fmt.Fprintf(&b, "%s: %.4f (%s/unit, total %s)\n", title(string(c)), amount, formatEUR(prices[c]), formatEUR(value))
	}
	fmt.Fprintf(&b, "💎 Total crypto value: %s", formatEUR(cryptoValue))
	if withTotal {
		fmt.Fprintf(&b, "\n📊 Total value: %s", formatEUR(w.Balance+cryptoValue))
	}
	return b.String()
}

func (d *Dispatcher) wallet(_ context.Context, msg Message, _ []string) Reply {
	w := d.ledger.Wallet(msg.UserID)
	return Reply{Text: d.renderWallet("💰 Your wallet", w, false)}
}

type tradeSide int

const (
	sideBuy tradeSide = iota
	sideSell
)

func (d *Dispatcher) buy(ctx context.Context, msg Message, args []string) Reply {
	return d.trade(ctx, msg, args, sideBuy)
}

func (d *Dispatcher) sell(ctx context.Context, msg Message, args []string) Reply {
	return d.trade(ctx, msg, args, sideSell)
}

func (d *Dispatcher) trade(ctx context.Context, msg Message, args []string, side tradeSide) Reply {
	verb := ActionBuy
	if side == sideSell {
		verb = ActionSell
	}
	if len(args) < 2 {
		return Reply{Text: fmt.Sprintf("❌ Usage: /%s <currency> <amount>", verb)}
	}

	c, ok := d.currencyArg(args[0])
	if !ok {
		return Reply{Text: "❌ Invalid currency. Use " + d.currencyList() + "."}
	}
	amount, ok := positiveArg(args[1])
	if !ok {
		return Reply{Text: "❌ The amount must be positive."}
	}
	price, ok := d.book.Price(c)
	if !ok {
		return Reply{Text: "❌ Invalid currency. Use " + d.currencyList() + "."}
	}

	var (
		tx  wallet.Transaction
		err error
	)
	if side == sideBuy {
		tx, err = d.ledger.Buy(msg.UserID, c, amount, price)
	} else {
		tx, err = d.ledger.Sell(msg.UserID, c, amount, price)
	}

	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrAmountTooSmall):
		return Reply{Text: "❌ The amount is below the minimum trade size."}
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return Reply{Text: "❌ Insufficient balance for this purchase."}
	case errors.Is(err, wallet.ErrInsufficientHoldings):
		return Reply{Text: "❌ You do not have enough of this currency."}
	default:
		d.logger.Error("trade failed", zap.String("side", verb), zap.Int64("user_id", msg.UserID), zap.Error(err))
		return Reply{Text: msgInternalError}
	}

	total := tx.TotalCost
	label := "Total cost"
	if side == sideSell {
		total = tx.TotalValue
		label = "Total value"
	}

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: verb, Currency: c, Amount: amount, Price: price})
	d.recordTrade(ctx, TradeEvent{
		ID: tx.ID, UserID: msg.UserID, Side: verb, Currency: c,
		Amount: amount, Price: price, Total: total, At: tx.Timestamp.Time,
	})

	heading := "✅ Purchase complete"
	if side == sideSell {
		heading = "✅ Sale complete"
	}
	return Reply{Text: fmt.Sprintf("%s\nCurrency: %s\nAmount: %s\nUnit price: %s\n%s: %s",
		heading, title(string(c)), formatAmount(amount), formatEUR(price), label, formatEUR(total))}
}

func (d *Dispatcher) priceHistory(_ context.Context, _ Message, args []string) Reply {
	if len(args) < 1 {
		return Reply{Text: "❌ Usage: /pricehistory <currency> [limit]"}
	}
	c, ok := d.currencyArg(args[0])
	if !ok {
		return Reply{Text: "❌ Invalid currency. Use " + d.currencyList() + "."}
	}

	limit := historyDefaultLimit
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 || n > historyMaxLimit {
			return Reply{Text: fmt.Sprintf("❌ The limit must be between 1 and %d.", historyMaxLimit)}
		}
		limit = n
	}

	history, err := d.book.History(c, limit)
	if err != nil || len(history) == 0 {
		return Reply{Text: "❌ No history available for this currency."}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Price history - %s\nLast %d entries\n", title(string(c)), len(history))
	for _, e := range history {
		fmt.Fprintf(&b, "%s - %s", e.Timestamp.Local().Format("02/01 15:04"), formatEUR(e.Price))
		if e.Change != 0 {
			fmt.Fprintf(&b, " (%s)", formatSignedEUR(e.Change))
		}
		switch {
		case e.Manual:
			b.WriteString(" [manual]")
		case e.Reset:
			b.WriteString(" [reset]")
		}
		b.WriteString("\n")
	}
	current, _ := d.book.Price(c)
	fmt.Fprintf(&b, "Current price: %s", formatEUR(current))
	return Reply{Text: b.String()}
}

func (d *Dispatcher) listAdmins(_ context.Context, _ Message, _ []string) Reply {
	ids := d.admins.List()
	if len(ids) == 0 {
		return Reply{Text: "👑 No administrators configured yet."}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👑 Administrators (%d)", len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "\n• %d", id)
	}
	return Reply{Text: b.String()}
}
