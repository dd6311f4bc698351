package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cryptobot/internal/market"

	"go.uber.org/zap"
)

// targetUser resolves the user an admin command applies to. When args holds
// more than want values the first one is an explicit numeric id, otherwise
// the author of the replied-to message is used. rest holds the remaining
// arguments.
func targetUser(msg Message, args []string, want int) (id int64, rest []string, ok bool) {
	if len(args) > want {
		s := strings.TrimPrefix(args[0], "@")
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v == 0 {
			return 0, args, false
		}
		return v, args[1:], true
	}
	if msg.ReplyToUserID != 0 {
		return msg.ReplyToUserID, args, true
	}
	return 0, args, false
}

func (d *Dispatcher) adminHelp(_ context.Context, _ Message, _ []string) Reply {
	var b strings.Builder
	b.WriteString("👑 Administrator commands\n")
	b.WriteString("Users are given by numeric id or by replying to one of their messages.\n\n")
	b.WriteString("/give <user> <amount> - give money\n")
	b.WriteString("/removeuser <user> <amount> - remove money\n")
	b.WriteString("/resetuser <user> - reset a wallet\n")
	b.WriteString("/viewuser <user> - show a wallet\n")
	b.WriteString("/updateprice <currency> <price> - set a price manually\n")
	b.WriteString("/resetprices - reset every price to the initial value\n")
	b.WriteString("/clearhistory - reset every price and discard the price history\n")
	b.WriteString("/addadmin <user> - add an administrator\n")
	b.WriteString("/removeadmin <user> - remove an administrator\n")
	b.WriteString("/setlogschannel - send transaction logs to this chat")
	return Reply{Text: b.String()}
}

func (d *Dispatcher) give(ctx context.Context, msg Message, args []string) Reply {
	target, rest, ok := targetUser(msg, args, 1)
	if !ok || len(rest) < 1 {
		return Reply{Text: "❌ Usage: /give <user> <amount>"}
	}
	amount, ok := positiveArg(rest[0])
	if !ok {
		return Reply{Text: "❌ The amount must be positive."}
	}

	balance, err := d.ledger.AdjustBalance(target, amount)
	if err != nil {
		d.logger.Error("give failed", zap.Int64("target", target), zap.Error(err))
		return Reply{Text: "❌ Could not add money."}
	}
	if err := d.ledger.Save(); err != nil {
		d.logger.Warn("failed to force-save after give", zap.Error(err))
	}

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminGive, Amount: amount, TargetID: target})
	return Reply{Text: fmt.Sprintf("✅ Money given\nUser: %d\nAmount: %s\nNew balance: %s",
		target, formatEUR(amount), formatEUR(balance))}
}

func (d *Dispatcher) removeUser(ctx context.Context, msg Message, args []string) Reply {
	target, rest, ok := targetUser(msg, args, 1)
	if !ok || len(rest) < 1 {
		return Reply{Text: "❌ Usage: /removeuser <user> <amount>"}
	}
	amount, ok := positiveArg(rest[0])
	if !ok {
		return Reply{Text: "❌ The amount must be positive."}
	}

	w := d.ledger.Wallet(target)
	if w.Balance < amount {
		return Reply{Text: fmt.Sprintf("❌ User %d only has %s in their wallet.", target, formatEUR(w.Balance))}
	}

	balance, err := d.ledger.AdjustBalance(target, -amount)
	if err != nil {
		d.logger.Error("removeuser failed", zap.Int64("target", target), zap.Error(err))
		return Reply{Text: "❌ Could not remove money."}
	}

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminRemoveMoney, Amount: amount, TargetID: target})
	return Reply{Text: fmt.Sprintf("✅ Money removed\nUser: %d\nAmount removed: %s\nNew balance: %s",
		target, formatEUR(amount), formatEUR(balance))}
}

func (d *Dispatcher) resetUser(ctx context.Context, msg Message, args []string) Reply {
	target, _, ok := targetUser(msg, args, 0)
	if !ok {
		return Reply{Text: "❌ Usage: /resetuser <user>"}
	}

	d.ledger.ResetUser(target)
	w := d.ledger.Wallet(target)

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminResetUser, TargetID: target})
	return Reply{Text: fmt.Sprintf("✅ User reset\nUser: %d\nNew balance: %s", target, formatEUR(w.Balance))}
}

func (d *Dispatcher) viewUser(ctx context.Context, msg Message, args []string) Reply {
	target, _, ok := targetUser(msg, args, 0)
	if !ok {
		return Reply{Text: "❌ Usage: /viewuser <user>"}
	}

	w := d.ledger.Wallet(target)
	text := d.renderWallet(fmt.Sprintf("👤 Wallet of %d", target), w, true)

	if n := len(w.Transactions); n > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n📝 Recent transactions")
		start := n - 3
		if start < 0 {
			start = 0
		}
		for _, tx := range w.Transactions[start:] {
			fmt.Fprintf(&b, "\n• %s %.4f %s", title(string(tx.Type)), tx.Amount, tx.Currency)
		}
		text = b.String()
	}

	if d.history != nil {
		text += d.archivedTrades(ctx, target)
	}
	return Reply{Text: text}
}

func (d *Dispatcher) archivedTrades(ctx context.Context, userID int64) string {
	trades, err := d.history.RecentTrades(ctx, userID, viewUserTrades)
	if err != nil {
		d.logger.Warn("archived trade lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return "\n🗄 Trade archive unavailable"
	}
	if len(trades) == 0 {
		return "\n🗄 No archived trades"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n🗄 Archived trades (%d)", len(trades))
	for _, tr := range trades {
		fmt.Fprintf(&b, "\n• %s %s %s at %s = %s", tr.At.Local().Format("02/01 15:04"), title(tr.Side),
			formatAmount(tr.Amount), formatEUR(tr.Price), formatEUR(tr.Total))
	}
	return b.String()
}

func (d *Dispatcher) updatePrice(ctx context.Context, msg Message, args []string) Reply {
	if len(args) < 2 {
		return Reply{Text: "❌ Usage: /updateprice <currency> <price>"}
	}
	c, ok := d.currencyArg(args[0])
	if !ok {
		return Reply{Text: "❌ Invalid currency. Use " + d.currencyList() + "."}
	}
	price, err := parseAmount(args[1])
	if err != nil {
		return Reply{Text: "❌ The price must be a number."}
	}

	old, _ := d.book.Price(c)
	_, err = d.book.SetPrice(ctx, c, price)
	settings := d.book.Settings()
	switch {
	case err == nil:
	case errors.Is(err, market.ErrNonPositivePrice):
		return Reply{Text: "❌ The price must be positive."}
	case errors.Is(err, market.ErrBelowMinimum):
		return Reply{Text: fmt.Sprintf("❌ The price cannot be below %s.", formatEUR(settings.MinimumPrice))}
	case errors.Is(err, market.ErrAboveMaximum):
		return Reply{Text: fmt.Sprintf("❌ The price cannot be above %s.", formatEUR(settings.MaximumPrice))}
	default:
		d.logger.Error("manual price update failed", zap.String("currency", string(c)), zap.Error(err))
		return Reply{Text: "❌ Could not update the price."}
	}

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminPriceUpdate, Currency: c, Price: price})
	return Reply{Text: fmt.Sprintf("✅ Price updated\nCurrency: %s\nOld price: %s\nNew price: %s",
		title(string(c)), formatEUR(old), formatEUR(price))}
}

func (d *Dispatcher) resetPrices(ctx context.Context, msg Message, _ []string) Reply {
	if err := d.book.ForceReset(ctx); err != nil {
		d.logger.Error("price reset failed", zap.Error(err))
		return Reply{Text: "❌ Could not reset prices."}
	}

	initial := d.book.Settings().InitialPrice
	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminPriceReset, Price: initial})
	return Reply{Text: fmt.Sprintf("✅ All prices reset to %s", formatEUR(initial))}
}

func (d *Dispatcher) clearHistory(ctx context.Context, msg Message, _ []string) Reply {
	if err := d.book.Reset(ctx); err != nil {
		d.logger.Error("price history reset failed", zap.Error(err))
		return Reply{Text: "❌ Could not clear the price history."}
	}

	initial := d.book.Settings().InitialPrice
	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminPriceClear, Price: initial})
	return Reply{Text: fmt.Sprintf("✅ Price history cleared, every price is back to %s", formatEUR(initial))}
}

func (d *Dispatcher) addAdmin(ctx context.Context, msg Message, args []string) Reply {
	if d.admins.Count() > 0 && !d.admins.IsAdmin(msg.UserID) {
		return Reply{Text: msgNotAdmin}
	}
	target, _, ok := targetUser(msg, args, 0)
	if !ok {
		return Reply{Text: "❌ Usage: /addadmin <user>"}
	}

	added, err := d.admins.Add(target)
	if err != nil {
		d.logger.Error("addadmin failed", zap.Int64("target", target), zap.Error(err))
		return Reply{Text: "❌ Could not add the administrator."}
	}
	if !added {
		return Reply{Text: fmt.Sprintf("❌ %d is already an administrator.", target)}
	}

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminAdd, TargetID: target})
	return Reply{Text: fmt.Sprintf("✅ Administrator added\nNew admin: %d\nAdded by: %s", target, displayName(msg.Username, msg.UserID))}
}

func (d *Dispatcher) removeAdmin(ctx context.Context, msg Message, args []string) Reply {
	target, _, ok := targetUser(msg, args, 0)
	if !ok {
		return Reply{Text: "❌ Usage: /removeadmin <user>"}
	}
	if !d.admins.IsAdmin(target) {
		return Reply{Text: fmt.Sprintf("❌ %d is not an administrator.", target)}
	}
	if d.admins.Count() <= 1 {
		return Reply{Text: "❌ Cannot remove the last administrator. Add another admin first."}
	}
	if target == msg.UserID {
		return Reply{Text: "❌ You cannot remove your own administrator permissions."}
	}

	removed, err := d.admins.Remove(target)
	if err != nil || !removed {
		d.logger.Error("removeadmin failed", zap.Int64("target", target), zap.Error(err))
		return Reply{Text: "❌ Could not remove the administrator."}
	}

	d.publish(ctx, LogEvent{UserID: msg.UserID, Username: msg.Username, Action: ActionAdminRemove, TargetID: target})
	return Reply{Text: fmt.Sprintf("✅ Permissions removed\nEx-admin: %d\nRemoved by: %s", target, displayName(msg.Username, msg.UserID))}
}

func (d *Dispatcher) setLogsChannel(_ context.Context, msg Message, _ []string) Reply {
	if err := d.admins.SetLogChannel(msg.ChatID); err != nil {
		d.logger.Error("setlogschannel failed", zap.Error(err))
		return Reply{Text: "❌ Could not configure the log channel."}
	}
	return Reply{Text: "✅ Transaction logs will be sent to this chat."}
}
