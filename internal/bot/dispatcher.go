package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"cryptobot/internal/admin"
	"cryptobot/internal/market"
	"cryptobot/internal/wallet"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message is an incoming chat message, independent of the chat platform.
type Message struct {
	ChatID   int64
	UserID   int64
	Username string
	Text     string
	// ReplyToUserID is the author of the message being replied to, or 0.
	ReplyToUserID int64
}

// Reply is the text sent back to the chat the message came from.
type Reply struct {
	Text string
}

// Failed reports whether the reply is a usage or error message.
func (r Reply) Failed() bool {
	return strings.HasPrefix(r.Text, "❌")
}

type Config struct {
	RateLimit float64 // commands per second per user, 0 disables limiting
	RateBurst int
}

type Deps struct {
	Book     *market.Book
	Ledger   *wallet.Ledger
	Admins   *admin.Registry
	Notifier Notifier
	Trades   TradeRecorder
	History  TradeHistory // optional, shown by /viewuser
	Recorder Recorder
	Logger   *zap.Logger
}

type handlerFunc func(ctx context.Context, msg Message, args []string) Reply

type command struct {
	handler   handlerFunc
	adminOnly bool
}

// Dispatcher parses chat commands and runs them against the economy.
type Dispatcher struct {
	book     *market.Book
	ledger   *wallet.Ledger
	admins   *admin.Registry
	notifier Notifier
	trades   TradeRecorder
	history  TradeHistory
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	commands map[string]command

	limitMu  sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	d := &Dispatcher{
		book:     deps.Book,
		ledger:   deps.Ledger,
		admins:   deps.Admins,
		notifier: deps.Notifier,
		trades:   deps.Trades,
		history:  deps.History,
		recorder: deps.Recorder,
		logger:   deps.Logger.Named("bot"),
		now:      time.Now,
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Limit(cfg.RateLimit),
		burst:    cfg.RateBurst,
	}
	if d.burst <= 0 {
		d.burst = 1
	}

	d.commands = map[string]command{
		"start":        {handler: d.help},
		"help":         {handler: d.help},
		"prices":       {handler: d.prices},
		"wallet":       {handler: d.wallet},
		"buy":          {handler: d.buy},
		"sell":         {handler: d.sell},
		"pricehistory": {handler: d.priceHistory},
		"listadmins":   {handler: d.listAdmins},

		"admin":          {handler: d.adminHelp, adminOnly: true},
		"give":           {handler: d.give, adminOnly: true},
		"removeuser":     {handler: d.removeUser, adminOnly: true},
		"resetuser":      {handler: d.resetUser, adminOnly: true},
		"viewuser":       {handler: d.viewUser, adminOnly: true},
		"updateprice":    {handler: d.updatePrice, adminOnly: true},
		"resetprices":    {handler: d.resetPrices, adminOnly: true},
		"clearhistory":   {handler: d.clearHistory, adminOnly: true},
		"removeadmin":    {handler: d.removeAdmin, adminOnly: true},
		"setlogschannel": {handler: d.setLogsChannel, adminOnly: true},
		// checks its own permissions: the first admin may be added by anyone
		"addadmin": {handler: d.addAdmin},
	}
	return d
}

// SetNotifier attaches the log channel transport once it exists.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifier = n
}

// parse splits "/buy@cryptobot buxcoin 2" into ("buy", ["buxcoin", "2"]).
// ok is false for text that is not a command.
func parse(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" || (text[0] != '/' && text[0] != '!') {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, fields[1:], name != ""
}

// Handle runs the command in msg. handled is false when msg is not a command
// and should be ignored.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (reply Reply, handled bool) {
	name, args, ok := parse(msg.Text)
	if !ok {
		return Reply{}, false
	}

	cmd, known := d.commands[name]
	if !known {
		d.observe(name, "unknown")
		return Reply{Text: "❌ Unknown command. Use /help to see the available commands."}, true
	}

	if !d.allow(msg.UserID) {
		d.observe(name, "rate_limited")
		return Reply{Text: "⏳ Slow down, you are sending commands too quickly."}, true
	}

	if cmd.adminOnly && !d.admins.IsAdmin(msg.UserID) {
		d.observe(name, "forbidden")
		return Reply{Text: msgNotAdmin}, true
	}

	d.logger.Debug("command",
		zap.String("command", name), zap.Int64("user_id", msg.UserID), zap.Strings("args", args))

	reply = d.safeRun(ctx, name, cmd.handler, msg, args)
	result := "ok"
	if reply.Failed() {
		result = "error"
	}
	d.observe(name, result)
	return reply, true
}

func (d *Dispatcher) safeRun(ctx context.Context, name string, h handlerFunc, msg Message, args []string) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", zap.String("command", name), zap.Any("panic", r))
			reply = Reply{Text: "❌ Something went wrong while running this command."}
		}
	}()
	return h(ctx, msg, args)
}

func (d *Dispatcher) allow(userID int64) bool {
	if d.limit <= 0 {
		return true
	}

	d.limitMu.Lock()
	l, ok := d.limiters[userID]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[userID] = l
	}
	d.limitMu.Unlock()

	return l.Allow()
}

func (d *Dispatcher) observe(command, result string) {
	if d.recorder != nil {
		d.recorder.ObserveCommand(command, result)
	}
}

// publish sends ev to the log channel if one is configured. Failures are
// logged only.
func (d *Dispatcher) publish(ctx context.Context, ev LogEvent) {
	ev.At = d.now()

	channel, ok := d.admins.LogChannel()
	if !ok || d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, channel, ev.Text()); err != nil {
		d.logger.Warn("failed to send log event", zap.String("action", ev.Action), zap.Error(err))
	}
}

func (d *Dispatcher) recordTrade(ctx context.Context, ev TradeEvent) {
	if d.recorder != nil {
		d.recorder.ObserveTrade(ev.Side, ev.Currency)
	}
	if d.trades == nil {
		return
	}
	if err := d.trades.RecordTrade(ctx, ev); err != nil {
		d.logger.Warn("failed to archive trade", zap.String("trade_id", ev.ID), zap.Error(err))
	}
}
