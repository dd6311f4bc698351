package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cryptobot/internal/admin"
	"cryptobot/internal/market"
	"cryptobot/internal/wallet"
	"cryptobot/pkg/storage/jsonfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	owner    int64 = 1001
	player   int64 = 2002
	stranger int64 = 3003
	logChat  int64 = -500
)

type sentMessage struct {
	chatID int64
	text   string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *captureNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID, text})
	return nil
}

type captureTrades struct {
	trades    []TradeEvent
	lookupErr error
}

func (c *captureTrades) RecordTrade(_ context.Context, t TradeEvent) error {
	c.trades = append(c.trades, t)
	return nil
}

func (c *captureTrades) RecentTrades(_ context.Context, userID int64, limit int) ([]TradeEvent, error) {
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	var out []TradeEvent
	for i := len(c.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if c.trades[i].UserID == userID {
			out = append(out, c.trades[i])
		}
	}
	return out, nil
}

type captureRecorder struct {
	commands []string
	trades   []string
}

func (r *captureRecorder) ObserveCommand(command, result string) {
	r.commands = append(r.commands, command+":"+result)
}

func (r *captureRecorder) ObserveTrade(side string, currency market.Currency) {
	r.trades = append(r.trades, side+":"+string(currency))
}

type fixture struct {
	d        *Dispatcher
	book     *market.Book
	ledger   *wallet.Ledger
	admins   *admin.Registry
	notifier *captureNotifier
	trades   *captureTrades
	recorder *captureRecorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	ps, err := jsonfile.New(dir, "prices")
	require.NoError(t, err)
	us, err := jsonfile.New(dir, "users")
	require.NoError(t, err)
	as, err := jsonfile.New(dir, "admin")
	require.NoError(t, err)

	currencies := []market.Currency{market.Buxcoin, market.Bitcoin}
	book := market.NewBook(market.Settings{
		InitialPrice: 3000, MinimumPrice: 1000, MaximumPrice: 1_000_000,
		Currencies: currencies, HistoryLimit: 100,
	}, ps, market.NewRandomSource(1), logger)
	book.Load()

	ledger := wallet.NewLedger(wallet.Settings{
		Currencies: currencies, MinTradeAmount: 0.0001, TransactionLimit: 50,
	}, us, logger)
	ledger.Load()

	admins := admin.NewRegistry(as, logger)
	admins.Load()

	f := &fixture{
		book: book, ledger: ledger, admins: admins,
		notifier: &captureNotifier{}, trades: &captureTrades{}, recorder: &captureRecorder{},
	}
	f.d = NewDispatcher(cfg, Deps{
		Book: book, Ledger: ledger, Admins: admins,
		Notifier: f.notifier, Trades: f.trades, History: f.trades, Recorder: f.recorder, Logger: logger,
	})
	return f
}

func (f *fixture) send(t *testing.T, from int64, text string) string {
	t.Helper()
	reply, handled := f.d.Handle(context.Background(), Message{ChatID: 77, UserID: from, Username: "tester", Text: text})
	require.True(t, handled, "command %q not handled", text)
	return reply.Text
}

// go test -v --run TestParse
func TestParse(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{"/buy buxcoin 2", "buy", []string{"buxcoin", "2"}, true},
		{"!BUY@CryptoBot  bitcoin 0.5", "buy", []string{"bitcoin", "0.5"}, true},
		{"  /prices  ", "prices", []string{}, true},
		{"hello there", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := parse(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.name, name)
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

// go test -v --run TestIgnoresPlainText
func TestIgnoresPlainText(t *testing.T) {
	f := newFixture(t, Config{})
	_, handled := f.d.Handle(context.Background(), Message{UserID: player, Text: "gm"})
	assert.False(t, handled)

	assert.Contains(t, f.send(t, player, "/nope"), "Unknown command")
}

// go test -v --run TestBuyAndSell
func TestBuyAndSell(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))
	require.NoError(t, f.admins.SetLogChannel(logChat))

	assert.Contains(t, f.send(t, player, "/buy buxcoin 1"), "Insufficient balance")

	assert.Contains(t, f.send(t, owner, "/give 2002 10000"), "New balance: €10000.00")

	reply := f.send(t, player, "/buy Buxcoin 2")
	assert.Contains(t, reply, "Purchase complete")
	assert.Contains(t, reply, "Total cost: €6000.00")

	w := f.ledger.Wallet(player)
	assert.Equal(t, 4000.0, w.Balance)
	assert.Equal(t, 2.0, w.Holding(market.Buxcoin))

	reply = f.send(t, player, "/sell buxcoin 0,5")
	assert.Contains(t, reply, "Total value: €1500.00")

	assert.Contains(t, f.send(t, player, "/sell buxcoin 5"), "do not have enough")
	assert.Contains(t, f.send(t, player, "/buy dogecoin 1"), "Invalid currency")
	assert.Contains(t, f.send(t, player, "/buy bitcoin -1"), "must be positive")
	assert.Contains(t, f.send(t, player, "/buy bitcoin 0.00001"), "minimum trade size")
	assert.Contains(t, f.send(t, player, "/buy bitcoin"), "Usage")

	require.Len(t, f.trades.trades, 2)
	assert.Equal(t, "buy", f.trades.trades[0].Side)
	assert.Equal(t, 6000.0, f.trades.trades[0].Total)
	assert.NotEmpty(t, f.trades.trades[0].ID)

	// give, buy and sell were logged to the log channel
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.sent, 3)
	assert.Equal(t, logChat, f.notifier.sent[1].chatID)
	assert.Contains(t, f.notifier.sent[1].text, "Action: buy")
}

// go test -v --run TestWalletAndPrices
func TestWalletAndPrices(t *testing.T) {
	f := newFixture(t, Config{})

	reply := f.send(t, player, "/wallet")
	assert.Contains(t, reply, "Balance: €0.00")
	assert.Contains(t, reply, "Buxcoin: 0.0000")

	reply = f.send(t, player, "/prices")
	assert.Contains(t, reply, "Buxcoin: €3000.00 (+0.00%)")
	assert.Contains(t, reply, "Bitcoin: €3000.00")
}

// go test -v --run TestPriceHistory
func TestPriceHistory(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 15; i++ {
		_, err := f.book.Tick(context.Background())
		require.NoError(t, err)
	}

	reply := f.send(t, player, "/pricehistory bitcoin")
	assert.Contains(t, reply, "Last 10 entries")

	reply = f.send(t, player, "/pricehistory bitcoin 30")
	assert.Contains(t, reply, "Last 16 entries")

	assert.Contains(t, f.send(t, player, "/pricehistory bitcoin 31"), "between 1 and 30")
	assert.Contains(t, f.send(t, player, "/pricehistory bitcoin 0"), "between 1 and 30")
	assert.Contains(t, f.send(t, player, "/pricehistory euro"), "Invalid currency")
}

// go test -v --run TestAdminOnly
func TestAdminOnly(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))

	for _, cmd := range []string{"/admin", "/give 1 1", "/removeuser 1 1", "/resetuser 1", "/viewuser 1",
		"/updateprice bitcoin 5000", "/resetprices", "/clearhistory", "/removeadmin 1001", "/setlogschannel", "/addadmin 3003"} {
		assert.Equal(t, msgNotAdmin, f.send(t, stranger, cmd), cmd)
	}
	assert.False(t, f.admins.IsAdmin(stranger))
}

// go test -v --run TestUpdatePrice
func TestUpdatePrice(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))

	reply := f.send(t, owner, "/updateprice bitcoin 4200")
	assert.Contains(t, reply, "New price: €4200.00")

	h, err := f.book.History(market.Bitcoin, 1)
	require.NoError(t, err)
	assert.True(t, h[0].Manual)
	assert.Equal(t, 0.0, h[0].Change)

	assert.Contains(t, f.send(t, owner, "/updateprice bitcoin 999"), "cannot be below €1000.00")
	assert.Contains(t, f.send(t, owner, "/updateprice bitcoin 0"), "must be positive")
	assert.Contains(t, f.send(t, owner, "/updateprice bitcoin 2000000"), "cannot be above")
	assert.Contains(t, f.send(t, owner, "/updateprice bitcoin abc"), "must be a number")

	assert.Contains(t, f.send(t, owner, "/resetprices"), "reset to €3000.00")
	p, _ := f.book.Price(market.Bitcoin)
	assert.Equal(t, 3000.0, p)
}

// go test -v --run TestClearHistory
func TestClearHistory(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))
	for i := 0; i < 3; i++ {
		_, err := f.book.Tick(context.Background())
		require.NoError(t, err)
	}

	assert.Contains(t, f.send(t, owner, "/clearhistory"), "back to €3000.00")

	h, err := f.book.History(market.Buxcoin, 0)
	require.NoError(t, err)
	assert.Len(t, h, 1)
	p, _ := f.book.Price(market.Buxcoin)
	assert.Equal(t, 3000.0, p)
	_, ok := f.book.LastUpdate()
	assert.False(t, ok)
}

// go test -v --run TestViewUserArchivedTrades
func TestViewUserArchivedTrades(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))

	assert.Contains(t, f.send(t, owner, "/viewuser 2002"), "No archived trades")

	f.send(t, owner, "/give 2002 10000")
	f.send(t, player, "/buy bitcoin 2")

	reply := f.send(t, owner, "/viewuser 2002")
	assert.Contains(t, reply, "Archived trades (1)")
	assert.Contains(t, reply, "Buy 2 at €3000.00 = €6000.00")

	f.trades.lookupErr = errors.New("connection refused")
	assert.Contains(t, f.send(t, owner, "/viewuser 2002"), "Trade archive unavailable")
}

// go test -v --run TestCommandResults
func TestCommandResults(t *testing.T) {
	f := newFixture(t, Config{})

	f.send(t, player, "/help")
	f.send(t, player, "/buy dogecoin 1")
	f.send(t, player, "/buy bitcoin 1")
	f.send(t, player, "/nope")
	f.send(t, player, "/give 1 1")

	assert.Equal(t, []string{"help:ok", "buy:error", "buy:error", "nope:unknown", "give:forbidden"}, f.recorder.commands)
	assert.Empty(t, f.recorder.trades)

	_, err := f.ledger.AdjustBalance(player, 5000)
	require.NoError(t, err)
	f.send(t, player, "/buy bitcoin 1")
	assert.Equal(t, "buy:ok", f.recorder.commands[len(f.recorder.commands)-1])
	assert.Equal(t, []string{"buy:bitcoin"}, f.recorder.trades)
}

// go test -v --run TestAdminManagement
func TestAdminManagement(t *testing.T) {
	f := newFixture(t, Config{})

	// anyone may add the first admin
	assert.Contains(t, f.send(t, stranger, "/addadmin 1001"), "Administrator added")
	assert.True(t, f.admins.IsAdmin(owner))

	assert.Equal(t, msgNotAdmin, f.send(t, stranger, "/addadmin 3003"))
	assert.Contains(t, f.send(t, owner, "/addadmin 1001"), "already an administrator")

	assert.Contains(t, f.send(t, owner, "/removeadmin 1001"), "last administrator")

	assert.Contains(t, f.send(t, owner, "/addadmin 2002"), "Administrator added")
	assert.Contains(t, f.send(t, owner, "/removeadmin 1001"), "your own")
	assert.Contains(t, f.send(t, owner, "/removeadmin 3003"), "not an administrator")
	assert.Contains(t, f.send(t, owner, "/removeadmin 2002"), "Permissions removed")
	assert.Equal(t, []int64{owner}, f.admins.List())

	assert.Contains(t, f.send(t, player, "/listadmins"), "• 1001")
}

// go test -v --run TestReplyTarget
func TestReplyTarget(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))

	reply, handled := f.d.Handle(context.Background(), Message{
		ChatID: 1, UserID: owner, Text: "/give 250", ReplyToUserID: player,
	})
	require.True(t, handled)
	assert.Contains(t, reply.Text, "User: 2002")
	assert.Equal(t, 250.0, f.ledger.Wallet(player).Balance)

	assert.Contains(t, f.send(t, owner, "/removeuser 2002 300"), "only has €250.00")
	assert.Contains(t, f.send(t, owner, "/removeuser 2002 50"), "New balance: €200.00")

	reply2 := f.send(t, owner, "/viewuser 2002")
	assert.Contains(t, reply2, "Total value: €200.00")
	assert.Contains(t, reply2, "Recent transactions")

	assert.Contains(t, f.send(t, owner, "/resetuser 2002"), "New balance: €0.00")
	assert.Empty(t, f.ledger.Wallet(player).Transactions)

	assert.Contains(t, f.send(t, owner, "/give"), "Usage")
}

// go test -v --run TestSetLogsChannel
func TestSetLogsChannel(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.admins.Seed(owner))

	assert.Contains(t, f.send(t, owner, "/setlogschannel"), "this chat")
	ch, ok := f.admins.LogChannel()
	require.True(t, ok)
	assert.Equal(t, int64(77), ch)
}

// go test -v --run TestRateLimit
func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 0.001, RateBurst: 2})

	assert.NotContains(t, f.send(t, player, "/help"), "Slow down")
	assert.NotContains(t, f.send(t, player, "/help"), "Slow down")
	assert.Contains(t, f.send(t, player, "/help"), "Slow down")

	// limits are per user
	assert.NotContains(t, f.send(t, stranger, "/help"), "Slow down")
}
