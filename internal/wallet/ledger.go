package wallet

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"cryptobot/config"
	"cryptobot/internal/market"
	"cryptobot/pkg/storage/jsonfile"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownCurrency      = errors.New("unknown currency")
	ErrAmountTooSmall       = errors.New("amount below minimum trade size")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

type Settings struct {
	Currencies       []market.Currency
	InitialBalance   float64
	MinTradeAmount   float64
	TransactionLimit int
}

func SettingsFromConfig(cfg config.BotConfig) Settings {
	currencies := make([]market.Currency, len(cfg.Currencies))
	for i, c := range cfg.Currencies {
		currencies[i] = market.Currency(c)
	}
	return Settings{
		Currencies:       currencies,
		InitialBalance:   cfg.InitialBalance,
		MinTradeAmount:   cfg.MinTradeAmount,
		TransactionLimit: cfg.TransactionLimit,
	}
}

// DocumentStore persists the users document. *jsonfile.Store satisfies it.
type DocumentStore interface {
	Read(v any) error
	Write(v any) error
	WriteBackup(prefix string, v any, now time.Time) (string, error)
	SetAside(now time.Time) (string, error)
}

// Stats aggregates every wallet.
type Stats struct {
	Users          int                         `json:"users"`
	TotalBalance   float64                     `json:"total_balance"`
	Holdings       map[market.Currency]float64 `json:"holdings"`
	PortfolioValue float64                     `json:"portfolio_value"`
	Transactions   int                         `json:"transactions"`
}

// Ledger owns every user wallet. Mutations are applied in memory and then
// saved; a failed save is logged and picked up by the next auto-save.
type Ledger struct {
	mu    sync.RWMutex
	users map[string]Wallet

	settings Settings
	store    DocumentStore
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewLedger(settings Settings, store DocumentStore, logger *zap.Logger) *Ledger {
	if settings.TransactionLimit <= 0 {
		settings.TransactionLimit = 50
	}
	return &Ledger{
		users:    make(map[string]Wallet),
		settings: settings,
		store:    store,
		logger:   logger.Named("wallet"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Load reads the users document. A corrupt document is copied aside before
// the next save can replace it; the ledger starts empty and the cause is
// returned.
func (l *Ledger) Load() jsonfile.LoadResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	users := make(map[string]Wallet)
	err := l.store.Read(&users)
	switch {
	case err == nil:
		for id, w := range users {
			users[id] = l.normalize(w)
		}
		l.users = users
		l.logger.Info("loaded users", zap.Int("users", len(users)))
		return jsonfile.LoadResult{Status: jsonfile.Loaded}

	case jsonfile.IsNotExist(err):
		l.users = make(map[string]Wallet)
		res := jsonfile.LoadResult{Status: jsonfile.Initialized}
		if werr := l.store.Write(l.users); werr != nil {
			l.logger.Error("failed to persist empty users document", zap.Error(werr))
			res.Cause = werr
		}
		l.logger.Info("initialized empty users document")
		return res

	default:
		l.logger.Error("failed to load users, starting empty", zap.Error(err))
		l.users = make(map[string]Wallet)
		res := jsonfile.LoadResult{Status: jsonfile.Recovered, Cause: err}
		if jsonfile.IsParse(err) {
			res.SetAside = setAside(l.store, l.now(), l.logger)
		}
		return res
	}
}

func setAside(store DocumentStore, now time.Time, logger *zap.Logger) string {
	path, err := store.SetAside(now)
	if err != nil {
		logger.Error("failed to set corrupt users document aside", zap.Error(err))
		return ""
	}
	logger.Warn("corrupt users document set aside", zap.String("path", path))
	return path
}

func (l *Ledger) normalize(w Wallet) Wallet {
	if w.Holdings == nil {
		w.Holdings = make(map[market.Currency]float64)
	}
	for _, c := range l.settings.Currencies {
		if _, ok := w.Holdings[c]; !ok {
			w.Holdings[c] = 0
		}
	}
	if w.Transactions == nil {
		w.Transactions = []Transaction{}
	}
	return w
}

func (l *Ledger) newWallet() Wallet {
	return l.normalize(Wallet{Balance: l.settings.InitialBalance})
}

func (l *Ledger) known(c market.Currency) bool {
	for _, k := range l.settings.Currencies {
		if k == c {
			return true
		}
	}
	return false
}

// get returns a private copy of the user's wallet, creating a default one if
// needed. Must be called with mu held.
func (l *Ledger) get(userID int64) (Wallet, bool) {
	w, ok := l.users[key(userID)]
	if !ok {
		return l.newWallet(), true
	}
	return w.Clone(), false
}

// put stores w and saves. Must be called with mu held.
func (l *Ledger) put(userID int64, w Wallet) {
	l.users[key(userID)] = w
	l.persist()
}

func (l *Ledger) persist() {
	if err := l.store.Write(l.users); err != nil {
		l.logger.Error("failed to save users, will retry on auto-save", zap.Error(err))
	}
}

func (l *Ledger) record(w *Wallet, tx Transaction) Transaction {
	tx.ID = l.newID()
	tx.Timestamp = market.NewTimestamp(l.now())
	w.Transactions = append(w.Transactions, tx)
	if n := len(w.Transactions); n > l.settings.TransactionLimit {
		w.Transactions = append([]Transaction(nil), w.Transactions[n-l.settings.TransactionLimit:]...)
	}
	return tx
}

// Wallet returns a copy of the user's wallet, creating it on first use.
func (l *Ledger) Wallet(userID int64) Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, created := l.get(userID)
	if created {
		l.put(userID, w)
		l.logger.Info("wallet created", zap.Int64("user_id", userID))
	}
	return w.Clone()
}

// Lookup returns a copy of an existing wallet without creating one.
func (l *Ledger) Lookup(userID int64) (Wallet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.users[key(userID)]
	if !ok {
		return Wallet{}, false
	}
	return w.Clone(), true
}

// AdjustBalance adds amount (possibly negative) to the cash balance. The
// balance never goes negative.
func (l *Ledger) AdjustBalance(userID int64, amount float64) (float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.get(userID)
	next := w.Balance + amount
	if next < 0 {
		return w.Balance, fmt.Errorf("%w: balance %.2f, change %.2f", ErrInsufficientFunds, w.Balance, amount)
	}

	w.Balance = next
	if amount != 0 {
		nb := next
		l.record(&w, Transaction{Type: TxAdminBalance, Amount: amount, NewBalance: &nb})
	}
	l.put(userID, w)
	return next, nil
}

// AdjustHoldings adds amount (possibly negative) to a currency holding.
func (l *Ledger) AdjustHoldings(userID int64, c market.Currency, amount float64) (float64, error) {
	if !l.known(c) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.get(userID)
	next := w.Holdings[c] + amount
	if next < 0 {
		return w.Holdings[c], fmt.Errorf("%w: holding %.4f %s", ErrInsufficientHoldings, w.Holdings[c], c)
	}

	w.Holdings[c] = next
	if amount != 0 {
		l.record(&w, Transaction{Type: TxAdminHolding, Currency: c, Amount: amount})
	}
	l.put(userID, w)
	return next, nil
}

func (l *Ledger) checkTrade(c market.Currency, amount, price float64) error {
	if !l.known(c) {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	if amount < l.settings.MinTradeAmount {
		return fmt.Errorf("%w: %v < %v", ErrAmountTooSmall, amount, l.settings.MinTradeAmount)
	}
	if math.IsNaN(price) || price <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Buy converts cash into amount units of c at price.
func (l *Ledger) Buy(userID int64, c market.Currency, amount, price float64) (Transaction, error) {
	if err := l.checkTrade(c, amount, price); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.get(userID)
	cost := amount * price
	if w.Balance < cost {
		return Transaction{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost, w.Balance)
	}

	w.Balance -= cost
	w.Holdings[c] += amount
	tx := l.record(&w, Transaction{Type: TxBuy, Currency: c, Amount: amount, PricePerUnit: price, TotalCost: cost})
	l.put(userID, w)

	l.logger.Info("buy",
		zap.Int64("user_id", userID), zap.String("currency", string(c)),
		zap.Float64("amount", amount), zap.Float64("price", price), zap.Float64("total_cost", cost))
	return tx, nil
}

// Sell converts amount units of c into cash at price.
func (l *Ledger) Sell(userID int64, c market.Currency, amount, price float64) (Transaction, error) {
	if err := l.checkTrade(c, amount, price); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.get(userID)
	if w.Holdings[c] < amount {
		return Transaction{}, fmt.Errorf("%w: have %.4f %s", ErrInsufficientHoldings, w.Holdings[c], c)
	}

	value := amount * price
	w.Balance += value
	w.Holdings[c] -= amount
	tx := l.record(&w, Transaction{Type: TxSell, Currency: c, Amount: amount, PricePerUnit: price, TotalValue: value})
	l.put(userID, w)

	l.logger.Info("sell",
		zap.Int64("user_id", userID), zap.String("currency", string(c)),
		zap.Float64("amount", amount), zap.Float64("price", price), zap.Float64("total_value", value))
	return tx, nil
}

// ResetUser puts a wallet back to its initial state and clears its history.
func (l *Ledger) ResetUser(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(userID, l.newWallet())
	l.logger.Info("wallet reset", zap.Int64("user_id", userID))
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}

// Totals aggregates balances and holdings, valuing holdings at prices.
func (l *Ledger) Totals(prices map[market.Currency]float64) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{Users: len(l.users), Holdings: make(map[market.Currency]float64)}
	for _, w := range l.users {
		s.TotalBalance += w.Balance
		s.PortfolioValue += w.Value(prices)
		s.Transactions += len(w.Transactions)
		for c, v := range w.Holdings {
			s.Holdings[c] += v
		}
	}
	return s
}

func (l *Ledger) Save() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.store.Write(l.users); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

func (l *Ledger) Backup(prefix string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, err := l.store.WriteBackup(prefix, l.users, l.now())
	if err != nil {
		return "", fmt.Errorf("backup users: %w", err)
	}
	return name, nil
}
