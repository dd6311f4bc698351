package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"cryptobot/config"
	"cryptobot/pkg/storage/jsonfile"

	"go.uber.org/zap"
)

var (
	ErrUnknownCurrency  = errors.New("unknown currency")
	ErrNonPositivePrice = errors.New("price must be positive")
	ErrBelowMinimum     = errors.New("price below minimum")
	ErrAboveMaximum     = errors.New("price above maximum")
)

// Settings are the economy constants the book enforces.
type Settings struct {
	InitialPrice float64
	MinimumPrice float64
	MaximumPrice float64
	Currencies   []Currency
	HistoryLimit int
}

func SettingsFromConfig(cfg config.BotConfig) Settings {
	currencies := make([]Currency, len(cfg.Currencies))
	for i, c := range cfg.Currencies {
		currencies[i] = Currency(c)
	}
	return Settings{
		InitialPrice: cfg.InitialPrice,
		MinimumPrice: cfg.MinimumPrice,
		MaximumPrice: cfg.MaximumPrice,
		Currencies:   currencies,
		HistoryLimit: cfg.HistoryLimit,
	}
}

// DocumentStore persists the prices document. *jsonfile.Store satisfies it.
type DocumentStore interface {
	Read(v any) error
	Write(v any) error
	WriteBackup(prefix string, v any, now time.Time) (string, error)
	SetAside(now time.Time) (string, error)
}

// ChangeSummary compares the two most recent history entries of a currency.
type ChangeSummary struct {
	CurrentPrice     float64   `json:"current_price"`
	PreviousPrice    float64   `json:"previous_price"`
	Change           float64   `json:"change"`
	ChangePercentage float64   `json:"change_percentage"`
	Timestamp        Timestamp `json:"timestamp"`
}

type Option func(*Book)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// Book owns the price state of every currency. All mutations are persisted
// before they become visible to readers.
type Book struct {
	mu    sync.RWMutex
	state PriceState

	settings Settings
	rule     Rule
	rng      RandomSource
	store    DocumentStore
	logger   *zap.Logger
	now      func() time.Time

	obsMu     sync.RWMutex
	observers []TickObserver
}

// NewBook wires a book without touching the store; call Load before use.
func NewBook(settings Settings, store DocumentStore, rng RandomSource, logger *zap.Logger, opts ...Option) *Book {
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = 100
	}
	b := &Book{
		settings: settings,
		rule:     Rule{Minimum: settings.MinimumPrice, Maximum: settings.MaximumPrice},
		rng:      rng,
		store:    store,
		logger:   logger.Named("market"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.state = b.defaults(b.now())
	return b
}

// Load reads the prices document. A missing document yields defaults
// (Initialized); an unreadable or corrupt one is replaced with defaults
// (Recovered) and the store error is returned as the cause.
func (b *Book) Load() jsonfile.LoadResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc PriceState
	err := b.store.Read(&doc)
	switch {
	case err == nil:
		changed := b.normalize(&doc)
		b.state = doc
		if changed {
			if err := b.store.Write(b.state); err != nil {
				b.logger.Warn("failed to persist normalized prices", zap.Error(err))
			}
		}
		b.logger.Info("loaded prices", zap.Int("currencies", len(doc.CurrentPrices)))
		return jsonfile.LoadResult{Status: jsonfile.Loaded}

	case jsonfile.IsNotExist(err):
		b.state = b.defaults(b.now())
		res := jsonfile.LoadResult{Status: jsonfile.Initialized}
		if werr := b.store.Write(b.state); werr != nil {
			res.Cause = werr
			b.logger.Error("failed to persist default prices", zap.Error(werr))
		}
		b.logger.Info("initialized default prices", zap.Float64("initial_price", b.settings.InitialPrice))
		return res

	default:
		b.logger.Error("failed to load prices, falling back to defaults", zap.Error(err))
		res := jsonfile.LoadResult{Status: jsonfile.Recovered, Cause: err}
		if jsonfile.IsParse(err) {
			if path, aerr := b.store.SetAside(b.now()); aerr != nil {
				b.logger.Error("failed to set corrupt prices aside", zap.Error(aerr))
			} else {
				b.logger.Warn("corrupt prices set aside", zap.String("path", path))
				res.SetAside = path
			}
		}
		b.state = b.defaults(b.now())
		if werr := b.store.Write(b.state); werr != nil {
			b.logger.Error("failed to persist default prices", zap.Error(werr))
		}
		return res
	}
}

func (b *Book) defaults(now time.Time) PriceState {
	ts := NewTimestamp(now)
	s := PriceState{
		CurrentPrices: make(map[Currency]float64, len(b.settings.Currencies)),
		PriceHistory:  make(map[Currency][]HistoryEntry, len(b.settings.Currencies)),
	}
	for _, c := range b.settings.Currencies {
		s.CurrentPrices[c] = b.settings.InitialPrice
		s.PriceHistory[c] = []HistoryEntry{{Price: b.settings.InitialPrice, Timestamp: ts, Change: 0}}
	}
	return s
}

// normalize repairs a loaded document so the book invariants hold. It reports
// whether anything was changed.
func (b *Book) normalize(doc *PriceState) bool {
	changed := false
	if doc.CurrentPrices == nil {
		doc.CurrentPrices = make(map[Currency]float64)
		changed = true
	}
	if doc.PriceHistory == nil {
		doc.PriceHistory = make(map[Currency][]HistoryEntry)
		changed = true
	}

	ts := NewTimestamp(b.now())
	for _, c := range b.settings.Currencies {
		if _, ok := doc.CurrentPrices[c]; !ok {
			doc.CurrentPrices[c] = b.settings.InitialPrice
			doc.PriceHistory[c] = appendCapped(doc.PriceHistory[c],
				HistoryEntry{Price: b.settings.InitialPrice, Timestamp: ts}, b.settings.HistoryLimit)
			b.logger.Warn("currency missing from prices document, initialized", zap.String("currency", string(c)))
			changed = true
		}
	}

	for c, p := range doc.CurrentPrices {
		history, dropped := validEntries(doc.PriceHistory[c])
		if dropped > 0 {
			b.logger.Warn("dropped history entries with an invalid price",
				zap.String("currency", string(c)), zap.Int("dropped", dropped))
			changed = true
		}
		if n := len(history); n > b.settings.HistoryLimit {
			history = append([]HistoryEntry(nil), history[n-b.settings.HistoryLimit:]...)
			changed = true
		}

		clamped := p
		if math.IsNaN(p) || p < b.settings.MinimumPrice {
			clamped = b.settings.MinimumPrice
		} else if p > b.settings.MaximumPrice {
			clamped = b.settings.MaximumPrice
		}
		if clamped != p {
			b.logger.Warn("price out of range, clamped",
				zap.String("currency", string(c)), zap.Float64("price", p), zap.Float64("clamped", clamped))
			doc.CurrentPrices[c] = clamped
			// the clamp is a price change like any override
			history = appendCapped(history, HistoryEntry{Price: clamped, Timestamp: ts, Manual: true}, b.settings.HistoryLimit)
			changed = true
		}
		doc.PriceHistory[c] = history
	}
	return changed
}

// validEntries returns the entries whose price is positive and finite, and
// how many were dropped.
func validEntries(history []HistoryEntry) ([]HistoryEntry, int) {
	out := make([]HistoryEntry, 0, len(history))
	for _, e := range history {
		if e.Price > 0 && !math.IsInf(e.Price, 0) {
			out = append(out, e)
		}
	}
	return out, len(history) - len(out)
}

// Subscribe registers an observer for committed updates.
func (b *Book) Subscribe(o TickObserver) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, o)
}

func (b *Book) notify(ctx context.Context, u Update) {
	b.obsMu.RLock()
	observers := append([]TickObserver(nil), b.observers...)
	b.obsMu.RUnlock()

	for _, o := range observers {
		o.OnPriceUpdate(ctx, u)
	}
}

// commit persists next and swaps it in. Must be called with mu held.
func (b *Book) commit(next PriceState) error {
	if err := b.store.Write(next); err != nil {
		return err
	}
	b.state = next
	return nil
}

// Tick applies the price rule to every configured currency, in configured
// order, as one atomic update. On a persistence failure the in-memory state
// is left untouched and the error is returned.
func (b *Book) Tick(ctx context.Context) (Update, error) {
	b.mu.Lock()

	now := b.now()
	ts := NewTimestamp(now)
	next := b.state.Clone()
	update := Update{Kind: UpdateTick, At: ts.Time}

	for _, c := range b.settings.Currencies {
		old := next.CurrentPrices[c]
		move := b.rule.Apply(old, b.rng)
		entry := HistoryEntry{Price: move.Price, Timestamp: ts, Change: move.Change}

		next.CurrentPrices[c] = move.Price
		next.PriceHistory[c] = appendCapped(next.PriceHistory[c], entry, b.settings.HistoryLimit)
		update.Changes = append(update.Changes, PriceChange{
			Currency: c,
			OldPrice: old,
			NewPrice: move.Price,
			Change:   move.Change,
			Entry:    entry,
		})
	}
	next.LastUpdate = &ts

	if err := b.commit(next); err != nil {
		b.mu.Unlock()
		return Update{}, fmt.Errorf("persist price update: %w", err)
	}
	b.mu.Unlock()

	b.notify(ctx, update)
	return update, nil
}

// SetPrice is the admin override. It records a manual entry with zero change
// and never consults the random source.
func (b *Book) SetPrice(ctx context.Context, c Currency, price float64) (HistoryEntry, error) {
	if !b.known(c) {
		return HistoryEntry{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	switch {
	case math.IsNaN(price) || price <= 0:
		return HistoryEntry{}, ErrNonPositivePrice
	case price < b.settings.MinimumPrice:
		return HistoryEntry{}, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinimum, price, b.settings.MinimumPrice)
	case price > b.settings.MaximumPrice:
		return HistoryEntry{}, fmt.Errorf("%w: %.2f > %.2f", ErrAboveMaximum, price, b.settings.MaximumPrice)
	}

	b.mu.Lock()
	now := b.now()
	ts := NewTimestamp(now)
	next := b.state.Clone()
	old := next.CurrentPrices[c]
	entry := HistoryEntry{Price: price, Timestamp: ts, Change: 0, Manual: true}

	next.CurrentPrices[c] = price
	next.PriceHistory[c] = appendCapped(next.PriceHistory[c], entry, b.settings.HistoryLimit)
	next.LastUpdate = &ts

	if err := b.commit(next); err != nil {
		b.mu.Unlock()
		return HistoryEntry{}, fmt.Errorf("persist manual price: %w", err)
	}
	b.mu.Unlock()

	b.logger.Info("price set manually",
		zap.String("currency", string(c)), zap.Float64("old_price", old), zap.Float64("new_price", price))

	b.notify(ctx, Update{Kind: UpdateManual, At: ts.Time, Changes: []PriceChange{{
		Currency: c, OldPrice: old, NewPrice: price, Entry: entry,
	}}})
	return entry, nil
}

// ForceReset moves every currency back to the initial price, keeping history
// and marking the new entries as resets.
func (b *Book) ForceReset(ctx context.Context) error {
	b.mu.Lock()
	now := b.now()
	ts := NewTimestamp(now)
	next := b.state.Clone()
	update := Update{Kind: UpdateReset, At: ts.Time}

	for _, c := range b.settings.Currencies {
		old := next.CurrentPrices[c]
		entry := HistoryEntry{Price: b.settings.InitialPrice, Timestamp: ts, Change: 0, Reset: true}
		next.CurrentPrices[c] = b.settings.InitialPrice
		next.PriceHistory[c] = appendCapped(next.PriceHistory[c], entry, b.settings.HistoryLimit)
		update.Changes = append(update.Changes, PriceChange{
			Currency: c, OldPrice: old, NewPrice: b.settings.InitialPrice, Entry: entry,
		})
	}
	next.LastUpdate = &ts

	if err := b.commit(next); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("persist price reset: %w", err)
	}
	b.mu.Unlock()

	b.logger.Info("all prices reset", zap.Float64("price", b.settings.InitialPrice))
	b.notify(ctx, update)
	return nil
}

// Reset discards all history and reinitializes defaults.
func (b *Book) Reset(ctx context.Context) error {
	b.mu.Lock()
	prev := b.state.CurrentPrices
	next := b.defaults(b.now())
	if err := b.commit(next); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("persist default prices: %w", err)
	}
	b.mu.Unlock()

	update := Update{Kind: UpdateReset, At: b.now()}
	for _, c := range b.settings.Currencies {
		entry := next.PriceHistory[c][0]
		update.Changes = append(update.Changes, PriceChange{
			Currency: c, OldPrice: prev[c], NewPrice: entry.Price, Entry: entry,
		})
	}
	b.notify(ctx, update)
	return nil
}

// Save writes the current state as is.
func (b *Book) Save() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.store.Write(b.state); err != nil {
		return fmt.Errorf("save prices: %w", err)
	}
	return nil
}

// Backup writes a timestamped copy of the current state and returns its
// file name.
func (b *Book) Backup(prefix string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, err := b.store.WriteBackup(prefix, b.state, b.now())
	if err != nil {
		return "", fmt.Errorf("backup prices: %w", err)
	}
	return name, nil
}

func (b *Book) known(c Currency) bool {
	for _, k := range b.settings.Currencies {
		if k == c {
			return true
		}
	}
	return false
}

// Currencies returns the configured currencies in update order.
func (b *Book) Currencies() []Currency {
	return append([]Currency(nil), b.settings.Currencies...)
}

// IsCurrency reports whether c is one of the configured currencies.
func (b *Book) IsCurrency(c Currency) bool { return b.known(c) }

func (b *Book) Settings() Settings {
	s := b.settings
	s.Currencies = b.Currencies()
	return s
}

func (b *Book) Prices() map[Currency]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Currency]float64, len(b.state.CurrentPrices))
	for c, p := range b.state.CurrentPrices {
		out[c] = p
	}
	return out
}

func (b *Book) Price(c Currency) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.state.CurrentPrices[c]
	return p, ok
}

// LastUpdate returns the time of the last committed change; ok is false
// before the first one.
func (b *Book) LastUpdate() (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state.LastUpdate == nil {
		return time.Time{}, false
	}
	return b.state.LastUpdate.Time, true
}

// History returns up to limit most recent entries, oldest first. A limit of
// zero or less returns the whole history.
func (b *Book) History(c Currency, limit int) ([]HistoryEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.state.PriceHistory[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]HistoryEntry{}, h...), nil
}

// Snapshot returns a deep copy of the whole state.
func (b *Book) Snapshot() PriceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Clone()
}

// Summary reports the latest move of every configured currency.
func (b *Book) Summary() map[Currency]ChangeSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[Currency]ChangeSummary, len(b.settings.Currencies))
	for _, c := range b.settings.Currencies {
		h := b.state.PriceHistory[c]
		if len(h) < 2 {
			p := b.state.CurrentPrices[c]
			out[c] = ChangeSummary{CurrentPrice: p, PreviousPrice: p, Timestamp: NewTimestamp(b.now())}
			continue
		}
		latest, previous := h[len(h)-1], h[len(h)-2]
		sum := ChangeSummary{
			CurrentPrice:  latest.Price,
			PreviousPrice: previous.Price,
			Change:        latest.Change,
			Timestamp:     latest.Timestamp,
		}
		if previous.Price > 0 {
			sum.ChangePercentage = (latest.Price - previous.Price) / previous.Price * 100
		}
		out[c] = sum
	}
	return out
}
