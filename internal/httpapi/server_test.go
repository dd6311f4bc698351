package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptobot/config"
	"cryptobot/internal/admin"
	"cryptobot/internal/market"
	"cryptobot/internal/metrics"
	"cryptobot/internal/wallet"
	"cryptobot/pkg/cache"
	"cryptobot/pkg/storage/jsonfile"
	"cryptobot/pkg/storage/postgres"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	server *Server
	book   *market.Book
	ledger *wallet.Ledger
	admins *admin.Registry
}

func withChecks(checks ...HealthCheck) func(*Deps) {
	return func(d *Deps) { d.Checks = checks }
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	}, ps, market.NewRandomSource(7), logger)
	book.Load()

	ledger := wallet.NewLedger(wallet.Settings{
		Currencies: currencies, MinTradeAmount: 0.0001, TransactionLimit: 50,
	}, us, logger)
	ledger.Load()

	admins := admin.NewRegistry(as, logger)
	admins.Load()

	deps := Deps{
		Book: book, Ledger: ledger, Admins: admins,
		Metrics: metrics.New(), BotUser: "cryptobot", Logger: logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	s := NewServer(config.HTTPConfig{Addr: ":0"}, deps)
	return &fixture{server: s, book: book, ledger: ledger, admins: admins}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// go test -v --run TestPing
func TestPing(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pong!", w.Body.String())
}

// go test -v --run TestRoot
func TestRoot(t *testing.T) {
	f := newFixture(t)
	body := decode(t, f.get(t, "/"))
	assert.Contains(t, body["endpoints"], "/prices/:currency/history")
}

// go test -v --run TestHealth
func TestHealth(t *testing.T) {
	f := newFixture(t, withChecks(HealthCheck{Name: "documents", Check: func(context.Context) error { return nil }}))
	w := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "online", body["bot_status"])

	f = newFixture(t, withChecks(
		HealthCheck{Name: "documents", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	))
	w = f.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"documents": "ok", "redis": "connection refused"}, body["checks"])
}

// go test -v --run TestStatus
func TestStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.admins.Seed(1001))
	f.ledger.Wallet(2002)

	body := decode(t, f.get(t, "/status"))
	assert.Equal(t, "online", body["status"])
	assert.Nil(t, body["last_price_update"])
	assert.Equal(t, 1.0, body["admin_count"])
	assert.Equal(t, 1.0, body["user_count"])

	_, err := f.book.Tick(context.Background())
	require.NoError(t, err)
	body = decode(t, f.get(t, "/status"))
	assert.NotNil(t, body["last_price_update"])
}

// go test -v --run TestPricesAndHistory
func TestPricesAndHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		_, err := f.book.Tick(context.Background())
		require.NoError(t, err)
	}

	body := decode(t, f.get(t, "/prices"))
	prices := body["prices"].(map[string]any)
	p, _ := f.book.Price(market.Bitcoin)
	assert.Equal(t, p, prices["bitcoin"])

	w := f.get(t, "/prices/Bitcoin/history")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Len(t, body["history"], 10)

	body = decode(t, f.get(t, "/prices/bitcoin/history?limit=100"))
	assert.Len(t, body["history"], 13)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/prices/bitcoin/history?limit=101").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/prices/bitcoin/history?limit=abc").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/prices/dogecoin/history").Code)
}

type fakeCache struct {
	latest map[market.Currency]*cache.LatestPrice
	err    error
}

func (c *fakeCache) GetLatest(_ context.Context, cur market.Currency) (*cache.LatestPrice, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.latest[cur], nil
}

type fakeArchive struct {
	ticks []postgres.PriceTickRecord
	err   error
	limit int
}

func (a *fakeArchive) RecentTicks(_ context.Context, cur market.Currency, limit int) ([]postgres.PriceTickRecord, error) {
	a.limit = limit
	if a.err != nil {
		return nil, a.err
	}
	var out []postgres.PriceTickRecord
	for _, r := range a.ticks {
		if r.Currency == string(cur) {
			out = append(out, r)
		}
	}
	return out, nil
}

// go test -v --run TestLatest
func TestLatest(t *testing.T) {
	f := newFixture(t)
	body := decode(t, f.get(t, "/prices/bitcoin/latest"))
	assert.Equal(t, "book", body["source"])
	assert.Equal(t, 3000.0, body["price"])

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := &fakeCache{latest: map[market.Currency]*cache.LatestPrice{
		market.Bitcoin: {Currency: market.Bitcoin, Price: 3150, Change: 150, Kind: market.UpdateTick, Timestamp: at},
	}}
	f = newFixture(t, func(d *Deps) { d.Cache = fc })

	body = decode(t, f.get(t, "/prices/Bitcoin/latest"))
	assert.Equal(t, "cache", body["source"])
	assert.Equal(t, 3150.0, body["price"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["timestamp"])

	// a miss or a cache failure falls back to the book
	assert.Equal(t, "book", decode(t, f.get(t, "/prices/buxcoin/latest"))["source"])
	fc.err = errors.New("connection refused")
	assert.Equal(t, "book", decode(t, f.get(t, "/prices/bitcoin/latest"))["source"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/prices/dogecoin/latest").Code)
}

// go test -v --run TestArchive
func TestArchive(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/prices/bitcoin/archive").Code)
	assert.NotContains(t, decode(t, f.get(t, "/"))["endpoints"], "/prices/:currency/archive")

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fa := &fakeArchive{ticks: []postgres.PriceTickRecord{
		{Currency: "bitcoin", Price: 3000, Kind: "tick", Timestamp: at},
		{Currency: "bitcoin", Price: 4200, OldPrice: 3000, Kind: "manual", Manual: true, Timestamp: at.Add(time.Minute)},
		{Currency: "buxcoin", Price: 3000, Kind: "tick", Timestamp: at},
	}}
	f = newFixture(t, func(d *Deps) { d.Archive = fa })
	assert.Contains(t, decode(t, f.get(t, "/"))["endpoints"], "/prices/:currency/archive")

	w := f.get(t, "/prices/bitcoin/archive?limit=500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 500, fa.limit)
	ticks := decode(t, w)["ticks"].([]any)
	require.Len(t, ticks, 2)
	last := ticks[1].(map[string]any)
	assert.Equal(t, 4200.0, last["price"])
	assert.Equal(t, true, last["manual"])
	assert.Equal(t, "2024-05-01T12:01:00Z", last["timestamp"])

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/prices/bitcoin/archive?limit=1001").Code)

	fa.err = errors.New("connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/prices/bitcoin/archive").Code)
}

// go test -v --run TestStats
func TestStats(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.AdjustBalance(2002, 10000)
	require.NoError(t, err)
	_, err = f.ledger.Buy(2002, market.Buxcoin, 2, 3000)
	require.NoError(t, err)

	body := decode(t, f.get(t, "/stats"))
	assert.Equal(t, 1.0, body["total_users"])
	assert.Equal(t, 4000.0, body["total_balance_eur"])
	assert.Equal(t, 6000.0, body["total_crypto_value_eur"])
	assert.Equal(t, 10000.0, body["total_value_eur"])
	assert.Equal(t, 2.0, body["holdings"].(map[string]any)["buxcoin"])
}

// go test -v --run TestMetricsEndpoint
func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/ping")

	w := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `cryptobot_http_requests_total{method="GET",path="/ping",status="200"} 1`)
}
