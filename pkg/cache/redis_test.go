package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"cryptobot/config"
	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestLatestPrices
func TestLatestPrices(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	u := market.Update{
		Kind: market.UpdateTick,
		At:   at,
		Changes: []market.PriceChange{
			{Currency: market.Buxcoin, OldPrice: 3000, NewPrice: 3150, Change: 150},
		},
	}

	got := latestPrices(u)
	require.Len(t, got, 1)
	assert.Equal(t, LatestPrice{Currency: market.Buxcoin, Price: 3150, Change: 150, Kind: market.UpdateTick, Timestamp: at}, got[0])
	assert.Equal(t, "latest:buxcoin", latestKey(market.Buxcoin))
}

// go test -v --run TestPriceCacheRoundTrip
func TestPriceCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	c, err := NewPriceCache(config.RedisConfig{Addr: addr, TTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	currency := market.Currency("test-" + uuid.NewString()[:8])

	missing, err := c.GetLatest(ctx, currency)
	require.NoError(t, err)
	assert.Nil(t, missing)

	c.OnPriceUpdate(ctx, market.Update{
		Kind: market.UpdateManual,
		At:   time.Now(),
		Changes: []market.PriceChange{{Currency: currency, OldPrice: 3000, NewPrice: 4200}},
	})

	got, err := c.GetLatest(ctx, currency)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4200.0, got.Price)
	assert.Equal(t, market.UpdateManual, got.Kind)

	require.NoError(t, c.Ping(ctx))
}
