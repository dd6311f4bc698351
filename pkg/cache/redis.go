package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptobot/config"
	"cryptobot/internal/market"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const writeTimeout = 2 * time.Second

// LatestPrice is the cached value for one currency.
type LatestPrice struct {
	Currency  market.Currency   `json:"currency"`
	Price     float64           `json:"price"`
	Change    float64           `json:"change"`
	Kind      market.UpdateKind `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
}

// PriceCache publishes the latest committed prices to Redis for readers
// outside the bot process.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewPriceCache(cfg config.RedisConfig, logger *zap.Logger) (*PriceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &PriceCache{client: client, ttl: cfg.TTL, logger: logger.Named("cache")}, nil
}

func latestKey(c market.Currency) string {
	return "latest:" + string(c)
}

func (p *PriceCache) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *PriceCache) SetLatest(ctx context.Context, price LatestPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}

	if err := p.client.Set(ctx, latestKey(price.Currency), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest price in redis: %w", err)
	}
	return nil
}

// GetLatest returns nil, nil when nothing is cached for c.
func (p *PriceCache) GetLatest(ctx context.Context, c market.Currency) (*LatestPrice, error) {
	data, err := p.client.Get(ctx, latestKey(c)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest price from redis: %w", err)
	}

	var price LatestPrice
	if err := json.Unmarshal(data, &price); err != nil {
		return nil, fmt.Errorf("failed to unmarshal price: %w", err)
	}
	return &price, nil
}

// OnPriceUpdate implements market.TickObserver.
func (p *PriceCache) OnPriceUpdate(ctx context.Context, u market.Update) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	for _, latest := range latestPrices(u) {
		if err := p.SetLatest(ctx, latest); err != nil {
			p.logger.Warn("failed to cache price", zap.String("currency", string(latest.Currency)), zap.Error(err))
		}
	}
}

func latestPrices(u market.Update) []LatestPrice {
	out := make([]LatestPrice, 0, len(u.Changes))
	for _, c := range u.Changes {
		ts := c.Entry.Timestamp.Time
		if ts.IsZero() {
			ts = u.At
		}
		out = append(out, LatestPrice{
			Currency:  c.Currency,
			Price:     c.NewPrice,
			Change:    c.Change,
			Kind:      u.Kind,
			Timestamp: ts,
		})
	}
	return out
}

func (p *PriceCache) Close() error {
	return p.client.Close()
}
