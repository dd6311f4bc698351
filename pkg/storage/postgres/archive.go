package postgres

import (
	"context"
	"errors"
	"fmt"

	"cryptobot/internal/bot"
	"cryptobot/internal/market"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// ErrDuplicateTrade is returned when a trade id was archived before.
var ErrDuplicateTrade = errors.New("duplicate trade skipped")

func (a *Archive) InsertTicks(ctx context.Context, records []*PriceTickRecord) error {
	if len(records) == 0 {
		return nil
	}
	return a.DB.WithContext(ctx).Create(records).Error
}

func (a *Archive) InsertTrade(ctx context.Context, record *TradeRecord) error {
	tx := a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(record)

	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: trade_id=%s", ErrDuplicateTrade, record.TradeID)
	}

	return nil
}

// RecentTicks returns up to limit ticks for currency, oldest first.
func (a *Archive) RecentTicks(ctx context.Context, currency market.Currency, limit int) ([]PriceTickRecord, error) {
	var ticks []PriceTickRecord
	err := a.DB.WithContext(ctx).
		Where("currency = ?", string(currency)).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&ticks).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
	return ticks, nil
}

// TradesForUser returns up to limit trades of userID, newest first.
func (a *Archive) TradesForUser(ctx context.Context, userID int64, limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := a.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// RecentTrades implements bot.TradeHistory.
func (a *Archive) RecentTrades(ctx context.Context, userID int64, limit int) ([]bot.TradeEvent, error) {
	records, err := a.TradesForUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	out := make([]bot.TradeEvent, len(records))
	for i, r := range records {
		out[i] = ToTradeEvent(r)
	}
	return out, nil
}

// OnPriceUpdate archives a committed update. It implements market.TickObserver;
// failures are logged and never reach the price book.
func (a *Archive) OnPriceUpdate(ctx context.Context, u market.Update) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := a.InsertTicks(ctx, ToTickRecords(u)); err != nil {
		a.logger.Warn("failed to archive price update", zap.String("kind", string(u.Kind)), zap.Error(err))
	}
}

// RecordTrade implements bot.TradeRecorder.
func (a *Archive) RecordTrade(ctx context.Context, ev bot.TradeEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	return a.InsertTrade(ctx, ToTradeRecord(ev))
}
