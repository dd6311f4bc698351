package postgres

import (
	"time"

	"cryptobot/internal/bot"
	"cryptobot/internal/market"
)

// PriceTickRecord is one committed price change.
type PriceTickRecord struct {
	ID uint `gorm:"primaryKey"`

	Currency string    `gorm:"type:varchar(32);not null;index:idx_tick_currency_timestamp"`
	Timestamp time.Time `gorm:"not null;index:idx_tick_currency_timestamp"`

	Kind     string  `gorm:"type:varchar(16);not null"`
	Price    float64 `gorm:"type:numeric;not null"`
	OldPrice float64 `gorm:"type:numeric;not null"`
	Change   float64 `gorm:"type:numeric;not null"`
	Manual   bool    `gorm:"not null;default:false"`
	Reset    bool    `gorm:"not null;default:false"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (PriceTickRecord) TableName() string {
	return "price_tick_record"
}

// TradeRecord is one executed buy or sell.
type TradeRecord struct {
	ID uint `gorm:"primaryKey"`

	TradeID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_trade_trade_id"`
	UserID  int64  `gorm:"not null;index:idx_trade_user"`

	Side     string  `gorm:"type:varchar(8);not null"`
	Currency string  `gorm:"type:varchar(32);not null"`
	Amount   float64 `gorm:"type:numeric;not null"`
	Price    float64 `gorm:"type:numeric;not null"`
	Total    float64 `gorm:"type:numeric;not null"`

	Timestamp time.Time `gorm:"not null;index:idx_trade_timestamp"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (TradeRecord) TableName() string {
	return "trade_record"
}

// ToTickRecords converts every change in u into a record.
func ToTickRecords(u market.Update) []*PriceTickRecord {
	records := make([]*PriceTickRecord, 0, len(u.Changes))
	for _, c := range u.Changes {
		ts := c.Entry.Timestamp.Time
		if ts.IsZero() {
			ts = u.At
		}
		records = append(records, &PriceTickRecord{
			Currency:  string(c.Currency),
			Timestamp: ts,
			Kind:      string(u.Kind),
			Price:     c.NewPrice,
			OldPrice:  c.OldPrice,
			Change:    c.Change,
			Manual:    c.Entry.Manual,
			Reset:     c.Entry.Reset,
		})
	}
	return records
}

func ToTradeRecord(ev bot.TradeEvent) *TradeRecord {
	return &TradeRecord{
		TradeID:   ev.ID,
		UserID:    ev.UserID,
		Side:      ev.Side,
		Currency:  string(ev.Currency),
		Amount:    ev.Amount,
		Price:     ev.Price,
		Total:     ev.Total,
		Timestamp: ev.At,
	}
}

func ToTradeEvent(r TradeRecord) bot.TradeEvent {
	return bot.TradeEvent{
		ID:       r.TradeID,
		UserID:   r.UserID,
		Side:     r.Side,
		Currency: market.Currency(r.Currency),
		Amount:   r.Amount,
		Price:    r.Price,
		Total:    r.Total,
		At:       r.Timestamp,
	}
}
