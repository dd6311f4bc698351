package scheduler

import (
	"context"
	"time"

	"cryptobot/internal/market"

	"go.uber.org/zap"
)

// Ticker is the part of the price book the loop drives.
type Ticker interface {
	Tick(ctx context.Context) (market.Update, error)
}

// TickRecorder receives the outcome of every tick attempt.
type TickRecorder interface {
	ObserveTick(err error, duration time.Duration)
}

// PriceTicker runs the automatic price walk.
type PriceTicker struct {
	book          Ticker
	interval      time.Duration
	retryInterval time.Duration
	recorder      TickRecorder
	logger        *zap.Logger
}

func NewPriceTicker(book Ticker, interval, retryInterval time.Duration, logger *zap.Logger) *PriceTicker {
	return &PriceTicker{
		book:          book,
		interval:      interval,
		retryInterval: retryInterval,
		logger:        logger.Named("ticker"),
	}
}

// WithRecorder attaches a recorder, e.g. the metrics registry.
func (t *PriceTicker) WithRecorder(r TickRecorder) *PriceTicker {
	t.recorder = r
	return t
}

// Start runs the loop in its own goroutine. The returned channel is closed
// once the loop has exited after ctx is cancelled.
func (t *PriceTicker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Run(ctx)
	}()
	return done
}

// Run ticks immediately, then once per interval. A failed tick is retried
// after the retry interval instead. Run returns when ctx is cancelled.
func (t *PriceTicker) Run(ctx context.Context) {
	t.logger.Info("price ticker started",
		zap.Duration("interval", t.interval), zap.Duration("retry_interval", t.retryInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("price ticker stopped")
			return
		case <-timer.C:
		}

		wait := t.interval
		if err := t.runOnce(ctx); err != nil {
			t.logger.Error("price update failed, retrying",
				zap.Duration("retry_in", t.retryInterval), zap.Error(err))
			wait = t.retryInterval
		}
		timer.Reset(wait)
	}
}

func (t *PriceTicker) runOnce(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		// a panic in the book must not stop the walk
		if r := recover(); r != nil {
			t.logger.Error("price update panicked", zap.Any("panic", r))
			err = errPanic
		}
		if t.recorder != nil {
			t.recorder.ObserveTick(err, time.Since(start))
		}
	}()

	update, err := t.book.Tick(ctx)
	if err != nil {
		return err
	}

	for _, c := range update.Changes {
		t.logger.Info("price updated",
			zap.String("currency", string(c.Currency)),
			zap.Float64("old_price", c.OldPrice),
			zap.Float64("new_price", c.NewPrice),
			zap.Float64("change", c.Change),
			zap.Float64("change_pct", c.ChangePercent()),
		)
	}
	return nil
}
