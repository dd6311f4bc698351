package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cryptobot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBook struct {
	mu    sync.Mutex
	calls []time.Time
	errs  []error
}

func (b *fakeBook) Tick(context.Context) (market.Update, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, time.Now())
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return market.Update{}, err
	}
	return market.Update{Kind: market.UpdateTick, Changes: []market.PriceChange{
		{Currency: market.Buxcoin, OldPrice: 3000, NewPrice: 3150, Change: 150},
	}}, nil
}

func (b *fakeBook) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type recorder struct {
	mu     sync.Mutex
	failed int
	ok     int
}

func (r *recorder) ObserveTick(err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		return
	}
	r.ok++
}

// go test -v --run TestTickerRunsImmediately
func TestTickerRunsImmediately(t *testing.T) {
	book := &fakeBook{}
	ticker := NewPriceTicker(book, time.Hour, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := ticker.Start(ctx)

	require.Eventually(t, func() bool { return book.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop after cancel")
	}
	assert.Equal(t, 1, book.count())
}

// go test -v --run TestTickerRetriesOnFailure
func TestTickerRetriesOnFailure(t *testing.T) {
	book := &fakeBook{errs: []error{errors.New("disk full"), errors.New("disk full")}}
	rec := &recorder{}
	// the normal interval is far too long to be reached in the test
	ticker := NewPriceTicker(book, time.Hour, 10*time.Millisecond, zap.NewNop()).WithRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := ticker.Start(ctx)

	require.Eventually(t, func() bool { return book.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	// third attempt succeeded, so the next one waits the full interval
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, book.count())

	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.failed)
	assert.Equal(t, 1, rec.ok)
}

type panicBook struct{ n int }

func (b *panicBook) Tick(context.Context) (market.Update, error) {
	b.n++
	if b.n == 1 {
		panic("boom")
	}
	return market.Update{}, nil
}

// go test -v --run TestTickerSurvivesPanic
func TestTickerSurvivesPanic(t *testing.T) {
	book := &panicBook{}
	ticker := NewPriceTicker(book, time.Hour, time.Millisecond, zap.NewNop())

	assert.ErrorIs(t, ticker.runOnce(context.Background()), errPanic)
	assert.NoError(t, ticker.runOnce(context.Background()))
}

type countingSaver struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (s *countingSaver) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return s.err
}

func (s *countingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// go test -v --run TestAutoSaverSaveAll
func TestAutoSaverSaveAll(t *testing.T) {
	prices := &countingSaver{}
	users := &countingSaver{err: errors.New("read-only file system")}

	a, err := NewAutoSaver("@every 1h", zap.NewNop(),
		Target{Name: "prices", Saver: prices},
		Target{Name: "users", Saver: users},
	)
	require.NoError(t, err)

	err = a.SaveAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users: read-only file system")
	assert.Equal(t, 1, prices.count())
	assert.Equal(t, 1, users.count())
}

// go test -v --run TestAutoSaverSchedule
func TestAutoSaverSchedule(t *testing.T) {
	s := &countingSaver{}
	a, err := NewAutoSaver("@every 1s", zap.NewNop(), Target{Name: "prices", Saver: s})
	require.NoError(t, err)

	a.Start()
	require.Eventually(t, func() bool { return s.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
	<-a.Stop().Done()
}

// go test -v --run TestAutoSaverInvalidSchedule
func TestAutoSaverInvalidSchedule(t *testing.T) {
	_, err := NewAutoSaver("every five minutes", zap.NewNop())
	assert.Error(t, err)
}
