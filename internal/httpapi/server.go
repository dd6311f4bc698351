package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cryptobot/config"
	"cryptobot/internal/admin"
	"cryptobot/internal/market"
	"cryptobot/internal/metrics"
	"cryptobot/internal/stream"
	"cryptobot/internal/wallet"
	"cryptobot/pkg/cache"
	"cryptobot/pkg/storage/postgres"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck reports on one dependency. A nil error means healthy.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// TickArchive serves archived price ticks. *postgres.Archive implements it.
type TickArchive interface {
	RecentTicks(ctx context.Context, currency market.Currency, limit int) ([]postgres.PriceTickRecord, error)
}

// LatestPrices serves cached latest prices. *cache.PriceCache implements it.
type LatestPrices interface {
	GetLatest(ctx context.Context, c market.Currency) (*cache.LatestPrice, error)
}

type Deps struct {
	Book    *market.Book
	Ledger  *wallet.Ledger
	Admins  *admin.Registry
	Metrics *metrics.Metrics // optional
	Hub     *stream.Hub      // optional
	Archive TickArchive      // optional
	Cache   LatestPrices     // optional
	Checks  []HealthCheck
	// BotUser is the chat bot's username, empty when the chat transport is off.
	BotUser string
	Logger  *zap.Logger
}

// Server exposes status, prices, stats and the live stream over HTTP.
type Server struct {
	cfg    config.HTTPConfig
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger

	started time.Time
	now     func() time.Time
}

func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.Named("http"),
		started: time.Now(),
		now:     time.Now,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.GinMiddleware())
	}
	s.routes(r)
	s.engine = r

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves in the background. The returned channel receives the error
// that stopped the listener, if any, and is then closed.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
