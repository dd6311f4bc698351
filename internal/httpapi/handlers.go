package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cryptobot/internal/market"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	healthTimeout       = 2 * time.Second
	historyDefaultLimit = 10
	archiveMaxLimit     = 1000
)

var endpoints = []string{
	"/",
	"/health",
	"/status",
	"/prices",
	"/prices/:currency/history",
	"/prices/:currency/latest",
	"/stats",
	"/ping",
	"/metrics",
	"/ws",
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/prices", s.handlePrices)
	r.GET("/prices/:currency/history", s.handleHistory)
	r.GET("/prices/:currency/latest", s.handleLatest)
	if s.deps.Archive != nil {
		r.GET("/prices/:currency/archive", s.handleArchive)
	}
	r.GET("/stats", s.handleStats)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "Pong!")
	})

	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	if s.deps.Hub != nil {
		r.GET("/ws", s.deps.Hub.Handler())
	}
}

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func (s *Server) lastUpdate() any {
	if t, ok := s.deps.Book.LastUpdate(); ok {
		return t.Format(time.RFC3339Nano)
	}
	return nil
}

func (s *Server) handleRoot(c *gin.Context) {
	eps := endpoints
	if s.deps.Archive != nil {
		eps = append(append([]string(nil), endpoints...), "/prices/:currency/archive")
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "CryptoBot API",
		"timestamp": s.timestamp(),
		"endpoints": eps,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(s.deps.Checks))
	for _, hc := range s.deps.Checks {
		if err := hc.Check(ctx); err != nil {
			status = "degraded"
			checks[hc.Name] = err.Error()
			s.logger.Warn("health check failed", zap.String("check", hc.Name), zap.Error(err))
			continue
		}
		checks[hc.Name] = "ok"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	botStatus := "disabled"
	if s.deps.BotUser != "" {
		botStatus = "online"
	}

	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  s.timestamp(),
		"bot_status": botStatus,
		"checks":     checks,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	body := gin.H{
		"status":            "online",
		"bot_user":          s.deps.BotUser,
		"started_at":        s.started.Format(time.RFC3339Nano),
		"uptime":            s.now().Sub(s.started).Round(time.Second).String(),
		"last_price_update": s.lastUpdate(),
		"currencies":        s.deps.Book.Currencies(),
		"admin_count":       s.deps.Admins.Count(),
		"user_count":        s.deps.Ledger.Count(),
	}
	if s.deps.Hub != nil {
		body["stream_clients"] = s.deps.Hub.ClientCount()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"prices":      s.deps.Book.Prices(),
		"summary":     s.deps.Book.Summary(),
		"last_update": s.lastUpdate(),
		"timestamp":   s.timestamp(),
	})
}

// currencyParam resolves :currency and answers 404 for an unknown one.
func (s *Server) currencyParam(c *gin.Context) (market.Currency, bool) {
	cur := market.Currency(strings.ToLower(c.Param("currency")))
	if !s.deps.Book.IsCurrency(cur) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown currency " + c.Param("currency")})
		return "", false
	}
	return cur, true
}

// limitQuery parses ?limit= and answers 400 when it is out of range.
func limitQuery(c *gin.Context, maxLimit int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return historyDefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxLimit)})
		return 0, false
	}
	return n, true
}

func (s *Server) handleHistory(c *gin.Context) {
	cur, ok := s.currencyParam(c)
	if !ok {
		return
	}
	limit, ok := limitQuery(c, s.deps.Book.Settings().HistoryLimit)
	if !ok {
		return
	}

	history, err := s.deps.Book.History(cur, limit)
	if err != nil {
		s.logger.Error("history lookup failed", zap.String("currency", string(cur)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	current, _ := s.deps.Book.Price(cur)
	c.JSON(http.StatusOK, gin.H{
		"currency":      cur,
		"current_price": current,
		"history":       history,
	})
}

// handleLatest answers from the price cache when one is configured and
// falls back to the book on a miss.
func (s *Server) handleLatest(c *gin.Context) {
	cur, ok := s.currencyParam(c)
	if !ok {
		return
	}

	if s.deps.Cache != nil {
		latest, err := s.deps.Cache.GetLatest(c.Request.Context(), cur)
		switch {
		case err != nil:
			s.logger.Warn("latest price cache lookup failed", zap.String("currency", string(cur)), zap.Error(err))
		case latest != nil:
			c.JSON(http.StatusOK, gin.H{
				"currency":  cur,
				"price":     latest.Price,
				"change":    latest.Change,
				"kind":      latest.Kind,
				"timestamp": latest.Timestamp.Format(time.RFC3339Nano),
				"source":    "cache",
			})
			return
		}
	}

	price, _ := s.deps.Book.Price(cur)
	c.JSON(http.StatusOK, gin.H{
		"currency":  cur,
		"price":     price,
		"timestamp": s.lastUpdate(),
		"source":    "book",
	})
}

type archivedTick struct {
	Price     float64 `json:"price"`
	OldPrice  float64 `json:"old_price"`
	Change    float64 `json:"change"`
	Kind      string  `json:"kind"`
	Manual    bool    `json:"manual,omitempty"`
	Reset     bool    `json:"reset,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func (s *Server) handleArchive(c *gin.Context) {
	cur, ok := s.currencyParam(c)
	if !ok {
		return
	}
	limit, ok := limitQuery(c, archiveMaxLimit)
	if !ok {
		return
	}

	records, err := s.deps.Archive.RecentTicks(c.Request.Context(), cur, limit)
	if err != nil {
		s.logger.Error("archive lookup failed", zap.String("currency", string(cur)), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive unavailable"})
		return
	}

	ticks := make([]archivedTick, len(records))
	for i, r := range records {
		ticks[i] = archivedTick{
			Price: r.Price, OldPrice: r.OldPrice, Change: r.Change, Kind: r.Kind,
			Manual: r.Manual, Reset: r.Reset, Timestamp: r.Timestamp.Format(time.RFC3339Nano),
		}
	}
	c.JSON(http.StatusOK, gin.H{"currency": cur, "ticks": ticks})
}

func (s *Server) handleStats(c *gin.Context) {
	prices := s.deps.Book.Prices()
	stats := s.deps.Ledger.Totals(prices)

	c.JSON(http.StatusOK, gin.H{
		"total_users":            stats.Users,
		"total_balance_eur":      stats.TotalBalance,
		"holdings":               stats.Holdings,
		"total_crypto_value_eur": stats.PortfolioValue - stats.TotalBalance,
		"total_value_eur":        stats.PortfolioValue,
		"transactions":           stats.Transactions,
		"current_prices":         prices,
		"admin_count":            s.deps.Admins.Count(),
		"timestamp":              s.timestamp(),
	})
}
