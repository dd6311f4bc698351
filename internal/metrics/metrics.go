package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"cryptobot/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptobot"

// Metrics holds the bot's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	prices        *prometheus.GaugeVec
	trades        *prometheus.CounterVec
	commands      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	streamClients prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "ticks_total",
				Help:      "Price update attempts by result.",
			},
			[]string{"result"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "tick_duration_seconds",
				Help:      "Duration of price updates including persistence.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
		),
		prices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "price_eur",
				Help:      "Current price per currency.",
			},
			[]string{"currency"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "trades_total",
				Help:      "Completed trades by side and currency.",
			},
			[]string{"side", "currency"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bot",
				Name:      "commands_total",
				Help:      "Chat commands handled by command and result.",
			},
			[]string{"command", "result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
		streamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "clients",
				Help:      "Connected live price stream clients.",
			},
		),
	}

	m.Registry.MustRegister(
		m.ticks,
		m.tickDuration,
		m.prices,
		m.trades,
		m.commands,
		m.httpRequests,
		m.httpDuration,
		m.streamClients,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveTick records one price update attempt.
func (m *Metrics) ObserveTick(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(duration.Seconds())
}

// OnPriceUpdate keeps the price gauges current.
func (m *Metrics) OnPriceUpdate(_ context.Context, u market.Update) {
	for _, c := range u.Changes {
		m.prices.WithLabelValues(string(c.Currency)).Set(c.NewPrice)
	}
}

// SetPrices seeds the gauges at startup.
func (m *Metrics) SetPrices(prices map[market.Currency]float64) {
	for c, p := range prices {
		m.prices.WithLabelValues(string(c)).Set(p)
	}
}

func (m *Metrics) ObserveTrade(side string, currency market.Currency) {
	m.trades.WithLabelValues(side, string(currency)).Inc()
}

func (m *Metrics) ObserveCommand(command, result string) {
	if command == "" {
		command = "unknown"
	}
	m.commands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) StreamClientConnected()    { m.streamClients.Inc() }
func (m *Metrics) StreamClientDisconnected() { m.streamClients.Dec() }

// GinMiddleware records request counts and latencies by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if path == "/metrics" {
			return
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
