package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cryptobot/config"
	"cryptobot/internal/admin"
	"cryptobot/internal/backup"
	"cryptobot/internal/bot"
	"cryptobot/internal/bot/telegram"
	"cryptobot/internal/httpapi"
	"cryptobot/internal/market"
	"cryptobot/internal/metrics"
	"cryptobot/internal/scheduler"
	"cryptobot/internal/stream"
	"cryptobot/internal/wallet"
	"cryptobot/pkg/cache"
	"cryptobot/pkg/storage/jsonfile"
	"cryptobot/pkg/storage/postgres"

	"go.uber.org/zap"
)

// OwnerEnv names an optional extra owner id seeded as administrator.
const OwnerEnv = "BOT_OWNER_ID"

// Run wires every component, serves until ctx is cancelled and then saves
// and backs up all documents.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	prefix := cfg.Bot.BackupPrefix
	if prefix == "" {
		prefix = backup.DefaultPrefix
	}

	// JSON documents
	pricesDoc, err := jsonfile.New(cfg.Bot.DataDir, "prices")
	if err != nil {
		return fmt.Errorf("open prices document: %w", err)
	}
	usersDoc, err := jsonfile.New(cfg.Bot.DataDir, "users")
	if err != nil {
		return fmt.Errorf("open users document: %w", err)
	}
	adminDoc, err := jsonfile.New(cfg.Bot.DataDir, "admin")
	if err != nil {
		return fmt.Errorf("open admin document: %w", err)
	}

	// Restore before any manager reads its document
	results, err := backup.RestoreMissing(prefix, logger, pricesDoc, usersDoc, adminDoc)
	if err != nil {
		logger.Warn("backup restore incomplete", zap.Error(err))
	}
	for _, r := range results {
		logger.Info("startup document check",
			zap.String("document", r.Document), zap.String("outcome", string(r.Outcome)), zap.String("backup", r.Backup))
	}

	book := market.NewBook(market.SettingsFromConfig(cfg.Bot), pricesDoc, market.NewTimeSeededSource(), logger)
	logLoad(logger, "prices", book.Load())

	ledger := wallet.NewLedger(wallet.SettingsFromConfig(cfg.Bot), usersDoc, logger)
	logLoad(logger, "users", ledger.Load())

	admins := admin.NewRegistry(adminDoc, logger)
	logLoad(logger, "admin", admins.Load())
	if err := admins.Seed(owners(cfg.Bot.Owners, logger)...); err != nil {
		logger.Warn("failed to seed owners", zap.Error(err))
	}

	// Observers
	m := metrics.New()
	m.SetPrices(book.Prices())
	book.Subscribe(m)

	checks := []httpapi.HealthCheck{{
		Name: "documents",
		Check: func(context.Context) error {
			return errors.Join(pricesDoc.Validate(), usersDoc.Validate(), adminDoc.Validate())
		},
	}}

	var (
		trades      bot.TradeRecorder
		history     bot.TradeHistory
		tickArchive httpapi.TickArchive
		latest      httpapi.LatestPrices
	)
	if cfg.Postgres.Enabled {
		archive, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true, logger)
		if err != nil {
			logger.Warn("postgres archive disabled", zap.Error(err))
		} else {
			defer archive.Close()
			book.Subscribe(archive)
			trades, history, tickArchive = archive, archive, archive
			checks = append(checks, httpapi.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
				if !archive.IsHealthy(ctx) {
					return errors.New("ping failed")
				}
				return nil
			}})
			logger.Info("postgres archive enabled", zap.String("dbname", cfg.Postgres.DBName))
		}
	}

	if cfg.Redis.Enabled {
		priceCache, err := cache.NewPriceCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis price cache disabled", zap.Error(err))
		} else {
			defer priceCache.Close()
			book.Subscribe(priceCache)
			latest = priceCache
			checks = append(checks, httpapi.HealthCheck{Name: "redis", Check: priceCache.Ping})
			logger.Info("redis price cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	hub := stream.NewHub(book.Currencies(), book.Prices, logger).WithRecorder(m)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	book.Subscribe(hub)

	// Chat
	dispatcher := bot.NewDispatcher(bot.Config{
		RateLimit: cfg.Telegram.RateLimit,
		RateBurst: cfg.Telegram.RateBurst,
	}, bot.Deps{
		Book:     book,
		Ledger:   ledger,
		Admins:   admins,
		Trades:   trades,
		History:  history,
		Recorder: m,
		Logger:   logger,
	})

	var botUser string
	if cfg.Telegram.Token == "" {
		logger.Warn("no telegram token configured, chat commands disabled")
	} else {
		tg, err := telegram.New(cfg.Telegram, dispatcher, logger)
		if err != nil {
			logger.Error("telegram disabled", zap.Error(err))
		} else {
			dispatcher.SetNotifier(tg)
			botUser = tg.Username()
			go tg.Listen(ctx)
		}
	}

	// HTTP
	server := httpapi.NewServer(cfg.HTTP, httpapi.Deps{
		Book:    book,
		Ledger:  ledger,
		Admins:  admins,
		Metrics: m,
		Hub:     hub,
		Archive: tickArchive,
		Cache:   latest,
		Checks:  checks,
		BotUser: botUser,
		Logger:  logger,
	})
	serverErr := server.Start()

	// Background jobs
	ticker := scheduler.NewPriceTicker(book, cfg.Bot.UpdateInterval(), cfg.Bot.RetryInterval, logger).WithRecorder(m)
	tickerCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	tickerDone := ticker.Start(tickerCtx)

	autosave, err := scheduler.NewAutoSaver(cfg.Bot.AutosaveSchedule, logger,
		scheduler.Target{Name: "prices", Saver: book},
		scheduler.Target{Name: "users", Saver: ledger},
		scheduler.Target{Name: "admin", Saver: admins},
	)
	if err != nil {
		stopTicker()
		<-tickerDone
		return err
	}
	autosave.Start()

	logger.Info("cryptobot started",
		zap.Strings("currencies", cfg.Bot.Currencies),
		zap.Duration("update_interval", cfg.Bot.UpdateInterval()),
		zap.String("http_addr", cfg.HTTP.Addr))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	// Shutdown: stop producers first, then persist
	<-autosave.Stop().Done()
	stopTicker()
	<-tickerDone

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopHub()

	if err := backup.Shutdown(prefix, logger,
		backup.Target{Name: "prices", Doc: book},
		backup.Target{Name: "users", Doc: ledger},
		backup.Target{Name: "admin", Doc: admins},
	); err != nil {
		runErr = errors.Join(runErr, err)
	}

	logger.Info("cryptobot stopped")
	return runErr
}

func logLoad(logger *zap.Logger, document string, res jsonfile.LoadResult) {
	fields := []zap.Field{zap.String("document", document), zap.String("status", res.Status.String())}
	if res.SetAside != "" {
		fields = append(fields, zap.String("set_aside", res.SetAside))
	}
	if res.Cause != nil {
		logger.Warn("document load", append(fields, zap.Error(res.Cause))...)
		return
	}
	logger.Info("document load", fields...)
}

// owners merges configured owners with the optional env owner.
func owners(configured []int64, logger *zap.Logger) []int64 {
	ids := append([]int64(nil), configured...)

	raw := strings.TrimSpace(os.Getenv(OwnerEnv))
	if raw == "" {
		return ids
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("ignoring invalid owner id", zap.String("env", OwnerEnv), zap.String("value", raw))
		return ids
	}
	return append(ids, id)
}
