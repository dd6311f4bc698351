package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cryptobot/config"
	"cryptobot/internal/app"
	"cryptobot/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// run bot
	if err := app.Run(ctx, cfg, log); err != nil {
		log.Fatal("cryptobot failed", zap.Error(err))
	}
}
