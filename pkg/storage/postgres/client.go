package postgres

import (
	"context"
	"fmt"
	"time"

	"cryptobot/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const writeTimeout = 5 * time.Second

// Archive keeps a queryable copy of price ticks and trades. The JSON
// documents remain the source of truth.
type Archive struct {
	DB     *gorm.DB
	logger *zap.Logger
}

func NewArchive(dsn string, logger *zap.Logger) (*Archive, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &Archive{DB: db, logger: logger.Named("archive")}, nil
}

// InitializeAndMigrate connects to Postgres, optionally creates the DB, and runs AutoMigrate.
func InitializeAndMigrate(cfg config.PostgresConfig, env string, createDB bool, logger *zap.Logger) (*Archive, error) {
	if createDB {
		if err := CreateDatabase(cfg, env); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	archive, err := NewArchive(cfg.DSN(env), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := archive.prepare(cfg); err != nil {
		return nil, err
	}

	return archive, nil
}

// prepare applies the pool settings and migrates. The archive is closed when
// either step fails.
func (a *Archive) prepare(cfg config.PostgresConfig) (err error) {
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				a.logger.Warn("failed to close archive", zap.Error(cerr))
			}
		}
	}()

	if err := a.configurePool(cfg); err != nil {
		return err
	}
	if err := a.AutoMigrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (a *Archive) configurePool(cfg config.PostgresConfig) error {
	db, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

func (a *Archive) AutoMigrate() error {
	if err := a.DB.AutoMigrate(&PriceTickRecord{}, &TradeRecord{}); err != nil {
		return fmt.Errorf("auto-migrate archive tables: %w", err)
	}
	return nil
}

func (a *Archive) IsHealthy(ctx context.Context) bool {
	db, err := a.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (a *Archive) Close() error {
	db, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
