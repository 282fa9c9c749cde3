// Package main provides the entry point for the WhatsApp blast core service
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wablast/blast-core/app/handlers"
	"github.com/wablast/blast-core/app/middleware"
	"github.com/wablast/blast-core/app/router"
	"github.com/wablast/blast-core/app/scheduler"
	"github.com/wablast/blast-core/app/services"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/repository"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application holds the wired flows and the resources that must be released on exit
type Application struct {
	config *config.ProductionConfig
	logger *zap.Logger

	db    *gorm.DB
	redis *redis.Client

	ledger     *businessflow.LedgerFlowImpl
	campaigns  *businessflow.CampaignFlowImpl
	dispatch   *businessflow.DispatchFlowImpl
	webhooks   *businessflow.WebhookFlowImpl
	tokens     *services.TokenServiceImpl
	dispatcher *scheduler.CampaignDispatcher

	stopFuncs []func()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *zap.Logger {
	return utils.NewLogger(utils.LoggerOptions{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if cfg.SlowQueryLog {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return db, nil
}

// initializeCache returns nil when the replay cache is disabled
func initializeCache(cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					// the idempotency guard falls back to the database while redis is down
					logger.Warn("Redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

func initializePublisher(cfg config.MessagingConfig, logger *zap.Logger) (businessflow.EventPublisher, func(), error) {
	if cfg.Provider != "amqp" {
		return services.NewLogPublisher(logger), func() {}, nil
	}
	pub, err := services.NewAMQPPublisher(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	}, nil
}

func initializeSender(cfg config.WhatsAppConfig) businessflow.MessageSender {
	if cfg.Provider == "cloud" {
		return services.NewCloudAPISender(&cfg)
	}
	return services.NewMockSender()
}

// initializeApplication connects to every backing service and wires the flows
func initializeApplication(cfg *config.ProductionConfig, logger *zap.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app.db = db
	app.stopFuncs = append(app.stopFuncs, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	var replay businessflow.ReplayCache
	if rc != nil {
		app.redis = rc
		replay = services.NewRedisReplayCache(rc, cfg.Cache.RedisPrefix, cfg.Cache.ReplayTTL)
		app.stopFuncs = append(app.stopFuncs,
			startCacheHealthMonitor(context.Background(), rc, cfg.Cache.HealthInterval, logger),
			func() { _ = rc.Close() })
	}

	publisher, closePublisher, err := initializePublisher(cfg.Messaging, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.stopFuncs = append(app.stopFuncs, closePublisher)

	prices, err := businessflow.NewPriceBook(cfg.Wallet.Prices)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("invalid wallet price list: %w", err)
	}

	tokens, err := services.NewTokenService(cfg.JWT)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	app.tokens = tokens

	// Repositories
	uow := repository.NewUnitOfWork(db)
	walletRepo := repository.NewWalletRepository(db)
	ledgerRepo := repository.NewLedgerTransactionRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	targetRepo := repository.NewCampaignTargetRepository(db)
	eventRepo := repository.NewProcessedEventRepository(db)
	templateRepo := repository.NewTemplateRepository(db)

	// Flows
	app.ledger = businessflow.NewLedgerFlow(uow, walletRepo, ledgerRepo, publisher, logger)
	app.campaigns = businessflow.NewCampaignFlow(uow, campaignRepo, campaignRepo, targetRepo, app.ledger,
		services.NewTemplateReader(templateRepo), prices, publisher, logger)
	app.dispatch = businessflow.NewDispatchFlow(uow, campaignRepo, targetRepo, app.campaigns, app.ledger,
		initializeSender(cfg.WhatsApp), publisher, cfg.Dispatcher.ClaimLeaseTTL, logger)
	guard := businessflow.NewIdempotencyGuard(eventRepo, replay, logger)
	app.webhooks = businessflow.NewWebhookFlow(uow, guard, app.ledger, targetRepo, targetRepo, publisher,
		cfg.Payment.WebhookSecret, cfg.WhatsApp.AppSecret, logger)
	app.dispatcher = scheduler.NewCampaignDispatcher(campaignRepo, app.dispatch, app.campaigns, cfg.Dispatcher, logger)

	return app, nil
}

// newRouter builds the HTTP surface on top of the wired flows
func (a *Application) newRouter() *router.FiberRouter {
	checks := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}

	r := router.NewFiberRouter(router.Handlers{
		Wallet:   handlers.NewWalletHandler(a.ledger, a.logger),
		Campaign: handlers.NewCampaignHandler(a.campaigns, a.logger),
		Webhook:  handlers.NewWebhookHandler(a.webhooks, a.logger),
		Admin:    handlers.NewAdminHandler(a.ledger, a.campaigns, a.config.Dispatcher.StaleAfter, a.logger),
	}, middleware.NewAuthMiddleware(a.tokens), router.Options{
		Server:     a.config.Server,
		Metrics:    a.config.Metrics,
		Deployment: a.config.Deployment,
		Checks:     checks,
	}, a.logger)
	r.SetupRoutes()
	return r
}

// Close releases resources in reverse acquisition order
func (a *Application) Close() {
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}
	a.stopFuncs = nil
}
