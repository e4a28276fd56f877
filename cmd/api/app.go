package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"beatstore/internal/client"
	"beatstore/internal/config"
	"beatstore/internal/repository"
	"beatstore/internal/service"
	"beatstore/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app is the wired process: one config snapshot, one database, and the
// services every command shares.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	db    *gorm.DB
	redis *redis.Client
	blobs *storage.FSStore

	orders       service.OrderService
	downloads    service.DownloadService
	entitlements service.EntitlementService
	webhooks     service.WebhookService

	catalogRepo  repository.CatalogRepository
	discountRepo repository.DiscountRepository
	settingsRepo repository.SettingsRepository
}

// loadConfig reads the environment and sets up logging.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// openDB opens and migrates the configured database.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := client.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := client.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		log:          log,
		db:           db,
		catalogRepo:  repository.NewCatalogRepository(db),
		discountRepo: repository.NewDiscountRepository(db),
		settingsRepo: repository.NewSettingsRepository(db),
	}

	// Gateway credentials: env first, then payment_settings rows. The
	// result is fixed for the life of the process.
	settings, err := a.settingsRepo.All(ctx)
	if err != nil {
		return nil, err
	}
	paypalCfg := cfg.Paypal.WithOverrides(settings)

	var paypalOpts []client.Option
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		paypalOpts = append(paypalOpts, client.WithTokenCache(a.redis))
	}
	paypalClient := client.NewPaypalClient(paypalCfg, paypalOpts...)

	rights, err := service.LoadRightsTable(cfg.Entitlement.RightsFile)
	if err != nil {
		return nil, err
	}

	a.blobs = storage.NewFSStore(cfg.Storage.Root, cfg.BaseURL, cfg.Storage.SigningSecret)

	orderRepo := repository.NewOrderRepository(db)
	licenseRepo := repository.NewLicenseRepository(db)

	discounts := service.NewDiscountService(a.discountRepo, time.Now, log)
	a.entitlements = service.NewEntitlementService(orderRepo, a.catalogRepo, licenseRepo, a.blobs, service.EntitlementConfig{
		Workers:        cfg.Entitlement.Workers,
		Timeout:        cfg.Entitlement.Timeout,
		LicenseBucket:  cfg.Storage.LicenseBucket,
		TemplateBucket: cfg.Storage.TemplateBucket,
		Rights:         rights,
	}, time.Now, log)
	a.orders = service.NewOrderService(db, paypalClient, orderRepo, a.catalogRepo, discounts, a.entitlements, service.OrderConfig{
		BaseURL:        cfg.BaseURL,
		Currency:       paypalCfg.Currency,
		DownloadWindow: cfg.Downloads.Window,
	}, time.Now, log)
	a.webhooks = service.NewWebhookService(paypalClient, repository.NewWebhookEventRepository(db), a.orders, service.WebhookConfig{
		MaxAttempts: cfg.Webhook.MaxAttempts,
	}, time.Now, log)
	a.downloads = service.NewDownloadService(orderRepo, a.catalogRepo, licenseRepo, a.blobs, service.DownloadConfig{
		AssetBucket:   cfg.Storage.AssetBucket,
		LicenseBucket: cfg.Storage.LicenseBucket,
		SignedURLTTL:  cfg.Storage.SignedURLTTL,
	}, time.Now, log)

	return a, nil
}

// Close waits for background license generation and releases connections.
func (a *app) Close() {
	a.entitlements.Wait()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("close redis", "error", err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.Warn("close database", "error", err)
		}
	}
}
