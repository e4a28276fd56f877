package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"beatstore/internal/model"
	"beatstore/internal/repository"
	"beatstore/internal/storage"
	"beatstore/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	assetBucket    = "assets"
	licenseBucket  = "licenses"
	templateBucket = "license-templates"
	downloadWindow = 7 * 24 * time.Hour
)

type harness struct {
	db      *gorm.DB
	clock   *testutil.Clock
	gateway *testutil.FakeGateway
	blobs   *storage.FSStore

	orderRepo    repository.OrderRepository
	discountRepo repository.DiscountRepository
	licenseRepo  repository.LicenseRepository
	inbox        repository.WebhookEventRepository

	discounts    DiscountService
	entitlements EntitlementService
	orders       OrderService
	webhooks     WebhookService
	downloads    DownloadService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		db:      testutil.NewDB(t),
		clock:   testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		gateway: testutil.NewFakeGateway(),
	}
	h.blobs = storage.NewFSStore(t.TempDir(), "http://localhost:8080", "test-secret").WithClock(h.clock.Now)
	log := discardLogger()

	h.orderRepo = repository.NewOrderRepository(h.db)
	h.discountRepo = repository.NewDiscountRepository(h.db)
	h.licenseRepo = repository.NewLicenseRepository(h.db)
	h.inbox = repository.NewWebhookEventRepository(h.db)
	catalogRepo := repository.NewCatalogRepository(h.db)
	require.NoError(t, catalogRepo.Seed(context.Background()))

	h.discounts = NewDiscountService(h.discountRepo, h.clock.Now, log)
	h.entitlements = NewEntitlementService(h.orderRepo, catalogRepo, h.licenseRepo, h.blobs, EntitlementConfig{
		Workers:        2,
		Timeout:        time.Minute,
		LicenseBucket:  licenseBucket,
		TemplateBucket: templateBucket,
	}, h.clock.Now, log)
	h.orders = NewOrderService(h.db, h.gateway, h.orderRepo, catalogRepo, h.discounts, h.entitlements, OrderConfig{
		BaseURL:        "http://localhost:8080",
		Currency:       "USD",
		DownloadWindow: downloadWindow,
	}, h.clock.Now, log)
	h.webhooks = NewWebhookService(h.gateway, h.inbox, h.orders, WebhookConfig{MaxAttempts: 3}, h.clock.Now, log)
	h.downloads = NewDownloadService(h.orderRepo, catalogRepo, h.licenseRepo, h.blobs, DownloadConfig{
		AssetBucket:   assetBucket,
		LicenseBucket: licenseBucket,
		SignedURLTTL:  15 * time.Minute,
	}, h.clock.Now, log)

	t.Cleanup(h.entitlements.Wait)
	return h
}

func (h *harness) addDiscount(t *testing.T, d model.DiscountCode) {
	t.Helper()
	require.NoError(t, h.discountRepo.Upsert(context.Background(), &d))
}

func (h *harness) addSave10(t *testing.T) {
	h.addDiscount(t, model.DiscountCode{
		Code:     "SAVE10",
		Type:     model.DiscountPercentage,
		Value:    decimal.NewFromInt(10),
		IsActive: true,
	})
}

func wavLease() ItemRef {
	return ItemRef{Kind: model.ItemBeat, ID: "beat_midnight", LicenseTierID: "tier_midnight_wav"}
}

func strPtr(s string) *string { return &s }

// createOrder places an order for items and returns the stored row.
func (h *harness) createOrder(t *testing.T, discount *string, items ...ItemRef) *model.Order {
	t.Helper()
	res, err := h.orders.Create(context.Background(), CreateOrderInput{
		Items:         items,
		CustomerEmail: "buyer@example.com",
		CustomerName:  strPtr("Jane Doe"),
		DiscountCode:  discount,
	})
	require.NoError(t, err)

	order, err := h.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	return order
}

func (h *harness) currentUses(t *testing.T, code string) int {
	t.Helper()
	d, err := h.discountRepo.Get(context.Background(), code)
	require.NoError(t, err)
	return d.CurrentUses
}

func (h *harness) documents(t *testing.T, orderID string) []*model.GeneratedLicenseDocument {
	t.Helper()
	docs, err := h.licenseRepo.FindDocumentsByOrderIDs(context.Background(), []string{orderID})
	require.NoError(t, err)
	return docs
}
