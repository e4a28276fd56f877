package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"beatstore/internal/apperr"
	"beatstore/internal/client"
	"beatstore/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_WithDiscount(t *testing.T) {
	h := newHarness(t)
	h.addSave10(t)

	order := h.createOrder(t, strPtr("save10"), wavLease())

	assert.True(t, strings.HasPrefix(order.ID, "ord_"))
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, int64(4999), order.Subtotal)
	assert.Equal(t, int64(500), order.DiscountAmount)
	assert.Equal(t, int64(4499), order.Total)
	assert.Equal(t, order.Total, order.ExpectedTotal())
	require.NotNil(t, order.DiscountCode)
	assert.Equal(t, "SAVE10", *order.DiscountCode)
	assert.Equal(t, "PP-"+order.ID, order.GatewayOrderID)
	assert.Equal(t, h.clock.Now().Add(downloadWindow), order.DownloadExpiresAt.UTC())
	assert.Equal(t, 1, h.currentUses(t, "SAVE10"))

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, model.ItemBeat, item.ItemType)
	assert.Equal(t, "Midnight Drive", item.Title)
	assert.Equal(t, "WAV Lease", item.LicenseName)
	assert.Equal(t, "wav_lease", item.LicenseType)
	assert.Equal(t, int64(4999), item.UnitPrice)

	sent := h.gateway.CreatedOrders()
	require.Len(t, sent, 1)
	assert.Equal(t, order.ID, sent[0].OrderID)
	assert.Equal(t, int64(4999), sent[0].ItemTotal)
	assert.Equal(t, int64(500), sent[0].Discount)
	assert.Equal(t, int64(4499), sent[0].Total)
	assert.Equal(t, "http://localhost:8080/api/paypal/success", sent[0].ReturnURL)
	assert.Equal(t, "http://localhost:8080/api/paypal/cancel", sent[0].CancelURL)
}

func TestCreateOrder_MixedCartUsesCatalogPrices(t *testing.T) {
	h := newHarness(t)

	order := h.createOrder(t, nil,
		wavLease(),
		ItemRef{Kind: model.ItemSoundKit, ID: "kit_drums_vol1"},
		ItemRef{Kind: model.ItemService, ID: "svc_mixing"},
	)

	assert.Equal(t, int64(4999+1999+14999), order.Total)
	assert.Zero(t, order.DiscountAmount)
	assert.Nil(t, order.DiscountCode)
	require.Len(t, order.Items, 3)
	assert.Equal(t, model.ItemBeat, order.Items[0].ItemType)
	assert.Equal(t, LicenseTypeSoundKit, order.Items[1].LicenseType)
	assert.Equal(t, LicenseTypeService, order.Items[2].LicenseType)
}

func TestCreateOrder_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tests := []struct {
		name  string
		items []ItemRef
		email string
		want  error
	}{
		{"no items", nil, "a@b.c", apperr.ErrValidation},
		{"no email", []ItemRef{wavLease()}, " ", apperr.ErrValidation},
		{"duplicate line", []ItemRef{wavLease(), {Kind: model.ItemBeat, ID: "beat_midnight", LicenseTierID: "tier_midnight_mp3"}}, "a@b.c", apperr.ErrValidation},
		{"beat without tier", []ItemRef{{Kind: model.ItemBeat, ID: "beat_midnight"}}, "a@b.c", apperr.ErrValidation},
		{"tier of another beat", []ItemRef{{Kind: model.ItemBeat, ID: "beat_sunrise", LicenseTierID: "tier_midnight_wav"}}, "a@b.c", apperr.ErrCatalogItemMissing},
		{"unknown kit", []ItemRef{{Kind: model.ItemSoundKit, ID: "kit_nope"}}, "a@b.c", apperr.ErrCatalogItemMissing},
		{"unknown kind", []ItemRef{{Kind: "bundle", ID: "x"}}, "a@b.c", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orders.Create(ctx, CreateOrderInput{Items: tt.items, CustomerEmail: tt.email})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.gateway.CreatedOrders())
}

func TestCreateOrder_DiscountCoveringWholeOrderIsRejected(t *testing.T) {
	h := newHarness(t)
	h.addDiscount(t, model.DiscountCode{Code: "FREE", Type: model.DiscountPercentage, Value: decimal.NewFromInt(100), IsActive: true})

	_, err := h.orders.Create(context.Background(), CreateOrderInput{
		Items:         []ItemRef{wavLease()},
		CustomerEmail: "buyer@example.com",
		DiscountCode:  strPtr("FREE"),
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 0, h.currentUses(t, "FREE"))
}

func TestCreateOrder_GatewayFailureCompensates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSave10(t)
	h.gateway.CreateErr = errors.Join(apperr.ErrGatewayOrder, errors.New("paypal error 500"))

	_, err := h.orders.Create(ctx, CreateOrderInput{
		Items:         []ItemRef{wavLease()},
		CustomerEmail: "buyer@example.com",
		DiscountCode:  strPtr("SAVE10"),
	})
	require.ErrorIs(t, err, apperr.ErrGatewayOrder)
	assert.Equal(t, 0, h.currentUses(t, "SAVE10"))

	sent := h.gateway.CreatedOrders()
	require.Len(t, sent, 1)
	order, err := h.orders.Get(ctx, sent[0].OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, order.Status)
	assert.NotEmpty(t, order.FailureReason)
}

func TestCapture_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease(), ItemRef{Kind: model.ItemSoundKit, ID: "kit_drums_vol1"})

	h.clock.Advance(3 * 24 * time.Hour)
	require.NoError(t, h.orders.Capture(ctx, order.ID, "CAP123"))
	require.NoError(t, h.orders.Capture(ctx, order.ID, "CAP123"))
	h.entitlements.Wait()

	got, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, got.Status)
	assert.Equal(t, "CAP123", *got.GatewayCaptureID)
	assert.Equal(t, h.clock.Now().Add(downloadWindow), got.DownloadExpiresAt.UTC())
	assert.Len(t, h.documents(t, order.ID), 2)

	err = h.orders.Capture(ctx, order.ID, "CAP999")
	assert.ErrorIs(t, err, apperr.ErrCaptureConflict)

	assert.ErrorIs(t, h.orders.Fail(ctx, order.ID, "late denial"), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, h.orders.Cancel(ctx, order.ID), apperr.ErrInvalidTransition)
}

func TestCapture_ConcurrentDeliveriesTransitionOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	const n = 6
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- h.orders.Capture(ctx, order.ID, "CAP123") }()
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}
	h.entitlements.Wait()

	assert.Len(t, h.documents(t, order.ID), 1)
}

func TestCapture_UnknownOrderAndInvalidStates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.orders.Capture(ctx, "ord_missing", "CAP1"), apperr.ErrOrderNotFound)
	assert.ErrorIs(t, h.orders.Capture(ctx, "ord_missing", ""), apperr.ErrValidation)

	order := h.createOrder(t, nil, wavLease())
	require.NoError(t, h.orders.Fail(ctx, order.ID, "payment capture denied"))
	assert.ErrorIs(t, h.orders.Capture(ctx, order.ID, "CAP1"), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, h.orders.Refund(ctx, order.ID), apperr.ErrInvalidTransition)
}

func TestFailAndCancel_ReleaseDiscountOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSave10(t)

	failed := h.createOrder(t, strPtr("SAVE10"), wavLease())
	cancelled := h.createOrder(t, strPtr("SAVE10"), wavLease())
	assert.Equal(t, 2, h.currentUses(t, "SAVE10"))

	require.NoError(t, h.orders.Fail(ctx, failed.ID, "payment capture denied"))
	require.NoError(t, h.orders.Fail(ctx, failed.ID, "payment capture denied"))
	assert.Equal(t, 1, h.currentUses(t, "SAVE10"))

	got, err := h.orders.CancelByGatewayOrder(ctx, cancelled.GatewayOrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	require.NoError(t, h.orders.Cancel(ctx, cancelled.ID))
	assert.Equal(t, 0, h.currentUses(t, "SAVE10"))
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	assert.ErrorIs(t, h.orders.Refund(ctx, order.ID), apperr.ErrInvalidTransition)

	require.NoError(t, h.orders.Capture(ctx, order.ID, "CAP123"))
	require.NoError(t, h.orders.Refund(ctx, order.ID))
	require.NoError(t, h.orders.Refund(ctx, order.ID))

	got, err := h.orders.FindByCaptureID(ctx, "CAP123")
	require.NoError(t, err)
	assert.Equal(t, model.OrderRefunded, got.Status)
}

func TestFail_TruncatesReasonByRunes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	require.NoError(t, h.orders.Fail(ctx, order.ID, strings.Repeat("\u00fc", 300)))

	got, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got.FailureReason))
	assert.Equal(t, 255, utf8.RuneCountInString(got.FailureReason))
}

func TestCaptureApproved(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		h := newHarness(t)
		order := h.createOrder(t, nil, wavLease())

		got, err := h.orders.CaptureApproved(ctx, order.GatewayOrderID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderCompleted, got.Status)
		assert.Equal(t, "CAP-"+order.GatewayOrderID, *got.GatewayCaptureID)

		// A second return to the success page does not capture again.
		_, err = h.orders.CaptureApproved(ctx, order.GatewayOrderID)
		require.NoError(t, err)
		assert.Len(t, h.gateway.CapturedOrders(), 1)
	})

	t.Run("declined", func(t *testing.T) {
		h := newHarness(t)
		order := h.createOrder(t, nil, wavLease())
		h.gateway.CaptureResult = &client.CaptureResult{CaptureID: "CAP1", Status: client.CaptureDeclined}

		got, err := h.orders.CaptureApproved(ctx, order.GatewayOrderID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderFailed, got.Status)
		assert.Equal(t, "payment capture declined", got.FailureReason)
	})

	t.Run("pending", func(t *testing.T) {
		h := newHarness(t)
		order := h.createOrder(t, nil, wavLease())
		h.gateway.CaptureResult = &client.CaptureResult{CaptureID: "CAP1", Status: client.CapturePending}

		got, err := h.orders.CaptureApproved(ctx, order.GatewayOrderID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderPending, got.Status)
	})

	t.Run("unknown gateway order", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orders.CaptureApproved(ctx, "PP-unknown")
		assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
	})
}
