package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"beatstore/internal/apperr"
	"beatstore/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookBody(t *testing.T, id, eventType string, resource model.PaypalResource) []byte {
	t.Helper()
	body, err := json.Marshal(model.PayPalWebhookEvent{
		ID:           id,
		EventType:    eventType,
		ResourceType: "capture",
		Resource:     resource,
	})
	require.NoError(t, err)
	return body
}

func (h *harness) inboxRow(t *testing.T, eventID string) *model.WebhookEvent {
	t.Helper()
	row, err := h.inbox.Get(context.Background(), eventID)
	require.NoError(t, err)
	return row
}

func (h *harness) orderStatus(t *testing.T, orderID string) model.OrderStatus {
	t.Helper()
	order, err := h.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func TestHandleWebhook_CaptureCompleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	body := webhookBody(t, "WH-1", model.EventPaymentCaptureComplete, model.PaypalResource{
		ID:       "CAP123",
		Status:   "COMPLETED",
		CustomID: order.ID,
	})

	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, body))
	h.entitlements.Wait()

	got, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, got.Status)
	assert.Equal(t, "CAP123", *got.GatewayCaptureID)
	assert.Len(t, h.documents(t, order.ID), 1)

	row := h.inboxRow(t, "WH-1")
	assert.Equal(t, model.WebhookProcessed, row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, "CAP123", row.ResourceID)

	// Redelivery of the same event is acknowledged without reprocessing.
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, body))
	h.entitlements.Wait()
	assert.Equal(t, 1, h.inboxRow(t, "WH-1").Attempts)
	assert.Len(t, h.documents(t, order.ID), 1)

	// A second event for the same capture is a no-op on the order.
	again := webhookBody(t, "WH-2", model.EventPaymentCaptureComplete, model.PaypalResource{ID: "CAP123", CustomID: order.ID})
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, again))
	h.entitlements.Wait()
	assert.Len(t, h.documents(t, order.ID), 1)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())
	h.gateway.SetSignatureValid(false)

	body := webhookBody(t, "WH-1", model.EventPaymentCaptureComplete, model.PaypalResource{ID: "CAP123", CustomID: order.ID})
	err := h.webhooks.Handle(ctx, http.Header{}, body)
	require.ErrorIs(t, err, apperr.ErrSignatureVerificationFailed)

	_, err = h.inbox.Get(ctx, "WH-1")
	assert.Error(t, err)
	assert.Equal(t, model.OrderPending, h.orderStatus(t, order.ID))
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.webhooks.Handle(ctx, http.Header{}, []byte("not json")), apperr.ErrValidation)
	assert.ErrorIs(t, h.webhooks.Handle(ctx, http.Header{}, []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`)), apperr.ErrValidation)
}

func TestHandleWebhook_DeniedFailsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSave10(t)
	order := h.createOrder(t, strPtr("SAVE10"), wavLease())

	body := webhookBody(t, "WH-D", model.EventPaymentCaptureDenied, model.PaypalResource{
		ID: "CAP9",
		SupplementaryData: model.SupplementaryData{
			RelatedIDs: model.RelatedIDs{OrderID: order.GatewayOrderID},
		},
	})
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, body))

	got, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, got.Status)
	assert.Equal(t, "payment capture denied", got.FailureReason)
	assert.Equal(t, 0, h.currentUses(t, "SAVE10"))
}

func TestHandleWebhook_RefundResolvedThroughCaptureLink(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.completedOrder(t, wavLease())
	captureID := *order.GatewayCaptureID

	body := webhookBody(t, "WH-R", model.EventPaymentCaptureRefunded, model.PaypalResource{
		ID: "REFUND-1",
		Links: []model.PaypalLink{
			{Rel: "self", Href: "https://api.sandbox.paypal.com/v2/payments/refunds/REFUND-1"},
			{Rel: "up", Href: "https://api.sandbox.paypal.com/v2/payments/captures/" + captureID},
		},
	})
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, body))

	assert.Equal(t, model.OrderRefunded, h.orderStatus(t, order.ID))
	assert.Equal(t, model.WebhookProcessed, h.inboxRow(t, "WH-R").Status)
}

func TestHandleWebhook_OutOfOrderEventIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	// A refund for an order that was never captured cannot be applied.
	body := webhookBody(t, "WH-R", model.EventPaymentCaptureRefunded, model.PaypalResource{ID: "REFUND-1", CustomID: order.ID})
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, body))

	assert.Equal(t, model.OrderPending, h.orderStatus(t, order.ID))
	assert.Equal(t, model.WebhookProcessed, h.inboxRow(t, "WH-R").Status)

	// So is an event for an order we do not know.
	foreign := webhookBody(t, "WH-F", model.EventPaymentCaptureComplete, model.PaypalResource{ID: "CAP1", CustomID: "ord_elsewhere"})
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, foreign))
	assert.Equal(t, model.WebhookProcessed, h.inboxRow(t, "WH-F").Status)
}

func TestHandleWebhook_IgnoresUnhandledTypes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	body := webhookBody(t, "WH-A", model.EventCheckoutOrderApproved, model.PaypalResource{ID: order.GatewayOrderID})
	require.NoError(t, h.webhooks.Handle(ctx, http.Header{}, body))

	assert.Equal(t, model.OrderPending, h.orderStatus(t, order.ID))
	assert.Equal(t, model.WebhookProcessed, h.inboxRow(t, "WH-A").Status)
}

// failingOrders breaks lookups until healed.
type failingOrders struct {
	OrderService
	broken bool
}

func (f *failingOrders) Get(ctx context.Context, orderID string) (*model.Order, error) {
	if f.broken {
		return nil, errors.New("database is locked")
	}
	return f.OrderService.Get(ctx, orderID)
}

func TestReprocessPending_RetriesFailedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	orders := &failingOrders{OrderService: h.orders, broken: true}
	webhooks := NewWebhookService(h.gateway, h.inbox, orders, WebhookConfig{MaxAttempts: 3}, h.clock.Now, discardLogger())

	body := webhookBody(t, "WH-1", model.EventPaymentCaptureComplete, model.PaypalResource{ID: "CAP123", CustomID: order.ID})
	require.NoError(t, webhooks.Handle(ctx, http.Header{}, body), "durable events are acknowledged")

	row := h.inboxRow(t, "WH-1")
	assert.Equal(t, model.WebhookFailed, row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Contains(t, row.LastError, "database is locked")
	assert.Equal(t, model.OrderPending, h.orderStatus(t, order.ID))

	n, err := webhooks.ReprocessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, h.inboxRow(t, "WH-1").Attempts)

	orders.broken = false
	n, err = webhooks.ReprocessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.entitlements.Wait()

	row = h.inboxRow(t, "WH-1")
	assert.Equal(t, model.WebhookProcessed, row.Status)
	assert.Empty(t, row.LastError)
	assert.Equal(t, model.OrderCompleted, h.orderStatus(t, order.ID))

	n, err = webhooks.ReprocessPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReprocessPending_StopsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.createOrder(t, nil, wavLease())

	orders := &failingOrders{OrderService: h.orders, broken: true}
	webhooks := NewWebhookService(h.gateway, h.inbox, orders, WebhookConfig{MaxAttempts: 2}, h.clock.Now, discardLogger())

	body := webhookBody(t, "WH-1", model.EventPaymentCaptureComplete, model.PaypalResource{ID: "CAP123", CustomID: order.ID})
	require.NoError(t, webhooks.Handle(ctx, http.Header{}, body))

	n, err := webhooks.ReprocessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = webhooks.ReprocessPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.WebhookFailed, h.inboxRow(t, "WH-1").Status)
}
