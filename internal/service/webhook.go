package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/metrics"
	"beatstore/internal/model"
	"beatstore/internal/repository"
)

type WebhookService interface {
	// Handle verifies, persists and applies one delivery. A nil error means
	// the event is durable and may be acknowledged.
	Handle(ctx context.Context, headers http.Header, body []byte) error
	// ReprocessPending re-drives inbox events that have not been applied.
	ReprocessPending(ctx context.Context, limit int) (int, error)
	// RunRetryLoop calls ReprocessPending every interval until ctx ends.
	RunRetryLoop(ctx context.Context, interval time.Duration, batchSize int)
}

type WebhookConfig struct {
	MaxAttempts int
}

type webhookServiceImpl struct {
	gateway Gateway
	inbox   repository.WebhookEventRepository
	orders  OrderService
	cfg     WebhookConfig
	now     func() time.Time
	log     *slog.Logger
}

func NewWebhookService(
	gateway Gateway,
	inbox repository.WebhookEventRepository,
	orders OrderService,
	cfg WebhookConfig,
	now func() time.Time,
	log *slog.Logger,
) WebhookService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &webhookServiceImpl{
		gateway: gateway,
		inbox:   inbox,
		orders:  orders,
		cfg:     cfg,
		now:     now,
		log:     log.With("component", "webhook"),
	}
}

func (s *webhookServiceImpl) Handle(ctx context.Context, headers http.Header, body []byte) error {
	if err := s.gateway.VerifyWebhookSignature(ctx, headers, body); err != nil {
		if errors.Is(err, apperr.ErrSignatureVerificationFailed) {
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		}
		return fmt.Errorf("verify webhook signature: %w", err)
	}

	var event model.PayPalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apperr.Invalid("body", "decode webhook payload: %v", err)
	}
	if event.ID == "" || event.EventType == "" {
		return apperr.Invalid("body", "webhook event id and type are required")
	}

	row := &model.WebhookEvent{
		EventID:    event.ID,
		EventType:  event.EventType,
		ResourceID: event.Resource.ID,
		Payload:    string(body),
		Status:     model.WebhookReceived,
		ReceivedAt: s.now(),
	}
	created, err := s.inbox.Record(ctx, row)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStorage, err)
	}

	if !created {
		stored, err := s.inbox.Get(ctx, event.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrStorage, err)
		}
		if stored.Status == model.WebhookProcessed {
			s.log.Info("duplicate webhook delivery", "event_id", event.ID, "event_type", event.EventType)
			metrics.WebhookEvents.WithLabelValues(event.EventType, "duplicate").Inc()
			return nil
		}
	}

	// The event is durable from here on; processing failures are retried
	// from the inbox rather than by the gateway.
	s.process(context.WithoutCancel(ctx), &event)
	return nil
}

func (s *webhookServiceImpl) ReprocessPending(ctx context.Context, limit int) (int, error) {
	events, err := s.inbox.ListPending(ctx, s.cfg.MaxAttempts, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, row := range events {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}

		var event model.PayPalWebhookEvent
		if err := json.Unmarshal([]byte(row.Payload), &event); err != nil {
			s.log.Error("stored webhook payload is not json", "event_id", row.EventID, "error", err)
			if err := s.inbox.MarkFailed(ctx, row.EventID, err.Error()); err != nil {
				s.log.Error("mark webhook event failed", "event_id", row.EventID, "error", err)
			}
			continue
		}
		s.process(ctx, &event)
		n++
	}
	return n, nil
}

func (s *webhookServiceImpl) RunRetryLoop(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ReprocessPending(ctx, batchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("reprocess webhook events", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("reprocessed webhook events", "count", n)
			}
		}
	}
}

// process applies an event and records the outcome in the inbox.
func (s *webhookServiceImpl) process(ctx context.Context, event *model.PayPalWebhookEvent) {
	log := s.log.With("event_id", event.ID, "event_type", event.EventType)

	err := s.apply(ctx, event)
	switch {
	case err == nil:
		metrics.WebhookEvents.WithLabelValues(event.EventType, "processed").Inc()
	case apperr.IsTerminalReconcileError(err):
		// Out-of-order or foreign events never succeed on retry.
		log.Warn("webhook event cannot be applied", "error", err)
		metrics.WebhookEvents.WithLabelValues(event.EventType, "terminal").Inc()
	default:
		log.Error("webhook event processing failed", "error", err)
		metrics.WebhookEvents.WithLabelValues(event.EventType, "failed").Inc()
		if err := s.inbox.MarkFailed(ctx, event.ID, err.Error()); err != nil {
			log.Error("mark webhook event failed", "error", err)
		}
		return
	}

	if err := s.inbox.MarkProcessed(ctx, event.ID, s.now()); err != nil {
		log.Error("mark webhook event processed", "error", err)
	}
}

func (s *webhookServiceImpl) apply(ctx context.Context, event *model.PayPalWebhookEvent) error {
	switch event.EventType {
	case model.EventPaymentCaptureComplete:
		order, err := s.resolveOrder(ctx, &event.Resource)
		if err != nil {
			return err
		}
		return s.orders.Capture(ctx, order.ID, event.Resource.ID)

	case model.EventPaymentCaptureDenied, model.EventPaymentCaptureDeclined:
		order, err := s.resolveOrder(ctx, &event.Resource)
		if err != nil {
			return err
		}
		reason := "payment capture " + strings.ToLower(strings.TrimPrefix(event.EventType, "PAYMENT.CAPTURE."))
		return s.orders.Fail(ctx, order.ID, reason)

	case model.EventPaymentCaptureRefunded, model.EventPaymentCaptureReversed:
		order, err := s.resolveOrder(ctx, &event.Resource)
		if err != nil {
			return err
		}
		return s.orders.Refund(ctx, order.ID)

	default:
		// CHECKOUT.ORDER.APPROVED and anything we do not act on.
		s.log.Debug("ignoring webhook event", "event_id", event.ID, "event_type", event.EventType)
		return nil
	}
}

// resolveOrder finds the local order an event refers to: our own id in
// custom_id first, then the gateway order id, then the capture id.
func (s *webhookServiceImpl) resolveOrder(ctx context.Context, res *model.PaypalResource) (*model.Order, error) {
	lookups := []struct {
		key  string
		find func(context.Context, string) (*model.Order, error)
	}{
		{res.CustomID, s.orders.Get},
		{res.SupplementaryData.RelatedIDs.OrderID, s.orders.FindByGatewayOrderID},
		{res.SupplementaryData.RelatedIDs.CaptureID, s.orders.FindByCaptureID},
		{res.CaptureIDFromLinks(), s.orders.FindByCaptureID},
	}

	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		order, err := l.find(ctx, l.key)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, apperr.ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("webhook resource %s: %w", res.ID, apperr.ErrOrderNotFound)
}
