package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/client"
	"beatstore/internal/metrics"
	"beatstore/internal/model"
	"beatstore/internal/repository"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
	"gorm.io/gorm"
)

// ItemRef is one requested cart line. Prices are never taken from the
// client; they are looked up by ID.
type ItemRef struct {
	Kind          model.ItemType
	ID            string
	LicenseTierID string // beats only
}

type CreateOrderInput struct {
	Items         []ItemRef
	CustomerEmail string
	CustomerName  *string
	DiscountCode  *string
}

type CreateOrderResult struct {
	OrderID     string
	ApprovalURL string
}

type OrderService interface {
	Create(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	// Capture completes a pending order. Repeating it with the same capture
	// id is a no-op; a different capture id is ErrCaptureConflict.
	Capture(ctx context.Context, orderID, captureID string) error
	// CaptureApproved captures at the gateway after the buyer approves and
	// applies the outcome locally.
	CaptureApproved(ctx context.Context, gatewayOrderID string) (*model.Order, error)
	Fail(ctx context.Context, orderID, reason string) error
	Cancel(ctx context.Context, orderID string) error
	CancelByGatewayOrder(ctx context.Context, gatewayOrderID string) (*model.Order, error)
	Refund(ctx context.Context, orderID string) error

	Get(ctx context.Context, orderID string) (*model.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Order, error)
	FindByCaptureID(ctx context.Context, captureID string) (*model.Order, error)
}

type OrderConfig struct {
	BaseURL        string
	Currency       string
	DownloadWindow time.Duration
}

type orderServiceImpl struct {
	db           *gorm.DB
	gateway      Gateway
	orderRepo    repository.OrderRepository
	catalogRepo  repository.CatalogRepository
	discounts    DiscountService
	entitlements EntitlementDispatcher
	cfg          OrderConfig
	now          func() time.Time
	log          *slog.Logger
}

func NewOrderService(
	db *gorm.DB,
	gateway Gateway,
	orderRepo repository.OrderRepository,
	catalogRepo repository.CatalogRepository,
	discounts DiscountService,
	entitlements EntitlementDispatcher,
	cfg OrderConfig,
	now func() time.Time,
	log *slog.Logger,
) OrderService {
	return &orderServiceImpl{
		db:           db,
		gateway:      gateway,
		orderRepo:    orderRepo,
		catalogRepo:  catalogRepo,
		discounts:    discounts,
		entitlements: entitlements,
		cfg:          cfg,
		now:          now,
		log:          log.With("component", "order"),
	}
}

func (s *orderServiceImpl) Create(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	email := strings.TrimSpace(in.CustomerEmail)
	if email == "" {
		return nil, apperr.Invalid("customer_email", "is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Invalid("items", "at least one item is required")
	}

	orderID, err := newOrderID()
	if err != nil {
		return nil, err
	}

	items, err := s.resolveItems(ctx, orderID, in.Items)
	if err != nil {
		return nil, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPrice
	}

	var (
		discountAmount int64
		discountCode   *string
	)
	if in.DiscountCode != nil && strings.TrimSpace(*in.DiscountCode) != "" {
		discount, err := s.discounts.Validate(ctx, *in.DiscountCode, subtotal)
		if err != nil {
			return nil, err
		}
		discountAmount = s.discounts.Amount(discount, subtotal)
		discountCode = &discount.Code
	}

	total := subtotal - discountAmount
	if total <= 0 {
		return nil, apperr.Invalid("discount_code", "discount covers the whole order")
	}

	var undo compensations
	fail := func(err error) (*CreateOrderResult, error) {
		undo.rollback(ctx, s.log.With("order_id", orderID))
		return nil, err
	}

	if discountCode != nil {
		if err := s.discounts.ConsumeAtomic(ctx, *discountCode); err != nil {
			return nil, err
		}
		code := *discountCode
		undo.push("release discount", func(ctx context.Context) error {
			return s.discounts.Release(ctx, code)
		})
	}

	now := s.now()
	order := &model.Order{
		ID:                orderID,
		CustomerEmail:     email,
		CustomerName:      in.CustomerName,
		Status:            model.OrderPending,
		Currency:          s.cfg.Currency,
		Subtotal:          subtotal,
		DiscountAmount:    discountAmount,
		Total:             total,
		DiscountCode:      discountCode,
		DownloadExpiresAt: now.Add(s.cfg.DownloadWindow),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order in db: %w", err)
		}
		if err := s.orderRepo.CreateOrderItems(ctx, tx, items); err != nil {
			return fmt.Errorf("store order items in db: %w", err)
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	undo.push("fail order", func(ctx context.Context) error {
		// The discount has its own compensation, so this must not go
		// through Fail, which would release it a second time.
		_, err := s.orderRepo.Transition(ctx, orderID, model.OrderPending, model.OrderFailed,
			map[string]any{"failure_reason": "gateway order creation failed"})
		return err
	})

	lineItems := make([]client.LineItem, len(items))
	for i, item := range items {
		lineItems[i] = client.LineItem{
			Name:       item.Title + " - " + item.LicenseName,
			SKU:        item.ReferencedItemID,
			UnitAmount: item.UnitPrice,
		}
	}

	remote, err := s.gateway.CreateRemoteOrder(ctx, client.RemoteOrderRequest{
		OrderID:   orderID,
		Currency:  order.Currency,
		ItemTotal: subtotal,
		Discount:  discountAmount,
		Total:     total,
		LineItems: lineItems,
		ReturnURL: strings.TrimRight(s.cfg.BaseURL, "/") + "/api/paypal/success",
		CancelURL: strings.TrimRight(s.cfg.BaseURL, "/") + "/api/paypal/cancel",
	})
	if err != nil {
		return fail(fmt.Errorf("paypal api create order: %w", err))
	}

	if err := s.orderRepo.SetGatewayOrderID(ctx, orderID, remote.RemoteOrderID); err != nil {
		return fail(fmt.Errorf("store gateway order id: %w", err))
	}

	metrics.OrdersCreated.Inc()
	s.log.Info("order created",
		"order_id", orderID,
		"gateway_order_id", remote.RemoteOrderID,
		"items", len(items),
		"total", total,
	)

	return &CreateOrderResult{
		OrderID:     orderID,
		ApprovalURL: remote.ApprovalURL,
	}, nil
}

func newOrderID() (string, error) {
	tid, err := typeid.Generate("ord")
	if err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return tid.String(), nil
}

// resolveItems re-derives every line from the catalog.
func (s *orderServiceImpl) resolveItems(ctx context.Context, orderID string, refs []ItemRef) ([]*model.OrderItem, error) {
	seen := make(map[string]bool, len(refs))
	items := make([]*model.OrderItem, 0, len(refs))
	createdAt := s.now()

	for i, ref := range refs {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(ref.ID) == "" {
			return nil, apperr.Invalid(field+".id", "is required")
		}

		key := string(ref.Kind) + "/" + ref.ID
		if seen[key] {
			return nil, apperr.Invalid(field, "duplicate item %s", ref.ID)
		}
		seen[key] = true

		item := &model.OrderItem{
			ID:               uuid.NewString(),
			OrderID:          orderID,
			ItemType:         ref.Kind,
			ReferencedItemID: ref.ID,
			// Keeps stored line order equal to cart order.
			CreatedAt: createdAt.Add(time.Duration(i) * time.Microsecond),
		}

		switch ref.Kind {
		case model.ItemBeat:
			if ref.LicenseTierID == "" {
				return nil, apperr.Invalid(field+".license_tier_id", "is required for beats")
			}
			tier, err := s.catalogRepo.FindLicenseTier(ctx, ref.LicenseTierID)
			if err != nil {
				return nil, err
			}
			if tier.BeatID != ref.ID || !tier.IsActive {
				return nil, fmt.Errorf("license tier %q for beat %q: %w", ref.LicenseTierID, ref.ID, apperr.ErrCatalogItemMissing)
			}
			beat, err := s.catalogRepo.FindBeat(ctx, ref.ID)
			if err != nil {
				return nil, err
			}
			tierID := tier.ID
			item.LicenseTierID = &tierID
			item.LicenseType = tier.LicenseType
			item.Title = beat.Title
			item.LicenseName = tier.Name
			item.UnitPrice = tier.Price

		case model.ItemSoundKit:
			kit, err := s.catalogRepo.FindSoundKit(ctx, ref.ID)
			if err != nil {
				return nil, err
			}
			if !kit.IsActive {
				return nil, fmt.Errorf("sound kit %q: %w", ref.ID, apperr.ErrCatalogItemMissing)
			}
			item.LicenseType = LicenseTypeSoundKit
			item.Title = kit.Title
			item.LicenseName = "Sound Kit License"
			item.UnitPrice = kit.Price

		case model.ItemService:
			svc, err := s.catalogRepo.FindService(ctx, ref.ID)
			if err != nil {
				return nil, err
			}
			if !svc.IsActive {
				return nil, fmt.Errorf("service %q: %w", ref.ID, apperr.ErrCatalogItemMissing)
			}
			item.LicenseType = LicenseTypeService
			item.Title = svc.Title
			item.LicenseName = "Service Agreement"
			item.UnitPrice = svc.Price

		default:
			return nil, apperr.Invalid(field+".type", "unknown item type %q", ref.Kind)
		}

		items = append(items, item)
	}

	return items, nil
}

func (s *orderServiceImpl) Capture(ctx context.Context, orderID, captureID string) error {
	if captureID == "" {
		return apperr.Invalid("capture_id", "is required")
	}

	ok, err := s.orderRepo.Transition(ctx, orderID, model.OrderPending, model.OrderCompleted, map[string]any{
		"gateway_capture_id":  captureID,
		"download_expires_at": s.now().Add(s.cfg.DownloadWindow),
	})
	if err != nil {
		return err
	}
	if ok {
		metrics.OrderTransitions.WithLabelValues(string(model.OrderCompleted)).Inc()
		s.log.Info("order captured", "order_id", orderID, "capture_id", captureID)
		s.entitlements.Dispatch(orderID)
		return nil
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == model.OrderCompleted {
		if order.GatewayCaptureID != nil && *order.GatewayCaptureID == captureID {
			return nil
		}
		return fmt.Errorf("order %s: %w", orderID, apperr.ErrCaptureConflict)
	}
	return fmt.Errorf("capture order %s in status %s: %w", orderID, order.Status, apperr.ErrInvalidTransition)
}

func (s *orderServiceImpl) CaptureApproved(ctx context.Context, gatewayOrderID string) (*model.Order, error) {
	order, err := s.orderRepo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderPending {
		return order, nil
	}

	res, err := s.gateway.CaptureRemoteOrder(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("paypal api capture order: %w", err)
	}

	switch res.Status {
	case client.CaptureCompleted:
		if err := s.Capture(ctx, order.ID, res.CaptureID); err != nil {
			return nil, err
		}
	case client.CaptureDeclined, client.CaptureFailed:
		if err := s.Fail(ctx, order.ID, "payment capture "+strings.ToLower(res.Status)); err != nil {
			return nil, err
		}
	default:
		// PENDING captures settle later through the webhook.
		s.log.Info("capture not final yet", "order_id", order.ID, "status", res.Status)
	}

	return s.orderRepo.FindByID(ctx, order.ID)
}

func (s *orderServiceImpl) Fail(ctx context.Context, orderID, reason string) error {
	return s.closePending(ctx, orderID, model.OrderFailed, map[string]any{"failure_reason": truncateReason(reason)})
}

func (s *orderServiceImpl) Cancel(ctx context.Context, orderID string) error {
	return s.closePending(ctx, orderID, model.OrderCancelled, nil)
}

func (s *orderServiceImpl) CancelByGatewayOrder(ctx context.Context, gatewayOrderID string) (*model.Order, error) {
	order, err := s.orderRepo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if err := s.Cancel(ctx, order.ID); err != nil {
		return nil, err
	}
	return s.orderRepo.FindByID(ctx, order.ID)
}

// closePending moves a pending order to a terminal unpaid status. The
// winner gives the discount slot back.
func (s *orderServiceImpl) closePending(ctx context.Context, orderID string, to model.OrderStatus, fields map[string]any) error {
	ok, err := s.orderRepo.Transition(ctx, orderID, model.OrderPending, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return s.settled(ctx, orderID, to)
	}

	metrics.OrderTransitions.WithLabelValues(string(to)).Inc()
	s.log.Info("order closed", "order_id", orderID, "status", to)

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DiscountCode != nil {
		if err := s.discounts.Release(ctx, *order.DiscountCode); err != nil {
			s.log.Error("release discount", "order_id", orderID, "code", *order.DiscountCode, "error", err)
		}
	}
	return nil
}

func (s *orderServiceImpl) Refund(ctx context.Context, orderID string) error {
	ok, err := s.orderRepo.Transition(ctx, orderID, model.OrderCompleted, model.OrderRefunded, nil)
	if err != nil {
		return err
	}
	if !ok {
		return s.settled(ctx, orderID, model.OrderRefunded)
	}

	metrics.OrderTransitions.WithLabelValues(string(model.OrderRefunded)).Inc()
	s.log.Info("order refunded", "order_id", orderID)
	return nil
}

// settled is the loser's path of a conditional transition: already being in
// the target status is success, anything else is an invalid transition.
func (s *orderServiceImpl) settled(ctx context.Context, orderID string, to model.OrderStatus) error {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == to {
		return nil
	}
	return fmt.Errorf("order %s %s -> %s: %w", orderID, order.Status, to, apperr.ErrInvalidTransition)
}

func (s *orderServiceImpl) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orderRepo.FindByID(ctx, orderID)
}

func (s *orderServiceImpl) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Order, error) {
	return s.orderRepo.FindByGatewayOrderID(ctx, gatewayOrderID)
}

func (s *orderServiceImpl) FindByCaptureID(ctx context.Context, captureID string) (*model.Order, error) {
	return s.orderRepo.FindByCaptureID(ctx, captureID)
}

func truncateReason(reason string) string {
	const maxLen = 255
	r := []rune(reason)
	if len(r) <= maxLen {
		return reason
	}
	return string(r[:maxLen])
}
