package repository

import (
	"context"
	"errors"
	"fmt"

	"beatstore/internal/apperr"
	"beatstore/internal/model"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	FindByID(ctx context.Context, orderID string) (*model.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Order, error)
	FindByCaptureID(ctx context.Context, captureID string) (*model.Order, error)
	SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID string) error
	// Transition moves an order from one status to another only if it is
	// still in `from`. It reports whether this call performed the update.
	// Pairs outside the order state graph fail with ErrInvalidTransition.
	Transition(ctx context.Context, orderID string, from, to model.OrderStatus, fields map[string]any) (bool, error)
	IncrementDownloadCounts(ctx context.Context, itemIDs []string) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *orderRepoImpl) CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	return r.findOne(ctx, "id = ?", orderID)
}

func (r *orderRepoImpl) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Order, error) {
	if gatewayOrderID == "" {
		return nil, apperr.ErrOrderNotFound
	}
	return r.findOne(ctx, "gateway_order_id = ?", gatewayOrderID)
}

func (r *orderRepoImpl) FindByCaptureID(ctx context.Context, captureID string) (*model.Order, error) {
	if captureID == "" {
		return nil, apperr.ErrOrderNotFound
	}
	return r.findOne(ctx, "gateway_capture_id = ?", captureID)
}

func (r *orderRepoImpl) findOne(ctx context.Context, query string, arg any) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Where(query, arg).
		First(&order).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}

	return &order, nil
}

func (r *orderRepoImpl) SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID string) error {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("gateway_order_id", gatewayOrderID)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepoImpl) Transition(ctx context.Context, orderID string, from, to model.OrderStatus, fields map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("order %s %s -> %s: %w", orderID, from, to, apperr.ErrInvalidTransition)
	}

	updates := map[string]interface{}{
		"status": to,
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)

	if result.Error != nil {
		return false, fmt.Errorf("transition order %s %s->%s: %w", orderID, from, to, result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) IncrementDownloadCounts(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.OrderItem{}).
		Where("id IN ?", itemIDs).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1)).Error
}
