package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DiscountRepository interface {
	Get(ctx context.Context, code string) (*model.DiscountCode, error)
	// IncrementUses performs the compare-and-increment in a single statement.
	// It reports false when the code is missing, inactive, expired or full.
	IncrementUses(ctx context.Context, code string, now time.Time) (bool, error)
	DecrementUses(ctx context.Context, code string) (bool, error)
	Upsert(ctx context.Context, discount *model.DiscountCode) error
}

type discountRepoImpl struct {
	db *gorm.DB
}

func NewDiscountRepository(db *gorm.DB) DiscountRepository {
	return &discountRepoImpl{
		db: db,
	}
}

// NormalizeCode is the canonical stored form of a discount code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *discountRepoImpl) Get(ctx context.Context, code string) (*model.DiscountCode, error) {
	var discount model.DiscountCode
	err := r.db.WithContext(ctx).
		Where("code = ?", NormalizeCode(code)).
		First(&discount).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrDiscountInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("get discount code: %w", err)
	}

	return &discount, nil
}

func (r *discountRepoImpl) IncrementUses(ctx context.Context, code string, now time.Time) (bool, error) {
	// sqlite compares stored times as text, so both sides must be UTC.
	now = now.UTC()
	result := r.db.WithContext(ctx).Model(&model.DiscountCode{}).
		Where("code = ?", NormalizeCode(code)).
		Where("is_active = ?", true).
		Where("(max_uses IS NULL OR current_uses < max_uses)").
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Updates(map[string]interface{}{
			"current_uses": gorm.Expr("current_uses + ?", 1),
			"updated_at":   now,
		})

	if result.Error != nil {
		return false, fmt.Errorf("consume discount code: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *discountRepoImpl) DecrementUses(ctx context.Context, code string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.DiscountCode{}).
		Where("code = ? AND current_uses > 0", NormalizeCode(code)).
		Updates(map[string]interface{}{
			"current_uses": gorm.Expr("current_uses - ?", 1),
			"updated_at":   time.Now().UTC(),
		})

	if result.Error != nil {
		return false, fmt.Errorf("release discount code: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *discountRepoImpl) Upsert(ctx context.Context, discount *model.DiscountCode) error {
	discount.Code = NormalizeCode(discount.Code)
	if discount.ExpiresAt != nil {
		at := discount.ExpiresAt.UTC()
		discount.ExpiresAt = &at
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "value", "min_order_amount", "max_uses", "is_active", "expires_at", "updated_at",
		}),
	}).Create(discount).Error
}
