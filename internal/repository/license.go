package repository

import (
	"context"
	"errors"
	"fmt"

	"beatstore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LicenseRepository interface {
	// ActiveTemplate returns nil, nil when no uploaded template is active for
	// the license type.
	ActiveTemplate(ctx context.Context, licenseType string) (*model.LicenseTemplate, error)
	UpsertDocument(ctx context.Context, doc *model.GeneratedLicenseDocument) error
	FindDocumentsByOrderIDs(ctx context.Context, orderIDs []string) ([]*model.GeneratedLicenseDocument, error)
}

type licenseRepoImpl struct {
	db *gorm.DB
}

func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepoImpl{
		db: db,
	}
}

func (r *licenseRepoImpl) ActiveTemplate(ctx context.Context, licenseType string) (*model.LicenseTemplate, error) {
	var tpl model.LicenseTemplate
	err := r.db.WithContext(ctx).
		Where("license_type = ? AND is_active = ?", licenseType, true).
		Where("storage_path IS NOT NULL AND storage_path <> ''").
		Order("updated_at DESC, id DESC").
		First(&tpl).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find license template: %w", err)
	}
	return &tpl, nil
}

func (r *licenseRepoImpl) UpsertDocument(ctx context.Context, doc *model.GeneratedLicenseDocument) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "order_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"storage_path", "updated_at"}),
	}).Create(doc).Error
}

func (r *licenseRepoImpl) FindDocumentsByOrderIDs(ctx context.Context, orderIDs []string) ([]*model.GeneratedLicenseDocument, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var docs []*model.GeneratedLicenseDocument
	err := r.db.WithContext(ctx).
		Where("order_id IN ?", orderIDs).
		Order("order_id, order_item_id").
		Find(&docs).Error

	if err != nil {
		return nil, fmt.Errorf("find license documents: %w", err)
	}
	return docs, nil
}
