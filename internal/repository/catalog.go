package repository

import (
	"context"
	"errors"
	"fmt"

	"beatstore/internal/apperr"
	"beatstore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository is the read side of the catalog and the only source of
// prices at checkout.
type CatalogRepository interface {
	FindBeat(ctx context.Context, beatID string) (*model.Beat, error)
	FindLicenseTier(ctx context.Context, tierID string) (*model.LicenseTier, error)
	FindSoundKit(ctx context.Context, kitID string) (*model.SoundKit, error)
	FindService(ctx context.Context, serviceID string) (*model.ServiceOffering, error)

	FindBeats(ctx context.Context, beatIDs []string) (map[string]*model.Beat, error)
	FindLicenseTiers(ctx context.Context, tierIDs []string) (map[string]*model.LicenseTier, error)
	FindSoundKits(ctx context.Context, kitIDs []string) (map[string]*model.SoundKit, error)

	Seed(ctx context.Context) error
}

type catalogRepoImpl struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepoImpl{
		db: db,
	}
}

func findByID[T any](ctx context.Context, db *gorm.DB, id string, what string) (*T, error) {
	var row T
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %q: %w", what, id, apperr.ErrCatalogItemMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", what, err)
	}

	return &row, nil
}

func (r *catalogRepoImpl) FindBeat(ctx context.Context, beatID string) (*model.Beat, error) {
	return findByID[model.Beat](ctx, r.db, beatID, "beat")
}

func (r *catalogRepoImpl) FindLicenseTier(ctx context.Context, tierID string) (*model.LicenseTier, error) {
	return findByID[model.LicenseTier](ctx, r.db, tierID, "license tier")
}

func (r *catalogRepoImpl) FindSoundKit(ctx context.Context, kitID string) (*model.SoundKit, error) {
	return findByID[model.SoundKit](ctx, r.db, kitID, "sound kit")
}

func (r *catalogRepoImpl) FindService(ctx context.Context, serviceID string) (*model.ServiceOffering, error) {
	return findByID[model.ServiceOffering](ctx, r.db, serviceID, "service")
}

func (r *catalogRepoImpl) FindBeats(ctx context.Context, beatIDs []string) (map[string]*model.Beat, error) {
	var beats []*model.Beat
	if err := findMany(ctx, r.db, beatIDs, &beats); err != nil {
		return nil, fmt.Errorf("find beats: %w", err)
	}
	out := make(map[string]*model.Beat, len(beats))
	for _, b := range beats {
		out[b.ID] = b
	}
	return out, nil
}

func (r *catalogRepoImpl) FindLicenseTiers(ctx context.Context, tierIDs []string) (map[string]*model.LicenseTier, error) {
	var tiers []*model.LicenseTier
	if err := findMany(ctx, r.db, tierIDs, &tiers); err != nil {
		return nil, fmt.Errorf("find license tiers: %w", err)
	}
	out := make(map[string]*model.LicenseTier, len(tiers))
	for _, t := range tiers {
		out[t.ID] = t
	}
	return out, nil
}

func (r *catalogRepoImpl) FindSoundKits(ctx context.Context, kitIDs []string) (map[string]*model.SoundKit, error) {
	var kits []*model.SoundKit
	if err := findMany(ctx, r.db, kitIDs, &kits); err != nil {
		return nil, fmt.Errorf("find sound kits: %w", err)
	}
	out := make(map[string]*model.SoundKit, len(kits))
	for _, k := range kits {
		out[k.ID] = k
	}
	return out, nil
}

func findMany(ctx context.Context, db *gorm.DB, ids []string, dest any) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(dest).
		Error
}

// Seed loads a small demo catalog for local development. Existing rows are
// left alone.
func (r *catalogRepoImpl) Seed(ctx context.Context) error {
	beats := []model.Beat{
		{ID: "beat_midnight", Title: "Midnight Drive", Producer: "Beatstore", MP3Path: "beats/beat_midnight/master.mp3", WAVPath: "beats/beat_midnight/master.wav", StemsPath: "beats/beat_midnight/stems.zip"},
		{ID: "beat_sunrise", Title: "Sunrise", Producer: "Beatstore", MP3Path: "beats/beat_sunrise/master.mp3", WAVPath: "beats/beat_sunrise/master.wav", StemsPath: "beats/beat_sunrise/stems.zip"},
	}
	tiers := []model.LicenseTier{
		{ID: "tier_midnight_mp3", BeatID: "beat_midnight", Name: "MP3 Lease", LicenseType: "mp3_lease", Price: 2999, IsActive: true},
		{ID: "tier_midnight_wav", BeatID: "beat_midnight", Name: "WAV Lease", LicenseType: "wav_lease", Price: 4999, IncludesWAV: true, IsActive: true},
		{ID: "tier_midnight_stems", BeatID: "beat_midnight", Name: "Trackout Lease", LicenseType: "trackout_lease", Price: 9999, IncludesWAV: true, IncludesStems: true, IsActive: true},
		{ID: "tier_midnight_exclusive", BeatID: "beat_midnight", Name: "Exclusive Rights", LicenseType: "exclusive", Price: 49999, IncludesWAV: true, IncludesStems: true, IsActive: true},
		{ID: "tier_sunrise_wav", BeatID: "beat_sunrise", Name: "WAV Lease", LicenseType: "wav_lease", Price: 4999, IncludesWAV: true, IsActive: true},
	}
	kits := []model.SoundKit{
		{ID: "kit_drums_vol1", Title: "Drum Kit Vol. 1", Price: 1999, FilePath: "kits/kit_drums_vol1.zip", IsActive: true},
	}
	services := []model.ServiceOffering{
		{ID: "svc_mixing", Title: "Mixing & Mastering", Price: 14999, IsActive: true},
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rows := range []any{&beats, &tiers, &kits, &services} {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
