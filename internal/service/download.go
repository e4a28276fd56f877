package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/metrics"
	"beatstore/internal/model"
	"beatstore/internal/repository"
	"beatstore/internal/storage"
)

// Deliverable kinds.
const (
	DeliverableMP3      = "mp3"
	DeliverableWAV      = "wav"
	DeliverableStems    = "stems"
	DeliverableSoundKit = "sound_kit"
	DeliverableLicense  = "license"
)

type Download struct {
	OrderItemID string    `json:"order_item_id"`
	Title       string    `json:"title"`
	Kind        string    `json:"kind"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type DownloadResult struct {
	Order     *model.Order
	Downloads []Download
}

type DownloadService interface {
	// Issue hands out signed links for a completed order. The requester
	// must prove ownership with the order email or an account whose email
	// matches it.
	Issue(ctx context.Context, orderID, requesterEmail, accountEmail string) (*DownloadResult, error)
}

type DownloadConfig struct {
	AssetBucket   string
	LicenseBucket string
	SignedURLTTL  time.Duration
}

type downloadServiceImpl struct {
	orderRepo   repository.OrderRepository
	catalogRepo repository.CatalogRepository
	licenseRepo repository.LicenseRepository
	blobs       storage.BlobStore
	cfg         DownloadConfig
	now         func() time.Time
	log         *slog.Logger
}

func NewDownloadService(
	orderRepo repository.OrderRepository,
	catalogRepo repository.CatalogRepository,
	licenseRepo repository.LicenseRepository,
	blobs storage.BlobStore,
	cfg DownloadConfig,
	now func() time.Time,
	log *slog.Logger,
) DownloadService {
	return &downloadServiceImpl{
		orderRepo:   orderRepo,
		catalogRepo: catalogRepo,
		licenseRepo: licenseRepo,
		blobs:       blobs,
		cfg:         cfg,
		now:         now,
		log:         log.With("component", "download"),
	}
}

func (s *downloadServiceImpl) Issue(ctx context.Context, orderID, requesterEmail, accountEmail string) (*DownloadResult, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !sameEmail(requesterEmail, order.CustomerEmail) && !sameEmail(accountEmail, order.CustomerEmail) {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrDownloadForbidden)
	}
	if order.Status != model.OrderCompleted {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, apperr.ErrOrderNotCompleted)
	}

	now := s.now()
	remaining := order.DownloadExpiresAt.Sub(now)
	if remaining <= 0 {
		return nil, fmt.Errorf("order %s expired at %s: %w", orderID, order.DownloadExpiresAt.Format(time.RFC3339), apperr.ErrDownloadWindowExpired)
	}
	ttl := min(s.cfg.SignedURLTTL, remaining)

	var beatIDs, tierIDs, kitIDs []string
	for _, item := range order.Items {
		switch item.ItemType {
		case model.ItemBeat:
			beatIDs = append(beatIDs, item.ReferencedItemID)
			if item.LicenseTierID != nil {
				tierIDs = append(tierIDs, *item.LicenseTierID)
			}
		case model.ItemSoundKit:
			kitIDs = append(kitIDs, item.ReferencedItemID)
		case model.ItemService:
		}
	}

	beats, err := s.catalogRepo.FindBeats(ctx, beatIDs)
	if err != nil {
		return nil, err
	}
	tiers, err := s.catalogRepo.FindLicenseTiers(ctx, tierIDs)
	if err != nil {
		return nil, err
	}
	kits, err := s.catalogRepo.FindSoundKits(ctx, kitIDs)
	if err != nil {
		return nil, err
	}
	docs, err := s.licenseRepo.FindDocumentsByOrderIDs(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	docByItem := make(map[string]*model.GeneratedLicenseDocument, len(docs))
	for _, doc := range docs {
		docByItem[doc.OrderItemID] = doc
	}

	type object struct {
		bucket, path, kind string
	}

	expiresAt := now.Add(ttl)
	var (
		downloads []Download
		served    []string
	)
	for _, item := range order.Items {
		var objects []object

		switch item.ItemType {
		case model.ItemBeat:
			beat := beats[item.ReferencedItemID]
			if beat == nil {
				s.log.Warn("beat missing from catalog", "order_id", order.ID, "beat_id", item.ReferencedItemID)
				break
			}
			if beat.MP3Path != "" {
				objects = append(objects, object{s.cfg.AssetBucket, beat.MP3Path, DeliverableMP3})
			}
			var tier *model.LicenseTier
			if item.LicenseTierID != nil {
				tier = tiers[*item.LicenseTierID]
			}
			if tier != nil && tier.IncludesWAV && beat.WAVPath != "" {
				objects = append(objects, object{s.cfg.AssetBucket, beat.WAVPath, DeliverableWAV})
			}
			if tier != nil && tier.IncludesStems && beat.StemsPath != "" {
				objects = append(objects, object{s.cfg.AssetBucket, beat.StemsPath, DeliverableStems})
			}

		case model.ItemSoundKit:
			kit := kits[item.ReferencedItemID]
			if kit == nil || kit.FilePath == "" {
				s.log.Warn("sound kit file missing", "order_id", order.ID, "kit_id", item.ReferencedItemID)
				break
			}
			objects = append(objects, object{s.cfg.AssetBucket, kit.FilePath, DeliverableSoundKit})

		case model.ItemService:
			// nothing to download
		}

		if doc := docByItem[item.ID]; doc != nil {
			objects = append(objects, object{s.cfg.LicenseBucket, doc.StoragePath, DeliverableLicense})
		}

		for _, obj := range objects {
			url, err := s.blobs.CreateSignedURL(ctx, obj.bucket, obj.path, ttl)
			if err != nil {
				return nil, fmt.Errorf("%w: sign %s: %w", apperr.ErrStorage, obj.path, err)
			}
			downloads = append(downloads, Download{
				OrderItemID: item.ID,
				Title:       item.Title,
				Kind:        obj.kind,
				Filename:    path.Base(obj.path),
				URL:         url,
				ExpiresAt:   expiresAt,
			})
		}
		if len(objects) > 0 {
			served = append(served, item.ID)
		}
	}

	if err := s.orderRepo.IncrementDownloadCounts(ctx, served); err != nil {
		s.log.Warn("increment download counts", "order_id", order.ID, "error", err)
	}
	metrics.DownloadsIssued.Add(float64(len(downloads)))

	return &DownloadResult{
		Order:     order,
		Downloads: downloads,
	}, nil
}

func sameEmail(a, b string) bool {
	a = strings.TrimSpace(a)
	return a != "" && strings.EqualFold(a, strings.TrimSpace(b))
}
