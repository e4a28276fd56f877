package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/metrics"
	"beatstore/internal/model"
	"beatstore/internal/money"
	"beatstore/internal/repository"
	"beatstore/internal/storage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type GenerationReport struct {
	OrderID   string
	Generated []string         // order item ids
	Skipped   []string         // already had a document
	Failed    map[string]error // by order item id
}

type EntitlementService interface {
	EntitlementDispatcher
	// Wait blocks until every dispatched generation has finished.
	Wait()
	// GenerateForOrder writes a license document for every item of a
	// completed order that does not have one yet.
	GenerateForOrder(ctx context.Context, orderID string) (*GenerationReport, error)
	// Regenerate rewrites the documents of every item in place.
	Regenerate(ctx context.Context, orderID string) (*GenerationReport, error)
}

type EntitlementConfig struct {
	Workers        int
	Timeout        time.Duration
	LicenseBucket  string
	TemplateBucket string
	Rights         RightsTable
}

type entitlementServiceImpl struct {
	orderRepo   repository.OrderRepository
	catalogRepo repository.CatalogRepository
	licenseRepo repository.LicenseRepository
	blobs       storage.BlobStore
	cfg         EntitlementConfig
	now         func() time.Time
	log         *slog.Logger

	inflight sync.WaitGroup
}

func NewEntitlementService(
	orderRepo repository.OrderRepository,
	catalogRepo repository.CatalogRepository,
	licenseRepo repository.LicenseRepository,
	blobs storage.BlobStore,
	cfg EntitlementConfig,
	now func() time.Time,
	log *slog.Logger,
) EntitlementService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Rights == nil {
		cfg.Rights = DefaultRightsTable()
	}
	return &entitlementServiceImpl{
		orderRepo:   orderRepo,
		catalogRepo: catalogRepo,
		licenseRepo: licenseRepo,
		blobs:       blobs,
		cfg:         cfg,
		now:         now,
		log:         log.With("component", "entitlement"),
	}
}

// Dispatch runs generation in the background, detached from any request.
func (s *entitlementServiceImpl) Dispatch(orderID string) {
	s.inflight.Go(func() {
		ctx := context.Background()
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}

		report, err := s.GenerateForOrder(ctx, orderID)
		if err != nil {
			s.log.Error("license generation aborted", "order_id", orderID, "error", err)
			return
		}
		s.log.Info("license generation finished",
			"order_id", orderID,
			"generated", len(report.Generated),
			"skipped", len(report.Skipped),
			"failed", len(report.Failed),
		)
	})
}

func (s *entitlementServiceImpl) Wait() {
	s.inflight.Wait()
}

func (s *entitlementServiceImpl) GenerateForOrder(ctx context.Context, orderID string) (*GenerationReport, error) {
	return s.generate(ctx, orderID, false)
}

func (s *entitlementServiceImpl) Regenerate(ctx context.Context, orderID string) (*GenerationReport, error) {
	return s.generate(ctx, orderID, true)
}

func (s *entitlementServiceImpl) generate(ctx context.Context, orderID string, overwrite bool) (*GenerationReport, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderCompleted {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, apperr.ErrOrderNotCompleted)
	}

	existing := map[string]bool{}
	if !overwrite {
		docs, err := s.licenseRepo.FindDocumentsByOrderIDs(ctx, []string{orderID})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			existing[doc.OrderItemID] = true
		}
	}

	var beatIDs []string
	for _, item := range order.Items {
		if item.ItemType == model.ItemBeat {
			beatIDs = append(beatIDs, item.ReferencedItemID)
		}
	}
	beats, err := s.catalogRepo.FindBeats(ctx, beatIDs)
	if err != nil {
		return nil, err
	}

	report := &GenerationReport{OrderID: orderID, Failed: map[string]error{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range order.Items {
		item := &order.Items[i]
		if existing[item.ID] {
			report.Skipped = append(report.Skipped, item.ID)
			continue
		}

		g.Go(func() error {
			source, err := s.generateItem(ctx, order, item, beats[item.ReferencedItemID])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				err = fmt.Errorf("%w: item %s: %w", apperr.ErrEntitlementGenerationFailed, item.ID, err)
				report.Failed[item.ID] = err
				metrics.LicenseDocuments.WithLabelValues(source, "failed").Inc()
				s.log.Error("license document failed", "order_id", order.ID, "order_item_id", item.ID, "error", err)
				return nil
			}
			report.Generated = append(report.Generated, item.ID)
			metrics.LicenseDocuments.WithLabelValues(source, "generated").Inc()
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}

// DocumentPath is where an item's license document is stored inside the
// license bucket.
func DocumentPath(orderID, orderItemID string) string {
	return orderID + "/" + orderItemID + ".txt"
}

func (s *entitlementServiceImpl) generateItem(ctx context.Context, order *model.Order, item *model.OrderItem, beat *model.Beat) (string, error) {
	rights, known := s.cfg.Rights.For(item.LicenseType)
	if !known {
		s.log.Warn("unknown license type, using fallback rights", "license_type", item.LicenseType, "order_item_id", item.ID)
	}
	fields := s.documentFields(order, item, beat, rights)

	source := "builtin"
	var body []byte

	tpl, err := s.licenseRepo.ActiveTemplate(ctx, item.LicenseType)
	if err != nil {
		return source, err
	}
	if tpl != nil {
		source = "template"
		raw, err := s.blobs.Download(ctx, s.cfg.TemplateBucket, *tpl.StoragePath)
		if err != nil {
			return source, fmt.Errorf("%w: load template %s: %w", apperr.ErrStorage, *tpl.StoragePath, err)
		}
		body = renderTemplate(string(raw), fields)
	} else {
		body = synthesizeDocument(fields)
	}

	path := DocumentPath(order.ID, item.ID)
	if err := s.blobs.Upload(ctx, s.cfg.LicenseBucket, path, body); err != nil {
		return source, fmt.Errorf("%w: upload %s: %w", apperr.ErrStorage, path, err)
	}

	err = s.licenseRepo.UpsertDocument(ctx, &model.GeneratedLicenseDocument{
		OrderID:     order.ID,
		OrderItemID: item.ID,
		StoragePath: path,
	})
	if err != nil {
		return source, fmt.Errorf("record license document: %w", err)
	}
	return source, nil
}

type documentFields map[string]string

func (s *entitlementServiceImpl) documentFields(order *model.Order, item *model.OrderItem, beat *model.Beat, rights Rights) documentFields {
	customerName := ""
	if order.CustomerName != nil {
		customerName = sanitizeField(*order.CustomerName, maxFieldLength)
	}
	producer := ""
	if beat != nil {
		producer = sanitizeField(beat.Producer, maxFieldLength)
	}

	p := message.NewPrinter(language.English)
	limit := func(n int) string {
		if n == 0 {
			return "unlimited"
		}
		return p.Sprintf("up to %d", n)
	}
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}

	return documentFields{
		"order_id":            order.ID,
		"order_item_id":       item.ID,
		"customer_name":       customerName,
		"customer_email":      sanitizeField(order.CustomerEmail, maxFieldLength),
		"item_title":          sanitizeField(item.Title, maxFieldLength),
		"item_type":           string(item.ItemType),
		"license_name":        sanitizeField(item.LicenseName, maxFieldLength),
		"license_type":        sanitizeField(item.LicenseType, maxFieldLength),
		"producer":            producer,
		"price":               money.Display(item.UnitPrice, order.Currency),
		"issue_date":          s.now().UTC().Format(time.DateOnly),
		"stream_limit":        limit(rights.StreamLimit),
		"distribution_copies": limit(rights.DistributionCopies),
		"radio_broadcasting":  yesNo(rights.RadioBroadcasting),
		"music_videos":        yesNo(rights.MusicVideos),
		"commercial_use":      yesNo(rights.CommercialUse),
		"exclusive":           yesNo(rights.Exclusive),
		"terms":               sanitizeField(rights.Terms, 1000),
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// renderTemplate fills {{name}} placeholders. Unknown names are left as is.
func renderTemplate(tpl string, fields documentFields) []byte {
	tpl = strings.ToValidUTF8(tpl, "")
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := fields[name]; ok {
			return v
		}
		return m
	})
	return []byte(out)
}

func synthesizeDocument(f documentFields) []byte {
	var b strings.Builder

	licensee := f["customer_email"]
	if f["customer_name"] != "" {
		licensee = f["customer_name"] + " <" + f["customer_email"] + ">"
	}

	b.WriteString("LICENSE AGREEMENT\n\n")
	fmt.Fprintf(&b, "License: %s (%s)\n", f["license_name"], f["license_type"])
	fmt.Fprintf(&b, "Order: %s\n", f["order_id"])
	fmt.Fprintf(&b, "Order item: %s\n", f["order_item_id"])
	fmt.Fprintf(&b, "Item: %s (%s)\n", f["item_title"], f["item_type"])
	if f["producer"] != "" {
		fmt.Fprintf(&b, "Producer: %s\n", f["producer"])
	}
	fmt.Fprintf(&b, "Licensee: %s\n", licensee)
	fmt.Fprintf(&b, "Price: %s\n", f["price"])
	fmt.Fprintf(&b, "Issued: %s\n", f["issue_date"])

	b.WriteString("\nGRANTED RIGHTS\n")
	fmt.Fprintf(&b, "Audio streams: %s\n", f["stream_limit"])
	fmt.Fprintf(&b, "Distribution copies: %s\n", f["distribution_copies"])
	fmt.Fprintf(&b, "Radio broadcasting: %s\n", f["radio_broadcasting"])
	fmt.Fprintf(&b, "Music videos: %s\n", f["music_videos"])
	fmt.Fprintf(&b, "Commercial use: %s\n", f["commercial_use"])
	fmt.Fprintf(&b, "Exclusive: %s\n", f["exclusive"])

	if f["terms"] != "" {
		fmt.Fprintf(&b, "\nTERMS\n%s\n", f["terms"])
	}
	b.WriteString("\nThis license is granted to the licensee named above and is not transferable.\n")

	return []byte(b.String())
}
