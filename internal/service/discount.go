package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/metrics"
	"beatstore/internal/model"
	"beatstore/internal/money"
	"beatstore/internal/repository"
)

type DiscountService interface {
	// Validate checks a code against an order subtotal without consuming it.
	Validate(ctx context.Context, code string, orderTotal int64) (*model.DiscountCode, error)
	// ConsumeAtomic takes one usage slot or fails with the reason it could not.
	ConsumeAtomic(ctx context.Context, code string) error
	Release(ctx context.Context, code string) error
	Amount(discount *model.DiscountCode, subtotal int64) int64
}

type discountServiceImpl struct {
	discountRepo repository.DiscountRepository
	now          func() time.Time
	log          *slog.Logger
}

func NewDiscountService(discountRepo repository.DiscountRepository, now func() time.Time, log *slog.Logger) DiscountService {
	return &discountServiceImpl{
		discountRepo: discountRepo,
		now:          now,
		log:          log.With("component", "discount"),
	}
}

func (s *discountServiceImpl) Validate(ctx context.Context, code string, orderTotal int64) (*model.DiscountCode, error) {
	discount, err := s.discountRepo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.classify(discount); err != nil {
		return nil, err
	}
	if orderTotal < discount.MinOrderAmount {
		return nil, fmt.Errorf("%w: minimum is %s", apperr.ErrMinOrderNotMet, money.Format(discount.MinOrderAmount))
	}
	return discount, nil
}

func (s *discountServiceImpl) classify(discount *model.DiscountCode) error {
	switch {
	case !discount.IsActive:
		return apperr.ErrDiscountInvalid
	case discount.ExpiresAt != nil && !s.now().Before(*discount.ExpiresAt):
		return apperr.ErrDiscountExpired
	case discount.MaxUses != nil && discount.CurrentUses >= *discount.MaxUses:
		return apperr.ErrDiscountLimitReached
	}
	return nil
}

func (s *discountServiceImpl) ConsumeAtomic(ctx context.Context, code string) error {
	ok, err := s.discountRepo.IncrementUses(ctx, code, s.now())
	if err != nil {
		return err
	}
	if ok {
		metrics.DiscountConsumptions.WithLabelValues("consumed").Inc()
		return nil
	}

	// Lost the compare-and-increment; re-read only to report why.
	discount, err := s.discountRepo.Get(ctx, code)
	if err != nil {
		metrics.DiscountConsumptions.WithLabelValues("invalid").Inc()
		return err
	}
	reason := s.classify(discount)
	if reason == nil {
		reason = apperr.ErrDiscountLimitReached
	}
	metrics.DiscountConsumptions.WithLabelValues(outcomeLabel(reason)).Inc()
	return reason
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, apperr.ErrDiscountExpired):
		return "expired"
	case errors.Is(err, apperr.ErrDiscountLimitReached):
		return "limit_reached"
	default:
		return "invalid"
	}
}

func (s *discountServiceImpl) Release(ctx context.Context, code string) error {
	ok, err := s.discountRepo.DecrementUses(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("discount release found no consumed slot", "code", repository.NormalizeCode(code))
		return nil
	}
	metrics.DiscountConsumptions.WithLabelValues("released").Inc()
	return nil
}

// Amount is the discount in cents for subtotal, never more than subtotal.
// Percentages round half up; fixed values are in major units.
func (s *discountServiceImpl) Amount(discount *model.DiscountCode, subtotal int64) int64 {
	if discount == nil || subtotal <= 0 {
		return 0
	}

	var amount int64
	switch discount.Type {
	case model.DiscountPercentage:
		amount = money.Percent(subtotal, discount.Value)
	case model.DiscountFixed:
		amount = money.FromMajor(discount.Value)
	}

	if amount < 0 {
		return 0
	}
	return min(amount, subtotal)
}
