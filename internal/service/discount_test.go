package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"beatstore/internal/apperr"
	"beatstore/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscountAmount(t *testing.T) {
	s := &discountServiceImpl{}

	tests := []struct {
		name     string
		discount *model.DiscountCode
		subtotal int64
		want     int64
	}{
		{"ten percent rounds half up", &model.DiscountCode{Type: model.DiscountPercentage, Value: decimal.NewFromInt(10)}, 4999, 500},
		{"fractional percent", &model.DiscountCode{Type: model.DiscountPercentage, Value: decimal.RequireFromString("12.5")}, 999, 125},
		{"fixed in major units", &model.DiscountCode{Type: model.DiscountFixed, Value: decimal.NewFromInt(5)}, 4999, 500},
		{"fixed capped at subtotal", &model.DiscountCode{Type: model.DiscountFixed, Value: decimal.NewFromInt(100)}, 4999, 4999},
		{"percent capped at subtotal", &model.DiscountCode{Type: model.DiscountPercentage, Value: decimal.NewFromInt(150)}, 1000, 1000},
		{"no discount", nil, 4999, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Amount(tt.discount, tt.subtotal))
		})
	}
}

func TestDiscountValidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := h.clock.Now()

	one := 1
	expiresNow := now
	expiresLater := now.Add(time.Hour)
	h.addDiscount(t, model.DiscountCode{Code: "OFF", Type: model.DiscountFixed, Value: decimal.NewFromInt(5)})
	h.addDiscount(t, model.DiscountCode{Code: "EXPIRED", Type: model.DiscountFixed, Value: decimal.NewFromInt(5), IsActive: true, ExpiresAt: &expiresNow})
	h.addDiscount(t, model.DiscountCode{Code: "FULL", Type: model.DiscountFixed, Value: decimal.NewFromInt(5), IsActive: true, MaxUses: &one, CurrentUses: 1})
	h.addDiscount(t, model.DiscountCode{Code: "BIG", Type: model.DiscountFixed, Value: decimal.NewFromInt(5), IsActive: true, MinOrderAmount: 10000})
	h.addDiscount(t, model.DiscountCode{Code: "GOOD", Type: model.DiscountFixed, Value: decimal.NewFromInt(5), IsActive: true, ExpiresAt: &expiresLater, MinOrderAmount: 4999})

	tests := []struct {
		code string
		want error
	}{
		{"MISSING", apperr.ErrDiscountInvalid},
		{"OFF", apperr.ErrDiscountInvalid},
		{"EXPIRED", apperr.ErrDiscountExpired},
		{"FULL", apperr.ErrDiscountLimitReached},
		{"BIG", apperr.ErrMinOrderNotMet},
		{"good", nil},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			d, err := h.discounts.Validate(ctx, tt.code, 4999)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "GOOD", d.Code)
		})
	}
}

func TestConsumeAtomic_ConcurrentSingleUse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	one := 1
	h.addDiscount(t, model.DiscountCode{Code: "ONCE", Type: model.DiscountFixed, Value: decimal.NewFromInt(5), IsActive: true, MaxUses: &one})

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.discounts.ConsumeAtomic(ctx, "ONCE")
		}()
	}
	wg.Wait()

	var ok, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, apperr.ErrDiscountLimitReached):
			limited++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, limited)
	assert.Equal(t, 1, h.currentUses(t, "ONCE"))
}

func TestConsumeAtomic_ClassifiesRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	past := h.clock.Now().Add(-time.Minute)
	h.addDiscount(t, model.DiscountCode{Code: "OLD", Type: model.DiscountFixed, Value: decimal.NewFromInt(5), IsActive: true, ExpiresAt: &past})

	assert.ErrorIs(t, h.discounts.ConsumeAtomic(ctx, "OLD"), apperr.ErrDiscountExpired)
	assert.ErrorIs(t, h.discounts.ConsumeAtomic(ctx, "NOPE"), apperr.ErrDiscountInvalid)
}

func TestRelease_NeverBelowZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSave10(t)

	require.NoError(t, h.discounts.ConsumeAtomic(ctx, "SAVE10"))
	require.NoError(t, h.discounts.Release(ctx, "SAVE10"))
	require.NoError(t, h.discounts.Release(ctx, "SAVE10"))
	assert.Equal(t, 0, h.currentUses(t, "SAVE10"))
}
