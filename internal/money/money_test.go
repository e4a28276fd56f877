package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "44.99", Format(4499))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "100.00", Format(10000))
	assert.Equal(t, "0.00", Format(0))
}

func TestParse(t *testing.T) {
	cents, err := Parse("49.99")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), cents)

	cents, err = Parse("5")
	require.NoError(t, err)
	assert.Equal(t, int64(500), cents)

	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestPercent_RoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(500), Percent(4999, decimal.NewFromInt(10)))
	assert.Equal(t, int64(250), Percent(2499, decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), Percent(0, decimal.NewFromInt(50)))
	assert.Equal(t, int64(1250), Percent(2500, decimal.RequireFromString("50")))
}

func TestFromMajor(t *testing.T) {
	assert.Equal(t, int64(500), FromMajor(decimal.RequireFromString("5.00")))
	assert.Equal(t, int64(1999), FromMajor(decimal.RequireFromString("19.99")))
}
