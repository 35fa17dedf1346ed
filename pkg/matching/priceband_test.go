package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceDomain_RoundTrip(t *testing.T) {
	d := PriceDomain{Floor: 100, Ceil: 200, Tick: 5}
	require.NoError(t, d.Validate())

	for p := uint32(100); p <= 200; p += 5 {
		idx, ok := d.Idx(p)
		require.True(t, ok)
		assert.Equal(t, p, d.Price(idx))
	}
}

func TestPriceDomain_RejectsMisalignedPrice(t *testing.T) {
	d := PriceDomain{Floor: 100, Ceil: 200, Tick: 5}
	_, ok := d.Idx(101)
	assert.False(t, ok)
}

func TestPriceDomain_RejectsOutOfRange(t *testing.T) {
	d := PriceDomain{Floor: 100, Ceil: 200, Tick: 5}
	_, ok := d.Idx(95)
	assert.False(t, ok)
	_, ok = d.Idx(205)
	assert.False(t, ok)
}

func TestPriceDomain_ValidateRejectsBadConfig(t *testing.T) {
	assert.Error(t, (PriceDomain{Floor: 100, Ceil: 200, Tick: 0}).Validate())
	assert.Error(t, (PriceDomain{Floor: 200, Ceil: 100, Tick: 1}).Validate())
	assert.Error(t, (PriceDomain{Floor: 100, Ceil: 203, Tick: 5}).Validate())
}
