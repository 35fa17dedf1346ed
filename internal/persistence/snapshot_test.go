package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

func TestEncodeDecodeSnapshot_RoundTrip(t *testing.T) {
	snap := matching.Snapshot{
		SymbolID: 42,
		Tick:     7,
		RefPrice: 150,
		Orders: []matching.OrderSnapshot{
			{ID: 1, Account: 1, Side: matching.Buy, Type: matching.Limit, PriceIdx: 5, QtyOpen: 10, TSNorm: 100, EnqSeq: 1},
			{ID: 2, Account: 2, Side: matching.Sell, Type: matching.Limit, PriceIdx: 9, QtyOpen: 3, TSNorm: 101, EnqSeq: 2},
		},
	}

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)
}

func TestDecodeSnapshot_RejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not a zstd frame"))
	assert.Error(t, err)
}

func TestEncodeSnapshot_EmptyOrdersRoundTrips(t *testing.T) {
	snap := matching.Snapshot{SymbolID: 1, Tick: 0}
	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.SymbolID, decoded.SymbolID)
	assert.Empty(t, decoded.Orders)
}
