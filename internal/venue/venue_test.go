package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}

func TestIsTerminalStatus(t *testing.T) {
	for _, status := range []string{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected} {
		assert.True(t, IsTerminalStatus(status), status)
	}
	for _, status := range []string{OrderStatusNew, OrderStatusOpen, OrderStatusPartiallyFilled, ""} {
		assert.False(t, IsTerminalStatus(status), status)
	}
}

func TestBBOValid(t *testing.T) {
	assert.True(t, BBO{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}.Valid())
	assert.True(t, BBO{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(100)}.Valid())
	assert.False(t, BBO{Bid: decimal.NewFromInt(101), Ask: decimal.NewFromInt(100)}.Valid(), "crossed book")
	assert.False(t, BBO{Ask: decimal.NewFromInt(100)}.Valid(), "one-sided book")
	assert.False(t, BBO{}.Valid())
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Client("spot")
	require.Error(t, err)

	registry.Register("spot", nil)
	client, err := registry.Client("spot")
	require.NoError(t, err)
	assert.Nil(t, client)
}
