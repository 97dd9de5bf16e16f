package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/crossvenue/internal/venue"
	"github.com/Aidin1998/crossvenue/internal/venue/venuetest"
)

func newRollbackFixture(t *testing.T) (*RollbackManager, *venuetest.MockClient) {
	t.Helper()
	p := testPolicy()
	logger := zaptest.NewLogger(t)
	mock := venuetest.NewMockClient()
	registry := venue.NewRegistry()
	registry.Register("spot", mock)
	executor := NewOrderExecutor(registry, NewOrderReconciler(p.PollInterval, p.Hedge.FillThreshold, logger), logger)
	return NewRollbackManager(p, executor, logger), mock
}

func filledLeg(t *testing.T, side venue.Side, filled, entryPrice float64) *OrderContext {
	t.Helper()
	leg := NewOrderContext(OrderSpec{
		Venue:      "spot",
		Instrument: "BTC-USDT",
		Side:       side,
		Quantity:   decimal.NewFromInt(1),
	}, zaptest.NewLogger(t))
	leg.AddFill(decimal.NewFromFloat(filled))
	leg.RecordFillPrice(decimal.NewFromFloat(entryPrice))
	return leg
}

func TestRollbackClosesFilledExposure(t *testing.T) {
	manager, mock := newRollbackFixture(t)

	// Bought 0.5 at 100, closed at 99: one point of slippage on 0.5 units.
	mock.Program("BTC-USDT", venuetest.Script{FillPrice: decimal.NewFromInt(99)})
	leg := filledLeg(t, venue.SideBuy, 0.5, 100)

	cost, err := manager.Rollback(context.Background(), []*OrderContext{leg})

	require.NoError(t, err)
	require.True(t, cost.Equal(decimal.NewFromFloat(0.5)), "got %s", cost)

	placed := mock.Placed()
	require.Len(t, placed, 1)
	assert.Equal(t, venue.SideSell, placed[0].Side)
	assert.True(t, placed[0].Market)
	assert.True(t, placed[0].ReduceOnly)
	require.True(t, placed[0].Quantity.Equal(decimal.NewFromFloat(0.5)))

	// The close order's fills never touch the leg's parity accounting.
	require.True(t, leg.FilledQuantity().Equal(decimal.NewFromFloat(0.5)))
}

func TestRollbackCostFlipsForShortLegs(t *testing.T) {
	manager, mock := newRollbackFixture(t)

	// Sold at 100, bought back at 102: cost 2 per unit on 1 unit.
	mock.Program("BTC-USDT", venuetest.Script{FillPrice: decimal.NewFromInt(102)})
	leg := filledLeg(t, venue.SideSell, 1.0, 100)

	cost, err := manager.Rollback(context.Background(), []*OrderContext{leg})

	require.NoError(t, err)
	require.True(t, cost.Equal(decimal.NewFromInt(2)), "got %s", cost)
	require.Len(t, mock.Placed(), 1)
	assert.Equal(t, venue.SideBuy, mock.Placed()[0].Side)
}

func TestRollbackCostClampedAtZero(t *testing.T) {
	manager, mock := newRollbackFixture(t)

	// The exit improved on the entry: the flatten made money, cost is zero.
	mock.Program("BTC-USDT", venuetest.Script{FillPrice: decimal.NewFromInt(101)})
	leg := filledLeg(t, venue.SideBuy, 1.0, 100)

	cost, err := manager.Rollback(context.Background(), []*OrderContext{leg})
	require.NoError(t, err)
	require.True(t, cost.IsZero())
}

func TestRollbackSkipsUnfilledLegs(t *testing.T) {
	manager, mock := newRollbackFixture(t)

	leg := NewOrderContext(OrderSpec{
		Venue:      "spot",
		Instrument: "BTC-USDT",
		Side:       venue.SideBuy,
		Quantity:   decimal.NewFromInt(1),
	}, zaptest.NewLogger(t))

	cost, err := manager.Rollback(context.Background(), []*OrderContext{leg})
	require.NoError(t, err)
	require.True(t, cost.IsZero())
	assert.Empty(t, mock.Placed())
}

func TestRollbackReportsUnclosableLegs(t *testing.T) {
	manager, mock := newRollbackFixture(t)

	mock.Program("BTC-USDT", venuetest.Script{RejectWith: venue.ErrPostOnlyWouldCross})
	leg := filledLeg(t, venue.SideBuy, 0.5, 100)

	cost, err := manager.Rollback(context.Background(), []*OrderContext{leg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	require.True(t, cost.IsZero())
}

func TestRollbackCostZeroWithoutExitPrice(t *testing.T) {
	manager, mock := newRollbackFixture(t)

	// Market close with no scripted price: the fill lands but the venue
	// reports no price, so the cost is unknown and accounted as zero.
	mock.Program("BTC-USDT", venuetest.Script{})
	leg := filledLeg(t, venue.SideBuy, 0.5, 100)

	cost, err := manager.Rollback(context.Background(), []*OrderContext{leg})
	require.NoError(t, err)
	require.True(t, cost.IsZero())
}
