package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/crossvenue/internal/venue"
	"github.com/Aidin1998/crossvenue/internal/venue/venuetest"
)

// testPolicy shrinks every poll and timeout so the scripted venues settle
// in a few milliseconds.
func testPolicy() ExecutionPolicy {
	p := DefaultPolicy()
	p.PollInterval = 2 * time.Millisecond
	p.Retry.AttemptTimeout = 50 * time.Millisecond
	p.Retry.InterAttemptDelay = 2 * time.Millisecond
	p.Retry.MaxDuration = 2 * time.Second
	p.Hedge.AttemptTimeout = 50 * time.Millisecond
	p.Hedge.Backoff = 2 * time.Millisecond
	p.Hedge.MaxDuration = 2 * time.Second
	return p
}

func newTestReconciler(t *testing.T) *OrderReconciler {
	t.Helper()
	p := testPolicy()
	return NewOrderReconciler(p.PollInterval, p.Hedge.FillThreshold, zaptest.NewLogger(t))
}

func placeLimit(t *testing.T, mock *venuetest.MockClient, oc *OrderContext, price float64) string {
	t.Helper()
	id, err := mock.PlaceLimitOrder(context.Background(), oc.Spec.Instrument, oc.Spec.Quantity, decimal.NewFromFloat(price), oc.Spec.Side, false)
	require.NoError(t, err)
	oc.RecordOrder(id)
	return id
}

func TestAwaitFillFullFill(t *testing.T) {
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{FillPrice: decimal.NewFromInt(65000)})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, time.Second, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.Filled)
	assert.False(t, res.TimedOut)
	require.True(t, res.FilledQuantity.Equal(decimal.NewFromInt(1)))
	require.True(t, res.FillPrice.Equal(decimal.NewFromInt(65000)))
	require.True(t, oc.FilledQuantity().Equal(decimal.NewFromInt(1)))
}

func TestAwaitFillTimeoutCancelsRemainder(t *testing.T) {
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{FillAfterPolls: 1 << 20})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, 20*time.Millisecond, nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Filled)
	assert.True(t, res.TimedOut)
	require.True(t, res.FilledQuantity.IsZero())
	assert.Equal(t, 1, mock.Cancels())
}

func TestAwaitFillPartialBeforeCancel(t *testing.T) {
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{
		FillQuantity: decimal.NewFromFloat(0.4),
		FillPrice:    decimal.NewFromInt(65000),
	})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, 20*time.Millisecond, nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Filled)
	assert.True(t, res.PartialBeforeCancel)
	require.True(t, res.FilledQuantity.Equal(decimal.NewFromFloat(0.4)))
	require.True(t, oc.FilledQuantity().Equal(decimal.NewFromFloat(0.4)))
}

func TestAwaitFillCapturesFillRacingCancel(t *testing.T) {
	// The fill lands venue-side while the cancel request is in flight. The
	// final status query, not the cancel acknowledgment, must win.
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{
		FillAfterPolls: 1 << 20,
		FillOnCancel:   decimal.NewFromInt(1),
		FillPrice:      decimal.NewFromInt(65000),
	})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, 20*time.Millisecond, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.Filled)
	require.True(t, res.FilledQuantity.Equal(decimal.NewFromInt(1)))
	require.True(t, oc.FilledQuantity().Equal(decimal.NewFromInt(1)))
}

func TestAwaitFillPartialFillTerminatesAttempt(t *testing.T) {
	// A partial fill ends the attempt right away: the remainder is
	// cancelled and the reduced quantity handed back, long before the
	// attempt timeout would have expired.
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{
		FillQuantity: decimal.NewFromFloat(0.4),
		FillPrice:    decimal.NewFromInt(65000),
	})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	start := time.Now()
	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, 5*time.Second, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.PartialBeforeCancel)
	assert.False(t, res.TimedOut)
	require.True(t, res.FilledQuantity.Equal(decimal.NewFromFloat(0.4)))
	assert.Equal(t, 1, mock.Cancels())
	assert.Less(t, time.Since(start), time.Second, "attempt should not run to its timeout")
}

func TestAwaitFillExternalCancelSignal(t *testing.T) {
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{FillAfterPolls: 1 << 20})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)
	oc.SignalCancel()

	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, time.Second, oc.CancelSignal())

	require.NoError(t, res.Err)
	assert.False(t, res.Filled)
	assert.False(t, res.TimedOut)
	require.True(t, res.FilledQuantity.IsZero())
	assert.Equal(t, 1, mock.Cancels())
}

func TestAwaitFillVenueSideCancelIsRetryable(t *testing.T) {
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{FillAfterPolls: 1 << 20})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	// Cancel behind the reconciler's back so the next poll sees CANCELLED.
	require.NoError(t, mock.CancelOrder(context.Background(), "BTC-USDT", orderID))

	res := newTestReconciler(t).AwaitFill(context.Background(), mock, oc, orderID, oc.Spec.Quantity, time.Second, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.Retryable)
	assert.False(t, res.Filled)
	require.True(t, res.FilledQuantity.IsZero())
}

func TestReconcileRefreshesFill(t *testing.T) {
	mock := venuetest.NewMockClient()
	mock.Program("BTC-USDT", venuetest.Script{FillPrice: decimal.NewFromInt(65000)})

	oc := newTestContext(t, 1.0)
	orderID := placeLimit(t, mock, oc, 65000)

	info, err := newTestReconciler(t).Reconcile(context.Background(), mock, oc, orderID)
	require.NoError(t, err)
	assert.Equal(t, venue.OrderStatusFilled, info.Status)
	require.True(t, oc.FilledQuantity().Equal(decimal.NewFromInt(1)))
}
