package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/crossvenue/internal/venue"
)

// OrderReconciler is the shared polling primitive used by initial
// placement, retries, and hedge attempts. It polls order status until a
// terminal state, an attempt timeout, or an external cancel signal, and it
// always settles the final fill with the venue's own status query — the
// cancel acknowledgment never gets the last word.
type OrderReconciler struct {
	pollInterval  time.Duration
	fillThreshold decimal.Decimal
	logger        *zap.Logger
}

// NewOrderReconciler builds a reconciler with the policy's poll cadence
// and fill threshold.
func NewOrderReconciler(pollInterval time.Duration, fillThreshold decimal.Decimal, logger *zap.Logger) *OrderReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderReconciler{
		pollInterval:  pollInterval,
		fillThreshold: fillThreshold,
		logger:        logger.Named("order-reconciler"),
	}
}

// filledEnough applies the fill threshold, tolerating unit-rounding dust.
func (r *OrderReconciler) filledEnough(filled, qty decimal.Decimal) bool {
	if !qty.IsPositive() {
		return true
	}
	return filled.GreaterThanOrEqual(qty.Mul(r.fillThreshold))
}

// AwaitFill polls one order until it fills, goes terminal, times out, or
// cancelC fires. On timeout or cancel it cancels the remainder and
// reconciles the final fill. cancelC may be nil for attempts that are not
// subject to external cancellation (retry and hedge orders).
func (r *OrderReconciler) AwaitFill(
	ctx context.Context,
	client venue.Client,
	oc *OrderContext,
	orderID string,
	qty decimal.Decimal,
	timeout time.Duration,
	cancelC <-chan struct{},
) ReconciliationResult {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	cancelObserved := false
	timedOut := false

poll:
	for {
		select {
		case <-ctx.Done():
			cancelObserved = true
			break poll
		case <-cancelC:
			cancelObserved = true
			break poll
		case <-deadline.C:
			timedOut = true
			break poll
		case <-ticker.C:
			info, err := client.GetOrderInfo(ctx, oc.Spec.Instrument, orderID)
			if err != nil {
				// Network failures are retried until the attempt deadline;
				// the final reconciliation below settles the true state.
				r.logger.Warn("order status poll failed",
					zap.String("order_id", orderID),
					zap.Error(err))
				continue
			}
			oc.ObserveOrder(info)

			switch info.Status {
			case venue.OrderStatusFilled:
				return ReconciliationResult{
					Filled:              true,
					FilledQuantity:      oc.CreditedFor(orderID),
					FillPrice:           info.AvgFillPrice,
					AccumulatedQuantity: oc.FilledQuantity(),
				}
			case venue.OrderStatusPartiallyFilled:
				// A partial fill ends the attempt: take the quantity,
				// cancel the remainder, and hand the reduced size back to
				// the caller for re-pricing. Holding the order open to its
				// full timeout keeps the execution one-sided for no added
				// fill probability.
				break poll
			case venue.OrderStatusCancelled:
				return r.terminalCancel(oc, orderID, qty, info)
			case venue.OrderStatusRejected:
				// Post-only rejection or equivalent: benign, retryable.
				return ReconciliationResult{
					Retryable:           true,
					FilledQuantity:      oc.CreditedFor(orderID),
					AccumulatedQuantity: oc.FilledQuantity(),
				}
			}
		}
	}

	if err := client.CancelOrder(ctx, oc.Spec.Instrument, orderID); err != nil && !errors.Is(err, venue.ErrOrderNotFound) {
		r.logger.Warn("cancel request failed, relying on final reconciliation",
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	info, err := r.Reconcile(ctx, client, oc, orderID)
	if err != nil {
		r.logger.Error("final reconciliation failed, order state unknown",
			zap.String("order_id", orderID),
			zap.Error(err))
		return ReconciliationResult{
			FilledQuantity:      oc.CreditedFor(orderID),
			AccumulatedQuantity: oc.FilledQuantity(),
			TimedOut:            timedOut,
			Err:                 err,
		}
	}

	filled := oc.CreditedFor(orderID)
	res := ReconciliationResult{
		Filled:              r.filledEnough(filled, qty),
		FilledQuantity:      filled,
		FillPrice:           info.AvgFillPrice,
		AccumulatedQuantity: oc.FilledQuantity(),
		TimedOut:            timedOut && !cancelObserved,
	}
	if !res.Filled && filled.IsPositive() {
		res.PartialBeforeCancel = true
	}
	return res
}

// terminalCancel classifies a venue-side cancel: zero fill means a benign,
// retryable outcome (a post-only order the venue dropped); accumulated
// fill is evaluated against the fill threshold.
func (r *OrderReconciler) terminalCancel(oc *OrderContext, orderID string, qty decimal.Decimal, info venue.OrderInfo) ReconciliationResult {
	filled := oc.CreditedFor(orderID)
	res := ReconciliationResult{
		FilledQuantity:      filled,
		FillPrice:           info.AvgFillPrice,
		AccumulatedQuantity: oc.FilledQuantity(),
	}
	switch {
	case r.filledEnough(filled, qty):
		res.Filled = true
	case filled.IsPositive():
		res.PartialBeforeCancel = true
	default:
		res.Retryable = true
	}
	return res
}

// Reconcile performs the final-state status fetch, retried a few times so
// a transient network failure does not leave a fill uncounted. It also
// captures fills landing in the gap between the last poll and loop exit.
func (r *OrderReconciler) Reconcile(ctx context.Context, client venue.Client, oc *OrderContext, orderID string) (venue.OrderInfo, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		info, err := client.GetOrderInfo(ctx, oc.Spec.Instrument, orderID)
		if err == nil {
			oc.ObserveOrder(info)
			return info, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return venue.OrderInfo{}, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
	return venue.OrderInfo{}, lastErr
}
