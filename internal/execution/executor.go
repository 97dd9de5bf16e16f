package execution

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Aidin1998/crossvenue/internal/venue"
)

// OrderExecutor runs one order's lifecycle: place, poll until terminal,
// cancel on timeout or external signal, and reconcile the final fill with
// the venue. The same pipeline serves initial placement, retries, and
// hedge attempts.
type OrderExecutor struct {
	clients    *venue.Registry
	reconciler *OrderReconciler
	logger     *zap.Logger
}

// NewOrderExecutor builds an executor over the venue registry.
func NewOrderExecutor(clients *venue.Registry, reconciler *OrderReconciler, logger *zap.Logger) *OrderExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderExecutor{
		clients:    clients,
		reconciler: reconciler,
		logger:     logger.Named("order-executor"),
	}
}

// Execute places the spec's order and drives it to a terminal state,
// folding every observed fill into the leg context. cancelC, when non-nil,
// is the external cancellation signal; it is level-triggered, so the leg
// may record one more fill observation after it fires.
func (e *OrderExecutor) Execute(ctx context.Context, spec OrderSpec, oc *OrderContext, cancelC <-chan struct{}) LegOutcome {
	client, err := e.clients.Client(spec.Venue)
	if err != nil {
		return LegOutcome{Err: err}
	}

	select {
	case <-cancelC:
		return LegOutcome{CancelObserved: true}
	default:
	}

	var orderID string
	if spec.IsMarket() {
		orderID, err = client.PlaceMarketOrder(ctx, spec.Instrument, spec.Quantity, spec.Side, spec.ReduceOnly)
	} else {
		orderID, err = client.PlaceLimitOrder(ctx, spec.Instrument, spec.Quantity, *spec.LimitPrice, spec.Side, spec.ReduceOnly)
	}
	if err != nil {
		if errors.Is(err, venue.ErrPostOnlyWouldCross) {
			// Benign rejection: zero fill, the orchestrator decides
			// whether to retry at a fresh price.
			e.logger.Info("placement rejected as post-only would cross",
				zap.String("venue", spec.Venue),
				zap.String("instrument", spec.Instrument),
				zap.String("side", string(spec.Side)))
			return LegOutcome{Rejected: true}
		}
		e.logger.Error("order placement failed",
			zap.String("venue", spec.Venue),
			zap.String("instrument", spec.Instrument),
			zap.String("quantity", spec.Quantity.String()),
			zap.Error(err))
		return LegOutcome{Err: err}
	}
	oc.RecordOrder(orderID)

	e.logger.Debug("order placed",
		zap.String("venue", spec.Venue),
		zap.String("instrument", spec.Instrument),
		zap.String("order_id", orderID),
		zap.String("side", string(spec.Side)),
		zap.String("quantity", spec.Quantity.String()),
		zap.Bool("market", spec.IsMarket()),
		zap.String("notional_usd", spec.NotionalUSD.String()))

	res := e.reconciler.AwaitFill(ctx, client, oc, orderID, spec.Quantity, spec.Timeout, cancelC)

	out := LegOutcome{
		OrderID:        orderID,
		FilledQuantity: res.FilledQuantity,
		FillPrice:      res.FillPrice,
		Rejected:       res.Retryable && !res.FilledQuantity.IsPositive(),
		TimedOut:       res.TimedOut,
		Err:            res.Err,
	}
	select {
	case <-cancelC:
		out.CancelObserved = true
	default:
	}
	return out
}

// ReconcileContext refreshes the leg's fill from the venue's view of its
// most recent order. Used at the orchestrator's reconciliation barrier to
// catch fills that land after a cancel request was sent but before the
// venue processed it.
func (e *OrderExecutor) ReconcileContext(ctx context.Context, oc *OrderContext) error {
	orderID := oc.LastOrderID()
	if orderID == "" {
		return nil
	}
	client, err := e.clients.Client(oc.Spec.Venue)
	if err != nil {
		return err
	}
	_, err = e.reconciler.Reconcile(ctx, client, oc, orderID)
	return err
}

// Client resolves the venue client for a leg, shared by the retry, hedge,
// and rollback stages.
func (e *OrderExecutor) Client(venueName string) (venue.Client, error) {
	return e.clients.Client(venueName)
}
