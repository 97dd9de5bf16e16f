package execution

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/crossvenue/internal/venue"
)

// OrderAudit captures venue order ids, prices, and status transitions for
// one leg across every attempt. Audit only; no control flow reads it.
type OrderAudit struct {
	VenueOrderIDs []string
	LastOrderID   string
	LastFillPrice decimal.Decimal
	StatusHistory []string
}

// OrderContext is the mutable per-leg record that lives for one whole
// execution. The leg's active task is its only writer at any given time;
// the orchestrator reads it only at the wait-then-reconcile barrier.
type OrderContext struct {
	ID   uuid.UUID
	Spec OrderSpec

	logger *zap.Logger

	mu             sync.Mutex
	filled         decimal.Decimal
	credited       map[string]decimal.Decimal
	hedgeTarget    decimal.Decimal
	hedgeTargetSet bool
	breakEven      decimal.Decimal
	audit          OrderAudit

	cancelOnce sync.Once
	cancelC    chan struct{}
}

// NewOrderContext creates the per-leg record for one execution.
func NewOrderContext(spec OrderSpec, logger *zap.Logger) *OrderContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderContext{
		ID:       uuid.New(),
		Spec:     spec,
		logger:   logger,
		credited: make(map[string]decimal.Decimal),
		cancelC:  make(chan struct{}),
	}
}

// FilledQuantity returns the leg's accumulated fill across attempts.
func (c *OrderContext) FilledQuantity() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filled
}

// AddFill increases the accumulated fill. Fills are monotone: a negative
// delta is a correctness bug upstream, logged and dropped.
func (c *OrderContext) AddFill(delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if delta.IsNegative() {
		c.logger.Warn("dropping negative fill delta",
			zap.String("leg_id", c.ID.String()),
			zap.String("instrument", c.Spec.Instrument),
			zap.String("delta", delta.String()))
		return
	}
	c.filled = c.filled.Add(delta)
	limit := decimal.Max(c.Spec.Quantity, c.hedgeTarget)
	if c.filled.GreaterThan(limit) {
		c.logger.Warn("accumulated fill exceeds target",
			zap.String("leg_id", c.ID.String()),
			zap.String("instrument", c.Spec.Instrument),
			zap.String("filled", c.filled.String()),
			zap.String("target", limit.String()))
	}
}

// ObserveOrder folds a venue status snapshot into the leg's accumulated
// fill. The venue reports per-order totals, so the delta against what this
// order has already been credited is what moves the leg's fill — which
// keeps the accumulation monotone even when a cancel acknowledgment and a
// late fill race. A shrinking venue total is dropped with a warning.
func (c *OrderContext) ObserveOrder(info venue.OrderInfo) {
	if info.OrderID == "" {
		return
	}
	c.mu.Lock()
	prev := c.credited[info.OrderID]
	delta := info.FilledQuantity.Sub(prev)
	if delta.IsNegative() {
		c.logger.Warn("venue reported decreasing fill",
			zap.String("leg_id", c.ID.String()),
			zap.String("order_id", info.OrderID),
			zap.String("previous", prev.String()),
			zap.String("reported", info.FilledQuantity.String()))
		delta = decimal.Zero
	}
	if delta.IsPositive() {
		c.credited[info.OrderID] = info.FilledQuantity
		c.filled = c.filled.Add(delta)
	}
	if info.AvgFillPrice.IsPositive() {
		c.audit.LastFillPrice = info.AvgFillPrice
	}
	if n := len(c.audit.StatusHistory); n == 0 || c.audit.StatusHistory[n-1] != info.Status {
		c.audit.StatusHistory = append(c.audit.StatusHistory, info.Status)
	}
	c.mu.Unlock()
}

// CreditedFor returns the fill already credited to one venue order.
func (c *OrderContext) CreditedFor(orderID string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credited[orderID]
}

// SetHedgeTarget pins the leg's authoritative parity quantity. It is set
// for every leg at the reconciliation barrier, before any retry or hedge
// strategy runs.
func (c *OrderContext) SetHedgeTarget(qty decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hedgeTarget = qty
	c.hedgeTargetSet = true
}

// HedgeTarget returns the parity quantity and whether it has been set.
func (c *OrderContext) HedgeTarget() (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hedgeTarget, c.hedgeTargetSet
}

// EffectiveTarget is the quantity the leg is currently accountable for:
// the hedge target once set, the planned quantity before that.
func (c *OrderContext) EffectiveTarget() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hedgeTargetSet {
		return c.hedgeTarget
	}
	return c.Spec.Quantity
}

// RemainingQuantity is the deficit against the effective target. It is a
// pure function of current state and never negative: a computed negative
// means an over-fill and is clamped to zero with a warning.
func (c *OrderContext) RemainingQuantity() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.Spec.Quantity
	if c.hedgeTargetSet {
		target = c.hedgeTarget
	}
	remaining := target.Sub(c.filled)
	if remaining.IsNegative() {
		c.logger.Warn("negative remaining quantity clamped to zero",
			zap.String("leg_id", c.ID.String()),
			zap.String("instrument", c.Spec.Instrument),
			zap.String("filled", c.filled.String()),
			zap.String("target", target.String()))
		return decimal.Zero
	}
	return remaining
}

// ParityDeviation is the absolute gap between the leg's fill and its
// effective target. Unlike RemainingQuantity it does not clamp, so an
// over-filled leg reports its excess instead of looking balanced.
func (c *OrderContext) ParityDeviation() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.Spec.Quantity
	if c.hedgeTargetSet {
		target = c.hedgeTarget
	}
	return target.Sub(c.filled).Abs()
}

// PlannedRemaining is the deficit against the originally planned size,
// ignoring any hedge target. The retry cycle works this quantity: maker
// fills toward the planned size are cheaper than hedging down to parity.
func (c *OrderContext) PlannedRemaining() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.Spec.Quantity.Sub(c.filled)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// SetBreakEvenPrice records the trigger-derived price below/above which a
// hedge keeps the combined trade from locking in a loss.
func (c *OrderContext) SetBreakEvenPrice(price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakEven = price
}

// BreakEvenPrice returns the trigger-derived break-even price, zero if unset.
func (c *OrderContext) BreakEvenPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakEven
}

// SignalCancel requests cancellation of the leg's in-flight work. The
// signal is level-triggered: the leg's task observes it at its next poll
// and may record one more fill observation before going terminal.
func (c *OrderContext) SignalCancel() {
	c.cancelOnce.Do(func() { close(c.cancelC) })
}

// CancelSignal exposes the cancellation channel for select loops.
func (c *OrderContext) CancelSignal() <-chan struct{} {
	return c.cancelC
}

// CancelRequested reports whether cancellation has been signalled.
func (c *OrderContext) CancelRequested() bool {
	select {
	case <-c.cancelC:
		return true
	default:
		return false
	}
}

// RecordOrder appends a venue order id to the audit trail.
func (c *OrderContext) RecordOrder(orderID string) {
	if orderID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit.VenueOrderIDs = append(c.audit.VenueOrderIDs, orderID)
	c.audit.LastOrderID = orderID
}

// RecordStatus appends a status transition to the audit trail.
func (c *OrderContext) RecordStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.audit.StatusHistory)
	if n > 0 && c.audit.StatusHistory[n-1] == status {
		return
	}
	c.audit.StatusHistory = append(c.audit.StatusHistory, status)
}

// RecordFillPrice notes the most recent venue-reported fill price.
func (c *OrderContext) RecordFillPrice(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit.LastFillPrice = price
}

// Audit returns a copy of the leg's audit record.
func (c *OrderContext) Audit() OrderAudit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.audit
	out.VenueOrderIDs = append([]string(nil), c.audit.VenueOrderIDs...)
	out.StatusHistory = append([]string(nil), c.audit.StatusHistory...)
	return out
}

// LastOrderID returns the most recent venue order id, empty if none.
func (c *OrderContext) LastOrderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audit.LastOrderID
}

// LastFillPrice returns the most recent venue-reported fill price.
func (c *OrderContext) LastFillPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audit.LastFillPrice
}
