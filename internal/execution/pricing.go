package execution

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/crossvenue/internal/venue"
)

// Price tier tags used by the adaptive hedge pricer.
const (
	PriceTierBreakEven    = "break_even"
	PriceTierInsideSpread = "inside_spread"
	PriceTierTouch        = "touch"
)

// ConvertQuantity converts a quantity expressed in one leg's native
// contract units into another leg's native units via the common
// base-asset amount. Pure function; both multipliers must be positive.
func ConvertQuantity(qty, fromMultiplier, toMultiplier decimal.Decimal) decimal.Decimal {
	if !fromMultiplier.IsPositive() || !toMultiplier.IsPositive() {
		return qty
	}
	return qty.Mul(fromMultiplier).Div(toMultiplier)
}

// ComputeHedgeTargets pins every leg's parity quantity off the trigger
// leg's terminal fill. The trigger's own target is its fill; each sibling
// gets the trigger fill converted into its native unit space, plus the
// trigger's fill price as the break-even reference for hedge pricing.
// Called only at the reconciliation barrier, after every sibling task has
// gone terminal.
func ComputeHedgeTargets(trigger *OrderContext, legs []*OrderContext) {
	triggerFill := trigger.FilledQuantity()
	triggerMult := trigger.Spec.Multiplier()
	breakEven := trigger.LastFillPrice()

	trigger.SetHedgeTarget(triggerFill)
	for _, leg := range legs {
		if leg == trigger {
			continue
		}
		leg.SetHedgeTarget(ConvertQuantity(triggerFill, triggerMult, leg.Spec.Multiplier()))
		leg.SetBreakEvenPrice(breakEven)
	}
}

// HedgePricer computes the limit price for one adaptive hedge attempt
// using a three-tier policy: break-even off the trigger fill when the
// book makes it feasible, one tick inside the spread for early attempts,
// the touch for late ones.
type HedgePricer struct {
	// InsideSpreadAttempts is how many early attempts improve on the
	// touch before fill probability wins over price.
	InsideSpreadAttempts int
}

// LimitPrice returns the price for the given attempt (1-based) and the
// tier that produced it.
func (p HedgePricer) LimitPrice(attempt int, side venue.Side, bbo venue.BBO, tick, breakEven decimal.Decimal) (decimal.Decimal, string) {
	if breakEven.IsPositive() && breakEven.GreaterThanOrEqual(bbo.Bid) && breakEven.LessThanOrEqual(bbo.Ask) {
		return breakEven, PriceTierBreakEven
	}

	spread := bbo.Ask.Sub(bbo.Bid)
	if attempt <= p.InsideSpreadAttempts && spread.GreaterThan(tick) {
		if side == venue.SideBuy {
			return bbo.Bid.Add(tick), PriceTierInsideSpread
		}
		return bbo.Ask.Sub(tick), PriceTierInsideSpread
	}

	if side == venue.SideBuy {
		return bbo.Bid, PriceTierTouch
	}
	return bbo.Ask, PriceTierTouch
}

// RetryPrice prices a maker retry order: the touch shifted toward the
// spread by offsetTicks, clamped so the order still rests on the book.
func RetryPrice(side venue.Side, bbo venue.BBO, tick decimal.Decimal, offsetTicks int) decimal.Decimal {
	offset := tick.Mul(decimal.NewFromInt(int64(offsetTicks)))
	if side == venue.SideBuy {
		price := bbo.Bid.Add(offset)
		ceiling := bbo.Ask.Sub(tick)
		if offsetTicks > 0 && price.GreaterThan(ceiling) && ceiling.GreaterThanOrEqual(bbo.Bid) {
			return ceiling
		}
		return price
	}
	price := bbo.Ask.Sub(offset)
	floor := bbo.Bid.Add(tick)
	if offsetTicks > 0 && price.LessThan(floor) && floor.LessThanOrEqual(bbo.Ask) {
		return floor
	}
	return price
}

// EstimateNotionalUSD approximates a quantity's USD value from the best
// available price reference: the leg's last fill price, then the spec's
// per-unit notional estimate.
func EstimateNotionalUSD(leg *OrderContext, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	if price := leg.LastFillPrice(); price.IsPositive() {
		return qty.Mul(leg.Spec.Multiplier()).Mul(price)
	}
	if leg.Spec.NotionalUSD.IsPositive() && leg.Spec.Quantity.IsPositive() {
		return leg.Spec.NotionalUSD.Div(leg.Spec.Quantity).Mul(qty)
	}
	return decimal.Zero
}
