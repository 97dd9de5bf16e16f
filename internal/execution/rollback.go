package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Aidin1998/crossvenue/internal/venue"
	"github.com/Aidin1998/crossvenue/pkg/metrics"
)

// RollbackManager is the last resort: when hedging itself fails it closes
// every leg's filled exposure with opposite-direction market orders and
// accounts for the realized cost of doing so.
type RollbackManager struct {
	executor      *OrderExecutor
	timeout       time.Duration
	fillThreshold decimal.Decimal
	logger        *zap.Logger
}

// NewRollbackManager builds the rollback stage.
func NewRollbackManager(policy ExecutionPolicy, executor *OrderExecutor, logger *zap.Logger) *RollbackManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RollbackManager{
		executor:      executor,
		timeout:       policy.Hedge.AttemptTimeout,
		fillThreshold: policy.Hedge.FillThreshold,
		logger:        logger.Named("rollback-manager"),
	}
}

// Rollback flattens every leg with nonzero filled quantity. It returns the
// accumulated USD cost (never negative) and an error describing any leg it
// could not flatten; it keeps going past individual failures so residual
// exposure is minimized either way.
func (m *RollbackManager) Rollback(ctx context.Context, legs []*OrderContext) (decimal.Decimal, error) {
	totalCost := decimal.Zero
	var errs error

	for _, leg := range legs {
		filled := leg.FilledQuantity()
		if !filled.IsPositive() {
			continue
		}

		spec := OrderSpec{
			Venue:              leg.Spec.Venue,
			Instrument:         leg.Spec.Instrument,
			Side:               leg.Spec.Side.Opposite(),
			Quantity:           filled,
			ReduceOnly:         true,
			Timeout:            m.timeout,
			NotionalUSD:        EstimateNotionalUSD(leg, filled),
			ContractMultiplier: leg.Spec.ContractMultiplier,
		}

		m.logger.Warn("rolling back filled exposure",
			zap.String("instrument", spec.Instrument),
			zap.String("side", string(spec.Side)),
			zap.String("quantity", filled.String()))

		// The close order gets its own context so its fills never count
		// toward the leg's parity accounting.
		closeLeg := NewOrderContext(spec, m.logger)
		out := m.executor.Execute(ctx, spec, closeLeg, nil)
		switch {
		case out.Err != nil:
			errs = multierr.Append(errs, fmt.Errorf("rollback of %s on %s: %w", spec.Instrument, spec.Venue, out.Err))
			continue
		case out.Rejected:
			errs = multierr.Append(errs, fmt.Errorf("rollback of %s on %s rejected by venue", spec.Instrument, spec.Venue))
			continue
		}

		closed := closeLeg.FilledQuantity()
		if closed.LessThan(filled.Mul(m.fillThreshold)) {
			errs = multierr.Append(errs, fmt.Errorf("rollback of %s closed only %s of %s", spec.Instrument, closed, filled))
		}

		cost := m.realizedCost(leg, closeLeg, closed)
		totalCost = totalCost.Add(cost)
		m.logger.Info("rollback leg closed",
			zap.String("instrument", spec.Instrument),
			zap.String("closed", closed.String()),
			zap.String("cost_usd", cost.String()))
	}

	metrics.RollbacksTotal.Inc()
	metrics.RollbackCostUSD.Add(totalCost.InexactFloat64())
	return totalCost, errs
}

// realizedCost is the spread/slippage paid to flatten one leg: entry vs
// exit price over the closed quantity, clamped at zero when the exit
// happened to improve on the entry. Missing prices contribute zero.
func (m *RollbackManager) realizedCost(leg, closeLeg *OrderContext, closed decimal.Decimal) decimal.Decimal {
	entry := leg.LastFillPrice()
	exit := closeLeg.LastFillPrice()
	if !entry.IsPositive() || !exit.IsPositive() || !closed.IsPositive() {
		m.logger.Warn("rollback cost unknown without both fill prices",
			zap.String("instrument", leg.Spec.Instrument),
			zap.String("entry", entry.String()),
			zap.String("exit", exit.String()))
		return decimal.Zero
	}

	perUnit := entry.Sub(exit)
	if leg.Spec.Side == venue.SideSell {
		perUnit = exit.Sub(entry)
	}
	cost := perUnit.Mul(closed).Mul(leg.Spec.Multiplier())
	if cost.IsNegative() {
		return decimal.Zero
	}
	return cost
}
