package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/crossvenue/pkg/metrics"
)

// RetryManager exhausts maker-fee opportunities against residual deficits
// before the hedge stage resorts to taker orders. Each pass re-prices off
// a fresh BBO and runs through the same executor pipeline as initial
// placement.
type RetryManager struct {
	policy   RetryPolicy
	dust     decimal.Decimal
	executor *OrderExecutor
	logger   *zap.Logger
}

// NewRetryManager builds the retry stage.
func NewRetryManager(policy RetryPolicy, dust decimal.Decimal, executor *OrderExecutor, logger *zap.Logger) *RetryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryManager{
		policy:   policy,
		dust:     dust,
		executor: executor,
		logger:   logger.Named("retry-manager"),
	}
}

// minRetryQuantity is the smallest deficit worth another limit order.
func (m *RetryManager) minRetryQuantity() decimal.Decimal {
	return decimal.Max(m.policy.MinQuantity, m.dust)
}

// allAtParity reports every leg's deviation from its effective target is
// at or below the dust threshold. Over-fills count as imbalance so a
// sibling that outran the trigger never reads as balanced.
func (m *RetryManager) allAtParity(legs []*OrderContext) bool {
	for _, leg := range legs {
		if leg.ParityDeviation().GreaterThan(m.dust) {
			return false
		}
	}
	return true
}

// CloseDeficits drives bounded retry passes until parity is reached, the
// attempt count is spent, or the duration cap is hit. Retry orders are
// sized to each leg's planned-size deficit — trigger included — because a
// maker fill toward the original size beats paying taker fees to hedge
// down. Hedge targets are recomputed off the trigger's fill after every
// pass so the parity check tracks the moving authoritative size. Returns
// the number of passes run and whether retries alone reached parity.
func (m *RetryManager) CloseDeficits(ctx context.Context, trigger *OrderContext, legs []*OrderContext) (int, bool) {
	start := time.Now()
	attempts := 0

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		if m.allAtParity(legs) {
			break
		}
		if m.policy.MaxDuration > 0 && time.Since(start) >= m.policy.MaxDuration {
			m.logger.Info("retry duration cap reached",
				zap.Duration("elapsed", time.Since(start)),
				zap.Int("attempts", attempts))
			break
		}
		if attempt > 1 && m.policy.InterAttemptDelay > 0 {
			select {
			case <-ctx.Done():
				return attempts, m.allAtParity(legs)
			case <-time.After(m.policy.InterAttemptDelay):
			}
		}

		attempts++
		metrics.RetryAttempts.Inc()
		m.runPass(ctx, attempt, legs)
		ComputeHedgeTargets(trigger, legs)
	}

	return attempts, m.allAtParity(legs)
}

// runPass places one fresh limit order per leg still carrying a deficit.
// Legs run concurrently; each leg's context is mutated only by its own
// attempt task.
func (m *RetryManager) runPass(ctx context.Context, attempt int, legs []*OrderContext) {
	g, gctx := errgroup.WithContext(ctx)

	for _, leg := range legs {
		remaining := leg.PlannedRemaining()
		if remaining.LessThanOrEqual(m.minRetryQuantity()) {
			continue
		}
		leg := leg
		g.Go(func() error {
			client, err := m.executor.Client(leg.Spec.Venue)
			if err != nil {
				m.logger.Error("no venue client for retry", zap.String("venue", leg.Spec.Venue), zap.Error(err))
				return nil
			}
			bbo, err := client.GetBBO(gctx, leg.Spec.Instrument)
			if err != nil || !bbo.Valid() {
				m.logger.Warn("skipping retry pass without a usable bbo",
					zap.String("instrument", leg.Spec.Instrument),
					zap.Int("attempt", attempt),
					zap.Error(err))
				return nil
			}

			price := RetryPrice(leg.Spec.Side, bbo, client.TickSize(leg.Spec.Instrument), m.policy.PriceOffsetTicks)
			spec := OrderSpec{
				Venue:              leg.Spec.Venue,
				Instrument:         leg.Spec.Instrument,
				Side:               leg.Spec.Side,
				Quantity:           remaining,
				LimitPrice:         &price,
				ReduceOnly:         leg.Spec.ReduceOnly,
				Timeout:            m.policy.AttemptTimeout,
				NotionalUSD:        EstimateNotionalUSD(leg, remaining),
				ContractMultiplier: leg.Spec.ContractMultiplier,
			}

			m.logger.Info("placing retry order",
				zap.Int("attempt", attempt),
				zap.String("instrument", spec.Instrument),
				zap.String("quantity", remaining.String()),
				zap.String("price", price.String()))

			out := m.executor.Execute(gctx, spec, leg, nil)
			if out.Err != nil {
				m.logger.Warn("retry attempt errored",
					zap.Int("attempt", attempt),
					zap.String("instrument", spec.Instrument),
					zap.Error(out.Err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Error("retry pass aborted", zap.Error(err))
	}
}
