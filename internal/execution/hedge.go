package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/crossvenue/pkg/metrics"
)

// HedgeStrategy flattens one leg's residual deficit. Implementations never
// return an error for ordinary market conditions; failures come back as
// HedgeResult.Success=false with a reason.
type HedgeStrategy interface {
	Name() string
	Hedge(ctx context.Context, leg *OrderContext) HedgeResult
}

// MarketHedgeStrategy is the single-shot taker path: one market order for
// the exact deficit. Speed over price is deliberate — this path exists to
// stop the clock on unmatched exposure.
type MarketHedgeStrategy struct {
	executor      *OrderExecutor
	dust          decimal.Decimal
	fillThreshold decimal.Decimal
	timeout       time.Duration
	logger        *zap.Logger
}

// NewMarketHedgeStrategy builds the market hedge path.
func NewMarketHedgeStrategy(policy ExecutionPolicy, executor *OrderExecutor, logger *zap.Logger) *MarketHedgeStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketHedgeStrategy{
		executor:      executor,
		dust:          policy.DustThreshold,
		fillThreshold: policy.Hedge.FillThreshold,
		timeout:       policy.Hedge.AttemptTimeout,
		logger:        logger.Named("market-hedge"),
	}
}

func (s *MarketHedgeStrategy) Name() string { return HedgeStrategyMarket }

// Hedge submits one market order for the leg's remaining deficit.
func (s *MarketHedgeStrategy) Hedge(ctx context.Context, leg *OrderContext) HedgeResult {
	remaining := leg.RemainingQuantity()
	if remaining.LessThanOrEqual(s.dust) {
		return HedgeResult{Success: true, Mode: HedgeModeSkip}
	}

	spec := OrderSpec{
		Venue:              leg.Spec.Venue,
		Instrument:         leg.Spec.Instrument,
		Side:               leg.Spec.Side,
		Quantity:           remaining,
		ReduceOnly:         leg.Spec.ReduceOnly,
		Timeout:            s.timeout,
		NotionalUSD:        EstimateNotionalUSD(leg, remaining),
		ContractMultiplier: leg.Spec.ContractMultiplier,
	}

	s.logger.Info("placing market hedge",
		zap.String("instrument", spec.Instrument),
		zap.String("side", string(spec.Side)),
		zap.String("quantity", remaining.String()),
		zap.Bool("reduce_only", spec.ReduceOnly))

	out := s.executor.Execute(ctx, spec, leg, nil)
	res := HedgeResult{
		FilledQuantity: out.FilledQuantity,
		FillPrice:      out.FillPrice,
		TakerQuantity:  out.FilledQuantity,
		Mode:           HedgeModeMarket,
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
		return res
	}
	if out.Rejected {
		res.Error = "market hedge rejected by venue"
		return res
	}
	res.Success = out.FilledQuantity.GreaterThanOrEqual(remaining.Mul(s.fillThreshold))
	if !res.Success {
		res.Error = fmt.Sprintf("market hedge filled %s of %s", out.FilledQuantity, remaining)
	}
	return res
}

// AggressiveLimitHedgeStrategy tries to close the deficit with adaptively
// priced limit orders before surrendering to the market fallback. Attempt
// count, timeout, and backoff are tuned off the order's reduce-only flag.
type AggressiveLimitHedgeStrategy struct {
	policy   HedgePolicy
	dust     decimal.Decimal
	executor *OrderExecutor
	pricer   HedgePricer
	fallback *MarketHedgeStrategy
	logger   *zap.Logger
}

// NewAggressiveLimitHedgeStrategy builds the adaptive-limit hedge path
// with its market fallback.
func NewAggressiveLimitHedgeStrategy(policy ExecutionPolicy, executor *OrderExecutor, logger *zap.Logger) *AggressiveLimitHedgeStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggressiveLimitHedgeStrategy{
		policy:   policy.Hedge,
		dust:     policy.DustThreshold,
		executor: executor,
		pricer:   HedgePricer{InsideSpreadAttempts: policy.Hedge.InsideSpreadAttempts},
		fallback: NewMarketHedgeStrategy(policy, executor, logger),
		logger:   logger.Named("aggressive-limit-hedge"),
	}
}

func (s *AggressiveLimitHedgeStrategy) Name() string { return HedgeStrategyAggressiveLimit }

// closedEnough reports the leg's deficit is inside the fill tolerance.
func (s *AggressiveLimitHedgeStrategy) closedEnough(leg *OrderContext, target decimal.Decimal) bool {
	remaining := leg.RemainingQuantity()
	if remaining.LessThanOrEqual(s.dust) {
		return true
	}
	if !target.IsPositive() {
		return true
	}
	tolerance := decimal.NewFromInt(1).Sub(s.policy.FillThreshold)
	return remaining.LessThanOrEqual(target.Mul(tolerance))
}

// Hedge runs the bounded adaptive-limit loop and falls back to a market
// order for whatever residual survives it.
func (s *AggressiveLimitHedgeStrategy) Hedge(ctx context.Context, leg *OrderContext) HedgeResult {
	target := leg.EffectiveTarget()
	if leg.RemainingQuantity().LessThanOrEqual(s.dust) {
		return HedgeResult{Success: true, Mode: HedgeModeSkip}
	}

	attempts, attemptTimeout, backoff := s.policy.tuned(leg.Spec.ReduceOnly)
	deadline := time.Now().Add(s.policy.MaxDuration)

	var maker decimal.Decimal
	retries := 0

	for attempt := 1; attempt <= attempts; attempt++ {
		if s.closedEnough(leg, target) {
			break
		}
		if s.policy.MaxDuration > 0 && time.Now().After(deadline) {
			s.logger.Info("hedge timeout elapsed, aborting to market fallback",
				zap.String("instrument", leg.Spec.Instrument),
				zap.Int("attempt", attempt))
			break
		}

		retries = attempt
		remaining := leg.RemainingQuantity()

		client, err := s.executor.Client(leg.Spec.Venue)
		if err != nil {
			s.logger.Error("no venue client for hedge", zap.String("venue", leg.Spec.Venue), zap.Error(err))
			break
		}
		bbo, err := client.GetBBO(ctx, leg.Spec.Instrument)
		if err != nil || !bbo.Valid() {
			s.logger.Warn("hedge attempt skipped without a usable bbo",
				zap.String("instrument", leg.Spec.Instrument),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !sleepOrDone(ctx, backoff) {
				break
			}
			continue
		}

		price, tier := s.pricer.LimitPrice(attempt, leg.Spec.Side, bbo, client.TickSize(leg.Spec.Instrument), leg.BreakEvenPrice())
		spec := OrderSpec{
			Venue:              leg.Spec.Venue,
			Instrument:         leg.Spec.Instrument,
			Side:               leg.Spec.Side,
			Quantity:           remaining,
			LimitPrice:         &price,
			ReduceOnly:         leg.Spec.ReduceOnly,
			Timeout:            attemptTimeout,
			NotionalUSD:        EstimateNotionalUSD(leg, remaining),
			ContractMultiplier: leg.Spec.ContractMultiplier,
		}

		s.logger.Info("placing adaptive limit hedge",
			zap.Int("attempt", attempt),
			zap.String("instrument", spec.Instrument),
			zap.String("quantity", remaining.String()),
			zap.String("price", price.String()),
			zap.String("tier", tier))

		out := s.executor.Execute(ctx, spec, leg, nil)
		maker = maker.Add(out.FilledQuantity)
		if out.Err != nil {
			s.logger.Warn("hedge attempt errored",
				zap.Int("attempt", attempt),
				zap.String("instrument", spec.Instrument),
				zap.Error(out.Err))
		}

		if s.closedEnough(leg, target) {
			break
		}
		if attempt < attempts && !sleepOrDone(ctx, backoff) {
			break
		}
	}

	// Capture any fill that landed between the last poll and loop exit
	// before sizing the fallback to the true residual.
	if err := s.executor.ReconcileContext(ctx, leg); err != nil {
		s.logger.Warn("post-loop reconciliation failed",
			zap.String("instrument", leg.Spec.Instrument),
			zap.Error(err))
	}

	if s.closedEnough(leg, target) {
		return HedgeResult{
			Success:        true,
			FilledQuantity: maker,
			FillPrice:      leg.LastFillPrice(),
			Mode:           HedgeModeAggressiveLimit,
			MakerQuantity:  maker,
			Retries:        retries,
		}
	}

	fb := s.fallback.Hedge(ctx, leg)
	return HedgeResult{
		Success:        fb.Success,
		FilledQuantity: maker.Add(fb.FilledQuantity),
		FillPrice:      leg.LastFillPrice(),
		Mode:           HedgeModeMarketFallback,
		MakerQuantity:  maker,
		TakerQuantity:  fb.TakerQuantity,
		Error:          fb.Error,
		Retries:        retries,
	}
}

// sleepOrDone pauses between attempts, reporting false once ctx is done.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// HedgeManager selects the configured strategy and flattens every leg
// still carrying a deficit, one concurrent task per leg.
type HedgeManager struct {
	strategy HedgeStrategy
	dust     decimal.Decimal
	logger   *zap.Logger
}

// NewHedgeManager wires the strategy named by the policy.
func NewHedgeManager(policy ExecutionPolicy, executor *OrderExecutor, logger *zap.Logger) *HedgeManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	var strategy HedgeStrategy
	switch policy.Hedge.Strategy {
	case HedgeStrategyMarket:
		strategy = NewMarketHedgeStrategy(policy, executor, logger)
	default:
		strategy = NewAggressiveLimitHedgeStrategy(policy, executor, logger)
	}
	return &HedgeManager{
		strategy: strategy,
		dust:     policy.DustThreshold,
		logger:   logger.Named("hedge-manager"),
	}
}

// FlattenDeficits hedges every leg whose deficit exceeds the dust
// threshold. Returns per-leg results and whether every hedge succeeded.
func (h *HedgeManager) FlattenDeficits(ctx context.Context, legs []*OrderContext) ([]HedgeResult, bool) {
	var (
		mu      sync.Mutex
		results []HedgeResult
		ok      = true
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, leg := range legs {
		if leg.RemainingQuantity().LessThanOrEqual(h.dust) {
			continue
		}
		leg := leg
		g.Go(func() error {
			res := h.strategy.Hedge(gctx, leg)
			metrics.HedgesTotal.WithLabelValues(res.Mode).Inc()
			mu.Lock()
			results = append(results, res)
			if !res.Success {
				ok = false
			}
			mu.Unlock()
			if !res.Success {
				h.logger.Warn("hedge failed",
					zap.String("instrument", leg.Spec.Instrument),
					zap.String("mode", res.Mode),
					zap.String("reason", res.Error))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Error("hedge stage aborted", zap.Error(err))
		ok = false
	}
	return results, ok
}
