package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/crossvenue/internal/venue"
	"github.com/Aidin1998/crossvenue/pkg/metrics"
)

// AtomicMultiOrderExecutor synthesizes cross-venue atomicity for a set of
// correlated legs. No venue offers it natively, so the orchestrator runs a
// saga: place all legs concurrently, let the first terminal leg set the
// authoritative size, cancel and reconcile the rest, then close residual
// deficits through retries, hedges, and — if everything else fails — a
// rollback of filled exposure.
//
// State machine per call:
//
//	INITIAL_PLACEMENT -> TRIGGER_WAIT -> CANCEL_SIBLINGS -> RECONCILE ->
//	{DONE | RETRY_CYCLE -> {DONE | HEDGE -> {DONE | ROLLBACK -> DONE}}}
type AtomicMultiOrderExecutor struct {
	policy   ExecutionPolicy
	executor *OrderExecutor
	retry    *RetryManager
	hedge    *HedgeManager
	rollback *RollbackManager
	journal  *Journal
	logger   *zap.Logger
}

// NewAtomicMultiOrderExecutor wires the full pipeline over the venue
// registry. The journal may be nil when the caller keeps its own records.
func NewAtomicMultiOrderExecutor(clients *venue.Registry, policy ExecutionPolicy, journal *Journal, logger *zap.Logger) (*AtomicMultiOrderExecutor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reconciler := NewOrderReconciler(policy.PollInterval, policy.Hedge.FillThreshold, logger)
	executor := NewOrderExecutor(clients, reconciler, logger)
	return &AtomicMultiOrderExecutor{
		policy:   policy,
		executor: executor,
		retry:    NewRetryManager(policy.Retry, policy.DustThreshold, executor, logger),
		hedge:    NewHedgeManager(policy, executor, logger),
		rollback: NewRollbackManager(policy, executor, logger),
		journal:  journal,
		logger:   logger.Named("atomic-executor"),
	}, nil
}

// validateSpecs rejects requests the protocol cannot run.
func validateSpecs(specs []OrderSpec) error {
	if len(specs) < 2 {
		return fmt.Errorf("atomic execution requires at least 2 legs, got %d", len(specs))
	}
	for i, spec := range specs {
		if spec.Venue == "" {
			return fmt.Errorf("leg %d: venue required", i)
		}
		if spec.Instrument == "" {
			return fmt.Errorf("leg %d: instrument required", i)
		}
		if !spec.Quantity.IsPositive() {
			return fmt.Errorf("leg %d: quantity must be positive, got %s", i, spec.Quantity)
		}
		if spec.Timeout <= 0 {
			return fmt.Errorf("leg %d: timeout must be positive, got %s", i, spec.Timeout)
		}
		if spec.LimitPrice != nil && !spec.LimitPrice.IsPositive() {
			return fmt.Errorf("leg %d: limit price must be positive, got %s", i, spec.LimitPrice)
		}
	}
	return nil
}

// ExecuteAtomically runs the full protocol for one set of legs. The
// returned result always reports whether parity was achieved, whether a
// rollback fired, and the monetary cost of any cleanup. An error return is
// reserved for invalid input; market outcomes, including total failure,
// come back in the result.
func (a *AtomicMultiOrderExecutor) ExecuteAtomically(ctx context.Context, specs []OrderSpec) (*AtomicExecutionResult, error) {
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &AtomicExecutionResult{
		ExecutionID:     uuid.New(),
		RollbackCostUSD: decimal.Zero,
	}
	logger := a.logger.With(zap.String("execution_id", result.ExecutionID.String()))

	legs := make([]*OrderContext, len(specs))
	for i, spec := range specs {
		legs[i] = NewOrderContext(spec, logger)
	}

	defer func() {
		result.Duration = time.Since(start)
		metrics.ExecutionLatency.Observe(result.Duration.Seconds())
		metrics.ExecutionsTotal.WithLabelValues(a.outcomeLabel(result)).Inc()
		metrics.ResidualImbalanceUSD.Set(result.ResidualImbalanceUSD.InexactFloat64())
		if a.journal != nil {
			a.journal.Record(*result)
		}
		logger.Info("atomic execution finished",
			zap.Bool("success", result.Success),
			zap.Bool("all_filled", result.AllFilled),
			zap.Int("retry_attempts", result.RetryAttempts),
			zap.Bool("retry_success", result.RetrySuccess),
			zap.Bool("rollback_performed", result.RollbackPerformed),
			zap.String("rollback_cost_usd", result.RollbackCostUSD.String()),
			zap.String("residual_imbalance_usd", result.ResidualImbalanceUSD.String()),
			zap.Duration("duration", result.Duration))
	}()

	trigger := a.placeAndAwaitTrigger(ctx, legs, logger)

	// RECONCILE: a fill can land after the cancel request was sent but
	// before the venue processed it; the status query has the last word.
	for _, leg := range legs {
		if leg == trigger {
			continue
		}
		if err := a.executor.ReconcileContext(ctx, leg); err != nil {
			logger.Warn("sibling reconciliation failed",
				zap.String("instrument", leg.Spec.Instrument),
				zap.Error(err))
		}
	}

	if !a.anyFilled(legs) {
		logger.Warn("no leg filled anything, nothing to balance")
		result.Success = false
		return result, nil
	}

	ComputeHedgeTargets(trigger, legs)
	logger.Info("hedge targets computed",
		zap.String("trigger_instrument", trigger.Spec.Instrument),
		zap.String("trigger_filled", trigger.FilledQuantity().String()))

	if a.atParity(legs) {
		result.Success = true
		result.AllFilled = true
		return result, nil
	}

	// RETRY_CYCLE: maker attempts against the residual deficits.
	attempts, closed := a.retry.CloseDeficits(ctx, trigger, legs)
	result.RetryAttempts = attempts
	if closed {
		result.RetrySuccess = true
		result.Success = true
		result.AllFilled = true
		return result, nil
	}

	// HEDGE: taker or adaptive-limit flattening of whatever is left.
	// Rollback is reserved for hedge failure: a hedge that closed every
	// leg to within its own fill tolerance ends the execution.
	hedgeResults, hedged := a.hedge.FlattenDeficits(ctx, legs)
	result.HedgeResults = hedgeResults
	if hedged && a.withinHedgeTolerance(legs) {
		result.Success = true
		result.AllFilled = true
		return result, nil
	}

	// ROLLBACK, or surface the imbalance when the caller opted out.
	if a.policy.RollbackOnFailure {
		cost, err := a.rollback.Rollback(ctx, legs)
		result.RollbackPerformed = true
		result.RollbackCostUSD = cost
		if err != nil {
			logger.Error("rollback incomplete, residual exposure remains", zap.Error(err))
			result.ResidualImbalanceUSD = a.residualImbalanceUSD(legs)
		}
		return result, nil
	}

	result.ResidualImbalanceUSD = a.residualImbalanceUSD(legs)
	logger.Warn("rollback disabled by policy, surfacing residual imbalance",
		zap.String("residual_usd", result.ResidualImbalanceUSD.String()))
	return result, nil
}

// placeAndAwaitTrigger runs INITIAL_PLACEMENT, TRIGGER_WAIT, and
// CANCEL_SIBLINGS: launch one executor task per leg, designate the first
// terminal leg as the trigger, signal cancellation to its siblings, and
// wait for every task to go terminal. The wait is the barrier that makes
// the later single-threaded reconciliation safe — no sibling task can
// still be mutating its context once this returns.
func (a *AtomicMultiOrderExecutor) placeAndAwaitTrigger(ctx context.Context, legs []*OrderContext, logger *zap.Logger) *OrderContext {
	done := make(chan int, len(legs))
	var g errgroup.Group

	for i := range legs {
		i := i
		leg := legs[i]
		g.Go(func() error {
			out := a.executor.Execute(ctx, leg.Spec, leg, leg.CancelSignal())
			if out.Err != nil {
				logger.Error("leg ended in unknown state",
					zap.String("instrument", leg.Spec.Instrument),
					zap.Error(out.Err))
			}
			done <- i
			return nil
		})
	}

	var triggerIdx int
	select {
	case triggerIdx = <-done:
	case <-ctx.Done():
		triggerIdx = -1
	}

	for i, leg := range legs {
		if i != triggerIdx {
			leg.SignalCancel()
		}
	}
	_ = g.Wait()

	if triggerIdx < 0 {
		// Caller abandoned the execution mid-placement; fall back to the
		// first leg so sizing still has a deterministic reference.
		logger.Warn("context cancelled before any leg went terminal")
		triggerIdx = 0
	}

	trigger := legs[triggerIdx]
	logger.Info("trigger leg designated",
		zap.String("instrument", trigger.Spec.Instrument),
		zap.String("venue", trigger.Spec.Venue),
		zap.String("filled", trigger.FilledQuantity().String()))
	return trigger
}

// atParity reports every leg sits within the dust threshold of its
// effective target, in either direction. An over-filled leg is imbalance
// the same way a deficit is.
func (a *AtomicMultiOrderExecutor) atParity(legs []*OrderContext) bool {
	for _, leg := range legs {
		if leg.ParityDeviation().GreaterThan(a.policy.DustThreshold) {
			return false
		}
	}
	return true
}

// withinHedgeTolerance evaluates post-hedge parity with the same fill
// tolerance the hedge strategies consider success, so a hedge that filled
// to within the threshold is not second-guessed at dust precision.
func (a *AtomicMultiOrderExecutor) withinHedgeTolerance(legs []*OrderContext) bool {
	tolerance := decimal.NewFromInt(1).Sub(a.policy.Hedge.FillThreshold)
	for _, leg := range legs {
		allowed := decimal.Max(a.policy.DustThreshold, leg.EffectiveTarget().Mul(tolerance))
		if leg.ParityDeviation().GreaterThan(allowed) {
			return false
		}
	}
	return true
}

// anyFilled reports whether any leg recorded a nonzero fill.
func (a *AtomicMultiOrderExecutor) anyFilled(legs []*OrderContext) bool {
	for _, leg := range legs {
		if leg.FilledQuantity().IsPositive() {
			return true
		}
	}
	return false
}

// residualImbalanceUSD sums the USD value of every leg's deviation from
// its hedge target, deficits and over-fills alike.
func (a *AtomicMultiOrderExecutor) residualImbalanceUSD(legs []*OrderContext) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range legs {
		deviation := leg.ParityDeviation()
		if deviation.GreaterThan(a.policy.DustThreshold) {
			total = total.Add(EstimateNotionalUSD(leg, deviation))
		}
	}
	return total
}

func (a *AtomicMultiOrderExecutor) outcomeLabel(result *AtomicExecutionResult) string {
	switch {
	case result.RollbackPerformed:
		return "rolled_back"
	case result.AllFilled && result.RetrySuccess:
		return "retry_filled"
	case result.AllFilled && len(result.HedgeResults) > 0:
		return "hedged"
	case result.AllFilled:
		return "filled"
	case result.Success:
		return "filled"
	default:
		return "unresolved"
	}
}
