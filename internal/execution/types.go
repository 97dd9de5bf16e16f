package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/crossvenue/internal/venue"
)

// OrderSpec describes one leg's order for one attempt. Immutable once built;
// retry and hedge stages derive fresh specs sized to the residual deficit.
type OrderSpec struct {
	// Venue identifies the client in the venue registry.
	Venue string
	// Instrument is the venue-normalized identifier.
	Instrument string
	Side       venue.Side
	// Quantity is the target quantity in the venue's native contract units.
	Quantity decimal.Decimal
	// LimitPrice, when nil, makes this a market order.
	LimitPrice *decimal.Decimal
	ReduceOnly bool
	// Timeout bounds this order's lifetime from placement to cancel.
	Timeout time.Duration
	// NotionalUSD is an estimate used for logging and follow-up sizing.
	NotionalUSD decimal.Decimal
	// ContractMultiplier converts native units to the common base-asset
	// amount shared across venues. Zero is treated as 1.
	ContractMultiplier decimal.Decimal
}

// Multiplier returns the contract multiplier with the zero-value default.
func (s OrderSpec) Multiplier() decimal.Decimal {
	if s.ContractMultiplier.IsPositive() {
		return s.ContractMultiplier
	}
	return decimal.NewFromInt(1)
}

// IsMarket reports whether the spec places a market order.
func (s OrderSpec) IsMarket() bool {
	return s.LimitPrice == nil
}

// LegOutcome is one order attempt's terminal result as seen by the executor.
type LegOutcome struct {
	OrderID string
	// FilledQuantity is this order's fill, not the leg's accumulated fill.
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	Rejected       bool
	TimedOut       bool
	CancelObserved bool
	Err            error
}

// ReconciliationResult is the outcome of one poll-until-filled cycle.
type ReconciliationResult struct {
	// Filled reports the order reached the fill threshold.
	Filled bool
	// FilledQuantity is the quantity this order filled.
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	// AccumulatedQuantity is the leg's fill across all attempts so far.
	AccumulatedQuantity decimal.Decimal
	// PartialBeforeCancel reports a partial fill was observed before the
	// order was cancelled.
	PartialBeforeCancel bool
	// Retryable reports a benign terminal state (post-only rejection or a
	// zero-fill cancel) the caller may retry against.
	Retryable bool
	TimedOut  bool
	Err       error
}

// Hedge execution mode tags.
const (
	HedgeModeMarket          = "market"
	HedgeModeAggressiveLimit = "aggressive_limit"
	HedgeModeMarketFallback  = "market_fallback"
	HedgeModeSkip            = "skip"
)

// HedgeResult is one leg's hedge outcome. Ordinary market conditions never
// surface as an error; they set Success=false with a reason.
type HedgeResult struct {
	Success        bool
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	Mode           string
	// MakerQuantity and TakerQuantity split the fill for fee accounting.
	MakerQuantity decimal.Decimal
	TakerQuantity decimal.Decimal
	Error         string
	Retries       int
}

// AtomicExecutionResult is the final output of one atomic execution.
type AtomicExecutionResult struct {
	ExecutionID uuid.UUID
	// Success reports the execution ended without residual one-sided
	// exposure (parity reached, possibly below the planned size).
	Success bool
	// AllFilled reports every leg reached parity within the dust threshold.
	AllFilled bool
	// RetryAttempts is the number of maker retry passes that ran.
	RetryAttempts int
	// RetrySuccess is true only when retries alone closed every deficit.
	RetrySuccess bool
	// HedgeResults carries per-leg hedge outcomes when the hedge stage ran.
	HedgeResults []HedgeResult
	// RollbackPerformed reports the rollback stage fired.
	RollbackPerformed bool
	// RollbackCostUSD is the realized cost of flattening, non-negative
	// whenever RollbackPerformed is true.
	RollbackCostUSD decimal.Decimal
	// ResidualImbalanceUSD is the unresolved exposure surfaced to the
	// caller when neither hedge nor rollback cleared it.
	ResidualImbalanceUSD decimal.Decimal
	Duration             time.Duration
}
