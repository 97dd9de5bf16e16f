package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Hedge strategy selectors.
const (
	HedgeStrategyMarket          = "market"
	HedgeStrategyAggressiveLimit = "aggressive_limit"
)

// RetryPolicy bounds the maker retry cycle that runs before any hedge.
type RetryPolicy struct {
	// MaxAttempts caps how many retry passes run against residual deficits.
	MaxAttempts int
	// AttemptTimeout bounds each individual retry order's lifetime.
	AttemptTimeout time.Duration
	// InterAttemptDelay is the pause between retry passes.
	InterAttemptDelay time.Duration
	// MaxDuration caps the whole retry cycle regardless of attempt count.
	MaxDuration time.Duration
	// MinQuantity is the smallest deficit worth retrying.
	MinQuantity decimal.Decimal
	// PriceOffsetTicks shifts retry limit prices from the touch toward the
	// spread. Zero prices retries at the touch.
	PriceOffsetTicks int
}

// HedgePolicy configures the hedge stage.
type HedgePolicy struct {
	// Strategy selects HedgeStrategyMarket or HedgeStrategyAggressiveLimit.
	Strategy string
	// FillThreshold is the fraction of the hedge target that counts as
	// filled, tolerating unit-rounding dust.
	FillThreshold decimal.Decimal
	// MaxDuration caps the whole adaptive-limit loop before the market
	// fallback fires.
	MaxDuration time.Duration
	// MaxAttempts is the baseline adaptive-limit attempt count; the
	// strategy tunes it up for reduce-only orders.
	MaxAttempts int
	// AttemptTimeout bounds each adaptive-limit attempt.
	AttemptTimeout time.Duration
	// Backoff is the pause between adaptive-limit attempts.
	Backoff time.Duration
	// InsideSpreadAttempts is how many early attempts price one tick
	// inside the spread before falling back to the touch.
	InsideSpreadAttempts int
}

// ExecutionPolicy is the explicit configuration for one atomic execution.
// It is always passed in by the caller; the engine reads no ambient state.
type ExecutionPolicy struct {
	Retry RetryPolicy
	Hedge HedgePolicy
	// RollbackOnFailure flattens filled exposure when hedging fails.
	// When false the residual imbalance is surfaced to the caller instead.
	RollbackOnFailure bool
	// DustThreshold is the per-leg deficit below which legs count as at
	// parity.
	DustThreshold decimal.Decimal
	// PollInterval is the order-status polling cadence.
	PollInterval time.Duration
}

// DefaultPolicy returns the stock policy. Every value here is tunable via
// configuration; none of them is a correctness requirement.
func DefaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		Retry: RetryPolicy{
			MaxAttempts:       2,
			AttemptTimeout:    5 * time.Second,
			InterAttemptDelay: 500 * time.Millisecond,
			MaxDuration:       20 * time.Second,
			MinQuantity:       decimal.New(1, -4),
		},
		Hedge: HedgePolicy{
			Strategy:             HedgeStrategyAggressiveLimit,
			FillThreshold:        decimal.NewFromFloat(0.99),
			MaxDuration:          30 * time.Second,
			MaxAttempts:          3,
			AttemptTimeout:       3 * time.Second,
			Backoff:              250 * time.Millisecond,
			InsideSpreadAttempts: 2,
		},
		RollbackOnFailure: true,
		DustThreshold:     decimal.New(1, -4),
		PollInterval:      200 * time.Millisecond,
	}
}

// Validate rejects policies the engine cannot run safely.
func (p ExecutionPolicy) Validate() error {
	if p.PollInterval <= 0 {
		return fmt.Errorf("execution policy: poll interval must be positive, got %s", p.PollInterval)
	}
	if p.DustThreshold.IsNegative() {
		return fmt.Errorf("execution policy: dust threshold must be non-negative, got %s", p.DustThreshold)
	}
	if p.Retry.MaxAttempts < 0 {
		return fmt.Errorf("execution policy: retry max attempts must be non-negative, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.MaxAttempts > 0 && p.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("execution policy: retry attempt timeout must be positive, got %s", p.Retry.AttemptTimeout)
	}
	switch p.Hedge.Strategy {
	case HedgeStrategyMarket, HedgeStrategyAggressiveLimit:
	default:
		return fmt.Errorf("execution policy: unknown hedge strategy %q", p.Hedge.Strategy)
	}
	if !p.Hedge.FillThreshold.IsPositive() || p.Hedge.FillThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("execution policy: hedge fill threshold must be in (0, 1], got %s", p.Hedge.FillThreshold)
	}
	if p.Hedge.Strategy == HedgeStrategyAggressiveLimit {
		if p.Hedge.MaxAttempts <= 0 {
			return fmt.Errorf("execution policy: hedge max attempts must be positive, got %d", p.Hedge.MaxAttempts)
		}
		if p.Hedge.AttemptTimeout <= 0 {
			return fmt.Errorf("execution policy: hedge attempt timeout must be positive, got %s", p.Hedge.AttemptTimeout)
		}
	}
	return nil
}

// tuned returns the adaptive-limit attempt parameters for an order.
// Reduce-only hedges close exposure that is already on the books, so they
// get extra attempts with a tighter backoff before the market fallback.
func (p HedgePolicy) tuned(reduceOnly bool) (attempts int, timeout, backoff time.Duration) {
	attempts = p.MaxAttempts
	timeout = p.AttemptTimeout
	backoff = p.Backoff
	if reduceOnly {
		attempts += 2
		if backoff > 0 {
			backoff /= 2
		}
	}
	return attempts, timeout, backoff
}
