// Package venue defines the capability contract the execution engine
// consumes from exchange adapters: place, poll, cancel, and best bid/offer.
// Instrument identifiers passed through this package are already
// venue-normalized by the adapter layer.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the flattening direction for a side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Order status values as reported by venue adapters.
const (
	OrderStatusNew             = "NEW"
	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// IsTerminalStatus reports whether the venue will not change the order again.
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderInfo is the venue's authoritative view of one order. The engine
// always trusts this over cancel acknowledgments when the two disagree.
type OrderInfo struct {
	OrderID        string
	Status         string
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
}

// BBO is the current best bid and best ask for an instrument.
type BBO struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Valid reports whether both sides of the book are quoted.
func (b BBO) Valid() bool {
	return b.Bid.IsPositive() && b.Ask.IsPositive() && b.Ask.GreaterThanOrEqual(b.Bid)
}

// Sentinel errors adapters use to classify expected market outcomes.
var (
	// ErrPostOnlyWouldCross signals a maker-only placement the book rejected.
	// Recoverable: the caller re-prices and retries.
	ErrPostOnlyWouldCross = errors.New("venue: post-only order would cross the book")
	// ErrOrderNotFound signals a status or cancel request for an unknown order.
	ErrOrderNotFound = errors.New("venue: order not found")
)

// Client is the uniform order capability one venue exposes to the engine.
// All methods are expected to perform network I/O and honor ctx.
type Client interface {
	// PlaceLimitOrder submits a limit order and returns the venue order id.
	PlaceLimitOrder(ctx context.Context, instrument string, qty, price decimal.Decimal, side Side, reduceOnly bool) (string, error)
	// PlaceMarketOrder submits a market order and returns the venue order id.
	PlaceMarketOrder(ctx context.Context, instrument string, qty decimal.Decimal, side Side, reduceOnly bool) (string, error)
	// GetOrderInfo returns the venue's current view of the order.
	GetOrderInfo(ctx context.Context, instrument, orderID string) (OrderInfo, error)
	// CancelOrder requests cancellation of the unfilled remainder.
	CancelOrder(ctx context.Context, instrument, orderID string) error
	// GetBBO returns the current best bid and ask for the instrument.
	GetBBO(ctx context.Context, instrument string) (BBO, error)
	// TickSize returns the minimum price increment for the instrument.
	TickSize(instrument string) decimal.Decimal
}

// Registry holds clients keyed by venue identifier.
type Registry struct {
	clients map[string]Client
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register stores a client implementation for a venue.
func (r *Registry) Register(name string, client Client) {
	r.clients[name] = client
}

// Client resolves the client for the venue.
func (r *Registry) Client(name string) (Client, error) {
	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	return nil, fmt.Errorf("no venue client registered for %q", name)
}
