// Package venuetest provides a scriptable in-memory venue client for tests.
// Each placed order consumes the next Script programmed for its instrument,
// which controls how the mock fills, stalls, rejects, or races a late fill
// against cancellation.
package venuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/crossvenue/internal/venue"
)

// Script describes the behavior of one order placed against the mock.
// The zero value fills the full quantity on the first status poll.
type Script struct {
	// RejectWith, when set, fails the placement call itself.
	RejectWith error
	// FillAfterPolls delays any fill until that many GetOrderInfo calls.
	FillAfterPolls int
	// FillQuantity caps the fill below the order quantity (partial fill
	// that then stalls). Zero means fill the full quantity.
	FillQuantity decimal.Decimal
	// FillPrice overrides the reported fill price. Zero means the order's
	// own limit price (or 0 for market orders without an override).
	FillPrice decimal.Decimal
	// FillOnCancel is extra quantity that lands venue-side while the
	// cancel is in flight, capped at the order quantity.
	FillOnCancel decimal.Decimal
}

// PlacedOrder records one placement call for assertions.
type PlacedOrder struct {
	OrderID    string
	Instrument string
	Side       venue.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Market     bool
	ReduceOnly bool
}

type mockOrder struct {
	PlacedOrder
	script Script
	polls  int
	filled decimal.Decimal
	status string
}

// MockClient implements venue.Client with scripted behavior.
type MockClient struct {
	mu       sync.Mutex
	seq      int
	scripts  map[string][]Script
	orders   map[string]*mockOrder
	placed   []PlacedOrder
	bbo      map[string]venue.BBO
	tick     map[string]decimal.Decimal
	cancels  int
}

// NewMockClient returns an empty mock venue.
func NewMockClient() *MockClient {
	return &MockClient{
		scripts: make(map[string][]Script),
		orders:  make(map[string]*mockOrder),
		bbo:     make(map[string]venue.BBO),
		tick:    make(map[string]decimal.Decimal),
	}
}

// Program appends a script for the next order placed on the instrument.
func (m *MockClient) Program(instrument string, s Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[instrument] = append(m.scripts[instrument], s)
}

// SetBBO stubs the best bid/ask for an instrument.
func (m *MockClient) SetBBO(instrument string, bid, ask decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bbo[instrument] = venue.BBO{Bid: bid, Ask: ask}
}

// SetTickSize stubs the price increment for an instrument.
func (m *MockClient) SetTickSize(instrument string, tick decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick[instrument] = tick
}

// Placed returns a copy of every recorded placement in order.
func (m *MockClient) Placed() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlacedOrder, len(m.placed))
	copy(out, m.placed)
	return out
}

// Cancels returns the number of cancel calls observed.
func (m *MockClient) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

func (m *MockClient) place(instrument string, qty, price decimal.Decimal, side venue.Side, market, reduceOnly bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var script Script
	if queue := m.scripts[instrument]; len(queue) > 0 {
		script = queue[0]
		m.scripts[instrument] = queue[1:]
	}
	if script.RejectWith != nil {
		return "", script.RejectWith
	}

	m.seq++
	id := fmt.Sprintf("mock-%d", m.seq)
	rec := PlacedOrder{
		OrderID:    id,
		Instrument: instrument,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Market:     market,
		ReduceOnly: reduceOnly,
	}
	m.placed = append(m.placed, rec)
	m.orders[id] = &mockOrder{
		PlacedOrder: rec,
		script:      script,
		status:      venue.OrderStatusOpen,
	}
	return id, nil
}

func (m *MockClient) PlaceLimitOrder(_ context.Context, instrument string, qty, price decimal.Decimal, side venue.Side, reduceOnly bool) (string, error) {
	return m.place(instrument, qty, price, side, false, reduceOnly)
}

func (m *MockClient) PlaceMarketOrder(_ context.Context, instrument string, qty decimal.Decimal, side venue.Side, reduceOnly bool) (string, error) {
	return m.place(instrument, qty, decimal.Zero, side, true, reduceOnly)
}

func (m *MockClient) GetOrderInfo(_ context.Context, _ string, orderID string) (venue.OrderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ord, ok := m.orders[orderID]
	if !ok {
		return venue.OrderInfo{}, venue.ErrOrderNotFound
	}

	if !venue.IsTerminalStatus(ord.status) {
		ord.polls++
		if ord.polls > ord.script.FillAfterPolls {
			target := ord.Quantity
			if ord.script.FillQuantity.IsPositive() {
				target = decimal.Min(ord.script.FillQuantity, ord.Quantity)
			}
			ord.filled = target
			if ord.filled.GreaterThanOrEqual(ord.Quantity) {
				ord.status = venue.OrderStatusFilled
			} else {
				ord.status = venue.OrderStatusPartiallyFilled
			}
		}
	}

	return venue.OrderInfo{
		OrderID:        ord.OrderID,
		Status:         ord.status,
		FilledQuantity: ord.filled,
		AvgFillPrice:   ord.fillPrice(),
	}, nil
}

func (o *mockOrder) fillPrice() decimal.Decimal {
	if !o.filled.IsPositive() {
		return decimal.Zero
	}
	if o.script.FillPrice.IsPositive() {
		return o.script.FillPrice
	}
	return o.Price
}

func (m *MockClient) CancelOrder(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancels++
	ord, ok := m.orders[orderID]
	if !ok {
		return venue.ErrOrderNotFound
	}
	if venue.IsTerminalStatus(ord.status) {
		return nil
	}
	// Simulate a fill event racing the cancel: quantity lands venue-side
	// before the cancel is processed, so only the status query sees it.
	if ord.script.FillOnCancel.IsPositive() {
		ord.filled = decimal.Min(ord.filled.Add(ord.script.FillOnCancel), ord.Quantity)
	}
	if ord.filled.GreaterThanOrEqual(ord.Quantity) {
		ord.status = venue.OrderStatusFilled
	} else {
		ord.status = venue.OrderStatusCancelled
	}
	return nil
}

func (m *MockClient) GetBBO(_ context.Context, instrument string) (venue.BBO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bbo[instrument]; ok {
		return b, nil
	}
	return venue.BBO{}, fmt.Errorf("venuetest: no bbo stubbed for %s", instrument)
}

func (m *MockClient) TickSize(instrument string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tick[instrument]; ok {
		return t
	}
	return decimal.New(1, -2)
}

var _ venue.Client = (*MockClient)(nil)
