// Package types defines the shared data model for the Optimic core:
// orders, trades, markets, portfolios, and option contracts.
//
// All amounts, prices, and quantities are fixed-point int64 values in the
// asset's smallest unit (prices in quote ticks, quantities in base lots).
// Integer arithmetic keeps conservation invariants exact and state hashes
// identical across nodes.
package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Side of an order.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side { return -s }

// OrderType selects the matching behavior of an order.
type OrderType int8

const (
	MarketOrder OrderType = iota
	LimitOrder
	StopOrder
	StopLimitOrder
)

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "market"
	case LimitOrder:
		return "limit"
	case StopOrder:
		return "stop"
	case StopLimitOrder:
		return "stop_limit"
	default:
		return "unknown"
	}
}

// OrderStatus is the lifecycle state of an order. Transitions are monotone
// toward a terminal state and never revert.
type OrderStatus int8

const (
	OrderSubmitted OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderRejected
	OrderExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderSubmitted:
		return "submitted"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	case OrderRejected:
		return "rejected"
	case OrderExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// TimeInForce controls how long an order may rest on the book.
type TimeInForce int8

const (
	GTC TimeInForce = iota // good till cancelled
	IOC                    // immediate or cancel
	FOK                    // fill or kill
	GTD                    // good till date (Order.ExpireAt)
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case GTD:
		return "GTD"
	default:
		return "unknown"
	}
}

// Order is a submitted order. Created on submission, mutated only by the
// matching engine, read-only once terminal.
type Order struct {
	ID     uint64         `json:"id"`
	Trader common.Address `json:"trader"`
	Market string         `json:"market"`
	Side   Side           `json:"side"`
	Type   OrderType      `json:"order_type"`

	Qty       int64 `json:"quantity"`   // total quantity in lots
	Price     int64 `json:"price"`      // limit price in ticks; 0 for market orders
	StopPrice int64 `json:"stop_price"` // trigger price for stop / stop-limit
	Filled    int64 `json:"filled_quantity"`

	Status   OrderStatus `json:"status"`
	TIF      TimeInForce `json:"time_in_force"`
	ExpireAt int64       `json:"expire_at"` // unix seconds, GTD only

	// Seq is the arrival sequence number assigned by the engine.
	// Price-time priority ties at equal price break on Seq.
	Seq uint64 `json:"seq"`

	// Collateral reserved for the unfilled remainder of this order.
	LockedAmount int64  `json:"locked_amount"`
	LockedAsset  string `json:"locked_asset"`

	CreatedAt int64 `json:"created_at"` // block time, unix seconds
	UpdatedAt int64 `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// ApplyFill records qty filled against the order and advances its status.
// Panics on quantity overruns: a fill larger than the remainder is an
// internal matching bug, never a recoverable condition.
func (o *Order) ApplyFill(qty, blockTime int64) {
	if qty <= 0 || qty > o.Remaining() {
		panic(fmt.Sprintf("invariant violation: fill %d exceeds remaining %d on order %d", qty, o.Remaining(), o.ID))
	}
	o.Filled += qty
	if o.Filled == o.Qty {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartiallyFilled
	}
	o.UpdatedAt = blockTime
}

// Close moves the order to a terminal state. Panics if the order is
// already terminal, since terminal statuses never revert.
func (o *Order) Close(status OrderStatus, blockTime int64) {
	if o.Status.Terminal() {
		panic(fmt.Sprintf("invariant violation: order %d already terminal (%s)", o.ID, o.Status))
	}
	if !status.Terminal() {
		panic(fmt.Sprintf("invariant violation: Close(%s) on order %d is not terminal", status, o.ID))
	}
	o.Status = status
	o.UpdatedAt = blockTime
}

// Trade is an immutable record of one fill between two orders.
// IDs are unique, monotonically increasing, and never reused.
type Trade struct {
	ID          uint64         `json:"id"`
	Market      string         `json:"market_id"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	BuyOrderID  uint64         `json:"buy_order_id"`
	SellOrderID uint64         `json:"sell_order_id"`
	Qty         int64          `json:"quantity"`
	Price       int64          `json:"price"`
	Timestamp   int64          `json:"timestamp"` // block time, unix seconds
}

// MarketType distinguishes spot markets from option-contract markets.
type MarketType int8

const (
	SpotMarket MarketType = iota
	OptionsMarket
)

func (t MarketType) String() string {
	switch t {
	case SpotMarket:
		return "spot"
	case OptionsMarket:
		return "options"
	default:
		return "unknown"
	}
}

// MarketStatus is the trading status of a market.
type MarketStatus int8

const (
	MarketActive MarketStatus = iota
	MarketSuspended
	MarketClosed
)

func (s MarketStatus) String() string {
	switch s {
	case MarketActive:
		return "active"
	case MarketSuspended:
		return "suspended"
	case MarketClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Market describes a trading venue for one base/quote pair.
type Market struct {
	ID           string       `json:"id"`
	BaseAsset    string       `json:"base_asset"`
	QuoteAsset   string       `json:"quote_asset"`
	MinOrderSize int64        `json:"min_order_size"` // lots
	TickSize     int64        `json:"tick_size"`      // smallest price increment
	Type         MarketType   `json:"market_type"`
	Status       MarketStatus `json:"status"`

	// LastPrice is the most recent trade price, persisted so a restarted
	// node computes the same reference price as one that never stopped.
	// Zero before the first trade.
	LastPrice int64 `json:"last_price"`

	// OptionID links an options market to its contract. Empty for spot.
	OptionID string `json:"option_id,omitempty"`
}

// Validate checks market parameter sanity.
func (m *Market) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: market id cannot be empty", ErrValidation)
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("%w: base and quote assets must be specified", ErrValidation)
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("%w: tick size must be positive", ErrValidation)
	}
	if m.MinOrderSize < 0 {
		return fmt.Errorf("%w: min order size cannot be negative", ErrValidation)
	}
	if m.Type == OptionsMarket && m.OptionID == "" {
		return fmt.Errorf("%w: options market requires an option id", ErrValidation)
	}
	return nil
}

// Account holds identity-level bookkeeping. Balances live on the
// account's Portfolio.
type Account struct {
	Address       common.Address `json:"address"`
	AccountNumber uint64         `json:"account_number"`
	Sequence      uint64         `json:"sequence"`
}
