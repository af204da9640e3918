package types

import "fmt"

// OptionType is call or put.
type OptionType int8

const (
	Call OptionType = iota
	Put
)

func (t OptionType) String() string {
	switch t {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return "unknown"
	}
}

// OptionStyle controls when the holder may exercise.
type OptionStyle int8

const (
	European OptionStyle = iota // exercisable only at expiry
	American                    // exercisable any time before expiry
)

func (s OptionStyle) String() string {
	switch s {
	case European:
		return "european"
	case American:
		return "american"
	default:
		return "unknown"
	}
}

// SettlementType is cash or physical delivery.
type SettlementType int8

const (
	CashSettled SettlementType = iota
	PhysicalSettled
)

func (s SettlementType) String() string {
	switch s {
	case CashSettled:
		return "cash"
	case PhysicalSettled:
		return "physical"
	default:
		return "unknown"
	}
}

// OptionStatus is a one-way state machine:
// Active -> {Expired, Exercised, Assigned}.
type OptionStatus int8

const (
	OptionActive OptionStatus = iota
	OptionExpired
	OptionExercised
	OptionAssigned
)

func (s OptionStatus) String() string {
	switch s {
	case OptionActive:
		return "active"
	case OptionExpired:
		return "expired"
	case OptionExercised:
		return "exercised"
	case OptionAssigned:
		return "assigned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s OptionStatus) Terminal() bool { return s != OptionActive }

// OptionContract is one listed option series. Strike, expiry, type,
// style, and settlement are immutable after creation; only Status and
// OpenInterest move.
type OptionContract struct {
	ID         string         `json:"id"`
	Underlying string         `json:"underlying_asset"`
	Strike     int64          `json:"strike_price"` // ticks of the quote asset
	Expiry     int64          `json:"expiry_date"`  // unix seconds
	Type       OptionType     `json:"option_type"`
	Style      OptionStyle    `json:"style"`
	Settlement SettlementType `json:"settlement_type"`
	Status     OptionStatus   `json:"status"`

	// OpenInterest is the total outstanding unsettled quantity.
	OpenInterest int64 `json:"open_interest"`
}

// OptionPositions tracks the signed position of every account holding or
// writing one option series. Keys are hex addresses so the record
// serializes deterministically; positive is long, negative is short
// (writer). Assignment iterates writers in sorted key order.
type OptionPositions struct {
	Option    string           `json:"option_id"`
	Positions map[string]int64 `json:"positions"`
}

// NewOptionPositions creates an empty position record.
func NewOptionPositions(optionID string) *OptionPositions {
	return &OptionPositions{Option: optionID, Positions: make(map[string]int64)}
}

// IntrinsicValue returns the per-unit intrinsic value at spot:
// max(0, spot-strike) for calls, max(0, strike-spot) for puts.
func (c *OptionContract) IntrinsicValue(spot int64) int64 {
	var v int64
	switch c.Type {
	case Call:
		v = spot - c.Strike
	case Put:
		v = c.Strike - spot
	}
	if v < 0 {
		return 0
	}
	return v
}

// Transition moves the contract to a terminal status. Panics when asked
// to leave a terminal state: option statuses are monotone.
func (c *OptionContract) Transition(to OptionStatus) {
	if c.Status.Terminal() {
		panic(fmt.Sprintf("invariant violation: option %s already terminal (%s)", c.ID, c.Status))
	}
	if !to.Terminal() {
		panic(fmt.Sprintf("invariant violation: transition of option %s to non-terminal %s", c.ID, to))
	}
	c.Status = to
}
