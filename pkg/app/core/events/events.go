// Package events defines the auditable domain events the core emits.
// Penalty and liquidation outcomes are expected state transitions, not
// errors; they surface here so operators and downstream consumers can
// observe every fill, default, and settlement.
package events

import (
	"github.com/google/uuid"
)

// Type enumerates the emitted event kinds.
type Type string

const (
	TypeTrade             Type = "trade"
	TypeOrderCancelled    Type = "order_cancelled"
	TypeOrderExpired      Type = "order_expired"
	TypeStopTriggered     Type = "stop_triggered"
	TypeCollateralPosted  Type = "collateral_posted"
	TypeCollateralReturn  Type = "collateral_returned"
	TypePenalty           Type = "penalty"
	TypeLiquidation       Type = "liquidation"
	TypeSettlementDefault Type = "settlement_default"
	TypeOptionCreated     Type = "option_created"
	TypeOptionPosition    Type = "option_position_opened"
	TypeOptionExercised   Type = "option_exercised"
	TypeOptionAssigned    Type = "option_assigned"
	TypeOptionExpired     Type = "option_expired"
)

// Event is one auditable domain event. Attributes are flat string pairs
// so the feed stays schema-stable as new kinds are added.
type Event struct {
	ID     string            `json:"id"`
	Type   Type              `json:"type"`
	Height uint64            `json:"height"`
	Time   int64             `json:"time"`
	Attrs  map[string]string `json:"attributes"`
}

// Recorder collects events emitted during one block.
type Recorder struct {
	height uint64
	time   int64
	events []Event
}

// NewRecorder starts a recorder for the given block.
func NewRecorder(height uint64, blockTime int64) *Recorder {
	return &Recorder{height: height, time: blockTime}
}

// Emit appends an event.
func (r *Recorder) Emit(t Type, attrs map[string]string) {
	r.events = append(r.events, Event{
		ID:     uuid.NewString(),
		Type:   t,
		Height: r.height,
		Time:   r.time,
		Attrs:  attrs,
	})
}

// Events returns everything recorded so far.
func (r *Recorder) Events() []Event { return r.events }
