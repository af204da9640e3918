package types

import "github.com/ethereum/go-ethereum/common"

// CollateralReasonKind tags why collateral is required. New kinds must
// be handled everywhere the kind is switched on.
type CollateralReasonKind int8

const (
	ReasonOptionBuyer CollateralReasonKind = iota
	ReasonOptionSeller
	ReasonMarginTrading
)

func (k CollateralReasonKind) String() string {
	switch k {
	case ReasonOptionBuyer:
		return "option_buyer"
	case ReasonOptionSeller:
		return "option_seller"
	case ReasonMarginTrading:
		return "margin_trading"
	default:
		return "unknown"
	}
}

// CollateralReason pairs a kind with the option or market it refers to.
type CollateralReason struct {
	Kind CollateralReasonKind `json:"kind"`
	Ref  string               `json:"ref"` // option id or market id
}

// CollateralRequirement is one outstanding requirement against an
// account.
type CollateralRequirement struct {
	Account common.Address   `json:"account"`
	Amount  int64            `json:"required_amount"`
	Asset   string           `json:"asset"`
	Reason  CollateralReason `json:"reason"`
}

// PostedCollateral is the locked amount an account holds per asset.
type PostedCollateral struct {
	Account common.Address `json:"account"`
	Amount  int64          `json:"amount"`
	Asset   string         `json:"asset"`
}

// CollateralLedger is the per-account collateral record kept in state.
// Invariant: the sum of posted amounts equals the sum of requirement
// amounts at every quiescent point.
type CollateralLedger struct {
	Account      common.Address          `json:"account"`
	Requirements []CollateralRequirement `json:"requirements"`
	Posted       map[string]int64        `json:"posted"` // asset -> locked amount
}

// NewCollateralLedger creates an empty ledger for addr.
func NewCollateralLedger(addr common.Address) *CollateralLedger {
	return &CollateralLedger{
		Account: addr,
		Posted:  make(map[string]int64),
	}
}

// TotalRequired sums requirements in asset.
func (l *CollateralLedger) TotalRequired(asset string) int64 {
	var sum int64
	for _, r := range l.Requirements {
		if r.Asset == asset {
			sum += r.Amount
		}
	}
	return sum
}

// PenaltyReasonKind tags why a penalty was assessed.
type PenaltyReasonKind int8

const (
	PenaltyNonExecution PenaltyReasonKind = iota
	PenaltyInsufficientCollateral
	PenaltyLiquidation
)

func (k PenaltyReasonKind) String() string {
	switch k {
	case PenaltyNonExecution:
		return "non_execution"
	case PenaltyInsufficientCollateral:
		return "insufficient_collateral"
	case PenaltyLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// Penalty is an assessed penalty: created, immediately distributed, then
// discarded. Distribution never mints value; it redistributes funds that
// are already locked.
type Penalty struct {
	Account common.Address    `json:"account"`
	Amount  int64             `json:"amount"`
	Asset   string            `json:"asset"`
	Reason  PenaltyReasonKind `json:"reason"`
	Ref     string            `json:"ref"` // order / option id the penalty stems from
}
