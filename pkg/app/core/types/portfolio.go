package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Balance tracks one asset inside a portfolio.
// Invariant: Total == Available + Locked at all times.
type Balance struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
}

// Position is an open position in one market. Qty is signed: positive for
// long, negative for short. Never deleted, only zeroed.
type Position struct {
	Market        string `json:"market_id"`
	Qty           int64  `json:"quantity"`
	AvgPrice      int64  `json:"average_price"`
	RealizedPnL   int64  `json:"realized_pnl"`
	UnrealizedPnL int64  `json:"unrealized_pnl"`
	UpdatedAt     int64  `json:"last_update"`
}

// Portfolio holds one account's balances and open positions.
// Mutated by every fill and every settlement.
type Portfolio struct {
	Owner     common.Address       `json:"owner"`
	Balances  map[string]*Balance  `json:"balances"`
	Positions map[string]*Position `json:"positions"`
}

// NewPortfolio creates an empty portfolio for addr.
func NewPortfolio(addr common.Address) *Portfolio {
	return &Portfolio{
		Owner:     addr,
		Balances:  make(map[string]*Balance),
		Positions: make(map[string]*Position),
	}
}

// Balance returns the balance entry for asset, creating a zero entry on
// first touch.
func (p *Portfolio) Balance(asset string) *Balance {
	b, ok := p.Balances[asset]
	if !ok {
		b = &Balance{}
		p.Balances[asset] = b
	}
	return b
}

// Position returns the position for market, creating a flat one on first
// touch.
func (p *Portfolio) Position(market string) *Position {
	pos, ok := p.Positions[market]
	if !ok {
		pos = &Position{Market: market}
		p.Positions[market] = pos
	}
	return pos
}

// Credit adds amount to the available balance of asset.
func (p *Portfolio) Credit(asset string, amount int64) {
	if amount < 0 {
		panic(fmt.Sprintf("invariant violation: negative credit %d %s for %s", amount, asset, p.Owner.Hex()))
	}
	b := p.Balance(asset)
	b.Total += amount
	b.Available += amount
}

// Debit removes amount from the available balance of asset.
func (p *Portfolio) Debit(asset string, amount int64) error {
	if amount < 0 {
		panic(fmt.Sprintf("invariant violation: negative debit %d %s for %s", amount, asset, p.Owner.Hex()))
	}
	b := p.Balance(asset)
	if b.Available < amount {
		return fmt.Errorf("%w: %s has %d %s available, need %d", ErrInsufficientBalance, p.Owner.Hex(), b.Available, asset, amount)
	}
	b.Total -= amount
	b.Available -= amount
	return nil
}

// Lock moves amount from available to locked. All-or-nothing.
func (p *Portfolio) Lock(asset string, amount int64) error {
	if amount < 0 {
		panic(fmt.Sprintf("invariant violation: negative lock %d %s for %s", amount, asset, p.Owner.Hex()))
	}
	b := p.Balance(asset)
	if b.Available < amount {
		return fmt.Errorf("%w: %s has %d %s available, need %d", ErrInsufficientBalance, p.Owner.Hex(), b.Available, asset, amount)
	}
	b.Available -= amount
	b.Locked += amount
	return nil
}

// Unlock moves amount from locked back to available.
func (p *Portfolio) Unlock(asset string, amount int64) {
	b := p.Balance(asset)
	if amount < 0 || b.Locked < amount {
		panic(fmt.Sprintf("invariant violation: unlock %d %s exceeds locked %d for %s", amount, asset, b.Locked, p.Owner.Hex()))
	}
	b.Locked -= amount
	b.Available += amount
}

// SpendLocked consumes amount out of the locked balance, reducing total.
// Used when reserved collateral is paid out in settlement.
func (p *Portfolio) SpendLocked(asset string, amount int64) {
	b := p.Balance(asset)
	if amount < 0 || b.Locked < amount {
		panic(fmt.Sprintf("invariant violation: spend %d %s exceeds locked %d for %s", amount, asset, b.Locked, p.Owner.Hex()))
	}
	b.Locked -= amount
	b.Total -= amount
}

// Validate checks portfolio invariants.
func (p *Portfolio) Validate() error {
	for asset, b := range p.Balances {
		if b.Total < 0 || b.Available < 0 || b.Locked < 0 {
			return fmt.Errorf("negative balance component for %s/%s: %+v", p.Owner.Hex(), asset, b)
		}
		if b.Total != b.Available+b.Locked {
			return fmt.Errorf("balance mismatch for %s/%s: total=%d available=%d locked=%d", p.Owner.Hex(), asset, b.Total, b.Available, b.Locked)
		}
	}
	for market, pos := range p.Positions {
		if pos.Market != market {
			return fmt.Errorf("position key mismatch for %s: key=%s pos=%s", p.Owner.Hex(), market, pos.Market)
		}
	}
	return nil
}

// ApplyFill updates the position in market for a fill of qty lots at
// price (qty signed by the portfolio owner's side: positive buys,
// negative sells). Realized P&L accrues when the fill reduces an
// existing position; the volume-weighted average entry price updates
// when it extends one.
func (p *Portfolio) ApplyFill(market string, qty, price, blockTime int64) {
	pos := p.Position(market)
	switch {
	case pos.Qty == 0 || sameSign(pos.Qty, qty):
		// Extending: new VWAP entry.
		newQty := pos.Qty + qty
		pos.AvgPrice = (pos.AvgPrice*abs64(pos.Qty) + price*abs64(qty)) / abs64(newQty)
		pos.Qty = newQty
	case abs64(qty) <= abs64(pos.Qty):
		// Reducing (possibly to flat). Realize P&L on the closed lots.
		closed := abs64(qty)
		if pos.Qty > 0 {
			pos.RealizedPnL += (price - pos.AvgPrice) * closed
		} else {
			pos.RealizedPnL += (pos.AvgPrice - price) * closed
		}
		pos.Qty += qty
		if pos.Qty == 0 {
			pos.AvgPrice = 0
		}
	default:
		// Crossing through flat: close the old side, open the rest.
		closed := abs64(pos.Qty)
		if pos.Qty > 0 {
			pos.RealizedPnL += (price - pos.AvgPrice) * closed
		} else {
			pos.RealizedPnL += (pos.AvgPrice - price) * closed
		}
		pos.Qty += qty
		pos.AvgPrice = price
	}
	pos.UpdatedAt = blockTime
}

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
