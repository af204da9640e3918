// Package collateral implements the mandatory collateral system: the
// deterministic requirement formulas, posting and release of locked
// funds, sufficiency checks, and penalty assessment/distribution.
//
// The manager owns the per-account collateral ledgers; no other
// component touches them except through this API. Every operation pairs
// a requirement change with a matching posted change, so the sum of
// posted collateral equals the sum of requirements at every quiescent
// point.
package collateral

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/state"
)

// Manager tracks collateral requirements and posted collateral for all
// accounts.
type Manager struct {
	st     *state.Manager
	params params.CollateralParams
	// treasury receives the platform share of penalties.
	treasury common.Address
	log      *zap.SugaredLogger
}

// NewManager creates the collateral manager.
func NewManager(st *state.Manager, p params.CollateralParams, treasury common.Address, log *zap.SugaredLogger) *Manager {
	return &Manager{st: st, params: p, treasury: treasury, log: log}
}

// CalculateBuyerCollateral returns the collateral an option buyer must
// post: the configured buyer ratio applied to notional (size x
// underlying price), bounded below by the premium owed. Pure integer
// math; floor division never creates value.
func (m *Manager) CalculateBuyerCollateral(size, underlyingPrice, premium int64) int64 {
	notional := size * underlyingPrice
	required := mulBps(notional, m.params.BuyerMinRatioBps)
	if required < premium {
		required = premium
	}
	return required
}

// CalculateSellerCollateral returns the collateral an option seller must
// post: the configured seller ratio applied to notional, bounded below
// by the configured margin floor.
func (m *Manager) CalculateSellerCollateral(size, underlyingPrice int64) int64 {
	notional := size * underlyingPrice
	required := mulBps(notional, m.params.SellerMinRatioBps)
	if required < m.params.SellerMarginFloor {
		required = m.params.SellerMarginFloor
	}
	return required
}

// Require locks amount of asset from the account's available balance
// against a new requirement. Atomic: on insufficient balance nothing
// changes.
func (m *Manager) Require(addr common.Address, amount int64, asset string, reason types.CollateralReason) error {
	if amount < 0 {
		return fmt.Errorf("%w: collateral amount cannot be negative", types.ErrValidation)
	}
	if amount == 0 {
		return nil
	}

	pf, err := m.st.Portfolio(addr)
	if err != nil {
		return err
	}
	if err := pf.Lock(asset, amount); err != nil {
		return err
	}

	ledger, err := m.st.CollateralLedger(addr)
	if err != nil {
		return err
	}
	ledger.Requirements = append(ledger.Requirements, types.CollateralRequirement{
		Account: addr,
		Amount:  amount,
		Asset:   asset,
		Reason:  reason,
	})
	ledger.Posted[asset] += amount

	if err := m.st.SetPortfolio(pf); err != nil {
		return err
	}
	return m.st.SetCollateralLedger(ledger)
}

// PostCollateral is the transaction-level entry point: it moves amount
// from the account's available balance into locked collateral under a
// margin requirement for market. Fails with ErrInsufficientBalance when
// available funds are short; no partial lock.
func (m *Manager) PostCollateral(addr common.Address, amount int64, asset, market string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: post amount must be positive", types.ErrValidation)
	}
	return m.Require(addr, amount, asset, types.CollateralReason{
		Kind: types.ReasonMarginTrading,
		Ref:  market,
	})
}

// Release unwinds up to amount of the requirement tagged (kind, ref),
// unlocking the same amount back to the account's available balance.
// Returns the amount actually released.
func (m *Manager) Release(addr common.Address, amount int64, asset string, reason types.CollateralReason) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	ledger, err := m.st.CollateralLedger(addr)
	if err != nil {
		return 0, err
	}
	released := m.reduceRequirement(ledger, amount, asset, reason)
	if released == 0 {
		return 0, nil
	}
	ledger.Posted[asset] -= released

	pf, err := m.st.Portfolio(addr)
	if err != nil {
		return 0, err
	}
	pf.Unlock(asset, released)

	if err := m.st.SetPortfolio(pf); err != nil {
		return 0, err
	}
	return released, m.st.SetCollateralLedger(ledger)
}

// PayFromCollateral settles amount of asset out of payer's locked
// collateral held under (kind, ref) to payee's available balance. The
// payment is capped at what is actually posted under that requirement:
// the caller decides how to account for any shortfall. Returns the
// amount paid.
func (m *Manager) PayFromCollateral(payer, payee common.Address, amount int64, asset string, reason types.CollateralReason) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	ledger, err := m.st.CollateralLedger(payer)
	if err != nil {
		return 0, err
	}
	paid := m.reduceRequirement(ledger, amount, asset, reason)
	if paid == 0 {
		return 0, nil
	}
	ledger.Posted[asset] -= paid

	payerPf, err := m.st.Portfolio(payer)
	if err != nil {
		return 0, err
	}
	payerPf.SpendLocked(asset, paid)

	payeePf, err := m.st.Portfolio(payee)
	if err != nil {
		return 0, err
	}
	payeePf.Credit(asset, paid)

	if err := m.st.SetPortfolio(payerPf); err != nil {
		return 0, err
	}
	if err := m.st.SetPortfolio(payeePf); err != nil {
		return 0, err
	}
	return paid, m.st.SetCollateralLedger(ledger)
}

// reduceRequirement shrinks requirements tagged (asset, reason) by up to
// amount, dropping emptied entries. Returns the total reduction.
func (m *Manager) reduceRequirement(ledger *types.CollateralLedger, amount int64, asset string, reason types.CollateralReason) int64 {
	var reduced int64
	kept := ledger.Requirements[:0]
	for _, r := range ledger.Requirements {
		if reduced < amount && r.Asset == asset && r.Reason == reason {
			take := amount - reduced
			if take > r.Amount {
				take = r.Amount
			}
			r.Amount -= take
			reduced += take
		}
		if r.Amount > 0 {
			kept = append(kept, r)
		}
	}
	ledger.Requirements = kept
	return reduced
}

// PostedUnder returns how much payer has posted under (asset, reason).
func (m *Manager) PostedUnder(addr common.Address, asset string, reason types.CollateralReason) (int64, error) {
	ledger, err := m.st.CollateralLedger(addr)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, r := range ledger.Requirements {
		if r.Asset == asset && r.Reason == reason {
			sum += r.Amount
		}
	}
	return sum, nil
}

// CheckSufficiency reports whether the account's locked collateral
// covers the sum of its outstanding requirements in every asset.
func (m *Manager) CheckSufficiency(addr common.Address) (bool, error) {
	ledger, err := m.st.CollateralLedger(addr)
	if err != nil {
		return false, err
	}
	assets := make(map[string]struct{})
	for _, r := range ledger.Requirements {
		assets[r.Asset] = struct{}{}
	}
	for asset := range assets {
		if ledger.Posted[asset] < ledger.TotalRequired(asset) {
			return false, nil
		}
	}
	return true, nil
}

func mulBps(v, bps int64) int64 {
	return v * bps / 10000
}
