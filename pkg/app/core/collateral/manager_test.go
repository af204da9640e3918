package collateral

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/state"
	"github.com/optimic-protocol/optimic/pkg/storage"
)

var (
	seller   = common.HexToAddress("0x11")
	buyer    = common.HexToAddress("0x22")
	treasury = common.HexToAddress("0x0f00")
)

func newTestManager(t *testing.T) (*Manager, *state.Manager) {
	t.Helper()
	st := state.NewManager(storage.NewMemoryStore())
	p := params.DefaultChainParams()
	return NewManager(st, p.Collateral, treasury, zap.NewNop().Sugar()), st
}

func fund(t *testing.T, st *state.Manager, addr common.Address, asset string, amount int64) {
	t.Helper()
	pf, err := st.Portfolio(addr)
	require.NoError(t, err)
	pf.Credit(asset, amount)
	require.NoError(t, st.SetPortfolio(pf))
}

func conservationHolds(t *testing.T, st *state.Manager, addr common.Address) {
	t.Helper()
	ledger, err := st.CollateralLedger(addr)
	require.NoError(t, err)
	byAsset := make(map[string]int64)
	for _, r := range ledger.Requirements {
		byAsset[r.Asset] += r.Amount
	}
	for asset, posted := range ledger.Posted {
		require.Equal(t, byAsset[asset], posted, "posted must equal required for %s", asset)
	}
	for asset, required := range byAsset {
		require.Equal(t, required, ledger.Posted[asset])
	}
}

func TestCalculateBuyerCollateral(t *testing.T) {
	m, _ := newTestManager(t)

	// 120% of notional 10*100=1000 is 1200, above the premium.
	require.Equal(t, int64(1200), m.CalculateBuyerCollateral(10, 100, 50))
	// Premium floors the requirement.
	require.Equal(t, int64(5000), m.CalculateBuyerCollateral(10, 100, 5000))
}

func TestCalculateSellerCollateral(t *testing.T) {
	m, _ := newTestManager(t)

	// 150% of notional.
	require.Equal(t, int64(1500), m.CalculateSellerCollateral(10, 100))
	require.Equal(t, int64(0), m.CalculateSellerCollateral(0, 100))
}

func TestRequireLocksAndConserves(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 1000)

	reason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-1"}
	require.NoError(t, m.Require(seller, 600, "USD", reason))

	pf, err := st.Portfolio(seller)
	require.NoError(t, err)
	require.Equal(t, int64(400), pf.Balance("USD").Available)
	require.Equal(t, int64(600), pf.Balance("USD").Locked)
	require.Equal(t, int64(1000), pf.Balance("USD").Total)
	conservationHolds(t, st, seller)
}

func TestRequireInsufficientIsAtomic(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 100)

	reason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-1"}
	err := m.Require(seller, 600, "USD", reason)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	pf, err := st.Portfolio(seller)
	require.NoError(t, err)
	require.Equal(t, int64(100), pf.Balance("USD").Available, "failed lock must not move funds")
	require.Equal(t, int64(0), pf.Balance("USD").Locked)

	ledger, err := st.CollateralLedger(seller)
	require.NoError(t, err)
	require.Empty(t, ledger.Requirements)
}

func TestReleaseReturnsFunds(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 1000)
	reason := types.CollateralReason{Kind: types.ReasonMarginTrading, Ref: "ETH-USD"}
	require.NoError(t, m.Require(seller, 600, "USD", reason))

	released, err := m.Release(seller, 200, "USD", reason)
	require.NoError(t, err)
	require.Equal(t, int64(200), released)

	pf, err := st.Portfolio(seller)
	require.NoError(t, err)
	require.Equal(t, int64(600), pf.Balance("USD").Available)
	require.Equal(t, int64(400), pf.Balance("USD").Locked)
	conservationHolds(t, st, seller)

	// Release is capped at what the reason holds.
	released, err = m.Release(seller, 9999, "USD", reason)
	require.NoError(t, err)
	require.Equal(t, int64(400), released)
	conservationHolds(t, st, seller)
}

func TestReleaseWrongReasonTouchesNothing(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 1000)
	require.NoError(t, m.Require(seller, 600, "USD", types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-1"}))

	released, err := m.Release(seller, 600, "USD", types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-2"})
	require.NoError(t, err)
	require.Zero(t, released)
	conservationHolds(t, st, seller)
}

func TestPayFromCollateralCapped(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 800)
	reason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-1"}
	require.NoError(t, m.Require(seller, 800, "USD", reason))

	// Owed 1000, only 800 posted: payee receives exactly what exists.
	paid, err := m.PayFromCollateral(seller, buyer, 1000, "USD", reason)
	require.NoError(t, err)
	require.Equal(t, int64(800), paid)

	sellerPf, err := st.Portfolio(seller)
	require.NoError(t, err)
	require.Equal(t, int64(0), sellerPf.Balance("USD").Total)

	buyerPf, err := st.Portfolio(buyer)
	require.NoError(t, err)
	require.Equal(t, int64(800), buyerPf.Balance("USD").Available)
	conservationHolds(t, st, seller)
}

func TestCalculatePenalty(t *testing.T) {
	require.Equal(t, int64(100), CalculatePenalty(1000, 1000), "10% of 1000")
	require.Equal(t, int64(0), CalculatePenalty(0, 1000))
	require.Equal(t, int64(0), CalculatePenalty(9, 1000), "floor division")
	require.Equal(t, int64(0), CalculatePenalty(1000, 0))
}

func TestDistributePenaltySplitsExactly(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 1000)
	reason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-1"}
	require.NoError(t, m.Require(seller, 1000, "USD", reason))

	res, err := m.DistributePenalty(types.Penalty{
		Account: seller,
		Amount:  101, // odd amount: the remainder goes to the platform
		Asset:   "USD",
		Reason:  types.PenaltyNonExecution,
		Ref:     "opt-1",
	}, buyer, reason)
	require.NoError(t, err)
	require.Equal(t, int64(50), res.Counterparty)
	require.Equal(t, int64(51), res.Platform)
	require.Equal(t, int64(101), res.Platform+res.Counterparty, "split conserves the penalty")

	buyerPf, err := st.Portfolio(buyer)
	require.NoError(t, err)
	require.Equal(t, int64(50), buyerPf.Balance("USD").Available)

	treasuryPf, err := st.Portfolio(treasury)
	require.NoError(t, err)
	require.Equal(t, int64(51), treasuryPf.Balance("USD").Available)
	conservationHolds(t, st, seller)
}

func TestDistributePenaltyAllOrNothing(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 50)
	reason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: "opt-1"}
	require.NoError(t, m.Require(seller, 50, "USD", reason))

	_, err := m.DistributePenalty(types.Penalty{
		Account: seller,
		Amount:  100,
		Asset:   "USD",
		Reason:  types.PenaltyNonExecution,
		Ref:     "opt-1",
	}, buyer, reason)
	require.ErrorIs(t, err, types.ErrInsufficientCollateral)

	// Nothing moved.
	pf, err := st.Portfolio(seller)
	require.NoError(t, err)
	require.Equal(t, int64(50), pf.Balance("USD").Locked)
	buyerPf, err := st.Portfolio(buyer)
	require.NoError(t, err)
	require.Zero(t, buyerPf.Balance("USD").Total)
}

func TestCheckSufficiency(t *testing.T) {
	m, st := newTestManager(t)
	fund(t, st, seller, "USD", 1000)
	reason := types.CollateralReason{Kind: types.ReasonMarginTrading, Ref: "ETH-USD"}
	require.NoError(t, m.Require(seller, 600, "USD", reason))

	ok, err := m.CheckSufficiency(seller)
	require.NoError(t, err)
	require.True(t, ok)
}
