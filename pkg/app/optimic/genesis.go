package optimic

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// GenesisAccount funds one account at chain start.
type GenesisAccount struct {
	Address  common.Address   `json:"address"`
	Balances map[string]int64 `json:"balances"`
}

// GenesisRatios are the collateral parameters in human-readable decimal
// form. They are parsed exactly into basis points; a ratio finer than
// one basis point fails genesis rather than rounding.
type GenesisRatios struct {
	BuyerMinCollateralRatio  string `json:"buyer_min_collateral_ratio"`
	SellerMinCollateralRatio string `json:"seller_min_collateral_ratio"`
	LiquidationThreshold     string `json:"liquidation_threshold"`
	PenaltyRate              string `json:"penalty_rate"`
}

// Genesis is the chain's initial state.
type Genesis struct {
	ChainID  string           `json:"chain_id"`
	Ratios   *GenesisRatios   `json:"collateral_ratios,omitempty"`
	Accounts []GenesisAccount `json:"accounts"`
	Markets  []types.Market   `json:"markets"`
}

// DefaultGenesis funds three development accounts and lists the two
// default spot markets.
func DefaultGenesis() Genesis {
	balances := func() map[string]int64 {
		return map[string]int64{
			"OMC": 1_000_000_000,
			"USD": 1_000_000_000,
			"ETH": 1_000_000,
			"BTC": 100_000,
		}
	}
	return Genesis{
		ChainID: "optimic-devnet",
		Accounts: []GenesisAccount{
			{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Balances: balances()},
			{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Balances: balances()},
			{Address: common.HexToAddress("0x0000000000000000000000000000000000000003"), Balances: balances()},
		},
		Markets: []types.Market{
			{ID: "ETH-USD", BaseAsset: "ETH", QuoteAsset: "USD", MinOrderSize: 1, TickSize: 1, Type: types.SpotMarket, Status: types.MarketActive},
			{ID: "BTC-USD", BaseAsset: "BTC", QuoteAsset: "USD", MinOrderSize: 1, TickSize: 1, Type: types.SpotMarket, Status: types.MarketActive},
		},
	}
}

// buildParams merges genesis ratio overrides onto the protocol defaults.
func buildParams(g Genesis) (params.ChainParams, error) {
	p := params.DefaultChainParams()
	if g.Ratios == nil {
		return p, nil
	}
	var err error
	if g.Ratios.BuyerMinCollateralRatio != "" {
		if p.Collateral.BuyerMinRatioBps, err = params.RatioToBps(g.Ratios.BuyerMinCollateralRatio); err != nil {
			return p, err
		}
	}
	if g.Ratios.SellerMinCollateralRatio != "" {
		if p.Collateral.SellerMinRatioBps, err = params.RatioToBps(g.Ratios.SellerMinCollateralRatio); err != nil {
			return p, err
		}
	}
	if g.Ratios.LiquidationThreshold != "" {
		if p.Collateral.LiquidationThresholdBps, err = params.RatioToBps(g.Ratios.LiquidationThreshold); err != nil {
			return p, err
		}
	}
	if g.Ratios.PenaltyRate != "" {
		if p.Fees.PenaltyRateBps, err = params.RatioToBps(g.Ratios.PenaltyRate); err != nil {
			return p, err
		}
	}
	return p, nil
}

// initGenesis stages the genesis state: parameters, funded accounts,
// and the initial markets. a.params is already merged from the genesis
// ratios; the caller commits.
func (a *App) initGenesis(g Genesis) error {
	if err := a.params.Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if err := a.st.SetParams(a.params); err != nil {
		return err
	}

	for _, ga := range g.Accounts {
		num, err := a.st.NextSeq(seqAccount)
		if err != nil {
			return err
		}
		if err := a.st.SetAccount(&types.Account{Address: ga.Address, AccountNumber: num}); err != nil {
			return err
		}
		pf, err := a.st.Portfolio(ga.Address)
		if err != nil {
			return err
		}
		for asset, amount := range ga.Balances {
			if amount < 0 {
				return fmt.Errorf("genesis: %w: negative balance for %s", types.ErrValidation, ga.Address.Hex())
			}
			pf.Credit(asset, amount)
		}
		if err := a.st.SetPortfolio(pf); err != nil {
			return err
		}
	}

	for i := range g.Markets {
		mkt := g.Markets[i]
		if err := a.eng.RegisterMarket(&mkt); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}
	return nil
}
