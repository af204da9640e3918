// Package params holds chain-level parameters and node configuration.
//
// Ratio-valued parameters travel through genesis as decimal strings
// ("1.2", "0.5") and are parsed exactly into basis points; all runtime
// math is integer-only.
package params

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PenaltyDistribution splits an assessed penalty.
type PenaltyDistribution struct {
	ToPlatformBps     int64 `json:"to_platform_bps"`
	ToCounterpartyBps int64 `json:"to_counterparty_bps"`
}

// CollateralParams governs collateral requirements and defaults.
type CollateralParams struct {
	BuyerMinRatioBps        int64 `json:"buyer_min_collateral_ratio_bps"`  // e.g. 12000 = 120% of notional
	SellerMinRatioBps       int64 `json:"seller_min_collateral_ratio_bps"` // e.g. 15000 = 150%
	LiquidationThresholdBps int64 `json:"liquidation_threshold_bps"`       // e.g. 11000 = 110%
	SellerMarginFloor       int64 `json:"seller_margin_floor"`             // absolute floor, smallest unit

	Penalty PenaltyDistribution `json:"penalty_distribution"`
}

// FeeDistribution routes collected fees.
type FeeDistribution struct {
	ToLiquidityProvidersBps int64 `json:"to_liquidity_providers_bps"`
	ToStakersBps            int64 `json:"to_stakers_bps"`
	ToBurnBps               int64 `json:"to_burn_bps"`
	ToTreasuryBps           int64 `json:"to_treasury_bps"`
}

// TradingFees configures fee and penalty rates.
type TradingFees struct {
	PremiumFeeRateBps int64           `json:"premium_fee_rate_bps"`
	PenaltyRateBps    int64           `json:"penalty_rate_bps"`
	Distribution      FeeDistribution `json:"fee_distribution"`
}

// ChainParams is the consensus-critical parameter set, stored in state
// so every node computes with identical values.
type ChainParams struct {
	NativeToken  string         `json:"native_token"`
	BlockTime    int64          `json:"block_time"` // target seconds per block
	MaxBlockSize int64          `json:"max_block_size"`
	Treasury     common.Address `json:"treasury"` // receives platform penalty shares

	Fees       TradingFees      `json:"trading_fees"`
	Collateral CollateralParams `json:"collateral_params"`
}

// DefaultChainParams mirrors the protocol defaults: 120%/150% collateral
// ratios, 110% liquidation threshold, 10% penalty rate split 50/50, and
// 40/30/20/10 fee distribution.
func DefaultChainParams() ChainParams {
	return ChainParams{
		NativeToken:  "OMC",
		BlockTime:    1,
		MaxBlockSize: 1 << 20,
		Treasury:     common.HexToAddress("0x0000000000000000000000000000000000000f00"),
		Fees: TradingFees{
			PremiumFeeRateBps: 10000,
			PenaltyRateBps:    1000,
			Distribution: FeeDistribution{
				ToLiquidityProvidersBps: 4000,
				ToStakersBps:            3000,
				ToBurnBps:               2000,
				ToTreasuryBps:           1000,
			},
		},
		Collateral: CollateralParams{
			BuyerMinRatioBps:        12000,
			SellerMinRatioBps:       15000,
			LiquidationThresholdBps: 11000,
			SellerMarginFloor:       0,
			Penalty: PenaltyDistribution{
				ToPlatformBps:     5000,
				ToCounterpartyBps: 5000,
			},
		},
	}
}

// Validate checks parameter sanity.
func (p ChainParams) Validate() error {
	if p.NativeToken == "" {
		return fmt.Errorf("native token cannot be empty")
	}
	if p.Collateral.BuyerMinRatioBps <= 0 || p.Collateral.SellerMinRatioBps <= 0 {
		return fmt.Errorf("collateral ratios must be positive")
	}
	if p.Collateral.Penalty.ToPlatformBps+p.Collateral.Penalty.ToCounterpartyBps != 10000 {
		return fmt.Errorf("penalty distribution must sum to 100%%")
	}
	d := p.Fees.Distribution
	if d.ToLiquidityProvidersBps+d.ToStakersBps+d.ToBurnBps+d.ToTreasuryBps != 10000 {
		return fmt.Errorf("fee distribution must sum to 100%%")
	}
	return nil
}

// RatioToBps parses a decimal ratio string ("1.2", "0.05") into basis
// points, rejecting anything that does not convert exactly. Genesis
// ratios must round-trip precisely or nodes would disagree.
func RatioToBps(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ratio %q: %w", s, err)
	}
	bps := d.Mul(decimal.NewFromInt(10000))
	if !bps.IsInteger() {
		return 0, fmt.Errorf("ratio %q is finer than basis points", s)
	}
	if bps.IsNegative() {
		return 0, fmt.Errorf("ratio %q is negative", s)
	}
	return bps.IntPart(), nil
}
