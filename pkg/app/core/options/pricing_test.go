package options

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

func atmInput() PricingInput {
	return PricingInput{
		Spot:         100,
		Strike:       100,
		Rate:         0.05,
		Vol:          0.2,
		TimeToExpiry: 1,
	}
}

func TestBlackScholesKnownValue(t *testing.T) {
	in := atmInput()

	// Textbook ATM values: S=K=100, r=5%, vol=20%, T=1y.
	call := BlackScholes(types.Call, in)
	put := BlackScholes(types.Put, in)
	assert.InDelta(t, 10.4506, call, 1e-3)
	assert.InDelta(t, 5.5735, put, 1e-3)
}

func TestPutCallParity(t *testing.T) {
	for _, in := range []PricingInput{
		atmInput(),
		{Spot: 120, Strike: 100, Rate: 0.03, Vol: 0.35, TimeToExpiry: 0.5},
		{Spot: 80, Strike: 100, Rate: 0.01, Vol: 0.6, TimeToExpiry: 2},
	} {
		call := BlackScholes(types.Call, in)
		put := BlackScholes(types.Put, in)
		forward := in.Spot - in.Strike*math.Exp(-in.Rate*in.TimeToExpiry)
		assert.InDelta(t, forward, call-put, 1e-9, "parity for %+v", in)
	}
}

func TestBlackScholesDegenerateInputs(t *testing.T) {
	expired := atmInput()
	expired.TimeToExpiry = 0
	assert.Zero(t, BlackScholes(types.Call, expired))

	itm := PricingInput{Spot: 120, Strike: 100, Vol: 0, TimeToExpiry: 1}
	assert.Equal(t, 20.0, BlackScholes(types.Call, itm))
	assert.Equal(t, 0.0, BlackScholes(types.Put, itm))
}

func TestGreeksSigns(t *testing.T) {
	in := atmInput()
	call := BlackScholesGreeks(types.Call, in)
	put := BlackScholesGreeks(types.Put, in)

	assert.Greater(t, call.Delta, 0.0)
	assert.Less(t, call.Delta, 1.0)
	assert.Less(t, put.Delta, 0.0)
	assert.Greater(t, put.Delta, -1.0)
	// Call and put share gamma and vega.
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
	assert.InDelta(t, 1.0, call.Delta-put.Delta, 1e-12)
	assert.Less(t, call.Theta, 0.0)
	assert.Greater(t, call.Rho, 0.0)
	assert.Less(t, put.Rho, 0.0)

	assert.Equal(t, Greeks{}, BlackScholesGreeks(types.Call, PricingInput{}))
}

func TestBinomialConvergesToEuropean(t *testing.T) {
	// An American call on a non-dividend asset is never exercised early,
	// so the lattice price must converge to Black-Scholes.
	in := atmInput()
	bs := BlackScholes(types.Call, in)
	tree := BinomialAmerican(types.Call, in)
	assert.InDelta(t, bs, tree, 0.02)
}

func TestAmericanPutCarriesEarlyExercisePremium(t *testing.T) {
	// Deep ITM put with positive rates: early exercise is valuable.
	in := PricingInput{Spot: 60, Strike: 100, Rate: 0.08, Vol: 0.2, TimeToExpiry: 1}
	european := BlackScholes(types.Put, in)
	american := BinomialAmerican(types.Put, in)

	require.Greater(t, american, european)
	// Never below intrinsic.
	require.GreaterOrEqual(t, american, 40.0)
}

func TestBinomialDegenerateInputs(t *testing.T) {
	in := PricingInput{Spot: 90, Strike: 100, Vol: 0.2, TimeToExpiry: 0}
	assert.Equal(t, 10.0, BinomialAmerican(types.Put, in))
	assert.Equal(t, 0.0, BinomialAmerican(types.Call, in))
}

func TestTheoreticalPriceDispatch(t *testing.T) {
	in := PricingInput{Spot: 60, Strike: 100, Rate: 0.08, Vol: 0.2, TimeToExpiry: 1}

	amer := &types.OptionContract{Type: types.Put, Style: types.American}
	euro := &types.OptionContract{Type: types.Put, Style: types.European}
	assert.Equal(t, BinomialAmerican(types.Put, in), TheoreticalPrice(amer, in))
	assert.Equal(t, BlackScholes(types.Put, in), TheoreticalPrice(euro, in))
}
