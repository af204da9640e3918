package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatioToBps(t *testing.T) {
	cases := map[string]int64{
		"1.2":    12000,
		"1.5":    15000,
		"0.05":   500,
		"0":      0,
		"2":      20000,
		"0.0001": 1,
	}
	for in, want := range cases {
		got, err := RatioToBps(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestRatioToBpsRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "0.00001", "-0.5"} {
		_, err := RatioToBps(in)
		require.Error(t, err, in)
	}
}

func TestDefaultChainParamsValidate(t *testing.T) {
	require.NoError(t, DefaultChainParams().Validate())
}

func TestValidateRejections(t *testing.T) {
	p := DefaultChainParams()
	p.NativeToken = ""
	require.Error(t, p.Validate())

	p = DefaultChainParams()
	p.Collateral.BuyerMinRatioBps = 0
	require.Error(t, p.Validate())

	p = DefaultChainParams()
	p.Collateral.Penalty.ToPlatformBps = 4000
	require.Error(t, p.Validate(), "penalty split must sum to 100%")

	p = DefaultChainParams()
	p.Fees.Distribution.ToBurnBps = 0
	require.Error(t, p.Validate(), "fee split must sum to 100%")
}
