package options

import (
	"math"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// Pricing here is advisory only: quotes and greeks are served over the
// query API and never enter consensus state. Settlement uses integer
// intrinsic value exclusively.

// PricingInput carries the market inputs for a theoretical valuation.
// Spot and Strike are in quote-asset ticks; Rate and Vol are annualized
// decimals; TimeToExpiry is in years.
type PricingInput struct {
	Spot         float64
	Strike       float64
	Rate         float64
	Vol          float64
	TimeToExpiry float64
}

// Greeks are the standard first- and second-order sensitivities.
// Theta is per year, Vega and Rho per whole unit of vol and rate.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func intrinsic(t types.OptionType, spot, strike float64) float64 {
	if t == types.Call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

func d1d2(in PricingInput) (float64, float64) {
	sqrtT := math.Sqrt(in.TimeToExpiry)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+in.Vol*in.Vol/2)*in.TimeToExpiry) / (in.Vol * sqrtT)
	return d1, d1 - in.Vol*sqrtT
}

// BlackScholes returns the closed-form European price. Degenerate
// inputs (expired, zero vol, zero spot) collapse to intrinsic value.
func BlackScholes(t types.OptionType, in PricingInput) float64 {
	if in.TimeToExpiry <= 0 || in.Vol <= 0 || in.Spot <= 0 || in.Strike <= 0 {
		return intrinsic(t, in.Spot, in.Strike)
	}
	d1, d2 := d1d2(in)
	df := math.Exp(-in.Rate * in.TimeToExpiry)
	if t == types.Call {
		return in.Spot*normCDF(d1) - in.Strike*df*normCDF(d2)
	}
	return in.Strike*df*normCDF(-d2) - in.Spot*normCDF(-d1)
}

// BlackScholesGreeks returns the analytic greeks for a European option.
func BlackScholesGreeks(t types.OptionType, in PricingInput) Greeks {
	if in.TimeToExpiry <= 0 || in.Vol <= 0 || in.Spot <= 0 || in.Strike <= 0 {
		return Greeks{}
	}
	d1, d2 := d1d2(in)
	sqrtT := math.Sqrt(in.TimeToExpiry)
	df := math.Exp(-in.Rate * in.TimeToExpiry)
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: pdf / (in.Spot * in.Vol * sqrtT),
		Vega:  in.Spot * pdf * sqrtT,
	}
	if t == types.Call {
		g.Delta = normCDF(d1)
		g.Theta = -in.Spot*pdf*in.Vol/(2*sqrtT) - in.Rate*in.Strike*df*normCDF(d2)
		g.Rho = in.Strike * in.TimeToExpiry * df * normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = -in.Spot*pdf*in.Vol/(2*sqrtT) + in.Rate*in.Strike*df*normCDF(-d2)
		g.Rho = -in.Strike * in.TimeToExpiry * df * normCDF(-d2)
	}
	return g
}

const (
	binomialStartSteps = 64
	binomialMaxSteps   = 2048
	binomialTolerance  = 1e-4
)

// BinomialAmerican prices an American option on a Cox-Ross-Rubinstein
// lattice, doubling the step count until two successive valuations
// agree within tolerance or the step cap is reached.
func BinomialAmerican(t types.OptionType, in PricingInput) float64 {
	if in.TimeToExpiry <= 0 || in.Vol <= 0 || in.Spot <= 0 || in.Strike <= 0 {
		return intrinsic(t, in.Spot, in.Strike)
	}
	prev := binomialOnce(t, in, binomialStartSteps)
	for n := binomialStartSteps * 2; n <= binomialMaxSteps; n *= 2 {
		cur := binomialOnce(t, in, n)
		if math.Abs(cur-prev) < binomialTolerance {
			return cur
		}
		prev = cur
	}
	return prev
}

func binomialOnce(t types.OptionType, in PricingInput, steps int) float64 {
	dt := in.TimeToExpiry / float64(steps)
	u := math.Exp(in.Vol * math.Sqrt(dt))
	d := 1 / u
	growth := math.Exp(in.Rate * dt)
	p := (growth - d) / (u - d)
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	disc := 1 / growth

	// Terminal layer.
	values := make([]float64, steps+1)
	for i := 0; i <= steps; i++ {
		s := in.Spot * math.Pow(u, float64(2*i-steps))
		values[i] = intrinsic(t, s, in.Strike)
	}

	// Backward induction with the early-exercise boundary.
	for step := steps - 1; step >= 0; step-- {
		for i := 0; i <= step; i++ {
			cont := disc * (p*values[i+1] + (1-p)*values[i])
			s := in.Spot * math.Pow(u, float64(2*i-step))
			values[i] = math.Max(cont, intrinsic(t, s, in.Strike))
		}
	}
	return values[0]
}

// TheoreticalPrice dispatches on exercise style.
func TheoreticalPrice(c *types.OptionContract, in PricingInput) float64 {
	if c.Style == types.American {
		return BinomialAmerican(c.Type, in)
	}
	return BlackScholes(c.Type, in)
}
