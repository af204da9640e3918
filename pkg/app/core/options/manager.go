// Package options manages the option-contract lifecycle: series
// creation, bilateral position opening with collateral enforcement,
// exercise with writer assignment, and the deterministic expiry sweep.
package options

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/app/core/collateral"
	"github.com/optimic-protocol/optimic/pkg/app/core/engine"
	"github.com/optimic-protocol/optimic/pkg/app/core/events"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/state"
)

const secondsPerYear = 365 * 24 * 3600

// Manager drives option contracts. Spot reference prices come from the
// matching engine's books; collateral enforcement is delegated to the
// collateral manager.
type Manager struct {
	st     *state.Manager
	col    *collateral.Manager
	eng    *engine.Engine
	params params.ChainParams
	log    *zap.SugaredLogger
}

// NewManager wires the option lifecycle against state, collateral, and
// market data.
func NewManager(st *state.Manager, col *collateral.Manager, eng *engine.Engine, p params.ChainParams, log *zap.SugaredLogger) *Manager {
	return &Manager{st: st, col: col, eng: eng, params: p, log: log}
}

// ContractID derives the canonical series id. Two creations with the
// same underlying, expiry, strike, and type collide by construction.
func ContractID(underlying string, strike, expiry int64, t types.OptionType) string {
	suffix := "C"
	if t == types.Put {
		suffix = "P"
	}
	return fmt.Sprintf("%s-%d-%d-%s", underlying, expiry, strike, suffix)
}

// spotMarket returns the first active spot market whose base asset is
// the underlying, or nil.
func (m *Manager) spotMarket(underlying string) *types.Market {
	for _, id := range m.eng.MarketIDs() {
		mkt := m.eng.Market(id)
		if mkt.Type == types.SpotMarket && mkt.BaseAsset == underlying && mkt.Status == types.MarketActive {
			return mkt
		}
	}
	return nil
}

// quoteAssetFor resolves the quote asset of the underlying's spot
// market regardless of market status, so settlement at expiry unwinds
// collateral in the right asset even on a halted market.
func (m *Manager) quoteAssetFor(underlying string) string {
	for _, id := range m.eng.MarketIDs() {
		mkt := m.eng.Market(id)
		if mkt.Type == types.SpotMarket && mkt.BaseAsset == underlying {
			return mkt.QuoteAsset
		}
	}
	return m.params.NativeToken
}

// settlementTerms is what each side delivers per assigned unit when a
// contract settles. Cash contracts pay intrinsic value out of writer
// collateral and the holder owes nothing; physical contracts exchange
// the underlying against the strike.
type settlementTerms struct {
	writerAsset   string
	writerPerUnit int64
	holderAsset   string
	holderPerUnit int64
}

func settlementFor(c *types.OptionContract, quote string, intrinsic int64) settlementTerms {
	if c.Settlement == types.PhysicalSettled {
		if c.Type == types.Call {
			return settlementTerms{writerAsset: c.Underlying, writerPerUnit: 1, holderAsset: quote, holderPerUnit: c.Strike}
		}
		return settlementTerms{writerAsset: quote, writerPerUnit: c.Strike, holderAsset: c.Underlying, holderPerUnit: 1}
	}
	return settlementTerms{writerAsset: quote, writerPerUnit: intrinsic}
}

// sellerCollateralAsset is the asset a writer's margin is held in: the
// underlying itself for physical calls, the quote asset otherwise.
func sellerCollateralAsset(c *types.OptionContract, quote string) string {
	if c.Settlement == types.PhysicalSettled && c.Type == types.Call {
		return c.Underlying
	}
	return quote
}

// CreateOption registers a new option series. The underlying must have
// an active spot market and the series must not already exist.
func (m *Manager) CreateOption(rec *events.Recorder, underlying string, strike, expiry int64, typ types.OptionType, style types.OptionStyle, settlement types.SettlementType, blockTime int64) (*types.OptionContract, error) {
	if strike <= 0 {
		return nil, fmt.Errorf("%w: strike must be positive", types.ErrValidation)
	}
	if expiry <= blockTime {
		return nil, fmt.Errorf("%w: expiry %d not in the future", types.ErrValidation, expiry)
	}
	if m.spotMarket(underlying) == nil {
		return nil, fmt.Errorf("%w: no active spot market for %s", types.ErrValidation, underlying)
	}

	id := ContractID(underlying, strike, expiry, typ)
	if existing, err := m.st.Option(id); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: option %s already exists", types.ErrValidation, id)
	}

	c := &types.OptionContract{
		ID:         id,
		Underlying: underlying,
		Strike:     strike,
		Expiry:     expiry,
		Type:       typ,
		Style:      style,
		Settlement: settlement,
		Status:     types.OptionActive,
	}
	if err := m.st.SetOption(c); err != nil {
		return nil, err
	}
	if err := m.st.SetOptionPositions(types.NewOptionPositions(id)); err != nil {
		return nil, err
	}

	chain, err := m.st.OptionsChain(underlying)
	if err != nil {
		return nil, err
	}
	if err := m.st.SetOptionsChain(underlying, append(chain, id)); err != nil {
		return nil, err
	}
	index, err := m.st.OptionIndex()
	if err != nil {
		return nil, err
	}
	if err := m.st.SetOptionIndex(append(index, id)); err != nil {
		return nil, err
	}

	rec.Emit(events.TypeOptionCreated, map[string]string{
		"option_id":  id,
		"underlying": underlying,
		"strike":     strconv.FormatInt(strike, 10),
		"expiry":     strconv.FormatInt(expiry, 10),
		"type":       typ.String(),
		"style":      style.String(),
	})
	m.log.Infow("option_created", "option_id", id, "underlying", underlying)
	return c, nil
}

// OpenPosition opens a bilateral position: the buyer pays qty*premium
// to the seller, both sides post collateral, and open interest grows by
// qty. All-or-nothing: any failure unwinds every step already taken.
func (m *Manager) OpenPosition(rec *events.Recorder, buyer, seller common.Address, optionID string, qty, premium, blockTime int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", types.ErrValidation)
	}
	if premium < 0 {
		return fmt.Errorf("%w: premium cannot be negative", types.ErrValidation)
	}
	if buyer == seller {
		return fmt.Errorf("%w: buyer and seller must differ", types.ErrValidation)
	}

	c, err := m.activeContract(optionID, blockTime)
	if err != nil {
		return err
	}
	mkt := m.spotMarket(c.Underlying)
	if mkt == nil {
		return fmt.Errorf("%w: no active spot market for %s", types.ErrValidation, c.Underlying)
	}
	spot := m.eng.SpotPrice(c.Underlying)
	if spot <= 0 {
		return fmt.Errorf("%w: no reference price for %s", types.ErrValidation, c.Underlying)
	}
	quote := mkt.QuoteAsset
	cost := qty * premium

	buyerReason := types.CollateralReason{Kind: types.ReasonOptionBuyer, Ref: c.ID}
	sellerReason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: c.ID}
	buyerReq := m.col.CalculateBuyerCollateral(qty, spot, cost)

	// Physical writers lock the full delivery obligation up front: the
	// underlying itself for calls, the strike proceeds for puts. Cash
	// writers post ratio-based margin in the quote asset.
	sellerAsset := sellerCollateralAsset(c, quote)
	var sellerReq int64
	switch {
	case c.Settlement == types.PhysicalSettled && c.Type == types.Call:
		sellerReq = qty
	case c.Settlement == types.PhysicalSettled:
		sellerReq = qty * c.Strike
	default:
		sellerReq = m.col.CalculateSellerCollateral(qty, spot)
	}

	if err := m.col.Require(buyer, buyerReq, quote, buyerReason); err != nil {
		return fmt.Errorf("%w: buyer: %v", types.ErrInsufficientCollateral, err)
	}
	if err := m.col.Require(seller, sellerReq, sellerAsset, sellerReason); err != nil {
		if _, rerr := m.col.Release(buyer, buyerReq, quote, buyerReason); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%w: seller: %v", types.ErrInsufficientCollateral, err)
	}

	// Premium settles from the buyer's free balance, not collateral.
	buyerPf, err := m.st.Portfolio(buyer)
	if err != nil {
		return err
	}
	if err := buyerPf.Debit(quote, cost); err != nil {
		if _, rerr := m.col.Release(buyer, buyerReq, quote, buyerReason); rerr != nil {
			return rerr
		}
		if _, rerr := m.col.Release(seller, sellerReq, sellerAsset, sellerReason); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%w: premium: %v", types.ErrInsufficientBalance, err)
	}
	if err := m.st.SetPortfolio(buyerPf); err != nil {
		return err
	}
	sellerPf, err := m.st.Portfolio(seller)
	if err != nil {
		return err
	}
	sellerPf.Credit(quote, cost)
	if err := m.st.SetPortfolio(sellerPf); err != nil {
		return err
	}

	pos, err := m.st.OptionPositions(c.ID)
	if err != nil {
		return err
	}
	adjustPosition(pos, buyer, qty)
	adjustPosition(pos, seller, -qty)
	c.OpenInterest += qty
	if err := m.st.SetOptionPositions(pos); err != nil {
		return err
	}
	if err := m.st.SetOption(c); err != nil {
		return err
	}

	rec.Emit(events.TypeOptionPosition, map[string]string{
		"option_id": c.ID,
		"buyer":     buyer.Hex(),
		"seller":    seller.Hex(),
		"quantity":  strconv.FormatInt(qty, 10),
		"premium":   strconv.FormatInt(premium, 10),
	})
	return nil
}

// Exercise settles qty units of the holder's long position: cash
// contracts pay intrinsic value, physical contracts deliver the
// underlying against the strike. American style only; European
// contracts settle automatically at expiry. Writers are assigned in
// ascending address order.
func (m *Manager) Exercise(rec *events.Recorder, holder common.Address, optionID string, qty, blockTime int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", types.ErrValidation)
	}
	c, err := m.activeContract(optionID, blockTime)
	if err != nil {
		return err
	}
	if c.Style != types.American {
		return fmt.Errorf("%w: %s option settles at expiry", types.ErrValidation, c.Style)
	}

	pos, err := m.st.OptionPositions(c.ID)
	if err != nil {
		return err
	}
	long := pos.Positions[holder.Hex()]
	if long < qty {
		return fmt.Errorf("%w: holding %d, exercising %d", types.ErrValidation, long, qty)
	}

	spot := m.eng.SpotPrice(c.Underlying)
	if spot <= 0 {
		return fmt.Errorf("%w: no reference price for %s", types.ErrValidation, c.Underlying)
	}
	perUnit := c.IntrinsicValue(spot)
	if perUnit == 0 {
		return fmt.Errorf("%w: option %s is out of the money at %d", types.ErrValidation, c.ID, spot)
	}
	mkt := m.spotMarket(c.Underlying)
	if mkt == nil {
		return fmt.Errorf("%w: no active spot market for %s", types.ErrValidation, c.Underlying)
	}

	tm := settlementFor(c, mkt.QuoteAsset, perUnit)
	// Physical exercise is an exchange: the holder funds their leg
	// (strike payment for calls, the underlying for puts) before any
	// writer is assigned. Insufficient funds fail the whole exercise.
	if tm.holderPerUnit > 0 {
		pf, err := m.st.Portfolio(holder)
		if err != nil {
			return err
		}
		if err := pf.Debit(tm.holderAsset, qty*tm.holderPerUnit); err != nil {
			return err
		}
		if err := m.st.SetPortfolio(pf); err != nil {
			return err
		}
	}

	if err := m.assignWriters(rec, c, pos, holder, qty, tm); err != nil {
		return err
	}
	if err := m.reduceHolder(pos, holder, qty, long, mkt.QuoteAsset, c.ID); err != nil {
		return err
	}

	c.OpenInterest -= qty
	if c.OpenInterest == 0 {
		c.Transition(types.OptionExercised)
	}
	if err := m.st.SetOptionPositions(pos); err != nil {
		return err
	}
	if err := m.st.SetOption(c); err != nil {
		return err
	}

	rec.Emit(events.TypeOptionExercised, map[string]string{
		"option_id": c.ID,
		"holder":    holder.Hex(),
		"quantity":  strconv.FormatInt(qty, 10),
		"per_unit":  strconv.FormatInt(perUnit, 10),
	})
	m.log.Infow("option_exercised", "option_id", c.ID, "holder", holder.Hex(), "qty", qty)
	return nil
}

// assignWriters settles qty units against the writers, walking them in
// ascending address order. Each writer delivers their leg out of locked
// collateral; for physical contracts the holder's counter-payment is
// credited per writer as units are delivered. A writer whose collateral
// cannot cover their share defaults on the difference: the holder keeps
// what was paid and the shortfall is recorded, with a liquidation
// penalty assessed against the writer where collateral remains.
func (m *Manager) assignWriters(rec *events.Recorder, c *types.OptionContract, pos *types.OptionPositions, holder common.Address, qty int64, tm settlementTerms) error {
	sellerReason := types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: c.ID}

	writers := make([]string, 0, len(pos.Positions))
	for k, v := range pos.Positions {
		if v < 0 {
			writers = append(writers, k)
		}
	}
	sort.Strings(writers)

	remaining := qty
	for _, w := range writers {
		if remaining == 0 {
			break
		}
		writer := common.HexToAddress(w)
		short := -pos.Positions[w]
		assigned := min64(short, remaining)
		owed := assigned * tm.writerPerUnit

		paid, err := m.col.PayFromCollateral(writer, holder, owed, tm.writerAsset, sellerReason)
		if err != nil {
			return err
		}
		if paid < owed {
			shortfall := owed - paid
			rec.Emit(events.TypeSettlementDefault, map[string]string{
				"option_id": c.ID,
				"writer":    writer.Hex(),
				"asset":     tm.writerAsset,
				"owed":      strconv.FormatInt(owed, 10),
				"paid":      strconv.FormatInt(paid, 10),
				"shortfall": strconv.FormatInt(shortfall, 10),
			})
			m.log.Warnw("settlement_default", "option_id", c.ID, "writer", writer.Hex(), "shortfall", shortfall)

			pen := collateral.CalculatePenalty(shortfall, m.params.Fees.PenaltyRateBps)
			if pen > 0 {
				penalty := types.Penalty{
					Account: writer,
					Amount:  pen,
					Asset:   tm.writerAsset,
					Reason:  types.PenaltyLiquidation,
					Ref:     c.ID,
				}
				// Best-effort: the writer's collateral under this series
				// is typically exhausted by the default itself.
				if _, perr := m.col.DistributePenalty(penalty, holder, sellerReason); perr == nil {
					rec.Emit(events.TypePenalty, map[string]string{
						"account": writer.Hex(),
						"amount":  strconv.FormatInt(pen, 10),
						"reason":  types.PenaltyLiquidation.String(),
						"ref":     c.ID,
					})
				}
			}
			rec.Emit(events.TypeLiquidation, map[string]string{
				"option_id": c.ID,
				"account":   writer.Hex(),
				"shortfall": strconv.FormatInt(shortfall, 10),
			})
		}

		if tm.holderPerUnit > 0 {
			// The holder pays only for units actually delivered; the
			// payment for defaulted units goes back to the holder.
			delivered := paid / tm.writerPerUnit
			if delivered > 0 {
				wpf, err := m.st.Portfolio(writer)
				if err != nil {
					return err
				}
				wpf.Credit(tm.holderAsset, delivered*tm.holderPerUnit)
				if err := m.st.SetPortfolio(wpf); err != nil {
					return err
				}
			}
			if delivered < assigned {
				hpf, err := m.st.Portfolio(holder)
				if err != nil {
					return err
				}
				hpf.Credit(tm.holderAsset, (assigned-delivered)*tm.holderPerUnit)
				if err := m.st.SetPortfolio(hpf); err != nil {
					return err
				}
			}
		}

		adjustPosition(pos, writer, assigned)
		if pos.Positions[writer.Hex()] == 0 {
			// Fully covered: whatever margin is still locked comes back.
			rem, err := m.col.PostedUnder(writer, tm.writerAsset, sellerReason)
			if err != nil {
				return err
			}
			if rem > 0 {
				if _, err := m.col.Release(writer, rem, tm.writerAsset, sellerReason); err != nil {
					return err
				}
			}
		}
		rec.Emit(events.TypeOptionAssigned, map[string]string{
			"option_id": c.ID,
			"writer":    writer.Hex(),
			"quantity":  strconv.FormatInt(assigned, 10),
		})
		remaining -= assigned
	}
	if remaining > 0 {
		panic(fmt.Sprintf("invariant violation: option %s open interest %d but only %d assignable", c.ID, c.OpenInterest, qty-remaining))
	}
	return nil
}

// reduceHolder shrinks the holder's long and releases their collateral
// in proportion to the quantity settled.
func (m *Manager) reduceHolder(pos *types.OptionPositions, holder common.Address, qty, longBefore int64, quote, optionID string) error {
	buyerReason := types.CollateralReason{Kind: types.ReasonOptionBuyer, Ref: optionID}
	posted, err := m.col.PostedUnder(holder, quote, buyerReason)
	if err != nil {
		return err
	}
	release := posted * qty / longBefore
	if qty == longBefore {
		release = posted
	}
	if release > 0 {
		if _, err := m.col.Release(holder, release, quote, buyerReason); err != nil {
			return err
		}
	}
	adjustPosition(pos, holder, -qty)
	return nil
}

// ExpirySweep settles and closes every active contract whose expiry is
// at or before blockTime. Contracts in the money settle each long at
// intrinsic value against the writers; out-of-the-money contracts just
// release collateral. The sweep depends only on state and block time.
func (m *Manager) ExpirySweep(rec *events.Recorder, blockTime int64) error {
	index, err := m.st.OptionIndex()
	if err != nil {
		return err
	}
	for _, id := range index {
		c, err := m.st.Option(id)
		if err != nil {
			return err
		}
		if c == nil || c.Status.Terminal() || c.Expiry > blockTime {
			continue
		}
		if err := m.expireContract(rec, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) expireContract(rec *events.Recorder, c *types.OptionContract) error {
	pos, err := m.st.OptionPositions(c.ID)
	if err != nil {
		return err
	}
	quote := m.quoteAssetFor(c.Underlying)
	spot := m.eng.SpotPrice(c.Underlying)

	// Without a reference price nothing can be valued: a zero spot must
	// not price a put at full strike. Positions lapse and collateral
	// unwinds below.
	var perUnit int64
	if spot > 0 {
		perUnit = c.IntrinsicValue(spot)
	}

	accounts := make([]string, 0, len(pos.Positions))
	for k := range pos.Positions {
		accounts = append(accounts, k)
	}
	sort.Strings(accounts)

	if perUnit > 0 {
		// In the money: settle every long against the writers.
		tm := settlementFor(c, quote, perUnit)
		for _, a := range accounts {
			long := pos.Positions[a]
			if long <= 0 {
				continue
			}
			holder := common.HexToAddress(a)
			if tm.holderPerUnit > 0 {
				pf, err := m.st.Portfolio(holder)
				if err != nil {
					return err
				}
				if err := pf.Debit(tm.holderAsset, long*tm.holderPerUnit); err != nil {
					// The holder cannot fund their leg of the physical
					// exchange; the long lapses and the writers keep
					// their collateral until the release below.
					m.log.Warnw("expiry_settlement_skipped", "option_id", c.ID, "holder", a, "err", err)
					continue
				}
				if err := m.st.SetPortfolio(pf); err != nil {
					return err
				}
			}
			if err := m.assignWriters(rec, c, pos, holder, long, tm); err != nil {
				return err
			}
			if err := m.reduceHolder(pos, holder, long, long, quote, c.ID); err != nil {
				return err
			}
		}
	}

	// Release whatever collateral is still locked on either side.
	sellerAsset := sellerCollateralAsset(c, quote)
	for _, a := range accounts {
		addr := common.HexToAddress(a)
		for _, hold := range []struct {
			reason types.CollateralReason
			asset  string
		}{
			{types.CollateralReason{Kind: types.ReasonOptionBuyer, Ref: c.ID}, quote},
			{types.CollateralReason{Kind: types.ReasonOptionSeller, Ref: c.ID}, sellerAsset},
		} {
			rem, err := m.col.PostedUnder(addr, hold.asset, hold.reason)
			if err != nil {
				return err
			}
			if rem > 0 {
				if _, err := m.col.Release(addr, rem, hold.asset, hold.reason); err != nil {
					return err
				}
			}
		}
	}

	pos.Positions = make(map[string]int64)
	c.OpenInterest = 0
	// In-the-money contracts leave the sweep Exercised; only worthless
	// ones end Expired.
	if perUnit > 0 {
		c.Transition(types.OptionExercised)
	} else {
		c.Transition(types.OptionExpired)
	}
	if err := m.st.SetOptionPositions(pos); err != nil {
		return err
	}
	if err := m.st.SetOption(c); err != nil {
		return err
	}

	attrs := map[string]string{
		"option_id": c.ID,
		"spot":      strconv.FormatInt(spot, 10),
		"per_unit":  strconv.FormatInt(perUnit, 10),
	}
	if perUnit > 0 {
		rec.Emit(events.TypeOptionExercised, attrs)
	} else {
		rec.Emit(events.TypeOptionExpired, attrs)
	}
	m.log.Infow("option_settled_at_expiry", "option_id", c.ID, "spot", spot, "per_unit", perUnit, "status", c.Status.String())
	return nil
}

// Quote values a contract with Black-Scholes or the binomial lattice
// depending on style, at the given annualized rate and volatility.
// Advisory only.
func (m *Manager) Quote(optionID string, rate, vol float64, now int64) (float64, Greeks, error) {
	c, err := m.st.Option(optionID)
	if err != nil {
		return 0, Greeks{}, err
	}
	if c == nil {
		return 0, Greeks{}, fmt.Errorf("%w: option %s", types.ErrNotFound, optionID)
	}
	spot := m.eng.SpotPrice(c.Underlying)
	in := PricingInput{
		Spot:         float64(spot),
		Strike:       float64(c.Strike),
		Rate:         rate,
		Vol:          vol,
		TimeToExpiry: float64(c.Expiry-now) / secondsPerYear,
	}
	return TheoreticalPrice(c, in), BlackScholesGreeks(c.Type, in), nil
}

func (m *Manager) activeContract(optionID string, blockTime int64) (*types.OptionContract, error) {
	c, err := m.st.Option(optionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: option %s", types.ErrNotFound, optionID)
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("%w: option %s is %s", types.ErrValidation, c.ID, c.Status)
	}
	if blockTime >= c.Expiry {
		return nil, fmt.Errorf("%w: option %s expired at %d", types.ErrValidation, c.ID, c.Expiry)
	}
	return c, nil
}

// adjustPosition applies a signed delta and drops zero entries so the
// record never accumulates dead keys.
func adjustPosition(pos *types.OptionPositions, addr common.Address, delta int64) {
	k := addr.Hex()
	pos.Positions[k] += delta
	if pos.Positions[k] == 0 {
		delete(pos.Positions, k)
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
