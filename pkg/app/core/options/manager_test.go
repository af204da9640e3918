package options

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/app/core/collateral"
	"github.com/optimic-protocol/optimic/pkg/app/core/engine"
	"github.com/optimic-protocol/optimic/pkg/app/core/events"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/state"
	"github.com/optimic-protocol/optimic/pkg/storage"
)

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb2")
	carol = common.HexToAddress("0xc3")
	dave  = common.HexToAddress("0xd4")
)

type fixture struct {
	st  *state.Manager
	col *collateral.Manager
	eng *engine.Engine
	opt *Manager
	rec *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemoryStore())
	p := params.DefaultChainParams()
	log := zap.NewNop().Sugar()
	col := collateral.NewManager(st, p.Collateral, p.Treasury, log)
	eng := engine.New(st, col, log)
	require.NoError(t, eng.RegisterMarket(&types.Market{
		ID:           "ETH-USD",
		BaseAsset:    "ETH",
		QuoteAsset:   "USD",
		MinOrderSize: 1,
		TickSize:     1,
		Type:         types.SpotMarket,
		Status:       types.MarketActive,
	}))
	return &fixture{
		st:  st,
		col: col,
		eng: eng,
		opt: NewManager(st, col, eng, p, log),
		rec: events.NewRecorder(1, 10),
	}
}

func (f *fixture) fund(t *testing.T, addr common.Address, asset string, amount int64) {
	t.Helper()
	pf, err := f.st.Portfolio(addr)
	require.NoError(t, err)
	pf.Credit(asset, amount)
	require.NoError(t, f.st.SetPortfolio(pf))
}

func (f *fixture) balance(t *testing.T, addr common.Address, asset string) types.Balance {
	t.Helper()
	pf, err := f.st.Portfolio(addr)
	require.NoError(t, err)
	return *pf.Balance(asset)
}

// printTrade crosses one lot between alice and bob so the book carries a
// reference price.
func (f *fixture) printTrade(t *testing.T, price int64) {
	t.Helper()
	f.fund(t, alice, "ETH", 1)
	f.fund(t, bob, "USD", price)
	_, err := f.eng.PlaceOrder(f.rec, &types.Order{
		Trader: alice, Market: "ETH-USD", Side: types.Sell,
		Type: types.LimitOrder, Qty: 1, Price: price, TIF: types.GTC,
	}, 10)
	require.NoError(t, err)
	_, err = f.eng.PlaceOrder(f.rec, &types.Order{
		Trader: bob, Market: "ETH-USD", Side: types.Buy,
		Type: types.LimitOrder, Qty: 1, Price: price, TIF: types.GTC,
	}, 10)
	require.NoError(t, err)
	require.Equal(t, price, f.eng.SpotPrice("ETH"))
}

func eventsOfType(rec *events.Recorder, typ events.Type) []events.Event {
	var out []events.Event
	for _, ev := range rec.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestContractID(t *testing.T) {
	assert.Equal(t, "ETH-1000-90-C", ContractID("ETH", 90, 1000, types.Call))
	assert.Equal(t, "ETH-1000-90-P", ContractID("ETH", 90, 1000, types.Put))
}

func TestCreateOption(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)

	c, err := f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)
	require.Equal(t, "ETH-1000-90-C", c.ID)
	require.Equal(t, types.OptionActive, c.Status)

	stored, err := f.st.Option(c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	chain, err := f.st.OptionsChain("ETH")
	require.NoError(t, err)
	require.Equal(t, []string{c.ID}, chain)

	require.Len(t, eventsOfType(f.rec, events.TypeOptionCreated), 1)
}

func TestCreateOptionRejections(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)

	_, err := f.opt.CreateOption(f.rec, "ETH", 0, 1000, types.Call, types.American, types.CashSettled, 10)
	require.ErrorIs(t, err, types.ErrValidation, "zero strike")

	_, err = f.opt.CreateOption(f.rec, "ETH", 90, 5, types.Call, types.American, types.CashSettled, 10)
	require.ErrorIs(t, err, types.ErrValidation, "expiry in the past")

	_, err = f.opt.CreateOption(f.rec, "DOGE", 90, 1000, types.Call, types.American, types.CashSettled, 10)
	require.ErrorIs(t, err, types.ErrValidation, "no spot market")

	_, err = f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)
	_, err = f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.European, types.CashSettled, 10)
	require.ErrorIs(t, err, types.ErrValidation, "duplicate series")
}

func TestOpenPositionLocksCollateralAndPaysPremium(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 100, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 500)
	f.fund(t, dave, "USD", 400)

	// qty 2 at spot 100: buyer needs 120% of 200 = 240, seller 150% = 300.
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	buyerBal := f.balance(t, carol, "USD")
	assert.Equal(t, int64(240), buyerBal.Locked)
	assert.Equal(t, int64(250), buyerBal.Available, "500 minus 240 locked minus 10 premium")

	sellerBal := f.balance(t, dave, "USD")
	assert.Equal(t, int64(300), sellerBal.Locked)
	assert.Equal(t, int64(110), sellerBal.Available, "premium credited on top of the 100 left")

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.OpenInterest)

	pos, err := f.st.OptionPositions(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos.Positions[carol.Hex()])
	assert.Equal(t, int64(-2), pos.Positions[dave.Hex()])

	require.Len(t, eventsOfType(f.rec, events.TypeOptionPosition), 1)
}

func TestOpenPositionUnwindsOnSellerFailure(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 100, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 500)
	f.fund(t, dave, "USD", 20) // cannot post 300

	err = f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10)
	require.ErrorIs(t, err, types.ErrInsufficientCollateral)

	buyerBal := f.balance(t, carol, "USD")
	assert.Equal(t, int64(500), buyerBal.Available, "buyer lock rolled back")
	assert.Zero(t, buyerBal.Locked)

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Zero(t, c.OpenInterest)
}

func TestOpenPositionRejectsSelfTrade(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 100, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	err = f.opt.OpenPosition(f.rec, carol, carol, c.ID, 1, 5, 10)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestExerciseAmericanITM(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "USD", 400)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	// Spot 100, strike 90: intrinsic 10 per unit, 20 owed in total.
	require.NoError(t, f.opt.Exercise(f.rec, carol, c.ID, 2, 20))

	buyerBal := f.balance(t, carol, "USD")
	assert.Equal(t, int64(610), buyerBal.Available, "collateral back plus 20 intrinsic minus 10 premium")
	assert.Zero(t, buyerBal.Locked)

	sellerBal := f.balance(t, dave, "USD")
	assert.Equal(t, int64(390), sellerBal.Available, "premium in, intrinsic out, margin released")
	assert.Zero(t, sellerBal.Locked)

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Zero(t, c.OpenInterest)
	assert.Equal(t, types.OptionExercised, c.Status)

	pos, err := f.st.OptionPositions(c.ID)
	require.NoError(t, err)
	assert.Empty(t, pos.Positions)

	require.Len(t, eventsOfType(f.rec, events.TypeOptionAssigned), 1)
	require.Len(t, eventsOfType(f.rec, events.TypeOptionExercised), 1)
}

func TestExercisePartialReleasesProportionally(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "USD", 400)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	require.NoError(t, f.opt.Exercise(f.rec, carol, c.ID, 1, 20))

	// Half of the 240 buyer margin comes back with half the position.
	assert.Equal(t, int64(120), f.balance(t, carol, "USD").Locked)

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.OpenInterest)
	assert.Equal(t, types.OptionActive, c.Status)

	pos, err := f.st.OptionPositions(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.Positions[carol.Hex()])
	assert.Equal(t, int64(-1), pos.Positions[dave.Hex()])
}

func TestExerciseRejections(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)

	euro, err := f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.European, types.CashSettled, 10)
	require.NoError(t, err)
	otm, err := f.opt.CreateOption(f.rec, "ETH", 200, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 2000)
	f.fund(t, dave, "USD", 2000)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, euro.ID, 1, 5, 10))
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, otm.ID, 1, 5, 10))

	err = f.opt.Exercise(f.rec, carol, euro.ID, 1, 20)
	require.ErrorIs(t, err, types.ErrValidation, "European settles at expiry")

	err = f.opt.Exercise(f.rec, carol, otm.ID, 1, 20)
	require.ErrorIs(t, err, types.ErrValidation, "out of the money")

	err = f.opt.Exercise(f.rec, dave, otm.ID, 1, 20)
	require.ErrorIs(t, err, types.ErrValidation, "writers hold no exercisable long")

	err = f.opt.Exercise(f.rec, carol, "ETH-1000-90-P", 1, 20)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestExerciseShortfallDefaults(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 100, 1000, types.Call, types.American, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "USD", 300)
	// Seller posts 300 (150% of notional at spot 100).
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	// Spot triples: intrinsic is now 200 per unit, 400 owed against 300
	// posted. The writer defaults on the difference.
	f.printTrade(t, 300)
	require.NoError(t, f.opt.Exercise(f.rec, carol, c.ID, 2, 20))

	sellerBal := f.balance(t, dave, "USD")
	assert.Zero(t, sellerBal.Locked, "margin fully consumed")
	assert.Equal(t, int64(10), sellerBal.Available, "only the premium remains")

	buyerBal := f.balance(t, carol, "USD")
	assert.Equal(t, int64(890), buyerBal.Available, "590 after premium plus 300 paid out")

	defaults := eventsOfType(f.rec, events.TypeSettlementDefault)
	require.Len(t, defaults, 1)
	assert.Equal(t, "100", defaults[0].Attrs["shortfall"])
	require.Len(t, eventsOfType(f.rec, events.TypeLiquidation), 1)

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OptionExercised, c.Status)
}

func TestExpirySweepSettlesITMEuropean(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 80, 1000, types.Call, types.European, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "USD", 400)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 1, 5, 10))

	// Not yet due.
	require.NoError(t, f.opt.ExpirySweep(f.rec, 999))
	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OptionActive, c.Status)

	// At expiry the long settles at intrinsic 20 and all margin unwinds.
	require.NoError(t, f.opt.ExpirySweep(f.rec, 1000))

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OptionExercised, c.Status, "in-the-money sweep ends Exercised")
	assert.Zero(t, c.OpenInterest)

	buyerBal := f.balance(t, carol, "USD")
	assert.Equal(t, int64(615), buyerBal.Available, "600 minus 5 premium plus 20 intrinsic")
	assert.Zero(t, buyerBal.Locked)

	sellerBal := f.balance(t, dave, "USD")
	assert.Equal(t, int64(385), sellerBal.Available)
	assert.Zero(t, sellerBal.Locked)

	require.Len(t, eventsOfType(f.rec, events.TypeOptionExercised), 1)
	require.Empty(t, eventsOfType(f.rec, events.TypeOptionExpired))

	// A second sweep is a no-op on the terminal contract.
	require.NoError(t, f.opt.ExpirySweep(f.rec, 2000))
	require.Len(t, eventsOfType(f.rec, events.TypeOptionExercised), 1)
}

func TestExpirySweepReleasesOTM(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 50, 1000, types.Put, types.European, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "USD", 400)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	require.NoError(t, f.opt.ExpirySweep(f.rec, 1000))

	assert.Zero(t, f.balance(t, carol, "USD").Locked)
	assert.Zero(t, f.balance(t, dave, "USD").Locked)
	assert.Equal(t, int64(590), f.balance(t, carol, "USD").Available)
	assert.Equal(t, int64(410), f.balance(t, dave, "USD").Available)

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OptionExpired, c.Status)
	require.Len(t, eventsOfType(f.rec, events.TypeOptionExpired), 1)
}

func TestExpirySweepWithoutReferencePriceReleasesOnly(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	// A put this deep would pay the full strike against a zero spot.
	c, err := f.opt.CreateOption(f.rec, "ETH", 500, 1000, types.Put, types.European, types.CashSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 2000)
	f.fund(t, dave, "USD", 2000)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 1, 5, 10))

	// Halt the market: the sweep now has no reference price.
	mkt := f.eng.Market("ETH-USD")
	mkt.Status = types.MarketSuspended
	require.NoError(t, f.st.SetMarket(mkt))
	require.Zero(t, f.eng.SpotPrice("ETH"))

	require.NoError(t, f.opt.ExpirySweep(f.rec, 1000))

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OptionExpired, c.Status)

	// Nothing settled; both sides got their collateral back.
	buyerBal := f.balance(t, carol, "USD")
	assert.Equal(t, int64(1995), buyerBal.Available, "only the premium left the buyer")
	assert.Zero(t, buyerBal.Locked)
	sellerBal := f.balance(t, dave, "USD")
	assert.Equal(t, int64(2005), sellerBal.Available)
	assert.Zero(t, sellerBal.Locked)
}

func TestOpenPositionPhysicalCallLocksUnderlying(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.American, types.PhysicalSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "ETH", 5)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	// The writer locks the deliverable itself, not quote margin.
	ethBal := f.balance(t, dave, "ETH")
	assert.Equal(t, int64(2), ethBal.Locked)
	assert.Equal(t, int64(3), ethBal.Available)
	assert.Zero(t, f.balance(t, dave, "USD").Locked)
	assert.Equal(t, int64(10), f.balance(t, dave, "USD").Available, "premium only")

	// The buyer still posts quote margin.
	assert.Equal(t, int64(240), f.balance(t, carol, "USD").Locked)
}

func TestExercisePhysicalCallDeliversUnderlying(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 90, 1000, types.Call, types.American, types.PhysicalSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, dave, "ETH", 2)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	require.NoError(t, f.opt.Exercise(f.rec, carol, c.ID, 2, 20))

	// The holder paid 2 x 90 strike and took delivery of 2 ETH.
	assert.Equal(t, int64(2), f.balance(t, carol, "ETH").Available)
	buyerUSD := f.balance(t, carol, "USD")
	assert.Equal(t, int64(410), buyerUSD.Available, "600 minus 10 premium minus 180 strike")
	assert.Zero(t, buyerUSD.Locked)

	// The writer delivered out of locked collateral and received the
	// strike proceeds.
	writerETH := f.balance(t, dave, "ETH")
	assert.Zero(t, writerETH.Locked)
	assert.Zero(t, writerETH.Available)
	assert.Equal(t, int64(190), f.balance(t, dave, "USD").Available, "10 premium plus 180 strike")

	c, err = f.st.Option(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OptionExercised, c.Status)

	pos, err := f.st.OptionPositions(c.ID)
	require.NoError(t, err)
	assert.Empty(t, pos.Positions)
}

func TestExercisePhysicalPutDeliversUnderlying(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 120, 1000, types.Put, types.American, types.PhysicalSettled, 10)
	require.NoError(t, err)

	f.fund(t, carol, "USD", 600)
	f.fund(t, carol, "ETH", 2)
	f.fund(t, dave, "USD", 240)
	require.NoError(t, f.opt.OpenPosition(f.rec, carol, dave, c.ID, 2, 5, 10))

	// The put writer locks the full strike proceeds.
	assert.Equal(t, int64(240), f.balance(t, dave, "USD").Locked)

	require.NoError(t, f.opt.Exercise(f.rec, carol, c.ID, 2, 20))

	// The holder delivered 2 ETH and collected 2 x 120 strike.
	assert.Zero(t, f.balance(t, carol, "ETH").Available)
	buyerUSD := f.balance(t, carol, "USD")
	assert.Equal(t, int64(830), buyerUSD.Available, "600 minus 10 premium plus 240 strike")
	assert.Zero(t, buyerUSD.Locked)

	assert.Equal(t, int64(2), f.balance(t, dave, "ETH").Available)
	writerUSD := f.balance(t, dave, "USD")
	assert.Equal(t, int64(10), writerUSD.Available, "premium only")
	assert.Zero(t, writerUSD.Locked)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	f.printTrade(t, 100)
	c, err := f.opt.CreateOption(f.rec, "ETH", 100, 10+secondsPerYear, types.Call, types.European, types.CashSettled, 10)
	require.NoError(t, err)

	price, greeks, err := f.opt.Quote(c.ID, 0.05, 0.2, 10)
	require.NoError(t, err)
	assert.InDelta(t, 10.4506, price, 1e-3)
	assert.Greater(t, greeks.Delta, 0.5)

	_, _, err = f.opt.Quote("missing", 0.05, 0.2, 10)
	require.ErrorIs(t, err, types.ErrNotFound)
}
