// Package engine implements the matching engine: it owns every
// per-market order book, turns incoming orders into trades under
// price-time priority, reserves and settles collateral per fill, and
// sweeps good-till-date orders at block boundaries.
//
// All mutating entry points run in a single sequential pass per block.
// Books are only reachable through the engine, never shared.
package engine

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/pkg/app/core/collateral"
	"github.com/optimic-protocol/optimic/pkg/app/core/events"
	"github.com/optimic-protocol/optimic/pkg/app/core/orderbook"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/state"
)

const (
	seqOrder   = "order"
	seqTrade   = "trade"
	seqArrival = "arrival"
)

// Engine matches orders across all registered spot markets.
type Engine struct {
	st  *state.Manager
	col *collateral.Manager
	log *zap.SugaredLogger

	markets map[string]*types.Market
	books   map[string]*orderbook.Book
}

// New creates an engine with no markets registered.
func New(st *state.Manager, col *collateral.Manager, log *zap.SugaredLogger) *Engine {
	return &Engine{
		st:      st,
		col:     col,
		log:     log,
		markets: make(map[string]*types.Market),
		books:   make(map[string]*orderbook.Book),
	}
}

// RegisterMarket adds a market. Spot markets get an order book; options
// markets are listed for lookup only (option positions open through the
// options manager, not the book).
func (e *Engine) RegisterMarket(mkt *types.Market) error {
	if err := mkt.Validate(); err != nil {
		return err
	}
	if _, exists := e.markets[mkt.ID]; exists {
		return fmt.Errorf("%w: market %s already registered", types.ErrValidation, mkt.ID)
	}
	if err := e.st.SetMarket(mkt); err != nil {
		return err
	}
	index, err := e.st.MarketIndex()
	if err != nil {
		return err
	}
	if err := e.st.SetMarketIndex(append(index, mkt.ID)); err != nil {
		return err
	}
	e.attach(mkt)
	return nil
}

// Restore re-attaches an already persisted market after a restart.
func (e *Engine) Restore(mkt *types.Market) {
	e.attach(mkt)
}

func (e *Engine) attach(mkt *types.Market) {
	e.markets[mkt.ID] = mkt
	if mkt.Type == types.SpotMarket {
		book := orderbook.New(mkt.ID)
		if mkt.LastPrice > 0 {
			book.RestoreLastPrice(mkt.LastPrice)
		}
		e.books[mkt.ID] = book
	}
}

// RestoreOrder puts a surviving open order back on its book. Callers
// replay orders in id order so time priority is preserved.
func (e *Engine) RestoreOrder(o *types.Order) {
	book := e.books[o.Market]
	if book == nil {
		return
	}
	switch o.Type {
	case types.StopOrder, types.StopLimitOrder:
		book.AddStop(o)
	case types.LimitOrder:
		book.Rest(o)
	}
}

// Market returns a registered market, or nil.
func (e *Engine) Market(id string) *types.Market { return e.markets[id] }

// Book returns the order book for a spot market, or nil.
func (e *Engine) Book(market string) *orderbook.Book { return e.books[market] }

// MarketIDs returns all registered market ids in sorted order.
func (e *Engine) MarketIDs() []string {
	ids := make([]string, 0, len(e.markets))
	for id := range e.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SpotPrice returns the reference price for an asset: the last trade
// price of its first (sorted) active spot market, falling back to the
// book midpoint. Returns 0 when no market quotes the asset.
func (e *Engine) SpotPrice(asset string) int64 {
	for _, id := range e.MarketIDs() {
		mkt := e.markets[id]
		if mkt.Type != types.SpotMarket || mkt.BaseAsset != asset || mkt.Status != types.MarketActive {
			continue
		}
		book := e.books[id]
		if last := book.LastPrice(); last > 0 {
			return last
		}
		if mid := book.MidPrice(); mid > 0 {
			return mid
		}
	}
	return 0
}

// validateOrder rejects malformed orders before any state is touched.
func (e *Engine) validateOrder(o *types.Order) (*types.Market, error) {
	mkt, ok := e.markets[o.Market]
	if !ok {
		return nil, fmt.Errorf("%w: unknown market %s", types.ErrValidation, o.Market)
	}
	if mkt.Status != types.MarketActive {
		return nil, fmt.Errorf("%w: market %s is %s", types.ErrValidation, mkt.ID, mkt.Status)
	}
	if mkt.Type != types.SpotMarket {
		return nil, fmt.Errorf("%w: market %s does not trade on the book", types.ErrValidation, mkt.ID)
	}
	if o.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", types.ErrValidation)
	}
	if o.Qty < mkt.MinOrderSize {
		return nil, fmt.Errorf("%w: quantity %d below market minimum %d", types.ErrValidation, o.Qty, mkt.MinOrderSize)
	}

	needsPrice := o.Type == types.LimitOrder || o.Type == types.StopLimitOrder
	if needsPrice {
		if o.Price <= 0 {
			return nil, fmt.Errorf("%w: %s order requires a price", types.ErrValidation, o.Type)
		}
		if o.Price%mkt.TickSize != 0 {
			return nil, fmt.Errorf("%w: price %d not a multiple of tick size %d", types.ErrValidation, o.Price, mkt.TickSize)
		}
	} else if o.Price != 0 {
		return nil, fmt.Errorf("%w: %s order must not carry a price", types.ErrValidation, o.Type)
	}

	if o.Type == types.StopOrder || o.Type == types.StopLimitOrder {
		if o.StopPrice <= 0 {
			return nil, fmt.Errorf("%w: stop order requires a stop price", types.ErrValidation)
		}
	} else if o.StopPrice != 0 {
		return nil, fmt.Errorf("%w: %s order must not carry a stop price", types.ErrValidation, o.Type)
	}

	switch o.TIF {
	case types.GTD:
		if o.ExpireAt <= 0 {
			return nil, fmt.Errorf("%w: GTD order requires a deadline", types.ErrValidation)
		}
	case types.IOC, types.FOK:
		if o.Type == types.StopOrder || o.Type == types.StopLimitOrder {
			return nil, fmt.Errorf("%w: stop orders cannot be %s", types.ErrValidation, o.TIF)
		}
	}
	return mkt, nil
}

// PlaceOrder validates, reserves collateral for, and matches an order.
// The order's ID and arrival sequence are assigned here. Returns the
// trades produced (including by stop orders the fills triggered).
//
// Validation failures mutate nothing. Business rejections (unmatchable
// FOK, insufficient collateral) persist the order as Rejected and leave
// every book and every other order untouched.
func (e *Engine) PlaceOrder(rec *events.Recorder, o *types.Order, blockTime int64) ([]*types.Trade, error) {
	mkt, err := e.validateOrder(o)
	if err != nil {
		return nil, err
	}

	if o.ID, err = e.st.NextSeq(seqOrder); err != nil {
		return nil, err
	}
	if o.Seq, err = e.st.NextSeq(seqArrival); err != nil {
		return nil, err
	}
	o.Status = types.OrderSubmitted
	o.CreatedAt = blockTime
	o.UpdatedAt = blockTime

	if o.Type == types.StopOrder || o.Type == types.StopLimitOrder {
		if err := e.st.SetOrder(o); err != nil {
			return nil, err
		}
		e.books[mkt.ID].AddStop(o)
		return nil, nil
	}

	trades, err := e.processOrder(rec, mkt, o, blockTime)
	if err != nil {
		return nil, err
	}

	more, err := e.runTriggered(rec, mkt, blockTime)
	if err != nil {
		return nil, err
	}
	return append(trades, more...), nil
}

// processOrder reserves collateral, matches, and applies time-in-force
// policy for one market or limit order.
func (e *Engine) processOrder(rec *events.Recorder, mkt *types.Market, o *types.Order, blockTime int64) ([]*types.Trade, error) {
	book := e.books[mkt.ID]
	hasLimit := o.Type == types.LimitOrder

	// FOK: compute total matchable quantity before touching anything.
	if o.TIF == types.FOK {
		matchable, _ := book.MatchableQty(o.Side, o.Qty, o.Price, hasLimit)
		if matchable < o.Qty {
			o.Close(types.OrderRejected, blockTime)
			if err := e.st.SetOrder(o); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: FOK order %d matchable %d of %d", types.ErrValidation, o.ID, matchable, o.Qty)
		}
	}

	if err := e.reserve(o, mkt, book); err != nil {
		o.Close(types.OrderRejected, blockTime)
		if serr := e.st.SetOrder(o); serr != nil {
			return nil, serr
		}
		return nil, fmt.Errorf("%w: order %d: %v", types.ErrInsufficientCollateral, o.ID, err)
	}

	fills := book.Match(o, hasLimit, blockTime)
	trades := make([]*types.Trade, 0, len(fills))
	for _, f := range fills {
		t, err := e.settleFill(rec, mkt, o, f, blockTime)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	// Time-in-force: decide what happens to the remainder.
	if o.Remaining() > 0 {
		rest := o.Type == types.LimitOrder && (o.TIF == types.GTC || o.TIF == types.GTD)
		if rest {
			book.Rest(o)
		} else {
			o.Close(types.OrderCancelled, blockTime)
			if err := e.releaseReservation(o, mkt); err != nil {
				return nil, err
			}
		}
	}
	if err := e.st.SetOrder(o); err != nil {
		return nil, err
	}
	return trades, nil
}

// reserve locks the collateral an order needs before it may match: the
// full quote cost for buys (exact crossing cost for market buys), the
// base quantity for sells. All-or-nothing.
func (e *Engine) reserve(o *types.Order, mkt *types.Market, book *orderbook.Book) error {
	reason := marginReason(mkt.ID)
	if o.Side == types.Buy {
		var amount int64
		if o.Type == types.LimitOrder {
			amount = o.Qty * o.Price
		} else {
			// Market buy: reserve the exact cost of the quantity that
			// will cross, computed against the same book state the
			// match will see.
			_, amount = book.MatchableQty(o.Side, o.Qty, 0, false)
		}
		if err := e.col.Require(o.Trader, amount, mkt.QuoteAsset, reason); err != nil {
			return err
		}
		o.LockedAmount = amount
		o.LockedAsset = mkt.QuoteAsset
		return nil
	}

	if err := e.col.Require(o.Trader, o.Qty, mkt.BaseAsset, reason); err != nil {
		return err
	}
	o.LockedAmount = o.Qty
	o.LockedAsset = mkt.BaseAsset
	return nil
}

// releaseReservation returns an order's remaining locked collateral.
func (e *Engine) releaseReservation(o *types.Order, mkt *types.Market) error {
	if o.LockedAmount <= 0 {
		return nil
	}
	_, err := e.col.Release(o.Trader, o.LockedAmount, o.LockedAsset, marginReason(mkt.ID))
	if err != nil {
		return err
	}
	o.LockedAmount = 0
	return nil
}

// settleFill moves money for one fill, updates both portfolios and
// positions, and records the trade. Reservations made in reserve()
// guarantee the transfers cannot come up short; a shortfall here is an
// internal bug and panics.
func (e *Engine) settleFill(rec *events.Recorder, mkt *types.Market, taker *types.Order, f orderbook.Fill, blockTime int64) (*types.Trade, error) {
	var buyOrder, sellOrder *types.Order
	if taker.Side == types.Buy {
		buyOrder, sellOrder = taker, f.Maker
	} else {
		buyOrder, sellOrder = f.Maker, taker
	}

	reason := marginReason(mkt.ID)
	cost := f.Qty * f.Price

	paid, err := e.col.PayFromCollateral(buyOrder.Trader, sellOrder.Trader, cost, mkt.QuoteAsset, reason)
	if err != nil {
		return nil, err
	}
	if paid != cost {
		panic(fmt.Sprintf("invariant violation: fill paid %d of %d quote", paid, cost))
	}

	delivered, err := e.col.PayFromCollateral(sellOrder.Trader, buyOrder.Trader, f.Qty, mkt.BaseAsset, reason)
	if err != nil {
		return nil, err
	}
	if delivered != f.Qty {
		panic(fmt.Sprintf("invariant violation: fill delivered %d of %d base", delivered, f.Qty))
	}

	// Price improvement goes to the aggressor: a buy reserved at its
	// limit releases the difference immediately.
	if buyOrder.Type == types.LimitOrder && buyOrder.Price > f.Price {
		excess := f.Qty * (buyOrder.Price - f.Price)
		if _, err := e.col.Release(buyOrder.Trader, excess, mkt.QuoteAsset, reason); err != nil {
			return nil, err
		}
		buyOrder.LockedAmount -= excess
	}
	if buyOrder.Type == types.LimitOrder {
		buyOrder.LockedAmount -= f.Qty * f.Price
	} else {
		buyOrder.LockedAmount -= cost
	}
	sellOrder.LockedAmount -= f.Qty

	// Position updates on both sides.
	buyPf, err := e.st.Portfolio(buyOrder.Trader)
	if err != nil {
		return nil, err
	}
	buyPf.ApplyFill(mkt.ID, f.Qty, f.Price, blockTime)
	if err := e.st.SetPortfolio(buyPf); err != nil {
		return nil, err
	}

	sellPf, err := e.st.Portfolio(sellOrder.Trader)
	if err != nil {
		return nil, err
	}
	sellPf.ApplyFill(mkt.ID, -f.Qty, f.Price, blockTime)
	if err := e.st.SetPortfolio(sellPf); err != nil {
		return nil, err
	}

	id, err := e.st.NextSeq(seqTrade)
	if err != nil {
		return nil, err
	}
	trade := &types.Trade{
		ID:          id,
		Market:      mkt.ID,
		Buyer:       buyOrder.Trader,
		Seller:      sellOrder.Trader,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		Qty:         f.Qty,
		Price:       f.Price,
		Timestamp:   blockTime,
	}
	if err := e.st.SetTrade(trade); err != nil {
		return nil, err
	}
	if err := e.st.SetOrder(f.Maker); err != nil {
		return nil, err
	}
	if mkt.LastPrice != f.Price {
		mkt.LastPrice = f.Price
		if err := e.st.SetMarket(mkt); err != nil {
			return nil, err
		}
	}

	rec.Emit(events.TypeTrade, map[string]string{
		"trade_id": strconv.FormatUint(trade.ID, 10),
		"market":   mkt.ID,
		"buyer":    trade.Buyer.Hex(),
		"seller":   trade.Seller.Hex(),
		"price":    strconv.FormatInt(trade.Price, 10),
		"quantity": strconv.FormatInt(trade.Qty, 10),
	})
	return trade, nil
}

// runTriggered drains the stop index after trades moved the last price.
// Triggered stops inject as market/limit orders, whose own fills may
// trigger further stops; the loop runs until quiescent.
func (e *Engine) runTriggered(rec *events.Recorder, mkt *types.Market, blockTime int64) ([]*types.Trade, error) {
	book := e.books[mkt.ID]
	var trades []*types.Trade
	for {
		triggered := book.TakeTriggered()
		if len(triggered) == 0 {
			return trades, nil
		}
		for _, o := range triggered {
			rec.Emit(events.TypeStopTriggered, map[string]string{
				"order_id":   strconv.FormatUint(o.ID, 10),
				"market":     mkt.ID,
				"stop_price": strconv.FormatInt(o.StopPrice, 10),
			})
			if o.Type == types.StopOrder {
				o.Type = types.MarketOrder
			} else {
				o.Type = types.LimitOrder
			}
			o.StopPrice = 0

			ts, err := e.processOrder(rec, mkt, o, blockTime)
			if err != nil {
				// Collateral came up short at trigger time: the order
				// was closed Rejected, the book is untouched. Isolated
				// like any other per-order failure.
				e.log.Infow("stop_order_rejected", "order_id", o.ID, "err", err)
				continue
			}
			trades = append(trades, ts...)
		}
	}
}

// CancelOrder removes a resting or parked order. Cancellation is
// best-effort: quantity already matched earlier in the block stays
// matched, only the remainder is cancelled.
func (e *Engine) CancelOrder(rec *events.Recorder, market string, id uint64, blockTime int64) error {
	mkt, ok := e.markets[market]
	if !ok {
		return fmt.Errorf("%w: unknown market %s", types.ErrValidation, market)
	}
	book := e.books[market]
	if book == nil {
		return fmt.Errorf("%w: market %s has no book", types.ErrValidation, market)
	}

	o := book.Remove(id)
	if o == nil {
		o = book.RemoveStop(id)
	}
	if o == nil {
		return fmt.Errorf("%w: order %d not open on %s", types.ErrNotFound, id, market)
	}

	o.Close(types.OrderCancelled, blockTime)
	if err := e.releaseReservation(o, mkt); err != nil {
		return err
	}
	if err := e.st.SetOrder(o); err != nil {
		return err
	}
	rec.Emit(events.TypeOrderCancelled, map[string]string{
		"order_id": strconv.FormatUint(o.ID, 10),
		"market":   market,
	})
	return nil
}

// SweepExpired expires every resting GTD order whose deadline is at or
// before blockTime. Runs once per block, before any new matching, and
// uses block time only so replicas expire identically.
func (e *Engine) SweepExpired(rec *events.Recorder, blockTime int64) error {
	for _, id := range e.MarketIDs() {
		book := e.books[id]
		if book == nil {
			continue
		}
		mkt := e.markets[id]
		for _, o := range book.SweepExpired(blockTime) {
			o.Close(types.OrderExpired, blockTime)
			if err := e.releaseReservation(o, mkt); err != nil {
				return err
			}
			if err := e.st.SetOrder(o); err != nil {
				return err
			}
			rec.Emit(events.TypeOrderExpired, map[string]string{
				"order_id": strconv.FormatUint(o.ID, 10),
				"market":   id,
			})
		}
	}
	return nil
}

func marginReason(market string) types.CollateralReason {
	return types.CollateralReason{Kind: types.ReasonMarginTrading, Ref: market}
}
