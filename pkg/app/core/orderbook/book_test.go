package orderbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb2")
	carol = common.HexToAddress("0xc3")
)

var nextID uint64

func limit(trader common.Address, side types.Side, qty, price int64) *types.Order {
	nextID++
	return &types.Order{
		ID:     nextID,
		Seq:    nextID,
		Trader: trader,
		Market: "ETH-USD",
		Side:   side,
		Type:   types.LimitOrder,
		Qty:    qty,
		Price:  price,
		Status: types.OrderSubmitted,
		TIF:    types.GTC,
	}
}

func market(trader common.Address, side types.Side, qty int64) *types.Order {
	nextID++
	return &types.Order{
		ID:     nextID,
		Seq:    nextID,
		Trader: trader,
		Market: "ETH-USD",
		Side:   side,
		Type:   types.MarketOrder,
		Qty:    qty,
		Status: types.OrderSubmitted,
		TIF:    types.IOC,
	}
}

func TestMatchPricePriority(t *testing.T) {
	b := New("ETH-USD")
	b.Rest(limit(alice, types.Sell, 5, 110))
	b.Rest(limit(alice, types.Sell, 5, 100))

	taker := limit(bob, types.Buy, 5, 120)
	fills := b.Match(taker, true, 1)

	require.Len(t, fills, 1)
	require.Equal(t, int64(100), fills[0].Price, "cheapest ask fills first")
	require.Equal(t, int64(5), fills[0].Qty)
	require.Equal(t, types.OrderFilled, taker.Status)
	require.Equal(t, int64(110), b.BestAsk())
}

func TestMatchTimePriorityWithinLevel(t *testing.T) {
	b := New("ETH-USD")
	first := limit(alice, types.Sell, 5, 100)
	second := limit(bob, types.Sell, 5, 100)
	b.Rest(first)
	b.Rest(second)

	taker := limit(carol, types.Buy, 5, 100)
	fills := b.Match(taker, true, 1)

	require.Len(t, fills, 1)
	require.Same(t, first, fills[0].Maker, "earlier arrival at the same price fills first")
	require.Equal(t, types.OrderFilled, first.Status)
	require.Equal(t, types.OrderSubmitted, second.Status)
}

func TestMatchFillsAtMakerPrice(t *testing.T) {
	b := New("ETH-USD")
	b.Rest(limit(alice, types.Sell, 5, 90))

	taker := limit(bob, types.Buy, 5, 100)
	fills := b.Match(taker, true, 1)

	require.Len(t, fills, 1)
	require.Equal(t, int64(90), fills[0].Price, "price improvement goes to the taker")
	require.Equal(t, int64(90), b.LastPrice())
}

func TestMatchWalksLevels(t *testing.T) {
	b := New("ETH-USD")
	b.Rest(limit(alice, types.Sell, 3, 100))
	b.Rest(limit(bob, types.Sell, 4, 105))
	b.Rest(limit(alice, types.Sell, 10, 110))

	taker := market(carol, types.Buy, 9)
	fills := b.Match(taker, false, 1)

	require.Len(t, fills, 3)
	require.Equal(t, int64(3), fills[0].Qty)
	require.Equal(t, int64(4), fills[1].Qty)
	require.Equal(t, int64(2), fills[2].Qty)
	require.Equal(t, types.OrderFilled, taker.Status)
	require.Equal(t, types.OrderPartiallyFilled, fills[2].Maker.Status)
	require.Equal(t, int64(8), fills[2].Maker.Remaining())
}

func TestMatchRespectsLimit(t *testing.T) {
	b := New("ETH-USD")
	b.Rest(limit(alice, types.Sell, 5, 100))
	b.Rest(limit(alice, types.Sell, 5, 120))

	taker := limit(bob, types.Buy, 10, 100)
	fills := b.Match(taker, true, 1)

	require.Len(t, fills, 1)
	require.Equal(t, int64(5), taker.Remaining(), "nothing above the limit fills")
	require.Equal(t, types.OrderPartiallyFilled, taker.Status)
}

func TestMatchableQtyMutatesNothing(t *testing.T) {
	b := New("ETH-USD")
	b.Rest(limit(alice, types.Sell, 3, 100))
	b.Rest(limit(bob, types.Sell, 3, 110))

	matchable, cost := b.MatchableQty(types.Buy, 10, 0, false)
	require.Equal(t, int64(6), matchable)
	require.Equal(t, int64(3*100+3*110), cost)

	// The walk is read-only.
	asks := b.AskLevels()
	require.Len(t, asks, 2)
	require.Equal(t, int64(3), asks[0].Qty)
	require.Equal(t, int64(3), asks[1].Qty)

	matchable, cost = b.MatchableQty(types.Buy, 10, 100, true)
	require.Equal(t, int64(3), matchable, "limit excludes the 110 level")
	require.Equal(t, int64(300), cost)
}

func TestRemoveRestingOrder(t *testing.T) {
	b := New("ETH-USD")
	o := limit(alice, types.Sell, 5, 100)
	b.Rest(o)

	got := b.Remove(o.ID)
	require.Same(t, o, got)
	require.Nil(t, b.Remove(o.ID), "second removal finds nothing")
	require.Equal(t, int64(0), b.BestAsk())
}

func TestSweepExpired(t *testing.T) {
	b := New("ETH-USD")

	gtd := limit(alice, types.Sell, 5, 100)
	gtd.TIF = types.GTD
	gtd.ExpireAt = 50
	keep := limit(bob, types.Sell, 5, 100)
	later := limit(carol, types.Sell, 5, 110)
	later.TIF = types.GTD
	later.ExpireAt = 200

	b.Rest(gtd)
	b.Rest(keep)
	b.Rest(later)

	expired := b.SweepExpired(100)
	require.Len(t, expired, 1)
	require.Same(t, gtd, expired[0])

	asks := b.AskLevels()
	require.Equal(t, int64(5), asks[0].Qty, "non-GTD order survives")
	require.Equal(t, int64(5), asks[1].Qty, "unexpired GTD order survives")
}

func TestStopTriggering(t *testing.T) {
	b := New("ETH-USD")

	buyStop := limit(alice, types.Buy, 5, 0)
	buyStop.Type = types.StopOrder
	buyStop.StopPrice = 105
	sellStop := limit(bob, types.Sell, 5, 0)
	sellStop.Type = types.StopOrder
	sellStop.StopPrice = 95

	b.AddStop(buyStop)
	b.AddStop(sellStop)

	require.Empty(t, b.TakeTriggered(), "no last price yet")

	b.Rest(limit(carol, types.Sell, 1, 100))
	b.Match(market(alice, types.Buy, 1), false, 1)
	require.Equal(t, int64(100), b.LastPrice())
	require.Empty(t, b.TakeTriggered(), "100 crosses neither 105 nor 95")

	b.Rest(limit(carol, types.Sell, 1, 110))
	b.Match(market(alice, types.Buy, 1), false, 1)
	trig := b.TakeTriggered()
	require.Len(t, trig, 1)
	require.Same(t, buyStop, trig[0], "buy stop fires when last >= stop")

	b.Rest(limit(carol, types.Buy, 1, 90))
	b.Match(market(alice, types.Sell, 1), false, 1)
	trig = b.TakeTriggered()
	require.Len(t, trig, 1)
	require.Same(t, sellStop, trig[0], "sell stop fires when last <= stop")
}

func TestStopTriggerOrderDeterministic(t *testing.T) {
	b := New("ETH-USD")

	s1 := limit(alice, types.Buy, 1, 0)
	s1.Type = types.StopOrder
	s1.StopPrice = 100
	s2 := limit(bob, types.Buy, 1, 0)
	s2.Type = types.StopOrder
	s2.StopPrice = 100
	s3 := limit(carol, types.Buy, 1, 0)
	s3.Type = types.StopOrder
	s3.StopPrice = 90

	// Added out of order on purpose.
	b.AddStop(s2)
	b.AddStop(s3)
	b.AddStop(s1)

	b.Rest(limit(carol, types.Sell, 1, 100))
	b.Match(market(alice, types.Buy, 1), false, 1)

	trig := b.TakeTriggered()
	require.Len(t, trig, 3)
	require.Same(t, s3, trig[0], "lower stop price triggers first for buys")
	require.Same(t, s1, trig[1], "same stop price orders by arrival sequence")
	require.Same(t, s2, trig[2])
}

func TestRemoveStop(t *testing.T) {
	b := New("ETH-USD")
	s := limit(alice, types.Buy, 1, 0)
	s.Type = types.StopOrder
	s.StopPrice = 100
	b.AddStop(s)

	require.Same(t, s, b.RemoveStop(s.ID))
	require.Nil(t, b.RemoveStop(s.ID))
}
