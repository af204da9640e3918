// Package orderbook implements the per-market book: two price-ordered
// sides (bids descending, asks ascending), each price level a FIFO queue
// of resting orders, plus the stop-order trigger index.
//
// The book owns order quantity/status mutation during matching; money
// movement, persistence, and event emission belong to the engine layer.
package orderbook

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// Fill is one match produced while placing an order.
type Fill struct {
	Maker *types.Order
	Price int64
	Qty   int64
}

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"quantity"`
	Count int   `json:"order_count"`
}

// Book is the order book for a single market. A single writer mutates it
// per block; snapshot reads take the read lock.
type Book struct {
	mu sync.RWMutex

	market string

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	// price -> FIFO queue in arrival order
	bids map[int64][]*types.Order
	asks map[int64][]*types.Order

	// order id -> (price, side) for O(1) cancellation
	index map[uint64]bookRef

	stops *stopIndex

	lastPrice int64
}

type bookRef struct {
	price int64
	side  types.Side
}

// New creates an empty book for market.
func New(market string) *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		market:  market,
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64][]*types.Order),
		asks:    make(map[int64][]*types.Order),
		index:   make(map[uint64]bookRef),
		stops:   newStopIndex(),
	}
}

// Market returns the market id this book serves.
func (b *Book) Market() string { return b.market }

func (b *Book) bestBid() (int64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

func (b *Book) bestAsk() (int64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// crosses reports whether an opposing level at price is matchable by the
// taker. A taker without a limit (market order) crosses everything.
func crosses(side types.Side, hasLimit bool, limit, price int64) bool {
	if !hasLimit {
		return true
	}
	if side == types.Buy {
		return price <= limit
	}
	return price >= limit
}

// MatchableQty walks the opposing side in price order and returns how
// much of qty could fill under the taker's limit, plus the exact quote
// cost of those fills. Used for FOK prechecks and market-buy collateral
// reservation; mutates nothing.
func (b *Book) MatchableQty(side types.Side, qty, limit int64, hasLimit bool) (matchable, cost int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels, order := b.opposingLevels(side)
	for _, price := range order {
		if matchable == qty {
			break
		}
		if !crosses(side, hasLimit, limit, price) {
			break
		}
		for _, maker := range levels[price] {
			take := min64(qty-matchable, maker.Remaining())
			matchable += take
			cost += take * price
			if matchable == qty {
				break
			}
		}
	}
	return matchable, cost
}

// opposingLevels returns the side a taker matches against and its price
// keys sorted best-first.
func (b *Book) opposingLevels(side types.Side) (map[int64][]*types.Order, []int64) {
	var levels map[int64][]*types.Order
	if side == types.Buy {
		levels = b.asks
	} else {
		levels = b.bids
	}
	prices := make([]int64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	if side == types.Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	}
	return levels, prices
}

// Match runs the core loop: while the taker has remaining quantity and
// the best opposing level crosses, fill min(remaining, maker.remaining)
// at the maker's resting price. Price improvement always favors the
// taker. Both orders' filled quantities and statuses advance; fully
// filled makers leave their level.
//
// The taker is NOT rested here; the engine decides resting based on
// time-in-force.
func (b *Book) Match(taker *types.Order, hasLimit bool, blockTime int64) []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fills []Fill
	for taker.Remaining() > 0 {
		var (
			price int64
			ok    bool
		)
		if taker.Side == types.Buy {
			price, ok = b.bestAsk()
		} else {
			price, ok = b.bestBid()
		}
		if !ok || !crosses(taker.Side, hasLimit, taker.Price, price) {
			break
		}

		level := b.levelFor(taker.Side.Opposite(), price)
		if len(level) == 0 {
			b.dropLevel(taker.Side.Opposite(), price)
			continue
		}

		maker := level[0]
		qty := min64(taker.Remaining(), maker.Remaining())

		taker.ApplyFill(qty, blockTime)
		maker.ApplyFill(qty, blockTime)
		fills = append(fills, Fill{Maker: maker, Price: price, Qty: qty})
		b.lastPrice = price

		if maker.Remaining() == 0 {
			b.setLevel(taker.Side.Opposite(), price, level[1:])
			delete(b.index, maker.ID)
			if len(b.levelFor(taker.Side.Opposite(), price)) == 0 {
				b.dropLevel(taker.Side.Opposite(), price)
			}
		}
	}
	return fills
}

// Rest places an order with remaining quantity on its side of the book,
// at the tail of its price level (FIFO by arrival).
func (b *Book) Rest(o *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	level := b.levelFor(o.Side, o.Price)
	if len(level) == 0 {
		if o.Side == types.Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}
	b.setLevel(o.Side, o.Price, append(level, o))
	b.index[o.ID] = bookRef{price: o.Price, side: o.Side}
}

// Remove takes a resting order off the book. Returns nil if the order is
// not resting (already filled, or never rested).
func (b *Book) Remove(id uint64) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Book) removeLocked(id uint64) *types.Order {
	ref, ok := b.index[id]
	if !ok {
		return nil
	}
	level := b.levelFor(ref.side, ref.price)
	for i, o := range level {
		if o.ID != id {
			continue
		}
		b.setLevel(ref.side, ref.price, append(level[:i:i], level[i+1:]...))
		if len(b.levelFor(ref.side, ref.price)) == 0 {
			b.dropLevel(ref.side, ref.price)
		}
		delete(b.index, id)
		return o
	}
	panic("invariant violation: order in index but not on its level")
}

// SweepExpired removes every resting GTD order whose deadline has passed
// at blockTime. Runs once per block before new matching begins. The
// caller closes the returned orders and releases their collateral.
func (b *Book) SweepExpired(blockTime int64) []*types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []uint64
	for id, ref := range b.index {
		for _, o := range b.levelFor(ref.side, ref.price) {
			if o.ID == id && o.TIF == types.GTD && o.ExpireAt <= blockTime {
				ids = append(ids, id)
			}
		}
	}
	// Deterministic removal order regardless of map iteration.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	expired := make([]*types.Order, 0, len(ids))
	for _, id := range ids {
		if o := b.removeLocked(id); o != nil {
			expired = append(expired, o)
		}
	}
	return expired
}

// AddStop parks a stop / stop-limit order in the trigger index.
func (b *Book) AddStop(o *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops.add(o)
}

// RemoveStop cancels a parked stop order.
func (b *Book) RemoveStop(id uint64) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops.remove(id)
}

// TakeTriggered pops every stop order whose trigger price the last trade
// price has crossed, in deterministic trigger order.
func (b *Book) TakeTriggered() []*types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastPrice == 0 {
		return nil
	}
	return b.stops.takeTriggered(b.lastPrice)
}

func (b *Book) levelFor(side types.Side, price int64) []*types.Order {
	if side == types.Buy {
		return b.bids[price]
	}
	return b.asks[price]
}

func (b *Book) setLevel(side types.Side, price int64, level []*types.Order) {
	if side == types.Buy {
		b.bids[price] = level
	} else {
		b.asks[price] = level
	}
}

func (b *Book) dropLevel(side types.Side, price int64) {
	if side == types.Buy {
		delete(b.bids, price)
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
	} else {
		delete(b.asks, price)
		for i := 0; i < b.askHeap.Len(); i++ {
			if (*b.askHeap)[i] == price {
				heap.Remove(b.askHeap, i)
				return
			}
		}
	}
}

// BidLevels returns aggregated bid levels, best (highest) first.
func (b *Book) BidLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return aggregate(b.bids, func(i, j int64) bool { return i > j })
}

// AskLevels returns aggregated ask levels, best (lowest) first.
func (b *Book) AskLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return aggregate(b.asks, func(i, j int64) bool { return i < j })
}

func aggregate(levels map[int64][]*types.Order, less func(i, j int64) bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for price, orders := range levels {
		if len(orders) == 0 {
			continue
		}
		var qty int64
		for _, o := range orders {
			qty += o.Remaining()
		}
		out = append(out, PriceLevel{Price: price, Qty: qty, Count: len(orders)})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Price, out[j].Price) })
	return out
}

// LastPrice returns the most recent fill price, 0 before any trade.
func (b *Book) LastPrice() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// RestoreLastPrice seeds the last trade price from persisted market
// state after a restart.
func (b *Book) RestoreLastPrice(price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = price
}

// BestBid returns the highest bid price, 0 when empty.
func (b *Book) BestBid() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, _ := b.bestBid()
	return p
}

// BestAsk returns the lowest ask price, 0 when empty.
func (b *Book) BestAsk() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, _ := b.bestAsk()
	return p
}

// MidPrice returns the bid/ask midpoint, 0 when either side is empty.
func (b *Book) MidPrice() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, okB := b.bestBid()
	ask, okA := b.bestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid + ask) / 2
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
