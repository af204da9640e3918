package orderbook

import (
	"sort"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// stopIndex holds stop and stop-limit orders until the market's last
// trade price crosses their trigger. Buy stops fire when last >= stop,
// sell stops when last <= stop.
//
// Trigger order is deterministic: buys by ascending stop price, sells by
// descending, ties by arrival sequence.
type stopIndex struct {
	buys  []*types.Order
	sells []*types.Order
}

func newStopIndex() *stopIndex {
	return &stopIndex{}
}

func (s *stopIndex) add(o *types.Order) {
	if o.Side == types.Buy {
		s.buys = append(s.buys, o)
		sort.Slice(s.buys, func(i, j int) bool {
			if s.buys[i].StopPrice != s.buys[j].StopPrice {
				return s.buys[i].StopPrice < s.buys[j].StopPrice
			}
			return s.buys[i].Seq < s.buys[j].Seq
		})
	} else {
		s.sells = append(s.sells, o)
		sort.Slice(s.sells, func(i, j int) bool {
			if s.sells[i].StopPrice != s.sells[j].StopPrice {
				return s.sells[i].StopPrice > s.sells[j].StopPrice
			}
			return s.sells[i].Seq < s.sells[j].Seq
		})
	}
}

func (s *stopIndex) remove(id uint64) *types.Order {
	for i, o := range s.buys {
		if o.ID == id {
			s.buys = append(s.buys[:i:i], s.buys[i+1:]...)
			return o
		}
	}
	for i, o := range s.sells {
		if o.ID == id {
			s.sells = append(s.sells[:i:i], s.sells[i+1:]...)
			return o
		}
	}
	return nil
}

// takeTriggered pops all orders whose trigger price last has crossed.
// Both slices are sorted trigger-first, so triggered orders form a
// prefix.
func (s *stopIndex) takeTriggered(last int64) []*types.Order {
	var out []*types.Order

	n := 0
	for n < len(s.buys) && last >= s.buys[n].StopPrice {
		n++
	}
	out = append(out, s.buys[:n]...)
	s.buys = s.buys[n:]

	n = 0
	for n < len(s.sells) && last <= s.sells[n].StopPrice {
		n++
	}
	out = append(out, s.sells[:n]...)
	s.sells = s.sells[n:]

	return out
}
