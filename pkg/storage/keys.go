package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Canonical key schema:
//
//	account:<address>          → Account
//	portfolio:<address>        → Portfolio
//	market:<id>                → Market
//	order:<id>                 → Order (id zero-padded for key-order scans)
//	trade:<id>                 → Trade
//	option:<id>                → OptionContract
//	chain:<underlying>         → OptionsChain
//	optpos:<id>:<address>      → per-account option position
//	seq:<name>                 → uint64 counters (order/trade ids, arrival seq)
//	params                     → ChainParams
const (
	prefixAccount    = "account:"
	prefixPortfolio  = "portfolio:"
	prefixMarket     = "market:"
	prefixOrder      = "order:"
	prefixTrade      = "trade:"
	prefixOption     = "option:"
	prefixChain      = "chain:"
	prefixOptionPos  = "optpos:"
	prefixCollateral = "collateral:"
	prefixSeq        = "seq:"
)

// KeyParams is the chain parameter record.
var KeyParams = []byte("params")

func KeyAccount(addr common.Address) []byte {
	return []byte(prefixAccount + addr.Hex())
}

func KeyPortfolio(addr common.Address) []byte {
	return []byte(prefixPortfolio + addr.Hex())
}

func KeyMarket(id string) []byte {
	return []byte(prefixMarket + id)
}

// KeyOrder zero-pads the id so lexicographic key order matches numeric
// order for prefix scans.
func KeyOrder(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func KeyTrade(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, id))
}

func KeyOption(id string) []byte {
	return []byte(prefixOption + id)
}

func KeyOptionsChain(underlying string) []byte {
	return []byte(prefixChain + underlying)
}

func KeyOptionPositions(optionID string) []byte {
	return []byte(prefixOptionPos + optionID)
}

func KeyCollateral(addr common.Address) []byte {
	return []byte(prefixCollateral + addr.Hex())
}

func KeySeq(name string) []byte {
	return []byte(prefixSeq + name)
}

// KeyOptionIndex lists every option id ever created, in creation order.
var KeyOptionIndex = []byte("options_index")

// KeyLastCommitted records the last committed height and app hash.
var KeyLastCommitted = []byte("last_committed")

// KeyMarketIndex lists every registered market id, in creation order.
var KeyMarketIndex = []byte("markets_index")
