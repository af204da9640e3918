package optimic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimic-protocol/optimic/pkg/abci"
	"github.com/optimic-protocol/optimic/pkg/app/core/orderbook"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// OrderbookSnapshot is the aggregated depth view served over queries.
type OrderbookSnapshot struct {
	Market    string                 `json:"market"`
	Bids      []orderbook.PriceLevel `json:"bids"`
	Asks      []orderbook.PriceLevel `json:"asks"`
	LastPrice int64                  `json:"last_price"`
	BestBid   int64                  `json:"best_bid"`
	BestAsk   int64                  `json:"best_ask"`
}

// QuoteRequest carries the pricing inputs for option_quote queries.
type QuoteRequest struct {
	Rate float64 `json:"rate"`
	Vol  float64 `json:"vol"`
}

// QuoteResponse is an advisory theoretical valuation.
type QuoteResponse struct {
	OptionID string  `json:"option_id"`
	Price    float64 `json:"price"`
	Greeks   any     `json:"greeks"`
}

// Query serves read-only state lookups. Paths are slash-separated:
// params, markets, market/<id>, orderbook/<market>, portfolio/<addr>,
// collateral/<addr>, account/<addr>, order/<id>, trade/<id>,
// option/<id>, options/<underlying>, option_quote/<id>.
func (a *App) Query(req abci.RequestQuery) abci.ResponseQuery {
	a.mu.Lock()
	defer a.mu.Unlock()

	head, rest, _ := strings.Cut(req.Path, "/")
	v, err := a.query(head, rest, req.Data)
	if err != nil {
		return abci.ResponseQuery{Code: errCode(err), Log: err.Error()}
	}
	raw, merr := json.Marshal(v)
	if merr != nil {
		return abci.ResponseQuery{Code: abci.CodeInternal, Log: merr.Error()}
	}
	return abci.ResponseQuery{Code: abci.CodeOK, Value: raw}
}

func (a *App) query(head, rest string, data []byte) (any, error) {
	switch head {
	case "params":
		return a.params, nil

	case "markets":
		ids := a.eng.MarketIDs()
		out := make([]*types.Market, 0, len(ids))
		for _, id := range ids {
			out = append(out, a.eng.Market(id))
		}
		return out, nil

	case "market":
		mkt := a.eng.Market(rest)
		if mkt == nil {
			return nil, fmt.Errorf("%w: market %s", types.ErrNotFound, rest)
		}
		return mkt, nil

	case "orderbook":
		book := a.eng.Book(rest)
		if book == nil {
			return nil, fmt.Errorf("%w: no book for %s", types.ErrNotFound, rest)
		}
		return &OrderbookSnapshot{
			Market:    rest,
			Bids:      book.BidLevels(),
			Asks:      book.AskLevels(),
			LastPrice: book.LastPrice(),
			BestBid:   book.BestBid(),
			BestAsk:   book.BestAsk(),
		}, nil

	case "portfolio":
		return a.st.Portfolio(common.HexToAddress(rest))

	case "collateral":
		return a.st.CollateralLedger(common.HexToAddress(rest))

	case "account":
		acc, err := a.st.Account(common.HexToAddress(rest))
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, fmt.Errorf("%w: account %s", types.ErrNotFound, rest)
		}
		return acc, nil

	case "order":
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: order id %q", types.ErrValidation, rest)
		}
		o, err := a.st.Order(id)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, fmt.Errorf("%w: order %d", types.ErrNotFound, id)
		}
		return o, nil

	case "trade":
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: trade id %q", types.ErrValidation, rest)
		}
		t, err := a.st.Trade(id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, fmt.Errorf("%w: trade %d", types.ErrNotFound, id)
		}
		return t, nil

	case "option":
		c, err := a.st.Option(rest)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("%w: option %s", types.ErrNotFound, rest)
		}
		return c, nil

	case "options":
		ids, err := a.st.OptionsChain(rest)
		if err != nil {
			return nil, err
		}
		out := make([]*types.OptionContract, 0, len(ids))
		for _, id := range ids {
			c, err := a.st.Option(id)
			if err != nil {
				return nil, err
			}
			if c != nil {
				out = append(out, c)
			}
		}
		return out, nil

	case "option_quote":
		var qr QuoteRequest
		if len(data) > 0 {
			if err := json.Unmarshal(data, &qr); err != nil {
				return nil, fmt.Errorf("%w: quote request: %v", types.ErrValidation, err)
			}
		}
		now := a.blockTime
		if now == 0 {
			now = time.Now().Unix()
		}
		price, greeks, err := a.opt.Quote(rest, qr.Rate, qr.Vol, now)
		if err != nil {
			return nil, err
		}
		return &QuoteResponse{OptionID: rest, Price: price, Greeks: greeks}, nil
	}

	return nil, fmt.Errorf("%w: unknown query path %q", types.ErrValidation, head)
}
