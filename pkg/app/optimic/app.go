// Package optimic is the application state machine: it owns the typed
// state, the matching engine, the collateral manager, and the option
// lifecycle, and exposes them through the block interface. Everything
// below this package is deterministic; all wall-clock input arrives as
// block time.
package optimic

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/abci"
	"github.com/optimic-protocol/optimic/pkg/app/core/collateral"
	"github.com/optimic-protocol/optimic/pkg/app/core/engine"
	"github.com/optimic-protocol/optimic/pkg/app/core/events"
	"github.com/optimic-protocol/optimic/pkg/app/core/options"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/state"
	"github.com/optimic-protocol/optimic/pkg/storage"
)

const seqAccount = "account"

// App implements abci.Application over the core engines.
type App struct {
	mu  sync.Mutex
	st  *state.Manager
	eng *engine.Engine
	col *collateral.Manager
	opt *options.Manager
	log *zap.SugaredLogger

	params params.ChainParams

	height      int64
	blockTime   int64
	rec         *events.Recorder
	eventCursor int

	lastAppHash []byte
	sink        func([]events.Event)
}

// New builds the application over store. A fresh store is initialized
// from genesis and committed; an existing store is resumed, with open
// orders replayed onto their books in id order.
func New(store storage.Store, genesis Genesis, log *zap.SugaredLogger) (*App, error) {
	st := state.NewManager(store)
	a := &App{st: st, log: log}

	p, err := st.Params()
	if err != nil {
		return nil, err
	}
	if p == nil {
		gp, err := buildParams(genesis)
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		a.params = gp
	} else {
		a.params = *p
	}

	a.col = collateral.NewManager(st, a.params.Collateral, a.params.Treasury, log)
	a.eng = engine.New(st, a.col, log)
	a.opt = options.NewManager(st, a.col, a.eng, a.params, log)

	if p == nil {
		if err := a.initGenesis(genesis); err != nil {
			st.Discard()
			return nil, err
		}
		if err := st.SetLastCommitted(state.Committed{Height: 0}); err != nil {
			return nil, err
		}
		hash, err := st.Commit()
		if err != nil {
			return nil, err
		}
		a.lastAppHash = hash
		log.Infow("genesis_initialized", "chain_id", genesis.ChainID, "app_hash", fmt.Sprintf("%x", hash))
		return a, nil
	}

	if err := a.restore(); err != nil {
		return nil, err
	}
	return a, nil
}

// restore reloads markets and open orders after a restart.
func (a *App) restore() error {
	committed, err := a.st.LastCommitted()
	if err != nil {
		return err
	}
	a.height = committed.Height
	a.lastAppHash = committed.AppHash

	index, err := a.st.MarketIndex()
	if err != nil {
		return err
	}
	for _, id := range index {
		mkt, err := a.st.Market(id)
		if err != nil {
			return err
		}
		if mkt == nil {
			return fmt.Errorf("%w: indexed market %s missing", types.ErrState, id)
		}
		a.eng.Restore(mkt)
	}

	maxOrder, err := a.st.Seq("order")
	if err != nil {
		return err
	}
	for id := uint64(1); id <= maxOrder; id++ {
		o, err := a.st.Order(id)
		if err != nil {
			return err
		}
		if o == nil || o.Status.Terminal() {
			continue
		}
		a.eng.RestoreOrder(o)
	}
	a.log.Infow("state_restored", "height", a.height, "markets", len(index), "orders_scanned", maxOrder)
	return nil
}

// SetEventSink registers a callback invoked with each committed block's
// events. Called once at startup, before block production begins.
func (a *App) SetEventSink(sink func([]events.Event)) { a.sink = sink }

// State exposes the typed state for read-only query handlers.
func (a *App) State() *state.Manager { return a.st }

// Engine exposes the matching engine for read-only market data.
func (a *App) Engine() *engine.Engine { return a.eng }

// Options exposes the option manager for advisory pricing.
func (a *App) Options() *options.Manager { return a.opt }

// Params returns the active chain parameters.
func (a *App) Params() params.ChainParams { return a.params }

func (a *App) Info() abci.ResponseInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return abci.ResponseInfo{LastBlockHeight: a.height, LastBlockAppHash: a.lastAppHash}
}

// BeginBlock opens a block: a fresh event recorder, then the expiry
// sweep of good-till-date orders against the new block time.
func (a *App) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.height = req.Height
	a.blockTime = req.Time
	a.rec = events.NewRecorder(uint64(req.Height), req.Time)
	a.eventCursor = 0

	if err := a.eng.SweepExpired(a.rec, a.blockTime); err != nil {
		// Sweep failures are state-layer errors; matching must not
		// proceed on a store that cannot be read.
		panic(fmt.Sprintf("begin block %d: %v", req.Height, err))
	}
	return abci.ResponseBeginBlock{Events: a.takeEvents()}
}

// CheckTx admits transactions to the mempool on stateless validity.
func (a *App) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	env, err := DecodeTx(req.Tx)
	if err == nil {
		err = checkTx(env)
	}
	if err != nil {
		return abci.ResponseCheckTx{Code: errCode(err), Log: err.Error()}
	}
	return abci.ResponseCheckTx{Code: abci.CodeOK}
}

// DeliverTx executes one transaction. Business failures are isolated:
// the transaction reports its error code and the block carries on.
// Storage failures are fatal to the whole block: partial writes must
// never reach Commit.
func (a *App) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	a.mu.Lock()
	defer a.mu.Unlock()

	env, err := DecodeTx(req.Tx)
	if err == nil {
		err = a.dispatch(env)
	}
	if err != nil {
		if errors.Is(err, types.ErrState) {
			panic(fmt.Sprintf("deliver tx at height %d: %v", a.height, err))
		}
		return abci.ResponseDeliverTx{Code: errCode(err), Log: err.Error(), Events: a.takeEvents()}
	}
	return abci.ResponseDeliverTx{Code: abci.CodeOK, Events: a.takeEvents()}
}

func (a *App) dispatch(env *Envelope) error {
	switch env.Type {
	case TxDeposit:
		var tx DepositTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.deliverDeposit(tx)
	case TxWithdraw:
		var tx WithdrawTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.deliverWithdraw(tx)
	case TxPlaceOrder:
		var tx PlaceOrderTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.deliverPlaceOrder(tx)
	case TxCancelOrder:
		var tx CancelOrderTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.deliverCancelOrder(tx)
	case TxPostCollateral:
		var tx PostCollateralTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.deliverPostCollateral(tx)
	case TxCreateOption:
		var tx CreateOptionTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.deliverCreateOption(tx)
	case TxOpenOptionPosition:
		var tx OpenOptionPositionTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.opt.OpenPosition(a.rec, tx.Buyer, tx.Seller, tx.OptionID, tx.Qty, tx.Premium, a.blockTime)
	case TxExerciseOption:
		var tx ExerciseOptionTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return a.opt.Exercise(a.rec, tx.Holder, tx.OptionID, tx.Qty, a.blockTime)
	}
	return fmt.Errorf("%w: unknown tx type %q", types.ErrValidation, env.Type)
}

func (a *App) deliverDeposit(tx DepositTx) error {
	if err := checkTransfer(tx.Asset, tx.Amount); err != nil {
		return err
	}
	acc, err := a.st.Account(tx.Address)
	if err != nil {
		return err
	}
	if acc == nil {
		num, err := a.st.NextSeq(seqAccount)
		if err != nil {
			return err
		}
		if err := a.st.SetAccount(&types.Account{Address: tx.Address, AccountNumber: num}); err != nil {
			return err
		}
	}
	pf, err := a.st.Portfolio(tx.Address)
	if err != nil {
		return err
	}
	pf.Credit(tx.Asset, tx.Amount)
	return a.st.SetPortfolio(pf)
}

func (a *App) deliverWithdraw(tx WithdrawTx) error {
	if err := checkTransfer(tx.Asset, tx.Amount); err != nil {
		return err
	}
	pf, err := a.st.Portfolio(tx.Address)
	if err != nil {
		return err
	}
	if err := pf.Debit(tx.Asset, tx.Amount); err != nil {
		return err
	}
	return a.st.SetPortfolio(pf)
}

func (a *App) deliverPlaceOrder(tx PlaceOrderTx) error {
	side, err := parseSide(tx.Side)
	if err != nil {
		return err
	}
	otype, err := parseOrderType(tx.OrderType)
	if err != nil {
		return err
	}
	tif, err := parseTIF(tx.TIF)
	if err != nil {
		return err
	}
	o := &types.Order{
		Trader:    tx.Trader,
		Market:    tx.Market,
		Side:      side,
		Type:      otype,
		Qty:       tx.Qty,
		Price:     tx.Price,
		StopPrice: tx.StopPrice,
		TIF:       tif,
		ExpireAt:  tx.ExpireAt,
	}
	_, err = a.eng.PlaceOrder(a.rec, o, a.blockTime)
	return err
}

func (a *App) deliverCancelOrder(tx CancelOrderTx) error {
	o, err := a.st.Order(tx.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("%w: order %d", types.ErrNotFound, tx.OrderID)
	}
	if o.Trader != tx.Trader {
		return fmt.Errorf("%w: order %d not owned by %s", types.ErrValidation, tx.OrderID, tx.Trader.Hex())
	}
	return a.eng.CancelOrder(a.rec, tx.Market, tx.OrderID, a.blockTime)
}

func (a *App) deliverPostCollateral(tx PostCollateralTx) error {
	if err := checkTransfer(tx.Asset, tx.Amount); err != nil {
		return err
	}
	return a.col.PostCollateral(tx.Address, tx.Amount, tx.Asset, tx.Market)
}

func (a *App) deliverCreateOption(tx CreateOptionTx) error {
	otype, err := parseOptionType(tx.OptionType)
	if err != nil {
		return err
	}
	style, err := parseStyle(tx.Style)
	if err != nil {
		return err
	}
	settlement, err := parseSettlement(tx.Settlement)
	if err != nil {
		return err
	}
	_, err = a.opt.CreateOption(a.rec, tx.Underlying, tx.Strike, tx.Expiry, otype, style, settlement, a.blockTime)
	return err
}

// EndBlock closes the block with the option expiry sweep.
func (a *App) EndBlock(req abci.RequestEndBlock) abci.ResponseEndBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.opt.ExpirySweep(a.rec, a.blockTime); err != nil {
		panic(fmt.Sprintf("end block %d: %v", req.Height, err))
	}
	return abci.ResponseEndBlock{Events: a.takeEvents()}
}

// Commit persists the block atomically and returns the state root. The
// stored summary carries the previous root, chaining block hashes.
func (a *App) Commit() (abci.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.st.SetLastCommitted(state.Committed{Height: a.height, AppHash: a.lastAppHash}); err != nil {
		return abci.ResponseCommit{}, err
	}
	hash, err := a.st.Commit()
	if err != nil {
		a.st.Discard()
		return abci.ResponseCommit{}, err
	}
	a.lastAppHash = hash

	if a.sink != nil && a.rec != nil {
		if evs := a.rec.Events(); len(evs) > 0 {
			a.sink(evs)
		}
	}
	return abci.ResponseCommit{AppHash: hash}, nil
}

// takeEvents returns the events emitted since the previous call.
func (a *App) takeEvents() []events.Event {
	all := a.rec.Events()
	out := all[a.eventCursor:]
	a.eventCursor = len(all)
	return out
}

func errCode(err error) uint32 {
	switch {
	case errors.Is(err, types.ErrValidation):
		return abci.CodeInvalid
	case errors.Is(err, types.ErrInsufficientBalance):
		return abci.CodeInsufficientFunds
	case errors.Is(err, types.ErrInsufficientCollateral):
		return abci.CodeInsufficientCollateral
	case errors.Is(err, types.ErrNotFound):
		return abci.CodeNotFound
	default:
		return abci.CodeInternal
	}
}
