package abci

import (
	"go.uber.org/zap"

	"github.com/optimic-protocol/optimic/pkg/app/core/events"
)

// TxResult pairs a delivered transaction with its outcome.
type TxResult struct {
	Tx   []byte
	Code uint32
	Log  string
}

// BlockResult is everything one executed block produced.
type BlockResult struct {
	Height    int64
	Time      int64
	AppHash   []byte
	TxResults []TxResult
	Events    []events.Event
}

// Executor drives the application through whole blocks: reap the
// mempool, then BeginBlock, DeliverTx for each transaction, EndBlock,
// Commit. One executor per application; never call concurrently.
type Executor struct {
	app      Application
	mp       *Mempool
	log      *zap.SugaredLogger
	maxBytes int64
	height   int64
}

// NewExecutor resumes block production after the application's last
// committed height.
func NewExecutor(app Application, mp *Mempool, maxBlockBytes int64, log *zap.SugaredLogger) *Executor {
	return &Executor{
		app:      app,
		mp:       mp,
		log:      log,
		maxBytes: maxBlockBytes,
		height:   app.Info().LastBlockHeight,
	}
}

// Height returns the last executed block height.
func (e *Executor) Height() int64 { return e.height }

// ExecuteBlock runs one block at the given timestamp and returns its
// result. Failed transactions are included with their error code; they
// never abort the block.
func (e *Executor) ExecuteBlock(now int64) (BlockResult, error) {
	e.height++
	txs := e.mp.Reap(e.maxBytes)

	res := BlockResult{Height: e.height, Time: now}

	begin := e.app.BeginBlock(RequestBeginBlock{Height: e.height, Time: now})
	res.Events = append(res.Events, begin.Events...)

	for _, tx := range txs {
		r := e.app.DeliverTx(RequestDeliverTx{Tx: tx})
		res.TxResults = append(res.TxResults, TxResult{Tx: tx, Code: r.Code, Log: r.Log})
		res.Events = append(res.Events, r.Events...)
		if r.Code != CodeOK {
			e.log.Debugw("tx_failed", "height", e.height, "code", r.Code, "log", r.Log)
		}
	}

	end := e.app.EndBlock(RequestEndBlock{Height: e.height})
	res.Events = append(res.Events, end.Events...)

	commit, err := e.app.Commit()
	if err != nil {
		return BlockResult{}, err
	}
	res.AppHash = commit.AppHash

	if len(txs) > 0 {
		e.log.Infow("block_committed", "height", e.height, "txs", len(txs), "events", len(res.Events))
	}
	return res, nil
}
