// Package abci defines the interface between block production and the
// application: begin, deliver, end, commit, and read-only queries. The
// application sees transactions only through this surface, so replaying
// the same blocks against a fresh instance reproduces the same state
// hashes.
package abci

import (
	"github.com/optimic-protocol/optimic/pkg/app/core/events"
)

// Response codes. Zero is success; everything else identifies why the
// transaction was refused.
const (
	CodeOK uint32 = iota
	CodeInvalid
	CodeInsufficientFunds
	CodeInsufficientCollateral
	CodeNotFound
	CodeInternal
)

type RequestBeginBlock struct {
	Height int64
	Time   int64 // block time, unix seconds
}

type ResponseBeginBlock struct {
	Events []events.Event
}

type RequestCheckTx struct {
	Tx []byte
}

type ResponseCheckTx struct {
	Code uint32
	Log  string
}

type RequestDeliverTx struct {
	Tx []byte
}

type ResponseDeliverTx struct {
	Code   uint32
	Log    string
	Events []events.Event
}

type RequestEndBlock struct {
	Height int64
}

type ResponseEndBlock struct {
	Events []events.Event
}

type ResponseCommit struct {
	AppHash []byte
}

type RequestQuery struct {
	Path string
	Data []byte
}

type ResponseQuery struct {
	Code  uint32
	Log   string
	Value []byte
}

type ResponseInfo struct {
	LastBlockHeight  int64
	LastBlockAppHash []byte
}

// Application is the deterministic state machine. BeginBlock, the
// DeliverTx sequence, EndBlock, and Commit run exactly once per block,
// in that order, single-threaded. CheckTx and Query are read-only and
// may run at any time.
type Application interface {
	Info() ResponseInfo
	BeginBlock(RequestBeginBlock) ResponseBeginBlock
	CheckTx(RequestCheckTx) ResponseCheckTx
	DeliverTx(RequestDeliverTx) ResponseDeliverTx
	EndBlock(RequestEndBlock) ResponseEndBlock
	Commit() (ResponseCommit, error)
	Query(RequestQuery) ResponseQuery
}
