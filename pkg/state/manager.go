// Package state is the typed persistence layer between the core engines
// and the raw key-value Store. Every accessor is write-through: the
// caller persists an object explicitly after mutating it, and reads
// always reflect writes staged earlier in the same block.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimic-protocol/optimic/params"
	"github.com/optimic-protocol/optimic/pkg/app/core/types"
	"github.com/optimic-protocol/optimic/pkg/storage"
)

// Manager wraps a Store with typed accessors for the core data model.
type Manager struct {
	store storage.Store
}

// NewManager creates a state manager over store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store for commit/rollback control.
func (m *Manager) Store() storage.Store { return m.store }

// Commit flushes the block's staged writes and returns the state root.
func (m *Manager) Commit() ([]byte, error) {
	root, err := m.store.Commit()
	if err != nil {
		return nil, fmt.Errorf("%w: commit: %v", types.ErrState, err)
	}
	return root, nil
}

// Discard rolls back all writes staged in the current block.
func (m *Manager) Discard() { m.store.Discard() }

func (m *Manager) get(key []byte, out any) (bool, error) {
	data, err := m.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", types.ErrState, key, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", types.ErrState, key, err)
	}
	return true, nil
}

func (m *Manager) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrState, key, err)
	}
	if err := m.store.Set(key, data); err != nil {
		return fmt.Errorf("%w: set %s: %v", types.ErrState, key, err)
	}
	return nil
}

// Account returns the account for addr, or nil if it does not exist.
func (m *Manager) Account(addr common.Address) (*types.Account, error) {
	var acc types.Account
	ok, err := m.get(storage.KeyAccount(addr), &acc)
	if err != nil || !ok {
		return nil, err
	}
	return &acc, nil
}

func (m *Manager) SetAccount(acc *types.Account) error {
	return m.set(storage.KeyAccount(acc.Address), acc)
}

// Portfolio returns the portfolio for addr, creating an empty one if the
// account has never traded. The created portfolio is not persisted until
// SetPortfolio.
func (m *Manager) Portfolio(addr common.Address) (*types.Portfolio, error) {
	var p types.Portfolio
	ok, err := m.get(storage.KeyPortfolio(addr), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewPortfolio(addr), nil
	}
	if p.Balances == nil {
		p.Balances = make(map[string]*types.Balance)
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*types.Position)
	}
	return &p, nil
}

func (m *Manager) SetPortfolio(p *types.Portfolio) error {
	return m.set(storage.KeyPortfolio(p.Owner), p)
}

// Market returns the market by id, or nil if unknown.
func (m *Manager) Market(id string) (*types.Market, error) {
	var mkt types.Market
	ok, err := m.get(storage.KeyMarket(id), &mkt)
	if err != nil || !ok {
		return nil, err
	}
	return &mkt, nil
}

func (m *Manager) SetMarket(mkt *types.Market) error {
	return m.set(storage.KeyMarket(mkt.ID), mkt)
}

// Order returns the order by id, or nil if unknown.
func (m *Manager) Order(id uint64) (*types.Order, error) {
	var o types.Order
	ok, err := m.get(storage.KeyOrder(id), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (m *Manager) SetOrder(o *types.Order) error {
	return m.set(storage.KeyOrder(o.ID), o)
}

func (m *Manager) SetTrade(t *types.Trade) error {
	return m.set(storage.KeyTrade(t.ID), t)
}

// Option returns the option contract by id, or nil if unknown.
func (m *Manager) Option(id string) (*types.OptionContract, error) {
	var c types.OptionContract
	ok, err := m.get(storage.KeyOption(id), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

func (m *Manager) SetOption(c *types.OptionContract) error {
	return m.set(storage.KeyOption(c.ID), c)
}

// CollateralLedger returns the collateral record for addr, creating an
// empty one on first touch (not persisted until SetCollateralLedger).
func (m *Manager) CollateralLedger(addr common.Address) (*types.CollateralLedger, error) {
	var l types.CollateralLedger
	ok, err := m.get(storage.KeyCollateral(addr), &l)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewCollateralLedger(addr), nil
	}
	if l.Posted == nil {
		l.Posted = make(map[string]int64)
	}
	return &l, nil
}

func (m *Manager) SetCollateralLedger(l *types.CollateralLedger) error {
	return m.set(storage.KeyCollateral(l.Account), l)
}

// OptionPositions returns the per-account signed positions of one
// option series, creating an empty record on first touch.
func (m *Manager) OptionPositions(optionID string) (*types.OptionPositions, error) {
	var p types.OptionPositions
	ok, err := m.get(storage.KeyOptionPositions(optionID), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewOptionPositions(optionID), nil
	}
	if p.Positions == nil {
		p.Positions = make(map[string]int64)
	}
	return &p, nil
}

func (m *Manager) SetOptionPositions(p *types.OptionPositions) error {
	return m.set(storage.KeyOptionPositions(p.Option), p)
}

// OptionsChain returns the option ids listed on an underlying asset.
func (m *Manager) OptionsChain(underlying string) ([]string, error) {
	var ids []string
	if _, err := m.get(storage.KeyOptionsChain(underlying), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) SetOptionsChain(underlying string, ids []string) error {
	return m.set(storage.KeyOptionsChain(underlying), ids)
}

// OptionIndex returns every option id ever created, in creation order.
func (m *Manager) OptionIndex() ([]string, error) {
	var ids []string
	if _, err := m.get(storage.KeyOptionIndex, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) SetOptionIndex(ids []string) error {
	return m.set(storage.KeyOptionIndex, ids)
}

// Params returns the chain parameters, or nil before genesis.
func (m *Manager) Params() (*params.ChainParams, error) {
	var p params.ChainParams
	ok, err := m.get(storage.KeyParams, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (m *Manager) SetParams(p params.ChainParams) error {
	return m.set(storage.KeyParams, p)
}

// Trade returns a trade by id, nil when absent.
func (m *Manager) Trade(id uint64) (*types.Trade, error) {
	var t types.Trade
	ok, err := m.get(storage.KeyTrade(id), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// MarketIndex returns every registered market id in creation order.
func (m *Manager) MarketIndex() ([]string, error) {
	var ids []string
	if _, err := m.get(storage.KeyMarketIndex, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) SetMarketIndex(ids []string) error {
	return m.set(storage.KeyMarketIndex, ids)
}

// Seq reads the named counter without incrementing it.
func (m *Manager) Seq(name string) (uint64, error) {
	var cur uint64
	if _, err := m.get(storage.KeySeq(name), &cur); err != nil {
		return 0, err
	}
	return cur, nil
}

// Committed is the last committed block summary.
type Committed struct {
	Height  int64  `json:"height"`
	AppHash []byte `json:"app_hash"`
}

// LastCommitted returns the last committed height and app hash, zero
// values on a fresh store.
func (m *Manager) LastCommitted() (Committed, error) {
	var c Committed
	if _, err := m.get(storage.KeyLastCommitted, &c); err != nil {
		return Committed{}, err
	}
	return c, nil
}

func (m *Manager) SetLastCommitted(c Committed) error {
	return m.set(storage.KeyLastCommitted, c)
}

// NextSeq increments and persists the named uint64 counter, returning
// the new value. Counters live in state so replicas agree on every
// assigned id.
func (m *Manager) NextSeq(name string) (uint64, error) {
	key := storage.KeySeq(name)
	var cur uint64
	if _, err := m.get(key, &cur); err != nil {
		return 0, err
	}
	cur++
	if err := m.set(key, cur); err != nil {
		return 0, err
	}
	return cur, nil
}
