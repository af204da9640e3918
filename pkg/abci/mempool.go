package abci

import (
	"errors"
	"sync"
)

// ErrMempoolFull is returned when a push would exceed the byte cap.
var ErrMempoolFull = errors.New("mempool full")

// Mempool is a FIFO queue of raw transactions awaiting inclusion.
// Admission is gated on CheckTx by the caller; the pool itself only
// enforces the byte cap. Safe for concurrent use: the API pushes while
// the block loop reaps.
type Mempool struct {
	mu       sync.Mutex
	txs      [][]byte
	bytes    int64
	maxBytes int64
}

// NewMempool creates a pool holding at most maxBytes of queued txs.
func NewMempool(maxBytes int64) *Mempool {
	return &Mempool{maxBytes: maxBytes}
}

// Push appends a transaction in arrival order.
func (m *Mempool) Push(tx []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes+int64(len(tx)) > m.maxBytes {
		return ErrMempoolFull
	}
	m.txs = append(m.txs, tx)
	m.bytes += int64(len(tx))
	return nil
}

// Reap removes and returns queued transactions from the front, stopping
// before maxBytes is exceeded. Order of arrival is preserved.
func (m *Mempool) Reap(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	for len(m.txs) > 0 {
		tx := m.txs[0]
		if used+int64(len(tx)) > maxBytes && len(out) > 0 {
			break
		}
		out = append(out, tx)
		used += int64(len(tx))
		m.txs = m.txs[1:]
		m.bytes -= int64(len(tx))
	}
	return out
}

// Size returns the number of queued transactions.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}
