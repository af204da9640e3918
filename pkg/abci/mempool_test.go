package abci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMempoolFIFO(t *testing.T) {
	mp := NewMempool(1024)
	require.NoError(t, mp.Push([]byte("first")))
	require.NoError(t, mp.Push([]byte("second")))
	require.NoError(t, mp.Push([]byte("third")))
	assert.Equal(t, 3, mp.Size())

	out := mp.Reap(1024)
	require.Len(t, out, 3)
	assert.Equal(t, "first", string(out[0]))
	assert.Equal(t, "second", string(out[1]))
	assert.Equal(t, "third", string(out[2]))
	assert.Zero(t, mp.Size())
}

func TestMempoolByteCap(t *testing.T) {
	mp := NewMempool(10)
	require.NoError(t, mp.Push([]byte("123456")))
	err := mp.Push([]byte("78901"))
	require.ErrorIs(t, err, ErrMempoolFull)

	// The cap frees up once txs are reaped.
	mp.Reap(1024)
	require.NoError(t, mp.Push([]byte("78901")))
}

func TestReapStopsAtBlockLimit(t *testing.T) {
	mp := NewMempool(1024)
	require.NoError(t, mp.Push([]byte("aaaa")))
	require.NoError(t, mp.Push([]byte("bbbb")))
	require.NoError(t, mp.Push([]byte("cccc")))

	out := mp.Reap(8)
	require.Len(t, out, 2)
	assert.Equal(t, 1, mp.Size(), "third tx waits for the next block")

	out = mp.Reap(8)
	require.Len(t, out, 1)
	assert.Equal(t, "cccc", string(out[0]))
}

func TestReapOversizedTxStillIncluded(t *testing.T) {
	mp := NewMempool(1024)
	require.NoError(t, mp.Push([]byte("0123456789")))

	// A tx larger than the per-block byte limit is reaped alone rather than
	// wedging the queue.
	out := mp.Reap(4)
	require.Len(t, out, 1)
	assert.Zero(t, mp.Size())
}
