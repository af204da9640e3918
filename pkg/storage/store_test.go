package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlayStagingAndCommit(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Set([]byte("a"), []byte("1")))

	// Staged writes are visible before commit.
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	_, err = s.Commit()
	require.NoError(t, err)

	v, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestDiscardRollsBackBlock(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	h1, err := s.Commit()
	require.NoError(t, err)

	require.NoError(t, s.Set([]byte("a"), []byte("2")))
	require.NoError(t, s.Set([]byte("b"), []byte("3")))
	require.NoError(t, s.Delete([]byte("a")))
	s.Discard()

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = s.Get([]byte("b"))
	require.NoError(t, err)
	require.Nil(t, v)

	h2, err := s.Commit()
	require.NoError(t, err)
	require.Equal(t, h1, h2, "discarded block must not change the state root")
}

func TestDeleteTombstone(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	_, err := s.Commit()
	require.NoError(t, err)

	require.NoError(t, s.Delete([]byte("a")))

	// The tombstone hides the committed value within the same block.
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = s.Commit()
	require.NoError(t, err)
	v, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestStateRootIsOrderIndependent(t *testing.T) {
	a := NewMemoryStore()
	require.NoError(t, a.Set([]byte("x"), []byte("1")))
	require.NoError(t, a.Set([]byte("y"), []byte("2")))
	ha, err := a.Commit()
	require.NoError(t, err)

	b := NewMemoryStore()
	require.NoError(t, b.Set([]byte("y"), []byte("2")))
	require.NoError(t, b.Set([]byte("x"), []byte("1")))
	hb, err := b.Commit()
	require.NoError(t, err)

	require.Equal(t, ha, hb, "write order must not affect the state root")
}

func TestStateRootChangesWithData(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set([]byte("x"), []byte("1")))
	h1, err := s.Commit()
	require.NoError(t, err)

	require.NoError(t, s.Set([]byte("x"), []byte("2")))
	h2, err := s.Commit()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestBackendsHashIdentically(t *testing.T) {
	mem := NewMemoryStore()
	peb, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer peb.Close()

	writes := map[string]string{
		"account:0x01": `{"n":1}`,
		"order:42":     `{"q":7}`,
		"params":       `{"t":"OMC"}`,
	}
	for _, s := range []Store{mem, peb} {
		for k, v := range writes {
			require.NoError(t, s.Set([]byte(k), []byte(v)))
		}
	}

	hm, err := mem.Commit()
	require.NoError(t, err)
	hp, err := peb.Commit()
	require.NoError(t, err)
	require.Equal(t, hm, hp, "both backends must produce the same state root")
}
