// Package storage provides the durable key-value contract the core
// depends on, with a Pebble-backed implementation for production and an
// in-memory one for tests.
//
// Writes are staged in a block-local overlay and only become visible to
// future blocks at Commit, which also returns the state root: a SHA-256
// over every (key, value) pair in sorted key order, so all nodes hash
// identical state. Discard drops the overlay, rolling back the whole
// block.
package storage

import (
	"crypto/sha256"
	"sort"
)

// Store is the storage contract consumed by the state layer.
type Store interface {
	// Get returns the value for key, or nil if absent. Reads observe
	// staged writes of the current block.
	Get(key []byte) ([]byte, error)

	// Set stages a write. It becomes durable at Commit.
	Set(key, value []byte) error

	// Delete stages a removal.
	Delete(key []byte) error

	// Commit applies all staged writes atomically and returns the state
	// root over the full post-commit key space.
	Commit() ([]byte, error)

	// Discard drops all staged writes.
	Discard()

	Close() error
}

// overlay is the block-local staging area shared by both backends.
// A nil value is a tombstone.
type overlay map[string][]byte

func (o overlay) set(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	o[string(key)] = v
}

func (o overlay) delete(key []byte) {
	o[string(key)] = nil
}

// lookup returns (value, staged). value is nil for a staged tombstone.
func (o overlay) lookup(key []byte) ([]byte, bool) {
	v, ok := o[string(key)]
	return v, ok
}

// hashSorted computes the state root over a fully materialized key space.
func hashSorted(data map[string][]byte) []byte {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(data[k])
	}
	return h.Sum(nil)
}
