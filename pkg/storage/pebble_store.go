package storage

import (
	"crypto/sha256"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the durable Store backend. Staged writes live in the
// overlay until Commit, which applies them in one synced batch and then
// hashes the full key space with a sorted iterator (Pebble iterates in
// key order natively).
//
// The full-scan state root mirrors the in-memory backend byte for byte.
// Incremental hashing (a Merkle-ized store) is a possible upgrade once
// state grows beyond what a block-interval scan can cover.
type PebbleStore struct {
	db      *pebble.DB
	pending overlay
}

// NewPebbleStore opens (or creates) the database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db, pending: make(overlay)}, nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	if v, staged := s.pending.lookup(key); staged {
		if v == nil {
			return nil, nil
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}

	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleStore) Set(key, value []byte) error {
	s.pending.set(key, value)
	return nil
}

func (s *PebbleStore) Delete(key []byte) error {
	s.pending.delete(key)
	return nil
}

func (s *PebbleStore) Commit() ([]byte, error) {
	batch := s.db.NewBatch()
	for k, v := range s.pending {
		if v == nil {
			if err := batch.Delete([]byte(k), nil); err != nil {
				batch.Close()
				return nil, fmt.Errorf("pebble batch delete: %w", err)
			}
			continue
		}
		if err := batch.Set([]byte(k), v, nil); err != nil {
			batch.Close()
			return nil, fmt.Errorf("pebble batch set: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("pebble batch commit: %w", err)
	}
	s.pending = make(overlay)

	return s.stateRoot()
}

func (s *PebbleStore) stateRoot() ([]byte, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	h := sha256.New()
	for iter.First(); iter.Valid(); iter.Next() {
		h.Write(iter.Key())
		h.Write(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	return h.Sum(nil), nil
}

func (s *PebbleStore) Discard() {
	s.pending = make(overlay)
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var _ Store = (*PebbleStore)(nil)
