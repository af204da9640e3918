package storage

// MemoryStore is the in-memory Store used by tests and single-process
// tooling. Same overlay/commit semantics as the Pebble backend.
type MemoryStore struct {
	data    map[string][]byte
	pending overlay
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string][]byte),
		pending: make(overlay),
	}
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	if v, staged := s.pending.lookup(key); staged {
		if v == nil {
			return nil, nil
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	v, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(key, value []byte) error {
	s.pending.set(key, value)
	return nil
}

func (s *MemoryStore) Delete(key []byte) error {
	s.pending.delete(key)
	return nil
}

func (s *MemoryStore) Commit() ([]byte, error) {
	for k, v := range s.pending {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
	s.pending = make(overlay)
	return hashSorted(s.data), nil
}

func (s *MemoryStore) Discard() {
	s.pending = make(overlay)
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
