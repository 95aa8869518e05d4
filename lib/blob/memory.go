package blob

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// memoryStore is an in-memory blob store used by tests and single-process
// development setups.
type memoryStore struct {
	blobs *xsync.MapOf[string, []byte]
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() IBlobStore {
	return &memoryStore{
		blobs: xsync.NewMapOf[string, []byte](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see blob/interface.go)
// --------------------------------------------------------------------------

func (m *memoryStore) Put(key string, data []byte) error {
	val := make([]byte, len(data))
	copy(val, data)
	m.blobs.Store(key, val)
	return nil
}

func (m *memoryStore) Get(key string) ([]byte, error) {
	val, ok := m.blobs.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *memoryStore) Delete(key string) error {
	m.blobs.Delete(key)
	return nil
}
