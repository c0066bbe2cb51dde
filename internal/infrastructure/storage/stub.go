package storage

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

// NopQuarantineStore drops payloads. Used when object storage is disabled;
// ledger entries then carry an empty quarantine reference.
type NopQuarantineStore struct{}

// NewNopQuarantineStore creates a new NopQuarantineStore
func NewNopQuarantineStore() *NopQuarantineStore {
	return &NopQuarantineStore{}
}

// Put discards the payload
func (NopQuarantineStore) Put(ctx context.Context, partition, key string, payload io.Reader) (string, error) {
	return "", nil
}

// MemoryQuarantineStore keeps payloads in memory.
//
// Thread Safety: Safe for concurrent use.
type MemoryQuarantineStore struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
	now     func() time.Time
}

// NewMemoryQuarantineStore creates an empty in-memory store
func NewMemoryQuarantineStore() *MemoryQuarantineStore {
	return &MemoryQuarantineStore{
		prefix:  DefaultPrefix,
		objects: make(map[string][]byte),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Put stores the payload under the same key layout as the S3 store
func (m *MemoryQuarantineStore) Put(ctx context.Context, partition, key string, payload io.Reader) (string, error) {
	if key == "" {
		return "", ErrKeyRequired
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return "", err
	}

	objectKey := ObjectKey(m.prefix, partition, key, m.now())
	m.mu.Lock()
	m.objects[objectKey] = data
	m.mu.Unlock()
	return objectKey, nil
}

// Get returns a stored payload
func (m *MemoryQuarantineStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectKey]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

// Keys returns the stored object keys in sorted order
func (m *MemoryQuarantineStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ dealsync.QuarantineStore = (*NopQuarantineStore)(nil)
	_ dealsync.QuarantineStore = (*MemoryQuarantineStore)(nil)
)
