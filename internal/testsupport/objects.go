package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/manumartinm/ps3-worker/internal/services"
)

// MemoryObjects is an in-memory object store keyed by bucket and key.
type MemoryObjects struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	types   map[string]string

	// PutErr, when set, is returned by every Put.
	PutErr error
}

// NewMemoryObjects returns an empty store.
func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{
		buckets: make(map[string]map[string][]byte),
		types:   make(map[string]string),
	}
}

// Seed stores body without going through Put.
func (m *MemoryObjects) Seed(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket)[key] = append([]byte(nil), body...)
}

// Object returns a stored object.
func (m *MemoryObjects) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.buckets[bucket][key]
	return body, ok
}

// ContentType returns the content type recorded by Put.
func (m *MemoryObjects) ContentType(bucket, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[bucket+"/"+key]
}

// Keys lists the keys in bucket in sorted order.
func (m *MemoryObjects) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for key := range m.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// HasBucket reports whether EnsureBucket or Seed created bucket.
func (m *MemoryObjects) HasBucket(bucket string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket]
	return ok
}

func (m *MemoryObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", services.ErrNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *MemoryObjects) Put(_ context.Context, bucket, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.bucketLocked(bucket)[key] = append([]byte(nil), body...)
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *MemoryObjects) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket)
	return nil
}

func (m *MemoryObjects) bucketLocked(bucket string) map[string][]byte {
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		m.buckets[bucket] = objects
	}
	return objects
}
