package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is an in-memory Gateway for tests and local development.
type MemoryGateway struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	mtimes  map[string]time.Time

	// ListErr / FetchErr, when set, are returned by the corresponding call.
	// Lets tests simulate transport failures.
	ListErr  error
	FetchErr error

	// Call counters, for asserting which path a caller took.
	ListCalls  int
	FetchCalls int
	OpenCalls  int
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		buckets: make(map[string]map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

// PutObject inserts or replaces an object.
func (g *MemoryGateway) PutObject(bucket, key string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.buckets[bucket] == nil {
		g.buckets[bucket] = make(map[string][]byte)
	}
	g.buckets[bucket][key] = data
	g.mtimes[bucket+"/"+key] = time.Now().UTC()
}

// RemoveObject deletes an object if present.
func (g *MemoryGateway) RemoveObject(bucket, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buckets[bucket], key)
	delete(g.mtimes, bucket+"/"+key)
}

func (g *MemoryGateway) List(_ context.Context, bucket string) ([]ObjectInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ListCalls++
	if g.ListErr != nil {
		return nil, g.ListErr
	}

	keys := make([]string, 0, len(g.buckets[bucket]))
	for key := range g.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	objects := make([]ObjectInfo, 0, len(keys))
	for _, key := range keys {
		data := g.buckets[bucket][key]
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			LastModified: g.mtimes[bucket+"/"+key],
			ETag:         fmt.Sprintf("mem-%d", len(data)),
		})
	}
	return objects, nil
}

func (g *MemoryGateway) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.FetchCalls++
	return g.fetchLocked(bucket, key)
}

func (g *MemoryGateway) Open(_ context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.OpenCalls++
	data, err := g.fetchLocked(bucket, key)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (g *MemoryGateway) fetchLocked(bucket, key string) ([]byte, error) {
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}

	data, ok := g.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
