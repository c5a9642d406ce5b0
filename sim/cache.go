package sim

import (
	"context"
	"sync"
	"time"

	"github.com/pthm-cable/treewalk/tree"
)

// FetchKind distinguishes node expansions from particle fetches.
type FetchKind uint8

const (
	// FetchNode brings in the children of a remote node.
	FetchNode FetchKind = iota
	// FetchParticles brings in the particles of a remote bucket.
	FetchParticles
)

// Arrival signals that remote data for (Chunk, Key) is now resident.
type Arrival struct {
	Chunk int
	Key   tree.Key
	Kind  FetchKind
}

type cacheKey struct {
	chunk int
	key   tree.Key
}

// Cache simulates the remote software cache. A node's moments travel with
// its parent, so walks can test any node they hold a key for; its children
// and particles arrive after a fetch latency.
type Cache struct {
	mu       sync.Mutex
	resident map[cacheKey]bool
	inflight map[cacheKey]bool

	latency time.Duration
	slots   chan struct{} // bounds concurrent fetches
	wg      sync.WaitGroup
}

// NewCache creates a cache with the given fetch latency and number of
// concurrent fetch workers.
func NewCache(latency time.Duration, workers int) *Cache {
	if workers < 1 {
		workers = 1
	}
	return &Cache{
		resident: make(map[cacheKey]bool),
		inflight: make(map[cacheKey]bool),
		latency:  latency,
		slots:    make(chan struct{}, workers),
	}
}

// Resident reports whether (chunk, key) can be used without a fetch.
func (c *Cache) Resident(chunk int, key tree.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident[cacheKey{chunk, key}]
}

// Request starts an asynchronous fetch and reports whether a new fetch was
// issued. Duplicate requests for data already in flight or resident return
// false. The arrival is delivered on notify.
func (c *Cache) Request(ctx context.Context, chunk int, key tree.Key, kind FetchKind, notify chan<- Arrival) bool {
	ck := cacheKey{chunk, key}

	c.mu.Lock()
	if c.resident[ck] || c.inflight[ck] {
		c.mu.Unlock()
		return false
	}
	c.inflight[ck] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		timer := time.NewTimer(c.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-c.slots
			return
		}
		<-c.slots

		c.mu.Lock()
		delete(c.inflight, ck)
		c.resident[ck] = true
		c.mu.Unlock()

		select {
		case notify <- Arrival{Chunk: chunk, Key: key, Kind: kind}:
		case <-ctx.Done():
		}
	}()
	return true
}

// Prefetch marks every node of t resident for chunk. It models the bulk
// fetch that precedes one-shot remote walks.
func (c *Cache) Prefetch(chunk int, t *Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range t.nodes {
		c.resident[cacheKey{chunk, k}] = true
	}
}

// Wait blocks until every fetch goroutine has exited.
func (c *Cache) Wait() {
	c.wg.Wait()
}
