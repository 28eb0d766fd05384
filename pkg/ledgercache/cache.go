// Package ledgercache provides the hot in-memory object cache kept in front
// of the ledger store, and the loader that warms it.
package ledgercache

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
)

type cachedObject struct {
	seq  uint32
	blob []byte
}

// Cache keeps the most recent version of recently used ledger objects.
// An entry with an empty blob records a deletion at its sequence.
type Cache struct {
	mu       sync.Mutex
	objects  *lru.Cache[ledger.Key, cachedObject]
	capacity int

	latestSeq atomic.Uint32
	full      atomic.Bool

	objectRequests atomic.Uint64
	objectHits     atomic.Uint64
}

var _ backend.Cache = (*Cache)(nil)

// New creates a cache holding at most capacity objects.
func New(capacity int) (*Cache, error) {
	objects, err := lru.New[ledger.Key, cachedObject](capacity)
	if err != nil {
		return nil, fmt.Errorf("create object cache: %w", err)
	}
	return &Cache{objects: objects, capacity: capacity}, nil
}

// Update records objects as of ledger seq and reports whether they were
// applied. Writes older than the latest recorded sequence are dropped as a
// whole: a key changed after seq may have been evicted since, so an older
// version could no longer be told apart from the current one.
func (c *Cache) Update(objects []ledger.Object, seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < c.latestSeq.Load() {
		cacheStaleUpdates.Inc()
		return false
	}

	for _, obj := range objects {
		c.objects.Add(obj.Key, cachedObject{seq: seq, blob: obj.Blob})
	}

	c.latestSeq.Store(seq)
	cacheSize.Set(float64(c.objects.Len()))
	return true
}

// Get returns the blob for key at seq. The second result is false on a
// miss; a hit with an empty blob means the object is deleted at seq.
func (c *Cache) Get(key ledger.Key, seq uint32) ([]byte, bool) {
	if seq > c.latestSeq.Load() {
		return nil, false
	}

	c.objectRequests.Add(1)
	obj, ok := c.objects.Get(key)
	if !ok || seq < obj.seq {
		cacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}

	c.objectHits.Add(1)
	cacheRequests.WithLabelValues("hit").Inc()
	return obj.blob, true
}

// SetFull marks the cache as holding the complete live state.
func (c *Cache) SetFull() {
	c.full.Store(true)
	cacheFull.Set(1)
}

// IsFull reports whether the cache reached its capacity or was loaded with
// the complete state.
func (c *Cache) IsFull() bool {
	return c.full.Load() || c.objects.Len() >= c.capacity
}

func (c *Cache) Size() int {
	return c.objects.Len()
}

func (c *Cache) LatestLedgerSequence() uint32 {
	return c.latestSeq.Load()
}

// ObjectHitRate is 1 until the first request.
func (c *Cache) ObjectHitRate() float64 {
	requests := c.objectRequests.Load()
	if requests == 0 {
		return 1
	}
	return float64(c.objectHits.Load()) / float64(requests)
}
