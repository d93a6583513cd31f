package objfile

import (
	"container/list"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/binbridge/binbridge/internal/engine"
)

// DefaultCacheSize is the number of procedure listings kept in memory.
const DefaultCacheSize = 256

// cacheKey identifies a listing by address and a hash of the bytes it was
// decoded from, so stale entries can never be served for changed code.
type cacheKey struct {
	addr engine.Address
	hash uint64
}

func keyFor(addr engine.Address, code []byte) cacheKey {
	return cacheKey{addr: addr, hash: xxh3.Hash(code)}
}

// listing is a cached disassembly and, once requested, its pseudocode.
type listing struct {
	insns []insn

	once       sync.Once
	pseudocode string
}

// listingCache is a fixed-capacity LRU cache of procedure listings.
type listingCache struct {
	capacity int
	mu       sync.Mutex
	items    map[cacheKey]*list.Element
	lruList  *list.List
	hits     uint64
	misses   uint64
}

type cacheEntry struct {
	key   cacheKey
	value *listing
}

func newListingCache(capacity int) *listingCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &listingCache{
		capacity: capacity,
		items:    make(map[cacheKey]*list.Element),
		lruList:  list.New(),
	}
}

// Get retrieves a listing and marks it as recently used.
func (c *listingCache) Get(key cacheKey) (*listing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).value, true
	}
	c.misses++
	return nil, false
}

// Put adds a listing, evicting the least recently used one when full. If
// the key is already present the existing listing wins and is returned.
func (c *listingCache) Put(key cacheKey, value *listing) *listing {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value
	}

	c.items[key] = c.lruList.PushFront(&cacheEntry{key: key, value: value})
	if c.lruList.Len() > c.capacity {
		oldest := c.lruList.Back()
		c.lruList.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return value
}

// Len returns the number of cached listings.
func (c *listingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Stats returns the hit and miss counters.
func (c *listingCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
