// Package accesscache implements the TTL-bounded LRU cache of per-address
// allow/deny decisions consulted by every forwarder before admitting a peer.
package accesscache

import (
	"net/netip"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	allowed   bool
	createdAt time.Time
}

// Cache caches the outcome of a decision predicate per IP address for up to
// TTL. All access is serialized: the decision predicate is never invoked
// while other goroutines can observe a half-written entry.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache[netip.Addr, entry]
	ttl   time.Duration
	clock func() time.Time
}

// New creates a Cache with the given capacity (coerced to at least 1) and
// entry TTL.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[netip.Addr, entry](capacity)
	if err != nil {
		// capacity was coerced to >=1 above, so lru.New cannot fail.
		panic(err)
	}
	return &Cache{lru: c, ttl: ttl, clock: time.Now}
}

// Check returns the cached decision for ip if it has not expired; otherwise
// it evicts any stale entry, invokes decide(ip) to obtain a fresh one,
// caches it, and returns it.
func (c *Cache) Check(ip netip.Addr, decide func(netip.Addr) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if e, ok := c.lru.Get(ip); ok {
		if now.Sub(e.createdAt) <= c.ttl {
			return e.allowed
		}
		c.lru.Remove(ip)
	}

	allowed := decide(ip)
	c.lru.Add(ip, entry{allowed: allowed, createdAt: now})
	return allowed
}

// Len returns the number of cached entries, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
