package verdictcache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/services/enforcement"
)

// verdictCache is an LRU-backed implementation of enforcement.VerdictCache.
// It tracks basic metrics: hits, misses, and evictions.
type verdictCache struct {
	lru       *lru.Cache[enforcement.Key, domain.Verdict]
	capacity  int
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op VerdictCache used when size <= 0.
type disabledCache struct{}

// New creates a new VerdictCache with the given capacity. If size <= 0, a
// disabled no-op cache is returned that always misses and tracks no metrics.
func New(size int) (enforcement.VerdictCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	vc := verdictCache{capacity: size}
	// Use NewWithEvict to observe evictions, including Forget-induced ones.
	cache, err := lru.NewWithEvict(size, func(_ enforcement.Key, _ domain.Verdict) {
		atomic.AddUint64(&vc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	vc.lru = cache
	return &vc, nil
}

// Get looks up the last pushed verdict. When found, increments hits; otherwise increments misses.
func (c *verdictCache) Get(k enforcement.Key) (domain.Verdict, bool) {
	if val, ok := c.lru.Get(k); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return domain.Verdict{}, false
}

// Put stores the verdict pushed for k.
func (c *verdictCache) Put(k enforcement.Key, v domain.Verdict) {
	c.lru.Add(k, v)
}

// Forget removes every network class cached for uid.
func (c *verdictCache) Forget(uid domain.UID) {
	for _, class := range domain.NetworkClasses {
		c.lru.Remove(enforcement.Key{UID: uid, Class: class})
	}
}

// Stats returns cumulative counters plus the current size.
func (c *verdictCache) Stats() enforcement.CacheStats {
	return enforcement.CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

// disabledCache implementation

func (d *disabledCache) Get(enforcement.Key) (domain.Verdict, bool) { return domain.Verdict{}, false }

func (d *disabledCache) Put(enforcement.Key, domain.Verdict) {}

func (d *disabledCache) Forget(domain.UID) {}

func (d *disabledCache) Stats() enforcement.CacheStats { return enforcement.CacheStats{} }

var _ enforcement.VerdictCache = (*verdictCache)(nil)
var _ enforcement.VerdictCache = (*disabledCache)(nil)
