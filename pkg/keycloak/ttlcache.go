// pkg/keycloak/ttlcache.go
package keycloak

import (
	"container/list"
	"sync"
	"time"
)

// ttlCache is a small key/value store where every entry carries its own
// deadline and the store evicts in least-recently-used order once capacity
// is reached. One instance backs one adapter operation; the adapter keeps
// them in an explicit registry so a bulk clear never has to introspect
// anything.
type ttlCache struct {
	ttl time.Duration
	cap int
	now func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used
}

type ttlEntry struct {
	key      string
	value    any
	deadline time.Time
}

func newTTLCache(ttl time.Duration, capacity int) *ttlCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ttlCache{
		ttl:   ttl,
		cap:   capacity,
		now:   time.Now,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*ttlEntry)
	if c.now().After(ent.deadline) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*ttlEntry)
		ent.value = value
		ent.deadline = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.cap {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*ttlEntry).key)
		}
	}

	el := c.order.PushFront(&ttlEntry{
		key:      key,
		value:    value,
		deadline: c.now().Add(c.ttl),
	})
	c.items[key] = el
}

func (c *ttlCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *ttlCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// cacheRegistry maps operation names to their caches. Registration happens
// at construction time so a bulk clear iterates a known set.
type cacheRegistry map[string]*ttlCache

func (r cacheRegistry) register(name string, ttl time.Duration, capacity int) *ttlCache {
	c := newTTLCache(ttl, capacity)
	r[name] = c
	return c
}

func (r cacheRegistry) clearAll() {
	for _, c := range r {
		c.clear()
	}
}
