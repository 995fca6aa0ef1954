package plan

import (
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// keyRepr is the canonical, versioned cache-key form of a plan input. The
// descriptor's canonical rendering is stable for structurally equal
// descriptors, which together with plan determinism makes cached plans
// interchangeable with freshly planned ones.
type keyRepr struct {
	Version int    `msgpack:"v"`
	Root    string `msgpack:"root"`
	Query   string `msgpack:"query"`
}

// Key returns the cache key for one (root, descriptor) input.
func Key(root string, d *query.Descriptor) (string, error) {
	b, err := msgpack.Marshal(keyRepr{Version: 1, Root: root, Query: d.String()})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Cache memoizes fetch plans by canonical key. Concurrent requests for the
// same key plan once; plans are immutable, so hits are shared directly.
// Only plans are cached, never query results.
type Cache struct {
	mu    sync.RWMutex
	plans map[string]*FetchPlan
	sf    singleflight.Group
}

// NewCache returns an empty plan cache.
func NewCache() *Cache {
	return &Cache{plans: make(map[string]*FetchPlan)}
}

// Plan returns the cached plan for the input, planning and storing it on
// the first request.
func (c *Cache) Plan(root *schema.RecordType, d *query.Descriptor, g *graph.Graph) (*FetchPlan, error) {
	key, err := Key(root.Name(), d)
	if err != nil {
		return Plan(root, d, g)
	}
	c.mu.RLock()
	p, ok := c.plans[key]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	v, err, _ := c.sf.Do(key, func() (any, error) {
		p, err := Plan(root, d, g)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.plans[key] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FetchPlan), nil
}

// Invalidate drops all cached plans. Needed only in test-teardown scenarios
// where record types are torn down and redeclared.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.plans = make(map[string]*FetchPlan)
	c.mu.Unlock()
}
