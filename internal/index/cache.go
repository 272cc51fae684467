package index

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// DefaultQueryCacheTTL is how long an embedded query is reused.
const DefaultQueryCacheTTL = 10 * time.Minute

// queryCache holds query vectors so repeated discovery calls for the
// same task text skip the provider round trip.
type queryCache struct {
	c *cache.Cache
}

func newQueryCache(ttl time.Duration) *queryCache {
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	return &queryCache{c: cache.New(ttl, 2*ttl)}
}

func (q *queryCache) get(model, query string) ([]float32, bool) {
	v, ok := q.c.Get(sharedKey(model, query))
	if !ok {
		return nil, false
	}
	return v.([]float32), true
}

func (q *queryCache) set(model, query string, vec []float32) {
	q.c.SetDefault(sharedKey(model, query), vec)
}

func (q *queryCache) len() int {
	return q.c.ItemCount()
}
