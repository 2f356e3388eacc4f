package media

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

const defaultCacheSize = 512

// Cache remembers the tasks a resolver produced for each url so that a link
// saved more than once only costs one provider lookup. Failed lookups are not
// remembered. Cache is safe for concurrent use.
type Cache struct {
	r       Resolver
	entries *lru.Cache[string, []Task]
}

// NewCache wraps r with an lru cache holding up to size urls. A non-positive
// size selects the default.
func NewCache(r Resolver, size int) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}

	entries, err := lru.New[string, []Task](size)
	if err != nil {
		return nil, err
	}

	return &Cache{
		r:       r,
		entries: entries,
	}, nil
}

// Resolve implements Resolver.
func (c *Cache) Resolve(ctx context.Context, u string) ([]Task, error) {
	if tasks, ok := c.entries.Get(u); ok {
		log.Debugf("resolver cache hit: url=%s", u)
		return tasks, nil
	}

	tasks, err := c.r.Resolve(ctx, u)
	if err != nil {
		return nil, err
	}

	c.entries.Add(u, tasks)
	return tasks, nil
}
