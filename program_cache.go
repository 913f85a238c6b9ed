package params

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ProgramCache stores compiled expression programs and patterns keyed by
// engine-prefixed source strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

type ttlProgramCache struct {
	items *ttlcache.Cache[string, any]
}

// NewProgramCache returns a bounded ProgramCache. Entries expire after ttl of
// disuse; a zero ttl keeps them until evicted by capacity.
func NewProgramCache(capacity uint64, ttl time.Duration) ProgramCache {
	opts := []ttlcache.Option[string, any]{}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, any](capacity))
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, any](ttl))
	}
	return &ttlProgramCache{items: ttlcache.New(opts...)}
}

func (c *ttlProgramCache) Get(key string) (any, bool) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *ttlProgramCache) Set(key string, value any) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}
