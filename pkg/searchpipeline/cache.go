package searchpipeline

import (
	"github.com/Yiling-J/theine-go"
	"github.com/cespare/xxhash/v2"
)

const defaultAdHocCacheSize = 128

// adhocCache memoizes pipelines built from inline definitions so
// repeated ad hoc searches skip the parse and factory work. Entries are
// keyed by the digest of the canonical JSON encoding of the inline
// definition, so equivalent documents share one pipeline and its
// counters.
type adhocCache struct {
	cache *theine.Cache[uint64, *Pipeline]
}

func newAdhocCache(size int64) (*adhocCache, error) {
	cache, err := theine.NewBuilder[uint64, *Pipeline](size).Build()
	if err != nil {
		return nil, err
	}
	return &adhocCache{cache: cache}, nil
}

func (c *adhocCache) get(key uint64) (*Pipeline, bool) {
	return c.cache.Get(key)
}

func (c *adhocCache) put(key uint64, p *Pipeline) {
	c.cache.Set(key, p, 1)
}

func (c *adhocCache) close() {
	c.cache.Close()
}

func adhocCacheKey(canonical []byte) uint64 {
	return xxhash.Sum64(canonical)
}
