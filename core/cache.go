package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
)

type Cache struct {
	cache *lru.TwoQueueCache[uint64, *Compiled]
}

// initCache initializes the compiled pipeline cache
func (aj *AggJin) initCache() (err error) {
	aj.cache.cache, err = lru.New2Q[uint64, *Compiled](aj.conf.cacheSize())
	return
}

// Get returns the value from the cache
func (c Cache) Get(key uint64) (val *Compiled, fromCache bool) {
	if c.cache == nil {
		return nil, false
	}
	val, fromCache = c.cache.Get(key)
	return
}

// Set sets the value in the cache
func (c Cache) Set(key uint64, val *Compiled) {
	if c.cache == nil {
		return
	}
	c.cache.Add(key, val)
}

// cacheKey hashes the collection schema together with the serialized
// aggregation. UUIDs are left out so copies of an aggregation share a key.
func cacheKey(coll *Collection, agg Aggregation) (uint64, error) {
	return hashstructure.Hash(struct {
		Coll *Collection
		Agg  Dict
	}{coll, serialize(agg, false)}, hashstructure.FormatV2, nil)
}
