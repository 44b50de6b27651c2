package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// table is the storage behind one cache. Callers serialize access.
type table[V any] interface {
	get(key string) (V, bool)
	// peek reads without touching recency.
	peek(key string) (V, bool)
	put(key string, v V)
	remove(key string)
	keys() []string
	len() int
}

// newTable returns an unbounded map when limit is 0 and an LRU otherwise.
func newTable[V any](limit int) (table[V], error) {
	if limit <= 0 {
		return mapTable[V]{}, nil
	}
	c, err := lru.New[string, V](limit)
	if err != nil {
		return nil, fmt.Errorf("lru table: %w", err)
	}
	return lruTable[V]{c}, nil
}

type mapTable[V any] map[string]V

func (t mapTable[V]) get(k string) (V, bool) { return t.peek(k) }
func (t mapTable[V]) put(k string, v V)      { t[k] = v }
func (t mapTable[V]) remove(k string)        { delete(t, k) }
func (t mapTable[V]) len() int               { return len(t) }

func (t mapTable[V]) peek(k string) (V, bool) {
	v, ok := t[k]
	return v, ok
}

func (t mapTable[V]) keys() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	return out
}

type lruTable[V any] struct {
	c *lru.Cache[string, V]
}

func (t lruTable[V]) get(k string) (V, bool)  { return t.c.Get(k) }
func (t lruTable[V]) peek(k string) (V, bool) { return t.c.Peek(k) }
func (t lruTable[V]) put(k string, v V)       { t.c.Add(k, v) }
func (t lruTable[V]) remove(k string)         { t.c.Remove(k) }
func (t lruTable[V]) keys() []string          { return t.c.Keys() }
func (t lruTable[V]) len() int                { return t.c.Len() }
