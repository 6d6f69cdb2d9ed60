package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

// ErrMultipleMatches is returned when a lookup hits more than one record.
var ErrMultipleMatches = errors.New("multiple matches")

// LookupKey is one way of identifying a record: a single attribute or a
// compound tuple of attributes that must all match.
type LookupKey []string

// Single returns a one-attribute key.
func Single(field string) LookupKey { return LookupKey{field} }

// Compound returns a key made of several attributes.
func Compound(fields ...string) LookupKey { return LookupKey(fields) }

// IsCompound reports whether the key has more than one attribute.
func (k LookupKey) IsCompound() bool { return len(k) > 1 }

func (k LookupKey) String() string {
	if len(k) == 1 {
		return k[0]
	}
	return "(" + strings.Join(k, ",") + ")"
}

// AttrFunc reads the text value of an attribute for indexing.
type AttrFunc func(rec *schema.Record, attr string) string

// RecordAttr indexes by schema.Record.Attr.
func RecordAttr(rec *schema.Record, attr string) string { return rec.Attr(attr) }

// ObjectCache indexes records by every attribute used in its lookup keys.
// Records are deduplicated by identity, never by value.
type ObjectCache struct {
	keys    []LookupKey
	attr    AttrFunc
	records []*schema.Record
	ids     map[schema.EntityRef]int
	index   map[string]map[string][]int
}

// NewObjectCache creates an empty cache for the given lookup keys.
// A nil attr uses RecordAttr.
func NewObjectCache(keys []LookupKey, attr AttrFunc) *ObjectCache {
	if attr == nil {
		attr = RecordAttr
	}
	c := &ObjectCache{
		keys:  keys,
		attr:  attr,
		ids:   make(map[schema.EntityRef]int),
		index: make(map[string]map[string][]int),
	}
	for _, f := range c.fields() {
		c.index[f] = make(map[string][]int)
	}
	return c
}

func (c *ObjectCache) fields() []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range c.keys {
		for _, f := range k {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// Add indexes rec under every lookup attribute with a non-empty value.
// Adding the same record twice has no effect.
func (c *ObjectCache) Add(rec *schema.Record) {
	ref := rec.Ref()
	if _, ok := c.ids[ref]; ok {
		return
	}
	i := len(c.records)
	c.records = append(c.records, rec)
	c.ids[ref] = i

	for field, values := range c.index {
		v := c.attr(rec, field)
		if v == "" {
			continue
		}
		values[v] = append(values[v], i)
	}
}

// Get returns the single record matching every attribute of key in data.
// A missing or empty attribute in data means no match.
func (c *ObjectCache) Get(key LookupKey, data map[string]string) (*schema.Record, error) {
	var candidates []int
	for n, field := range key {
		v := data[field]
		if v == "" {
			return nil, nil
		}
		hits := c.index[field][v]
		if n == 0 {
			candidates = append([]int(nil), hits...)
		} else {
			candidates = intersect(candidates, hits)
		}
		if len(candidates) == 0 {
			return nil, nil
		}
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return c.records[candidates[0]], nil
	}
	return nil, ErrMultipleMatches
}

// Match tries keys in order and returns the first hit.
func (c *ObjectCache) Match(data map[string]string, keys []LookupKey) (*schema.Record, error) {
	for _, k := range keys {
		rec, err := c.Get(k, data)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	return nil, nil
}

// Find looks value up under each single-attribute key in order.
// Compound keys are skipped.
func (c *ObjectCache) Find(value string, keys []LookupKey) (*schema.Record, error) {
	for _, k := range keys {
		if k.IsCompound() {
			continue
		}
		rec, err := c.Get(k, map[string]string{k[0]: value})
		if err != nil || rec != nil {
			return rec, err
		}
	}
	return nil, nil
}

// Len returns the number of cached records.
func (c *ObjectCache) Len() int { return len(c.records) }

// Records returns the cached records in insertion order.
func (c *ObjectCache) Records() []*schema.Record {
	return append([]*schema.Record(nil), c.records...)
}

func intersect(a, b []int) []int {
	set := make(map[int]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []int
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

// CachedQuery is an ObjectCache filled on first use.
type CachedQuery struct {
	keys []LookupKey
	attr AttrFunc
	load func(ctx context.Context) ([]*schema.Record, error)

	once  sync.Once
	cache *ObjectCache
	err   error
}

// NewCachedQuery returns a cache that calls load exactly once.
func NewCachedQuery(keys []LookupKey, attr AttrFunc, load func(ctx context.Context) ([]*schema.Record, error)) *CachedQuery {
	return &CachedQuery{keys: keys, attr: attr, load: load}
}

// Cache returns the loaded cache.
func (q *CachedQuery) Cache(ctx context.Context) (*ObjectCache, error) {
	q.once.Do(func() {
		recs, err := q.load(ctx)
		if err != nil {
			q.err = err
			return
		}
		q.cache = NewObjectCache(q.keys, q.attr)
		for _, rec := range recs {
			q.cache.Add(rec)
		}
	})
	return q.cache, q.err
}

// Match loads the cache if needed and calls ObjectCache.Match.
func (q *CachedQuery) Match(ctx context.Context, data map[string]string) (*schema.Record, error) {
	c, err := q.Cache(ctx)
	if err != nil {
		return nil, err
	}
	return c.Match(data, q.keys)
}
