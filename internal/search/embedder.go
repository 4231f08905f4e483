// Package search implements the hybrid semantic/lexical search
// pipeline: a pluggable Embedder behind an LRU cache, a flat cosine
// vector index (add/remove/search/save/load, deletion-aware,
// self-resizing), a BM25 lexical index, and reciprocal-rank fusion to
// combine them. The embedder cache evicts by recency of use rather
// than insertion time, keeping frequently queried text warm instead of
// expiring it outright.
package search

import (
	"container/list"
	"context"
	"sync"
)

// Embedder produces a fixed-length real vector from text. Cortex
// never hardcodes a concrete embedding model; callers supply one, or
// CachedEmbedder degrades gracefully to "unavailable" when none is
// configured.
type Embedder interface {
	// Embed returns text's vector. Dims reports its fixed length.
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// lruEntry is one cached (text -> vector) mapping.
type lruEntry struct {
	key string
	vec []float32
}

// CachedEmbedder wraps an Embedder with a bounded LRU cache keyed on
// exact text, so repeated queries (the same prompt re-ranked across
// adapters, or the same record re-embedded during consolidation) don't
// re-run inference.
type CachedEmbedder struct {
	inner    Embedder
	capacity int

	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // front = most recently used
}

// NewCachedEmbedder wraps inner with an LRU cache of capacity entries.
// inner may be nil, in which case Available reports false and Embed
// always errors — the caller (hybrid search) degrades to BM25-only.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 512
	}
	return &CachedEmbedder{
		inner:    inner,
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Available reports whether a real embedder is configured.
func (c *CachedEmbedder) Available() bool { return c.inner != nil }

// Dims delegates to the wrapped embedder, or 0 if unavailable.
func (c *CachedEmbedder) Dims() int {
	if c.inner == nil {
		return 0
	}
	return c.inner.Dims()
}

var errNoEmbedder = embedderError("search: no embedder configured")

type embedderError string

func (e embedderError) Error() string { return string(e) }

// Embed returns text's cached vector, computing and storing it via the
// wrapped embedder on a cache miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.inner == nil {
		return nil, errNoEmbedder
	}

	c.mu.Lock()
	if el, ok := c.index[text]; ok {
		c.order.MoveToFront(el)
		vec := el.Value.(*lruEntry).vec
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[text]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry).vec, nil
	}
	el := c.order.PushFront(&lruEntry{key: text, vec: vec})
	c.index[text] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*lruEntry).key)
	}
	return vec, nil
}
