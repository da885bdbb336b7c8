package content

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// DefaultCacheEntries bounds the per-object fact caches.
const DefaultCacheEntries = 4096

// CachedSizes memoizes SizeOf per object id.
type CachedSizes struct {
	src   Source
	cache *lru.Cache[object.Hash, int64]
}

// NewCachedSizes wraps src. entries <= 0 uses DefaultCacheEntries.
func NewCachedSizes(src Source, entries int) (*CachedSizes, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	cache, err := lru.New[object.Hash, int64](entries)
	if err != nil {
		return nil, fmt.Errorf("size cache: %w", err)
	}
	return &CachedSizes{src: src, cache: cache}, nil
}

// SizeOf implements SizeResolver.
func (c *CachedSizes) SizeOf(ctx context.Context, id object.Hash) (int64, error) {
	if size, ok := c.cache.Get(id); ok {
		return size, nil
	}
	size, err := c.src.Size(ctx, id)
	if err != nil {
		return 0, err
	}
	c.cache.Add(id, size)
	return size, nil
}

// CachedClassifier memoizes another Classifier per object id.
type CachedClassifier struct {
	inner Classifier
	cache *lru.Cache[object.Hash, Class]
}

// NewCachedClassifier wraps inner. entries <= 0 uses DefaultCacheEntries.
func NewCachedClassifier(inner Classifier, entries int) (*CachedClassifier, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	cache, err := lru.New[object.Hash, Class](entries)
	if err != nil {
		return nil, fmt.Errorf("class cache: %w", err)
	}
	return &CachedClassifier{inner: inner, cache: cache}, nil
}

// Classify implements Classifier.
func (c *CachedClassifier) Classify(ctx context.Context, id object.Hash) (Class, error) {
	if class, ok := c.cache.Get(id); ok {
		return class, nil
	}
	class, err := c.inner.Classify(ctx, id)
	if err != nil {
		return Class{}, err
	}
	c.cache.Add(id, class)
	return class, nil
}
