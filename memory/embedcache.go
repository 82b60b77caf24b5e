package memory

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/companionkit/elio/capability"
)

// CachedEmbedder memoizes embeddings per input text. The context injector
// embeds the same recent-turn text repeatedly across turns, so a small
// cache saves most embedding calls.
type CachedEmbedder struct {
	inner capability.Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps an embedder with a ristretto cache holding up to
// maxEntries vectors.
func NewCachedEmbedder(inner capability.Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Wait flushes pending cache writes. Only needed by tests.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }
