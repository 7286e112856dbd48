package embedder

import (
	"context"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	calls int32
	inner Embedder
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *countingEmbedder) Ping(ctx context.Context) error { return nil }
func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.EmbedBatch(ctx, texts)
}

func TestCachingEmbedder_RepeatedQueryHitsCacheOnce(t *testing.T) {
	inner := &countingEmbedder{inner: NewDeterministic(16, true, 0)}
	c := NewCaching(inner, 100)

	v1, err := GenerateQuery(context.Background(), c, "what is the budget")
	if err != nil {
		t.Fatalf("GenerateQuery: %v", err)
	}
	v2, err := GenerateQuery(context.Background(), c, "what is the budget")
	if err != nil {
		t.Fatalf("GenerateQuery: %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 1 {
		t.Fatalf("expected exactly 1 external call, got %d", inner.calls)
	}
	if len(v1) != len(v2) {
		t.Fatalf("vector lengths differ")
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}

	hits, misses, rate := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got hits=%d misses=%d", hits, misses)
	}
	if rate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", rate)
	}
}

func TestCachingEmbedder_QueryAndChunkShareCacheKey(t *testing.T) {
	inner := &countingEmbedder{inner: NewDeterministic(16, true, 0)}
	c := NewCaching(inner, 100)

	_, _ = c.EmbedBatch(context.Background(), []string{"Project Update"})
	_, _ = GenerateQuery(context.Background(), c, "  project   update  ")

	if atomic.LoadInt32(&inner.calls) != 1 {
		t.Fatalf("expected normalization to share a cache key, got %d calls", inner.calls)
	}
}

func TestCachingEmbedder_EvictsOldestOnCapacity(t *testing.T) {
	inner := &countingEmbedder{inner: NewDeterministic(8, false, 0)}
	c := NewCaching(inner, 10)

	for i := 0; i < 20; i++ {
		_, _ = c.EmbedBatch(context.Background(), []string{string(rune('a' + i))})
	}
	c.mu.Lock()
	n := len(c.cache)
	c.mu.Unlock()
	if n > 10 {
		t.Fatalf("cache size %d exceeds capacity 10", n)
	}
}
