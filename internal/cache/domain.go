package cache

import "time"

// Layers bundles the two named TTL caches used across the retrieval
// pipeline: a short-lived chunk cache and a slightly longer-lived retrieval
// result cache.
type Layers struct {
	Chunks     *TTLCache
	Retrievals *TTLCache
}

// NewLayers constructs the chunk cache (TTL ~2min, capacity ~500) and the
// retrieval cache (TTL ~3min, capacity ~200).
func NewLayers() *Layers {
	return &Layers{
		Chunks:     New(2*time.Minute, 500),
		Retrievals: New(3*time.Minute, 200),
	}
}

// Stop releases both caches' background sweep goroutines.
func (l *Layers) Stop() {
	l.Chunks.Stop()
	l.Retrievals.Stop()
}
