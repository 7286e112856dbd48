package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"notesrag/internal/store"
)

// FallbackMaxScan bounds how many of a tenant's newest chunks the full-scan
// fallback considers per search.
const FallbackMaxScan = 2000

// Fallback scans the document store by (tenantId, createdAt desc), computes
// cosine similarity in memory, and returns the top k. Grounded on the
// teacher's in-memory vector store's linear-scan cosine search, generalized
// to read through the chunk store instead of holding its own vector map.
type Fallback struct {
	chunks store.ChunkStore
	log    zerolog.Logger

	mu      sync.Mutex
	warned  map[string]bool
}

// NewFallback constructs a full-scan vector index adapter over chunks.
func NewFallback(chunks store.ChunkStore, log zerolog.Logger) *Fallback {
	return &Fallback{chunks: chunks, log: log, warned: make(map[string]bool)}
}

func (f *Fallback) Name() string      { return "fallback-fullscan" }
func (f *Fallback) Configured() bool  { return true }

func (f *Fallback) Search(ctx context.Context, vector []float32, tenant string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	chunks, err := f.chunks.AllForTenant(ctx, tenant, FallbackMaxScan)
	if err != nil {
		return nil, err
	}
	if len(chunks) >= FallbackMaxScan {
		f.warnOnce(tenant, len(chunks))
	}

	qn := norm(vector)
	scored := make([]Hit, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		s := cosine(vector, c.Embedding, qn)
		scored = append(scored, Hit{ChunkID: c.ID, NoteID: c.NoteID, Score: s})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (f *Fallback) warnOnce(tenant string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.warned[tenant] {
		return
	}
	f.warned[tenant] = true
	f.log.Warn().Str("tenant", tenant).Int("corpus_size", n).
		Msg("fallback vector index: tenant corpus exceeds full-scan threshold")
}

// Upsert and Remove are no-ops: the fallback reads embeddings straight off
// chunk rows the indexer already wrote to the document store.
func (f *Fallback) Upsert(_ context.Context, _ []Datapoint) error { return nil }
func (f *Fallback) Remove(_ context.Context, _ []string) error   { return nil }

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
