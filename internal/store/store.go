// Package store is the document store abstraction the indexer and
// retrieval engine depend on: transactional chunk writes, indexed queries by
// tenant/term/recency, and multi-document batch reads. The HTTP front door,
// note CRUD, and auth sit outside this package; it only ever sees chunks.
package store

import (
	"context"
	"time"

	"notesrag/internal/model"
)

// ChunkStore persists and queries chunk rows. Implementations must expose
// the secondary access patterns the retrieval engine needs: lookup by note
// (ordered by position), batch hydration by id, lookup by term, and
// recency-ordered scan per tenant.
type ChunkStore interface {
	// ChunksByNote returns all chunks for a note ordered by position asc.
	ChunksByNote(ctx context.Context, tenant, noteID string) ([]model.Chunk, error)

	// BatchGet hydrates chunks by id, capped by the caller at
	// BATCH_HYDRATION_MAX. Missing ids are simply absent from the result map.
	BatchGet(ctx context.Context, ids []string) (map[string]model.Chunk, error)

	// DeleteByNote removes all chunk rows for a note in one batch.
	DeleteByNote(ctx context.Context, tenant, noteID string) error

	// PutChunks writes new/updated chunk rows, internally batched to ≤ 400
	// rows per underlying write.
	PutChunks(ctx context.Context, chunks []model.Chunk) error

	// ByTerm returns chunks for tenant whose term list contains term, newest
	// first, capped at limit.
	ByTerm(ctx context.Context, tenant, term string, limit int) ([]model.Chunk, error)

	// Recent returns the most recent chunks for tenant, newest first.
	Recent(ctx context.Context, tenant string, limit int, since *time.Time) ([]model.Chunk, error)

	// AllForTenant returns up to limit chunks for tenant ordered by
	// createdAt desc, used by the vector-index fallback full scan.
	AllForTenant(ctx context.Context, tenant string, limit int) ([]model.Chunk, error)
}

const (
	// BatchHydrationMax bounds a single multi-document read.
	BatchHydrationMax = 500
	// WriteBatchSize bounds a single document-store write batch.
	WriteBatchSize = 400
)
