package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"notesrag/internal/model"
)

// PostgresStore persists chunks in a single `chunks` table via pgx, grounded
// on the teacher's best-effort CREATE TABLE IF NOT EXISTS bootstrap pattern.
// The secondary indexes match the persisted-chunk-document contract:
// (tenant_id, created_at desc), (note_id, position asc), and a GIN index on
// terms for array-contains lookups.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres bootstraps the chunks table/indexes and returns a PostgresStore.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, chunksSchema); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

const chunksSchema = `
CREATE TABLE IF NOT EXISTS chunks (
  id               TEXT PRIMARY KEY,
  note_id          TEXT NOT NULL,
  tenant_id        TEXT NOT NULL,
  text             TEXT NOT NULL,
  fingerprint      TEXT NOT NULL,
  position         INT NOT NULL,
  total_chunks     INT NOT NULL,
  token_estimate   INT NOT NULL,
  created_at       TIMESTAMPTZ NOT NULL,
  start_offset     INT NOT NULL,
  end_offset       INT NOT NULL,
  anchor           TEXT NOT NULL DEFAULT '',
  prev_context     TEXT NOT NULL DEFAULT '',
  next_context     TEXT NOT NULL DEFAULT '',
  terms            TEXT[] NOT NULL DEFAULT '{}',
  terms_version    TEXT NOT NULL DEFAULT '',
  embedding        REAL[],
  embedding_model  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS chunks_tenant_created_idx ON chunks (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS chunks_note_position_idx ON chunks (note_id, position ASC);
CREATE INDEX IF NOT EXISTS chunks_terms_gin_idx ON chunks USING GIN (terms);
`

func (p *PostgresStore) ChunksByNote(ctx context.Context, tenant, noteID string) ([]model.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+chunkCols+`
FROM chunks WHERE tenant_id=$1 AND note_id=$2 ORDER BY position ASC`, tenant, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *PostgresStore) BatchGet(ctx context.Context, ids []string) (map[string]model.Chunk, error) {
	if len(ids) == 0 {
		return map[string]model.Chunk{}, nil
	}
	if len(ids) > BatchHydrationMax {
		ids = ids[:BatchHydrationMax]
	}
	rows, err := p.pool.Query(ctx, `SELECT `+chunkCols+` FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Chunk, len(list))
	for _, c := range list {
		out[c.ID] = c
	}
	return out, nil
}

func (p *PostgresStore) DeleteByNote(ctx context.Context, tenant, noteID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE tenant_id=$1 AND note_id=$2`, tenant, noteID)
	return err
}

func (p *PostgresStore) PutChunks(ctx context.Context, chunks []model.Chunk) error {
	for i := 0; i < len(chunks); i += WriteBatchSize {
		end := i + WriteBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := p.putBatch(ctx, chunks[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) putBatch(ctx context.Context, chunks []model.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err = tx.Exec(ctx, `
INSERT INTO chunks (id, note_id, tenant_id, text, fingerprint, position, total_chunks,
  token_estimate, created_at, start_offset, end_offset, anchor, prev_context, next_context,
  terms, terms_version, embedding, embedding_model)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
  text=EXCLUDED.text, fingerprint=EXCLUDED.fingerprint, position=EXCLUDED.position,
  total_chunks=EXCLUDED.total_chunks, token_estimate=EXCLUDED.token_estimate,
  start_offset=EXCLUDED.start_offset, end_offset=EXCLUDED.end_offset, anchor=EXCLUDED.anchor,
  prev_context=EXCLUDED.prev_context, next_context=EXCLUDED.next_context, terms=EXCLUDED.terms,
  terms_version=EXCLUDED.terms_version, embedding=EXCLUDED.embedding, embedding_model=EXCLUDED.embedding_model
`, c.ID, c.NoteID, c.TenantID, c.Text, c.Fingerprint, c.Position, c.TotalChunks,
			c.TokenEstimate, c.CreatedAt, c.StartOffset, c.EndOffset, c.Anchor, c.PrevContext, c.NextContext,
			c.Terms, c.TermsVersion, c.Embedding, c.EmbeddingModel)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) ByTerm(ctx context.Context, tenant, term string, limit int) ([]model.Chunk, error) {
	if limit <= 0 {
		limit = 75
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+chunkCols+` FROM chunks
WHERE tenant_id=$1 AND terms @> ARRAY[$2]::text[]
ORDER BY created_at DESC LIMIT $3`, tenant, term, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *PostgresStore) Recent(ctx context.Context, tenant string, limit int, since *time.Time) ([]model.Chunk, error) {
	if limit <= 0 {
		limit = 75
	}
	if since != nil {
		rows, err := p.pool.Query(ctx, `
SELECT `+chunkCols+` FROM chunks WHERE tenant_id=$1 AND created_at >= $2
ORDER BY created_at DESC LIMIT $3`, tenant, *since, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanChunks(rows)
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+chunkCols+` FROM chunks WHERE tenant_id=$1
ORDER BY created_at DESC LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *PostgresStore) AllForTenant(ctx context.Context, tenant string, limit int) ([]model.Chunk, error) {
	return p.Recent(ctx, tenant, limit, nil)
}

const chunkCols = `id, note_id, tenant_id, text, fingerprint, position, total_chunks,
  token_estimate, created_at, start_offset, end_offset, anchor, prev_context, next_context,
  terms, terms_version, embedding, embedding_model`

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChunks(rows pgxRows) ([]model.Chunk, error) {
	out := make([]model.Chunk, 0)
	for rows.Next() {
		var c model.Chunk
		var emb []float32
		if err := rows.Scan(&c.ID, &c.NoteID, &c.TenantID, &c.Text, &c.Fingerprint, &c.Position, &c.TotalChunks,
			&c.TokenEstimate, &c.CreatedAt, &c.StartOffset, &c.EndOffset, &c.Anchor, &c.PrevContext, &c.NextContext,
			&c.Terms, &c.TermsVersion, &emb, &c.EmbeddingModel); err != nil {
			return nil, err
		}
		if len(emb) > 0 {
			c.Embedding = emb
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
