// Package indexer implements the idempotent note-processing operation that
// diffs existing chunks against a freshly-chunked note, writes/deletes rows
// in the document store, regenerates missing embeddings, and propagates
// insertions/removals to the vector index. Grounded on the teacher's
// ingest package structure, rewritten for the chunk-fingerprint diff
// algorithm.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/chunker"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/rag/vectorsync"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
)

// Indexer processes notes into chunks, keeping the document store and the
// vector index consistent.
type Indexer struct {
	store  store.ChunkStore
	vector vectorindex.Adapter
	sync   vectorsync.Publisher
	emb    embedder.Embedder
	cfg    config.ChunkingConfig
	log    zerolog.Logger
}

// New constructs an Indexer with the default in-process propagation
// publisher. emb may be nil (embeddings are skipped and retrieval degrades
// to lexical + recency); vector may be nil for the same degradation path
// on propagation.
func New(chunkStore store.ChunkStore, vector vectorindex.Adapter, emb embedder.Embedder, cfg config.ChunkingConfig, log zerolog.Logger) *Indexer {
	var pub vectorsync.Publisher
	if vector != nil {
		pub = vectorsync.NewInline(vector, log)
	}
	return &Indexer{store: chunkStore, vector: vector, sync: pub, emb: emb, cfg: cfg, log: log}
}

// NewWithPublisher constructs an Indexer that propagates vector-index
// writes through an explicit publisher (e.g. vectorsync.Kafka) instead of
// the default in-process goroutine.
func NewWithPublisher(chunkStore store.ChunkStore, vector vectorindex.Adapter, pub vectorsync.Publisher, emb embedder.Embedder, cfg config.ChunkingConfig, log zerolog.Logger) *Indexer {
	return &Indexer{store: chunkStore, vector: vector, sync: pub, emb: emb, cfg: cfg, log: log}
}

// Result summarizes what ProcessNote did.
type Result struct {
	ChunkIDs       []string
	Unchanged      bool
	EmbeddingsSkip int
}

// ProcessNote implements the indexer's sole operation: fetch existing
// chunks, recompute the new partition, diff by fingerprint, and write only
// what changed.
func (ix *Indexer) ProcessNote(ctx context.Context, note model.Note) (Result, error) {
	existing, err := ix.store.ChunksByNote(ctx, note.TenantID, note.ID)
	if err != nil {
		return Result{}, fmt.Errorf("fetch existing chunks: %w", err)
	}

	newChunks := BuildChunks(note, ix.cfg)

	if fingerprintsEqual(existing, newChunks) {
		return ix.backfillEmbeddings(ctx, existing)
	}

	staleDatapoints := make([]string, 0, len(existing))
	for _, c := range existing {
		staleDatapoints = append(staleDatapoints, vectorindex.MakeDatapointID(c.ID, c.NoteID))
	}

	if err := ix.store.DeleteByNote(ctx, note.TenantID, note.ID); err != nil {
		return Result{}, fmt.Errorf("delete existing chunks: %w", err)
	}

	if ix.sync != nil && len(staleDatapoints) > 0 {
		if err := ix.sync.Publish(ctx, vectorsync.Event{Type: vectorsync.EventRemove, TenantID: note.TenantID, IDs: staleDatapoints}); err != nil {
			ix.log.Warn().Err(err).Msg("vector-sync publish (remove) failed")
		}
	}

	attachContextWindows(newChunks)

	skipped := 0
	if ix.emb != nil {
		texts := make([]string, len(newChunks))
		for i, c := range newChunks {
			texts[i] = c.Text
		}
		vecs, err := ix.emb.EmbedBatch(ctx, texts)
		if err != nil {
			ix.log.Warn().Err(err).Msg("embedding generation failed; chunks remain lexical/recency only")
			skipped = len(newChunks)
		} else {
			for i := range newChunks {
				if i < len(vecs) && len(vecs[i]) > 0 {
					newChunks[i].Embedding = vecs[i]
					newChunks[i].EmbeddingModel = ix.emb.Name()
				} else {
					skipped++
				}
			}
		}
	} else {
		skipped = len(newChunks)
	}

	if err := ix.store.PutChunks(ctx, newChunks); err != nil {
		return Result{}, fmt.Errorf("write chunks: %w", err)
	}

	if ix.sync != nil {
		datapoints := make([]vectorindex.Datapoint, 0, len(newChunks))
		for _, c := range newChunks {
			if len(c.Embedding) == 0 {
				continue
			}
			datapoints = append(datapoints, vectorindex.Datapoint{
				ID:       vectorindex.MakeDatapointID(c.ID, c.NoteID),
				Vector:   c.Embedding,
				TenantID: c.TenantID,
			})
		}
		if len(datapoints) > 0 {
			if err := ix.sync.Publish(ctx, vectorsync.Event{Type: vectorsync.EventUpsert, TenantID: note.TenantID, Datapoints: datapoints}); err != nil {
				ix.log.Warn().Err(err).Msg("vector-sync publish (upsert) failed")
			}
		}
	}

	ids := make([]string, len(newChunks))
	for i, c := range newChunks {
		ids[i] = c.ID
	}
	return Result{ChunkIDs: ids, EmbeddingsSkip: skipped}, nil
}

// backfillEmbeddings handles the unchanged-note path: only chunks missing
// an embedding are regenerated.
func (ix *Indexer) backfillEmbeddings(ctx context.Context, existing []model.Chunk) (Result, error) {
	ids := make([]string, len(existing))
	for i, c := range existing {
		ids[i] = c.ID
	}
	if ix.emb == nil {
		return Result{ChunkIDs: ids, Unchanged: true, EmbeddingsSkip: len(existing)}, nil
	}

	missingIdx := make([]int, 0)
	for i, c := range existing {
		if len(c.Embedding) == 0 {
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missingIdx) == 0 {
		return Result{ChunkIDs: ids, Unchanged: true}, nil
	}

	texts := make([]string, len(missingIdx))
	for j, i := range missingIdx {
		texts[j] = existing[i].Text
	}
	vecs, err := ix.emb.EmbedBatch(ctx, texts)
	if err != nil {
		ix.log.Warn().Err(err).Msg("embedding backfill failed")
		return Result{ChunkIDs: ids, Unchanged: true, EmbeddingsSkip: len(missingIdx)}, nil
	}

	toWrite := make([]model.Chunk, 0, len(missingIdx))
	for j, i := range missingIdx {
		if j < len(vecs) && len(vecs[j]) > 0 {
			existing[i].Embedding = vecs[j]
			existing[i].EmbeddingModel = ix.emb.Name()
			toWrite = append(toWrite, existing[i])
		}
	}
	if len(toWrite) > 0 {
		if err := ix.store.PutChunks(ctx, toWrite); err != nil {
			return Result{}, fmt.Errorf("backfill write: %w", err)
		}
	}
	return Result{ChunkIDs: ids, Unchanged: true}, nil
}

// BuildChunks splits a note's text and turns the raw chunks into fully
// formed model.Chunk rows (without embeddings or context windows attached).
func BuildChunks(note model.Note, cfg config.ChunkingConfig) []model.Chunk {
	raw := chunker.Split(note.Text, cfg)
	out := make([]model.Chunk, len(raw))
	for i, r := range raw {
		out[i] = model.Chunk{
			ID:            fmt.Sprintf("%s_%03d", note.ID, i),
			NoteID:        note.ID,
			TenantID:      note.TenantID,
			Text:          r.Text,
			Fingerprint:   fingerprint(r.Text),
			Position:      i,
			TotalChunks:   len(raw),
			TokenEstimate: approxTokens(r.Text),
			CreatedAt:     note.CreatedAt,
			StartOffset:   r.StartOffset,
			EndOffset:     r.EndOffset,
			Anchor:        r.Anchor,
			Terms:         chunker.ExtractTerms(r.Text),
			TermsVersion:  chunker.TermsVersion,
		}
	}
	return out
}

// attachContextWindows sets PrevContext/NextContext (~100 chars) for every
// chunk from its neighbors.
func attachContextWindows(chunks []model.Chunk) {
	const windowSize = 100
	for i := range chunks {
		if i > 0 {
			prev := chunks[i-1].Text
			if len(prev) > windowSize {
				prev = prev[len(prev)-windowSize:]
			}
			chunks[i].PrevContext = prev
		}
		if i < len(chunks)-1 {
			next := chunks[i+1].Text
			if len(next) > windowSize {
				next = next[:windowSize]
			}
			chunks[i].NextContext = next
		}
	}
}

func fingerprintsEqual(existing, fresh []model.Chunk) bool {
	if len(existing) != len(fresh) {
		return false
	}
	for i := range existing {
		if existing[i].Fingerprint != fresh[i].Fingerprint {
			return false
		}
	}
	return true
}

func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

// fingerprint is the truncated 16-hex-character content fingerprint that
// the chunk identifier's idempotence diff compares position-wise.
func fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
