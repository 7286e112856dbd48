package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/store"
)

func testCfg() config.ChunkingConfig {
	return config.ChunkingConfig{TargetSize: 450, MinSize: 80, MaxSize: 700, Overlap: 75}
}

func TestProcessNote_EmptyTextWritesZeroChunks(t *testing.T) {
	s := store.NewMemory()
	ix := New(s, nil, nil, testCfg(), zerolog.Nop())
	note := model.Note{ID: "n", TenantID: "t1", Text: "", CreatedAt: time.Now()}

	res, err := ix.ProcessNote(context.Background(), note)
	if err != nil {
		t.Fatalf("ProcessNote: %v", err)
	}
	if len(res.ChunkIDs) != 0 {
		t.Fatalf("expected zero chunks, got %d", len(res.ChunkIDs))
	}
}

func TestProcessNote_ShortTextWritesOneChunk(t *testing.T) {
	s := store.NewMemory()
	ix := New(s, nil, nil, testCfg(), zerolog.Nop())
	note := model.Note{ID: "n", TenantID: "t1", Text: "Budget is $50,000.", CreatedAt: time.Now()}

	res, err := ix.ProcessNote(context.Background(), note)
	if err != nil {
		t.Fatalf("ProcessNote: %v", err)
	}
	if len(res.ChunkIDs) != 1 {
		t.Fatalf("expected one chunk, got %d", len(res.ChunkIDs))
	}

	chunks, err := s.ChunksByNote(context.Background(), "t1", "n")
	if err != nil {
		t.Fatalf("ChunksByNote: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one stored chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Position != 0 || c.TotalChunks != 1 {
		t.Fatalf("expected position 0 of 1, got %d of %d", c.Position, c.TotalChunks)
	}
	if c.StartOffset != 0 || c.EndOffset != 18 {
		t.Fatalf("expected offsets (0,18), got (%d,%d)", c.StartOffset, c.EndOffset)
	}
}

func TestProcessNote_UnchangedTextIsIdempotent(t *testing.T) {
	s := store.NewMemory()
	emb := embedder.NewCaching(embedder.NewDeterministic(16, true, 0), 100)
	ix := New(s, nil, emb, testCfg(), zerolog.Nop())
	note := model.Note{ID: "n", TenantID: "t1", Text: "Budget is $50,000. We grew revenue.", CreatedAt: time.Now()}

	first, err := ix.ProcessNote(context.Background(), note)
	if err != nil {
		t.Fatalf("first ProcessNote: %v", err)
	}
	second, err := ix.ProcessNote(context.Background(), note)
	if err != nil {
		t.Fatalf("second ProcessNote: %v", err)
	}
	if !second.Unchanged {
		t.Fatalf("expected second pass to detect unchanged text")
	}
	if len(first.ChunkIDs) != len(second.ChunkIDs) {
		t.Fatalf("expected identical chunk id sets across reindex")
	}
	for i := range first.ChunkIDs {
		if first.ChunkIDs[i] != second.ChunkIDs[i] {
			t.Fatalf("chunk id mismatch at %d: %s vs %s", i, first.ChunkIDs[i], second.ChunkIDs[i])
		}
	}
}
