package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notesrag/internal/cache"
	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
)

func newTestEngine(t *testing.T) (*Engine, store.ChunkStore) {
	t.Helper()
	s := store.NewMemory()
	emb := embedder.NewCaching(embedder.NewDeterministic(16, true, 0), 100)
	fb := vectorindex.NewFallback(s, zerolog.Nop())
	return &Engine{
		Store:    s,
		Vector:   fb,
		Embedder: emb,
		Cache:    cache.NewLayers(),
		Cfg:      config.Defaults().Retrieval,
		Ctx:      config.Defaults().Context,
		Log:      zerolog.Nop(),
	}, s
}

func TestRetrieve_ReturnsChunksMentioningQueryTerms(t *testing.T) {
	e, s := newTestEngine(t)
	defer e.Cache.Stop()

	chunks := []model.Chunk{
		{ID: "n1_000", NoteID: "n1", TenantID: "t1", Text: "We approved the database migration plan in the Tuesday meeting.",
			Terms: []string{"approved", "database", "migration", "plan", "tuesday", "meeting"}, CreatedAt: time.Now()},
		{ID: "n2_000", NoteID: "n2", TenantID: "t1", Text: "Grocery list: milk, eggs, bread.",
			Terms: []string{"grocery", "list", "milk", "eggs", "bread"}, CreatedAt: time.Now()},
	}
	if err := s.PutChunks(context.Background(), chunks); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}

	result, err := e.Retrieve(context.Background(), "t1", "what did we decide about the database migration")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatalf("expected at least one retrieved chunk")
	}
	found := false
	for _, c := range result.Chunks {
		if c.Chunk.NoteID == "n1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the database migration note among results, got %+v", result.Chunks)
	}
}

func TestRetrieve_CacheHitReturnsSameQuery(t *testing.T) {
	e, s := newTestEngine(t)
	defer e.Cache.Stop()
	if err := s.PutChunks(context.Background(), []model.Chunk{
		{ID: "n1_000", NoteID: "n1", TenantID: "t1", Text: "quarterly revenue grew", Terms: []string{"quarterly", "revenue", "grew"}, CreatedAt: time.Now()},
	}); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}

	first, err := e.Retrieve(context.Background(), "t1", "quarterly revenue")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	second, err := e.Retrieve(context.Background(), "t1", "quarterly revenue")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if second.Query != first.Query {
		t.Fatalf("expected cached result to carry the same query")
	}
}
