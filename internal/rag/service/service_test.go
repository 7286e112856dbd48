package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notesrag/internal/cache"
	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/rag/generate"
	"notesrag/internal/rag/indexer"
	"notesrag/internal/rag/retrieve"
	"notesrag/internal/ragerr"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
)

type fakeProvider struct {
	answer string
	tokens []string
}

func (f *fakeProvider) Name() string { return "fake-model" }

func (f *fakeProvider) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	return f.answer, nil
}

func (f *fakeProvider) Stream(ctx context.Context, system, user string, temperature float64, onToken func(string)) error {
	for _, tok := range f.tokens {
		onToken(tok)
	}
	return nil
}

func newTestService(t *testing.T, p generate.Provider) (*Service, store.ChunkStore) {
	t.Helper()
	s := store.NewMemory()
	emb := embedder.NewCaching(embedder.NewDeterministic(16, true, 0), 100)
	fb := vectorindex.NewFallback(s, zerolog.Nop())
	eng := &retrieve.Engine{
		Store:    s,
		Vector:   fb,
		Embedder: emb,
		Cache:    cache.NewLayers(),
		Cfg:      config.Defaults().Retrieval,
		Ctx:      config.Defaults().Context,
		Log:      zerolog.Nop(),
	}
	ix := indexer.New(s, fb, emb, config.Defaults().Chunking, zerolog.Nop())
	gen := generate.New(p, 5*time.Second)
	return New(ix, eng, gen, zerolog.Nop()), s
}

func seedNote(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.IngestNote(context.Background(), model.Note{
		ID: "n1", TenantID: "t1",
		Text:      "We approved the database migration plan in the Tuesday meeting.",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("IngestNote: %v", err)
	}
}

func TestChat_ReturnsAnswerGroundedInIngestedNote(t *testing.T) {
	p := &fakeProvider{answer: "The migration was approved [N1]."}
	svc, _ := newTestService(t, p)
	defer svc.Retriever.Cache.Stop()
	seedNote(t, svc)

	resp, err := svc.Chat(context.Background(), "t1", "what did we decide about the database migration", 0)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Citations) == 0 {
		t.Fatalf("expected at least one citation, got none")
	}
}

func TestChat_RejectsEmptyMessage(t *testing.T) {
	p := &fakeProvider{answer: "irrelevant"}
	svc, _ := newTestService(t, p)
	defer svc.Retriever.Cache.Stop()

	_, err := svc.Chat(context.Background(), "t1", "", 0)
	if !ragerr.Is(err, ragerr.Validation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestChatStream_RejectsEmptyMessageBeforeWriting(t *testing.T) {
	p := &fakeProvider{tokens: []string{"The migration ", "was approved [N1]."}}
	svc, _ := newTestService(t, p)
	defer svc.Retriever.Cache.Stop()
	seedNote(t, svc)

	// ChatStream needs a live echo.Context with a flushable ResponseWriter;
	// exercised end to end by the HTTP handler tests instead. Here we only
	// confirm askPrep rejects an invalid message before touching the writer.
	_, _, _, _, _, err := svc.askPrep(context.Background(), "t1", "", 0)
	if !ragerr.Is(err, ragerr.Validation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}
