package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"notesrag/internal/cache"
	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/rag/generate"
	"notesrag/internal/rag/indexer"
	"notesrag/internal/rag/retrieve"
	"notesrag/internal/rag/service"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
)

type fakeProvider struct{ answer string }

func (f *fakeProvider) Name() string { return "fake-model" }

func (f *fakeProvider) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	return f.answer, nil
}

func (f *fakeProvider) Stream(ctx context.Context, system, user string, temperature float64, onToken func(string)) error {
	onToken(f.answer)
	return nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	s := store.NewMemory()
	emb := embedder.NewCaching(embedder.NewDeterministic(16, true, 0), 100)
	fb := vectorindex.NewFallback(s, zerolog.Nop())
	eng := &retrieve.Engine{
		Store: s, Vector: fb, Embedder: emb, Cache: cache.NewLayers(),
		Cfg: config.Defaults().Retrieval, Ctx: config.Defaults().Context, Log: zerolog.Nop(),
	}
	t.Cleanup(func() { eng.Cache.Stop() })
	ix := indexer.New(s, fb, emb, config.Defaults().Chunking, zerolog.Nop())
	gen := generate.New(&fakeProvider{answer: "The migration was approved [N1]."}, 5*time.Second)
	svc := service.New(ix, eng, gen, zerolog.Nop())

	if _, err := svc.IngestNote(context.Background(), model.Note{
		ID: "n1", TenantID: "t1", Text: "We approved the database migration plan.", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed note: %v", err)
	}
	return NewHandler(svc)
}

func TestHandleChat_ReturnsGroundedAnswer(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)
	body := strings.NewReader(`{"message":"what did we decide about the database migration","tenantId":"t1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleChat(c); err != nil {
		t.Fatalf("handleChat: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"cid":"N1"`) {
		t.Fatalf("expected a N1 citation in response, got %s", rec.Body.String())
	}
}

func TestHandleChat_StreamNormalizesTokensAndEmitsFollowups(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)
	body := strings.NewReader(`{"message":"what did we decide about the database migration","tenantId":"t1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAccept, "text/event-stream")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleChat(c); err != nil {
		t.Fatalf("handleChat: %v", err)
	}

	out := rec.Body.String()
	if strings.Contains(out, "[N1]") {
		t.Fatalf("expected the raw [N1] token never to reach the client, got %s", out)
	}
	if !strings.Contains(out, "[1]") {
		t.Fatalf("expected the normalized [1] token in the streamed output, got %s", out)
	}
	if !strings.Contains(out, `"type":"followups"`) {
		t.Fatalf("expected a followups event, got %s", out)
	}
	if !strings.Contains(out, `"confidence":"medium"`) {
		t.Fatalf("expected medium confidence (1 source), got %s", out)
	}
}

func TestHandleChat_RejectsEmptyMessage(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)
	body := strings.NewReader(`{"message":"","tenantId":"t1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleChat(c); err != nil {
		t.Fatalf("handleChat: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleIngestNote_WritesChunks(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)
	body := strings.NewReader(`{"id":"n2","tenantId":"t1","text":"Revenue grew 12 percent this quarter."}`)
	req := httptest.NewRequest(http.MethodPost, "/api/notes", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleIngestNote(c); err != nil {
		t.Fatalf("handleIngestNote: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "n2_000") {
		t.Fatalf("expected chunk id in response, got %s", rec.Body.String())
	}
}
