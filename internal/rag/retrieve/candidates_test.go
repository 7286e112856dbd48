package retrieve

import (
	"context"
	"testing"
	"time"

	"notesrag/internal/model"
	"notesrag/internal/rag/query"
	"notesrag/internal/store"
)

func seedChunks(t *testing.T, s store.ChunkStore, n int) {
	t.Helper()
	chunks := make([]model.Chunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, model.Chunk{
			ID:        "note1_00" + string(rune('0'+i)),
			NoteID:    "note1",
			TenantID:  "t1",
			Text:      "the database migration plan was approved",
			Terms:     []string{"database", "migration", "plan", "approved"},
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		})
	}
	if err := s.PutChunks(context.Background(), chunks); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}
}

func TestGenerateCandidates_LexicalAndRecencyOnlyWithoutVector(t *testing.T) {
	s := store.NewMemory()
	seedChunks(t, s, 3)

	analysis := query.Analyze("database migration plan")
	p := candidateParams{Tenant: "t1", LexicalTopK: 10, LexicalMaxTerms: 5, RecencyTopK: 10}

	cands := GenerateCandidates(context.Background(), s, nil, nil, analysis, nil, p)
	if cands.LexicalCount == 0 {
		t.Fatalf("expected lexical candidates, got none")
	}
	if cands.RecencyCount == 0 {
		t.Fatalf("expected recency candidates, got none")
	}
	if cands.VectorCount != 0 {
		t.Fatalf("expected no vector candidates without an adapter, got %d", cands.VectorCount)
	}
	for _, sc := range cands.Chunks {
		if !sc.Sources.Has(model.SourceLexical) && !sc.Sources.Has(model.SourceRecency) {
			t.Fatalf("expected every candidate tagged with a source stream")
		}
	}
}

func TestRankTermsByRarity_PrefersUniqueIDsAndLongTerms(t *testing.T) {
	terms := rankTermsByRarity([]string{"the", "CITE_TEST_002", "database"}, 3)
	if len(terms) == 0 || terms[0] != "CITE_TEST_002" {
		t.Fatalf("expected unique id ranked first, got %v", terms)
	}
}
