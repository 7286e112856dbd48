package sourcepack

import (
	"strings"
	"testing"

	"notesrag/internal/model"
)

func TestBuild_TokensAreSequentialAndMatchSourceCount(t *testing.T) {
	chunks := []model.ScoredChunk{
		{Chunk: model.Chunk{ID: "a_000", NoteID: "a", Text: "short"}},
		{Chunk: model.Chunk{ID: "b_000", NoteID: "b", Text: "also short"}},
	}
	pack := Build(chunks)
	if pack.SourceCount != 2 {
		t.Fatalf("expected source count 2, got %d", pack.SourceCount)
	}
	if _, ok := pack.CitationsMap["N1"]; !ok {
		t.Fatalf("expected N1 in citations map")
	}
	if _, ok := pack.CitationsMap["N2"]; !ok {
		t.Fatalf("expected N2 in citations map")
	}
	if _, ok := pack.CitationsMap["N3"]; ok {
		t.Fatalf("did not expect N3 beyond source count")
	}
}

func TestExtractBestSnippet_ShortTextReturnedVerbatim(t *testing.T) {
	got := ExtractBestSnippet("short text", 250)
	if got != "short text" {
		t.Fatalf("expected verbatim passthrough, got %q", got)
	}
}

func TestExtractBestSnippet_TruncatesAtWordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := ExtractBestSnippet(long, 50)
	if len(got) > 60 {
		t.Fatalf("expected truncated snippet, got length %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}
