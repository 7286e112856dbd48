package citation

import (
	"testing"

	"notesrag/internal/model"
	"notesrag/internal/rag/sourcepack"
)

func testPack() sourcepack.Pack {
	return sourcepack.Build([]model.ScoredChunk{
		{Chunk: model.Chunk{ID: "a_000", NoteID: "a", Text: "The database migration was approved on Tuesday."}, CombinedScore: 0.9},
		{Chunk: model.Chunk{ID: "b_000", NoteID: "b", Text: "Grocery list: milk, eggs, bread."}, CombinedScore: 0.4},
	})
}

func TestValidate_FullCoverageWhenAllTokensCited(t *testing.T) {
	pack := testPack()
	result := NewValidator().Validate("The migration was approved [N1]. We also need groceries [N2].", pack)
	if result.Coverage != 1.0 {
		t.Fatalf("expected full coverage, got %v", result.Coverage)
	}
	if len(result.InvalidTokens) != 0 {
		t.Fatalf("expected no invalid tokens, got %v", result.InvalidTokens)
	}
}

func TestValidate_FlagsTokenOutsideSourceCount(t *testing.T) {
	pack := testPack()
	result := NewValidator().Validate("Something happened [N9].", pack)
	if len(result.InvalidTokens) != 1 {
		t.Fatalf("expected one invalid token, got %v", result.InvalidTokens)
	}
	if result.Coverage != 0 {
		t.Fatalf("expected zero coverage from an invalid token, got %v", result.Coverage)
	}
}

func TestValidate_PartialCoverage(t *testing.T) {
	pack := testPack()
	result := NewValidator().Validate("The migration was approved [N1].", pack)
	if result.Coverage != 0.5 {
		t.Fatalf("expected 0.5 coverage, got %v", result.Coverage)
	}
}

func TestStripTokens_RemovesOnlyListedTokens(t *testing.T) {
	got := StripTokens("a [N1] b [N9] c", []string{"[N9]"})
	if got != "a [N1] b  c" {
		t.Fatalf("unexpected result: %q", got)
	}
}
