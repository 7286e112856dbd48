package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"notesrag/internal/model"
	"notesrag/internal/rag/sourcepack"
	"notesrag/internal/ragerr"
)

type fakeProvider struct {
	answers []string
	calls   int
	err     error
}

func (f *fakeProvider) Name() string { return "fake-model" }

func (f *fakeProvider) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls - 1
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx], nil
}

func (f *fakeProvider) Stream(ctx context.Context, system, user string, temperature float64, onToken func(string)) error {
	return nil
}

func testPack() sourcepack.Pack {
	return sourcepack.Build([]model.ScoredChunk{
		{Chunk: model.Chunk{ID: "a_000", NoteID: "a", Text: "The migration was approved on Tuesday."}, CombinedScore: 0.9},
		{Chunk: model.Chunk{ID: "b_000", NoteID: "b", Text: "Revenue grew 12 percent."}, CombinedScore: 0.8},
	})
}

func TestGenerate_ReturnsAnswerAndCitationsOnFirstTry(t *testing.T) {
	p := &fakeProvider{answers: []string{"The migration was approved [N1] and revenue grew [N2]."}}
	g := New(p, time.Second)

	resp, err := g.Generate(context.Background(), "system", "user", testPack(), RetrievalMeta{K: 2, Strategy: "hybrid"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected two citations, got %d", len(resp.Citations))
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", p.calls)
	}
}

func TestGenerate_RepairsLowCoverageAnswer(t *testing.T) {
	p := &fakeProvider{answers: []string{
		"The migration was approved.",
		"The migration was approved [N1] and revenue grew [N2].",
	}}
	g := New(p, time.Second)

	resp, err := g.Generate(context.Background(), "system", "user", testPack(), RetrievalMeta{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("expected a repair call, got %d total calls", p.calls)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected repaired answer's two citations, got %d", len(resp.Citations))
	}
}

func TestGenerate_ValidationErrorIsNotRetried(t *testing.T) {
	p := &fakeProvider{err: classifyError(errors.New("401 unauthorized"))}
	g := New(p, time.Second)

	_, err := g.Generate(context.Background(), "system", "user", testPack(), RetrievalMeta{})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !ragerr.Is(err, ragerr.Validation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected no retries on a validation error, got %d calls", p.calls)
	}
}
