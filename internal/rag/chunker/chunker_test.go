package chunker

import (
	"strings"
	"testing"

	"notesrag/internal/config"
)

func cfg() config.ChunkingConfig {
	return config.ChunkingConfig{TargetSize: 450, MinSize: 80, MaxSize: 700, Overlap: 75}
}

func TestSplit_EmptyTextProducesNoChunks(t *testing.T) {
	if got := Split("", cfg()); got != nil {
		t.Fatalf("expected nil chunks for empty text, got %v", got)
	}
}

func TestSplit_ShortTextProducesOneChunk(t *testing.T) {
	text := "Budget is $50,000."
	chunks := Split(text, cfg())
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].StartOffset != 0 || chunks[0].EndOffset != len(text) {
		t.Fatalf("unexpected offsets: %+v", chunks[0])
	}
}

func TestSplit_LongTextStaysWithinSizeBounds(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 80; i++ {
		b.WriteString("This is a sentence about project planning and budgets. ")
		if i%4 == 3 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()
	c := cfg()
	chunks := Split(text, c)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if i == len(chunks)-1 {
			continue // last chunk may exceed maxSize when merged with a small remainder
		}
		if len(ch.Text) > c.MaxSize+200 {
			t.Fatalf("chunk %d length %d exceeds maxSize tolerance", i, len(ch.Text))
		}
	}
}

func TestSplit_OffsetsRecoverOriginalText(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph follows with more words to pad it out nicely."
	chunks := Split(text, cfg())
	for _, ch := range chunks {
		if ch.StartOffset < 0 || ch.EndOffset > len(text) || ch.StartOffset >= ch.EndOffset {
			t.Fatalf("invalid offsets: %+v", ch)
		}
	}
}

func TestExtractTerms_LowercasesDedupesAndDropsStopwords(t *testing.T) {
	terms := ExtractTerms("The Budget and the BUDGET were approved for Project Alpha.")
	wantContains := []string{"budget", "approved", "project", "alpha"}
	for _, w := range wantContains {
		found := false
		for _, tm := range terms {
			if tm == w {
				found = true
			}
		}
		if !found {
			t.Errorf("expected term %q in %v", w, terms)
		}
	}
	for _, tm := range terms {
		if tm == "the" || tm == "and" || tm == "for" {
			t.Errorf("stopword %q should have been removed", tm)
		}
	}
	seen := map[string]bool{}
	for _, tm := range terms {
		if seen[tm] {
			t.Errorf("term %q duplicated", tm)
		}
		seen[tm] = true
	}
}

func TestOverlapSeed_ContinuesFromSentenceBoundary(t *testing.T) {
	finalized := "One sentence here. Another sentence that trails off near the end"
	seed := overlapSeed(finalized, 30)
	if strings.Contains(seed, "One sentence here.") {
		t.Errorf("overlap seed should start after a sentence boundary, got %q", seed)
	}
}
