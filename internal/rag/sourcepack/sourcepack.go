// Package sourcepack turns a final, ordered chunk list into the citation
// token map the prompt assembler and citation validator both key off of.
package sourcepack

import (
	"fmt"
	"regexp"
	"strings"

	"notesrag/internal/model"
)

// Pack is the token-addressable view of the chunks that survived retrieval.
// Its size is always equal to len(finalChunks): the largest legal citation
// token is fmt.Sprintf("N%d", sourceCount).
type Pack struct {
	Sources      []model.Citation
	CitationsMap map[string]model.Citation // keyed "N1".."N<sourceCount>"
	SourceCount  int
}

// Build assigns each chunk a 1-based "N<i>" token in rank order and extracts
// its display snippet. No further filtering happens here.
func Build(finalChunks []model.ScoredChunk) Pack {
	pack := Pack{
		Sources:      make([]model.Citation, 0, len(finalChunks)),
		CitationsMap: make(map[string]model.Citation, len(finalChunks)),
		SourceCount:  len(finalChunks),
	}
	for i, sc := range finalChunks {
		token := fmt.Sprintf("N%d", i+1)
		c := model.Citation{
			Token:     token,
			NoteID:    sc.Chunk.NoteID,
			ChunkID:   sc.Chunk.ID,
			CreatedAt: sc.Chunk.CreatedAt,
			Snippet:   ExtractBestSnippet(sc.Chunk.Text, 250),
			Score:     sc.CombinedScore,
			Anchor:    sc.Chunk.Anchor,
		}
		if sc.Chunk.StartOffset != 0 || sc.Chunk.EndOffset != 0 {
			off := sc.Chunk.StartOffset
			c.Offset = &off
		}
		pack.Sources = append(pack.Sources, c)
		pack.CitationsMap[token] = c
	}
	return pack
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+`)

// ExtractBestSnippet returns text verbatim when it already fits maxLen;
// otherwise accumulates whole sentences until the next one would overflow,
// falling back to a word-boundary truncation past 0.7*maxLen with an
// ellipsis when even the first sentence is too long.
func ExtractBestSnippet(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	sentences := sentenceSplitRe.Split(text, -1)
	var b strings.Builder
	for _, s := range sentences {
		candidate := s
		if b.Len() > 0 {
			candidate = ". " + s
		}
		if b.Len()+len(candidate) > maxLen {
			break
		}
		b.WriteString(candidate)
	}
	if b.Len() > 0 {
		return strings.TrimSpace(b.String())
	}

	cutoff := int(float64(maxLen) * 0.7)
	if cutoff >= len(text) {
		cutoff = len(text) - 1
	}
	end := cutoff
	for end > 0 && text[end] != ' ' {
		end--
	}
	if end == 0 {
		end = cutoff
	}
	return strings.TrimSpace(text[:end]) + "…"
}
