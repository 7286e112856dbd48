package retrieve

import "notesrag/internal/model"

// assembleParams bundles the context-budget tunables.
type assembleParams struct {
	MaxContextChars int
	MaxPerNote      int
}

// Assemble implements §4.6 step 10: walk the reranked list in score order,
// admitting a chunk if it fits the remaining character budget and its note
// hasn't already contributed MaxPerNote chunks; once the primary pass is
// exhausted, a backfill pass relaxes the per-note cap to fill any remaining
// budget from chunks skipped the first time.
func Assemble(ranked []model.ScoredChunk, p assembleParams) []model.ScoredChunk {
	if p.MaxContextChars <= 0 {
		p.MaxContextChars = 12000
	}
	if p.MaxPerNote <= 0 {
		p.MaxPerNote = 3
	}

	var out []model.ScoredChunk
	var skipped []model.ScoredChunk
	used := 0
	perNote := make(map[string]int)

	for _, c := range ranked {
		size := len(c.Chunk.Text) + len(c.Chunk.PrevContext) + len(c.Chunk.NextContext)
		if used+size > p.MaxContextChars {
			continue
		}
		if perNote[c.Chunk.NoteID] >= p.MaxPerNote {
			skipped = append(skipped, c)
			continue
		}
		out = append(out, c)
		used += size
		perNote[c.Chunk.NoteID]++
	}

	for _, c := range skipped {
		size := len(c.Chunk.Text) + len(c.Chunk.PrevContext) + len(c.Chunk.NextContext)
		if used+size > p.MaxContextChars {
			continue
		}
		out = append(out, c)
		used += size
	}

	return out
}
