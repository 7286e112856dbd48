package retrieve

import (
	"context"
	"sort"
	"strings"

	"notesrag/internal/model"
)

// rerankParams bundles the reranking tunables.
type rerankParams struct {
	MMRLambda    float64
	CoverageBoost float64
	FinalTopK    int
	ScoreGap     float64
}

// CrossEncoder is the optional second-pass reranker; nil disables the stage.
type CrossEncoder interface {
	Score(ctx context.Context, q string, texts []string) ([]float64, error)
}

// Rerank implements §4.6 step 8: MMR diversification against near-duplicate
// text, a unique-identifier precision boost, a coverage pass that favors
// distinct notes over piling onto one, an optional cross-encoder rescoring,
// then a final score-gap truncation.
func Rerank(ctx context.Context, scored []model.ScoredChunk, analysis model.QueryAnalysis, ce CrossEncoder, p rerankParams) []model.ScoredChunk {
	if len(scored) == 0 {
		return scored
	}

	working := mmrDiversify(scored, p.MMRLambda)
	boostUniqueIDs(working, analysis)
	working = coverageRerank(working, p.CoverageBoost)

	if ce != nil {
		working = crossEncoderRerank(ctx, working, analysis.Normalized, ce)
	}

	working = dedupNearDuplicates(working)
	return truncateAtScoreGap(working, p.FinalTopK, p.ScoreGap)
}

// mmrDiversify runs Maximal Marginal Relevance selection: each step picks
// the candidate maximizing lambda*relevance - (1-lambda)*max-similarity to
// already-selected chunks, using Jaccard similarity over chunk terms as a
// cheap proxy when either chunk lacks an embedding, or cosine similarity
// when both have one.
func mmrDiversify(scored []model.ScoredChunk, lambda float64) []model.ScoredChunk {
	if lambda <= 0 {
		lambda = 0.7
	}
	pool := make([]model.ScoredChunk, len(scored))
	copy(pool, scored)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].CombinedScore > pool[j].CombinedScore })

	selected := make([]model.ScoredChunk, 0, len(pool))
	used := make([]bool, len(pool))

	for len(selected) < len(pool) {
		bestIdx := -1
		bestScore := -1.0
		for i, cand := range pool {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, sel := range selected {
				sim := chunkSimilarity(cand, sel)
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*cand.CombinedScore - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, pool[bestIdx])
	}
	return selected
}

func chunkSimilarity(a, b model.ScoredChunk) float64 {
	if len(a.Chunk.Embedding) > 0 && len(b.Chunk.Embedding) > 0 {
		return cosineSimilarity32to64(a.Chunk.Embedding, b.Chunk.Embedding)
	}
	return jaccard(a.Chunk.Terms, b.Chunk.Terms)
}

func cosineSimilarity32to64(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	inter, union := 0, len(setA)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			if setA[t] {
				inter++
			} else {
				union++
			}
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// boostUniqueIDs adds a fixed combined-score bump to any chunk whose text
// contains one of the analysis's unique identifiers, since these are the
// highest-precision signal available.
func boostUniqueIDs(chunks []model.ScoredChunk, analysis model.QueryAnalysis) {
	if len(analysis.UniqueIDs) == 0 {
		return
	}
	for i := range chunks {
		lower := strings.ToLower(chunks[i].Chunk.Text)
		for _, uid := range analysis.UniqueIDs {
			if strings.Contains(lower, strings.ToLower(uid)) {
				chunks[i].CombinedScore = clamp01(chunks[i].CombinedScore + 0.15)
				break
			}
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].CombinedScore > chunks[j].CombinedScore })
}

// coverageRerank penalizes a third-or-later chunk from the same note,
// spreading the result set across more distinct notes when scores are close.
func coverageRerank(chunks []model.ScoredChunk, boost float64) []model.ScoredChunk {
	if boost <= 0 {
		boost = 0.05
	}
	noteCount := make(map[string]int)
	adjusted := make([]model.ScoredChunk, len(chunks))
	copy(adjusted, chunks)
	for i := range adjusted {
		nid := adjusted[i].Chunk.NoteID
		if noteCount[nid] >= 2 {
			adjusted[i].CombinedScore = clamp01(adjusted[i].CombinedScore - boost)
		}
		noteCount[nid]++
	}
	sort.SliceStable(adjusted, func(i, j int) bool { return adjusted[i].CombinedScore > adjusted[j].CombinedScore })
	return adjusted
}

// crossEncoderRerank rescales the top candidates (a cross-encoder call is
// too slow to run over the full candidate set) by a cross-encoder's
// relevance judgment, blended 50/50 with the existing combined score.
func crossEncoderRerank(ctx context.Context, chunks []model.ScoredChunk, q string, ce CrossEncoder) []model.ScoredChunk {
	const ceTopN = 20
	n := ceTopN
	if n > len(chunks) {
		n = len(chunks)
	}
	texts := make([]string, n)
	for i := 0; i < n; i++ {
		texts[i] = chunks[i].Chunk.Text
	}
	scores, err := ce.Score(ctx, q, texts)
	if err != nil || len(scores) != n {
		return chunks
	}
	for i := 0; i < n; i++ {
		ceScore := clamp01(scores[i])
		chunks[i].CombinedScore = 0.5*chunks[i].CombinedScore + 0.5*ceScore
		cc := ceScore
		chunks[i].CrossEncoder = &cc
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].CombinedScore > chunks[j].CombinedScore })
	return chunks
}

// dedupNearDuplicates drops a chunk whose text is a near-duplicate (Jaccard
// over terms >= 0.9) of a higher-ranked chunk already kept.
func dedupNearDuplicates(chunks []model.ScoredChunk) []model.ScoredChunk {
	kept := make([]model.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		dup := false
		for _, k := range kept {
			if jaccard(c.Chunk.Terms, k.Chunk.Terms) >= 0.9 {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	return kept
}

// truncateAtScoreGap keeps the top-k results, then trims further at the
// first adjacent-pair score drop exceeding gapThreshold, so a sharp quality
// cliff doesn't drag in noise just to fill the slot count.
func truncateAtScoreGap(chunks []model.ScoredChunk, topK int, gapThreshold float64) []model.ScoredChunk {
	if topK <= 0 {
		topK = 8
	}
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	if gapThreshold <= 0 {
		gapThreshold = 0.3
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i-1].CombinedScore-chunks[i].CombinedScore > gapThreshold {
			return chunks[:i]
		}
	}
	return chunks
}
