package retrieve

import (
	"sort"

	"notesrag/internal/model"
)

// ScoreAllRRF is the optional reciprocal-rank-fusion alternative to
// ScoreAll's weighted-sum combiner. Candidates already carry per-stream
// rank (VectorRank/LexicalRank, both 0-based, set by GenerateCandidates);
// a chunk absent from a stream contributes 0 from that stream. Grounded
// on the teacher's retrieve.FuseRRF, adapted from the teacher's
// search-result/vector-result pair to this package's merged
// model.ScoredChunk candidates.
func ScoreAllRRF(merged map[string]model.ScoredChunk, rrfK int) []model.ScoredChunk {
	if rrfK <= 0 {
		rrfK = 60
	}

	out := make([]model.ScoredChunk, 0, len(merged))
	for _, sc := range merged {
		var fused float64
		if sc.Sources.Has(model.SourceVector) {
			fused += 1.0 / float64(rrfK+sc.VectorRank+1)
		}
		if sc.Sources.Has(model.SourceLexical) {
			fused += 1.0 / float64(rrfK+sc.LexicalRank+1)
		}
		sc.CombinedScore = clamp01(fused * float64(rrfK))
		out = append(out, sc)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })
	return out
}
