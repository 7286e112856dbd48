package retrieve

import (
	"math"
	"sort"
	"strings"
	"time"

	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/query"
)

const minVectorScore = 0.15
const minCombinedScore = 0.05

// bm25Params are the classic Okapi BM25 constants.
const bm25K1 = 1.2
const bm25B = 0.75

// positionBonusMax is the precomputed decay applied to the first ten chunk
// positions, rewarding a note's early chunks.
const positionBonusMax = 0.05

var positionBonus [10]float64

func init() {
	for i := range positionBonus {
		positionBonus[i] = positionBonusMax * math.Exp(-float64(i)*0.5)
	}
}

// ScoreAll computes the four raw per-chunk scores and combines them,
// returning the merged chunks sorted by combined score. It mutates nothing
// on the input map's chunks beyond the returned copies' score fields.
func ScoreAll(merged map[string]model.ScoredChunk, queryVector []float32, analysis model.QueryAnalysis, weights config.RetrievalConfig, maxAgeDays int, hasVector bool) []model.ScoredChunk {
	out := make([]model.ScoredChunk, 0, len(merged))
	for _, sc := range merged {
		out = append(out, sc)
	}

	scoreVector(out, queryVector)
	scoreLexical(out, analysis)
	scoreRecency(out, maxAgeDays)

	wv, wk, wr := weights.WeightVector, weights.WeightLexical, weights.WeightRecency
	if !hasVector {
		wv, wk, wr = 0, 0.75, 0.25
	}

	for i := range out {
		v := out[i].VectorScore
		k := out[i].LexicalScore
		r := out[i].RecencyScore
		bonus := 0.0
		if pos := out[i].Chunk.Position; pos >= 0 && pos < len(positionBonus) {
			bonus = positionBonus[pos]
		}
		combined := wv*v + wk*k + wr*r + bonus + 0.1*float64(out[i].Sources.Count()-1)
		out[i].CombinedScore = clamp01(combined)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })
	return out
}

func scoreVector(chunks []model.ScoredChunk, queryVector []float32) {
	for i := range chunks {
		if !chunks[i].Sources.Has(model.SourceVector) {
			continue
		}
		raw := chunks[i].VectorScore
		if len(queryVector) > 0 && len(chunks[i].Chunk.Embedding) > 0 {
			raw = cosineSimilarity(queryVector, chunks[i].Chunk.Embedding)
		}
		if raw < minVectorScore {
			raw = 0.5 * raw
		}
		chunks[i].VectorScore = raw
	}
}

// scoreLexical implements the BM25-like scorer: unique-identifier matches
// add a fixed bonus; regular keywords add IDF*TF_norm plus an intro bonus
// and an exact-word-count bonus; a query-has-uid-but-chunk-doesn't query
// multiplies the total by 0.2. Scores are min-max normalized at the end.
func scoreLexical(chunks []model.ScoredChunk, analysis model.QueryAnalysis) {
	var regular, uids []string
	for _, k := range analysis.Keywords {
		if query.IsUniqueID(k) {
			uids = append(uids, k)
		} else {
			regular = append(regular, k)
		}
	}
	if len(regular) == 0 && len(uids) == 0 {
		return
	}

	N := float64(len(chunks))
	df := make(map[string]int, len(regular))
	var totalLen float64
	for _, sc := range chunks {
		totalLen += float64(len(sc.Chunk.Text))
		lower := strings.ToLower(sc.Chunk.Text)
		for _, k := range regular {
			if strings.Contains(lower, k) {
				df[k]++
			}
		}
	}
	avgLen := 1.0
	if len(chunks) > 0 {
		avgLen = totalLen / float64(len(chunks))
	}

	idf := make(map[string]float64, len(regular))
	for _, k := range regular {
		idf[k] = math.Log((N-float64(df[k])+0.5)/(float64(df[k])+0.5) + 1)
	}

	raw := make([]float64, len(chunks))
	for i, sc := range chunks {
		text := sc.Chunk.Text
		lower := strings.ToLower(text)
		tf := func(term string) int { return strings.Count(lower, term) }

		score := 0.0
		keywordCount := 0
		for _, k := range regular {
			count := tf(k)
			if count == 0 {
				continue
			}
			keywordCount++
			tfNorm := float64(count) * (bm25K1 + 1) / (float64(count) + bm25K1*(1-bm25B+bm25B*float64(len(text))/avgLen))
			score += idf[k] * tfNorm
			introLen := 50
			if introLen > len(lower) {
				introLen = len(lower)
			}
			if strings.Contains(lower[:introLen], k) {
				score += idf[k] * 0.3
			}
			score += idf[k] * 0.4 * float64(exactWordCount(lower, k))
		}
		for _, u := range uids {
			if strings.Contains(lower, strings.ToLower(u)) {
				score += 3.0
				keywordCount++
			}
		}
		if len(uids) > 0 {
			chunkHasUID := false
			for _, u := range uids {
				if strings.Contains(lower, strings.ToLower(u)) {
					chunkHasUID = true
					break
				}
			}
			if !chunkHasUID {
				score *= 0.2
			}
		}
		if keywordCount > 0 {
			score /= float64(keywordCount)
		}
		raw[i] = score
	}

	minV, maxV := minMax(raw)
	for i := range chunks {
		if maxV > minV {
			chunks[i].LexicalScore = (raw[i] - minV) / (maxV - minV)
		} else if maxV > 0 {
			chunks[i].LexicalScore = 1
		}
	}
}

func exactWordCount(lower, term string) int {
	fields := strings.Fields(lower)
	n := 0
	for _, f := range fields {
		if strings.Trim(f, ".,!?;:\"'()") == term {
			n++
		}
	}
	return n
}

func minMax(vals []float64) (min, max float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	min, max = vals[0], vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func scoreRecency(chunks []model.ScoredChunk, maxAgeDays int) {
	if maxAgeDays <= 0 {
		maxAgeDays = 90
	}
	halfLife := (float64(maxAgeDays) / 3) * 24 * time.Hour.Hours()
	if halfLife <= 0 {
		halfLife = 1
	}
	now := time.Now()
	for i := range chunks {
		ageHours := now.Sub(chunks[i].Chunk.CreatedAt).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		chunks[i].RecencyScore = math.Exp(-ageHours / halfLife)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FilterAndSort drops scores below minCombinedScore and applies the
// precision-boost threshold raise described in §4.6 step 7.
func FilterAndSort(scored []model.ScoredChunk) []model.ScoredChunk {
	out := make([]model.ScoredChunk, 0, len(scored))
	for _, sc := range scored {
		if sc.CombinedScore >= minCombinedScore {
			out = append(out, sc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })

	if len(out) >= 5 && out[0].CombinedScore >= 0.70 && out[0].CombinedScore-out[4].CombinedScore >= 0.25 {
		threshold := 0.25
		refiltered := out[:0:0]
		for _, sc := range out {
			if sc.CombinedScore >= threshold {
				refiltered = append(refiltered, sc)
			}
		}
		out = refiltered
	}
	return out
}
