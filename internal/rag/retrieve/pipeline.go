package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"notesrag/internal/cache"
	"notesrag/internal/config"
	"notesrag/internal/model"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/rag/obs"
	"notesrag/internal/rag/query"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
)

// Engine wires together the document store, vector index, embedder, and
// cache layers behind the single Retrieve entry point. Obs and Metrics are
// both optional: a nil ClickHouseSink or OtelMetrics is a safe no-op, so
// retrieval never blocks on observability infrastructure being down.
type Engine struct {
	Store    store.ChunkStore
	Vector   vectorindex.Adapter
	Embedder embedder.Embedder
	Cache    *cache.Layers
	CrossEnc CrossEncoder
	Cfg      config.RetrievalConfig
	Ctx      config.ContextConfig
	Log      zerolog.Logger
	Obs      *obs.ClickHouseSink
	Metrics  *obs.OtelMetrics
	RedisL2  *cache.RedisRetrievalCache
}

// Retrieve implements the full eleven-step hybrid retrieval pipeline: query
// analysis, cache lookup, parallel candidate generation, merge, time-hint
// filtering, scoring, filter/sort with precision boosting, reranking, a
// final relevance filter, context-budgeted assembly, and a strategy-tagged
// result.
func (e *Engine) Retrieve(ctx context.Context, tenant, rawQuery string) (model.RetrievalResult, error) {
	timings := make(map[string]time.Duration)
	t0 := time.Now()

	// Step 1: analyze.
	analysis := query.Analyze(rawQuery)
	timings["analyze"] = time.Since(t0)

	queryHash := hashQuery(analysis.Normalized)

	// Step 2: cache lookup, L1 (process-local) then L2 (Redis, if configured).
	cacheKey := tenant + "|" + analysis.Normalized
	if e.Cache != nil {
		if v, ok := e.Cache.Retrievals.Get(cacheKey); ok {
			if cached, ok := v.(model.RetrievalResult); ok {
				cached.Strategy += "_cached"
				cached.StageTimings = map[string]time.Duration{"cache_hit": time.Since(t0)}
				e.recordTelemetry(ctx, tenant, queryHash, cached.Strategy, cached, time.Since(t0))
				e.Metrics.IncCounter("retrieval_requests_total", map[string]string{"strategy": cached.Strategy})
				return cached, nil
			}
		}
	}
	if cached, ok := e.RedisL2.Get(ctx, tenant, analysis.Normalized); ok {
		if e.Cache != nil {
			e.Cache.Retrievals.Set(cacheKey, cached)
		}
		cached.Strategy += "_cached"
		cached.StageTimings = map[string]time.Duration{"cache_hit_l2": time.Since(t0)}
		e.recordTelemetry(ctx, tenant, queryHash, cached.Strategy, cached, time.Since(t0))
		e.Metrics.IncCounter("retrieval_requests_total", map[string]string{"strategy": cached.Strategy})
		return cached, nil
	}

	// Step 3: parallel candidate generation.
	var queryVector []float32
	hasVector := false
	if e.Embedder != nil {
		tStart := time.Now()
		vecs, err := e.Embedder.EmbedBatch(ctx, []string{analysis.Normalized})
		timings["embed_query"] = time.Since(tStart)
		if err == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
			queryVector = vecs[0]
			hasVector = true
		} else if err != nil {
			e.Log.Warn().Err(err).Msg("query embedding failed; falling back to lexical+recency")
		}
	}

	expanded := analysis.Intent.IsAggregation()
	params := candidateParams{
		Tenant:          tenant,
		VectorTopK:      topKOrDefault(e.Cfg.VectorTopK, 500, expanded),
		LexicalTopK:     topKOrDefault(e.Cfg.LexicalTopK, 200, expanded),
		LexicalMaxTerms: nonZero(e.Cfg.LexicalMaxTerms, 15),
		RecencyTopK:     topKOrDefault(e.Cfg.RecencyTopK, 75, expanded),
		Expanded:        expanded,
	}
	tCand := time.Now()
	cands := GenerateCandidates(ctx, e.Store, e.Vector, e.Embedder, analysis, queryVector, params)
	timings["candidates"] = time.Since(tCand)
	for k, v := range cands.Timings {
		timings["candidates."+k] = v
	}

	// Step 4: merge (already unified by the mutex-guarded accumulator).
	merged := cands.Chunks

	// Step 5: time-hint hard filter, restricted to the aggregation intents
	// (summarize, list, decision, action_item). When filtering would
	// otherwise empty the result set for these intents, fall back to the
	// recency stream verbatim rather than the unfiltered merge.
	var timeFilterDays int
	recencyFallback := false
	if analysis.TimeHintDays != nil && analysis.Intent.IsAggregation() {
		filtered := filterByTimeHint(merged, *analysis.TimeHintDays)
		if len(filtered) > 0 {
			merged = filtered
			timeFilterDays = *analysis.TimeHintDays
		} else {
			merged = recencyOnly(merged)
			recencyFallback = true
			e.Log.Warn().Int("time_hint_days", *analysis.TimeHintDays).Msg("time hint filter emptied results; falling back to the recency stream verbatim")
		}
	}

	// Step 6: scoring. RRFFusionEnabled swaps the weighted-sum combiner for
	// reciprocal rank fusion over the vector/lexical stream ranks.
	tScore := time.Now()
	var scored []model.ScoredChunk
	if e.Cfg.RRFFusionEnabled {
		scored = ScoreAllRRF(merged, e.Cfg.RRFK)
	} else {
		scored = ScoreAll(merged, queryVector, analysis, config.RetrievalConfig{
			WeightVector:  e.Cfg.WeightVector,
			WeightLexical: e.Cfg.WeightLexical,
			WeightRecency: e.Cfg.WeightRecency,
		}, e.effectiveMaxAgeDays(analysis), hasVector)
	}
	timings["score"] = time.Since(tScore)

	// Step 7: filter/sort with precision-boost threshold raise.
	scored = FilterAndSort(scored)

	// Step 8: rerank.
	tRerank := time.Now()
	rp := rerankParams{
		MMRLambda:     e.Cfg.MMRLambda,
		CoverageBoost: 0.05,
		FinalTopK:     topKOrDefault(0, 8, expanded),
		ScoreGap:      0.3,
	}
	var ce CrossEncoder
	if e.Cfg.CrossEncoderEnabled {
		ce = e.CrossEnc
	}
	reranked := Rerank(ctx, scored, analysis, ce, rp)
	timings["rerank"] = time.Since(tRerank)

	// Step 9: final relevance filter.
	minRel := e.Cfg.MinRelevance
	if minRel <= 0 {
		minRel = 0.25
	}
	final := make([]model.ScoredChunk, 0, len(reranked))
	for _, c := range reranked {
		if c.CombinedScore >= minRel {
			final = append(final, c)
		}
	}
	if len(final) == 0 && len(reranked) > 0 {
		final = reranked[:1]
	}

	// Step 10: context-budgeted assembly.
	budget := e.Ctx.BudgetChars - e.Ctx.ReserveChars
	assembled := Assemble(final, assembleParams{MaxContextChars: nonZero(budget, 12000), MaxPerNote: 3})

	// Step 11: strategy tag + result.
	noteSet := make(map[string]bool)
	for _, c := range assembled {
		noteSet[c.Chunk.NoteID] = true
	}
	var topScore, gap float64
	if len(assembled) > 0 {
		topScore = assembled[0].CombinedScore
	}
	if len(assembled) > 1 {
		gap = assembled[0].CombinedScore - assembled[1].CombinedScore
	}

	result := model.RetrievalResult{
		Query:            rawQuery,
		Chunks:           assembled,
		Strategy:         strategyTag(hasVector, analysis, cands, timeFilterDays, recencyFallback, len(assembled) == 0),
		StageCounts:      map[string]int{"vector": cands.VectorCount, "lexical": cands.LexicalCount, "recency": cands.RecencyCount, "final": len(assembled)},
		StageTimings:     timings,
		TopScore:         topScore,
		ScoreGapToSecond: gap,
		UniqueNoteCount:  len(noteSet),
		DriftDetected:    cands.DriftDetected,
		MissingRatio:     cands.MissingRatio,
	}

	if e.Cache != nil {
		e.Cache.Retrievals.Set(cacheKey, result)
	}
	e.RedisL2.Set(ctx, tenant, analysis.Normalized, result)

	elapsed := time.Since(t0)
	e.recordTelemetry(ctx, tenant, queryHash, result.Strategy, result, elapsed)
	e.Metrics.IncCounter("retrieval_requests_total", map[string]string{"strategy": result.Strategy})
	e.Metrics.ObserveHistogram("retrieval_elapsed_ms", float64(elapsed.Milliseconds()), map[string]string{"strategy": result.Strategy})

	return result, nil
}

// recordTelemetry inserts one ClickHouse row summarizing the retrieval
// call; a nil or unconfigured Obs sink makes this a no-op.
func (e *Engine) recordTelemetry(ctx context.Context, tenant, queryHash, strategy string, result model.RetrievalResult, elapsed time.Duration) {
	e.Obs.Record(ctx, obs.RetrievalEvent{
		Timestamp:       time.Now(),
		Tenant:          tenant,
		QueryHash:       queryHash,
		Strategy:        strategy,
		VectorCount:     uint32(result.StageCounts["vector"]),
		LexicalCount:    uint32(result.StageCounts["lexical"]),
		RecencyCount:    uint32(result.StageCounts["recency"]),
		MergedCount:     uint32(result.StageCounts["vector"] + result.StageCounts["lexical"] + result.StageCounts["recency"]),
		FinalCount:      uint32(result.StageCounts["final"]),
		TopScore:        result.TopScore,
		ScoreGap:        result.ScoreGapToSecond,
		UniqueNoteCount: uint32(result.UniqueNoteCount),
		DriftDetected:   result.DriftDetected,
		MissingRatio:    result.MissingRatio,
		ElapsedMS:       uint32(elapsed.Milliseconds()),
	})
}

func hashQuery(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

func (e *Engine) effectiveMaxAgeDays(analysis model.QueryAnalysis) int {
	if analysis.TimeHintDays != nil {
		return *analysis.TimeHintDays
	}
	return 90
}

func filterByTimeHint(merged map[string]model.ScoredChunk, days int) map[string]model.ScoredChunk {
	cutoff := time.Now().AddDate(0, 0, -days)
	out := make(map[string]model.ScoredChunk, len(merged))
	for id, sc := range merged {
		if sc.Chunk.CreatedAt.After(cutoff) {
			out[id] = sc
		}
	}
	return out
}

// recencyOnly narrows merged to the chunks that came from the recency
// stream, used by the §4.6 step 5 fallback when a time-hint filter would
// otherwise empty an aggregation-intent result set.
func recencyOnly(merged map[string]model.ScoredChunk) map[string]model.ScoredChunk {
	out := make(map[string]model.ScoredChunk, len(merged))
	for id, sc := range merged {
		if sc.Sources&model.SourceRecency != 0 {
			out[id] = sc
		}
	}
	return out
}

func topKOrDefault(configured, base int, expanded bool) int {
	n := nonZero(configured, base)
	if expanded {
		n = n * 2
	}
	return n
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// strategyTag composes the candidate streams that fired with the
// spec-mandated boundary-scenario suffixes (§8): _no_candidates, _cached
// (applied by the caller on a cache hit), _time_filtered(Nd), _uidboost, and
// _recency_fallback.
func strategyTag(hasVector bool, analysis model.QueryAnalysis, cands Candidates, timeFilterDays int, recencyFallback, noCandidates bool) string {
	if noCandidates {
		return "_no_candidates"
	}

	parts := []string{string(analysis.Intent)}
	if hasVector {
		parts = append(parts, "hybrid")
	} else {
		parts = append(parts, "lexical+recency")
	}

	tag := strings.Join(parts, "/")
	if len(analysis.UniqueIDs) > 0 {
		tag += "_uidboost"
	}
	if timeFilterDays > 0 {
		tag += fmt.Sprintf("_time_filtered(%dd)", timeFilterDays)
	}
	if recencyFallback {
		tag += "_recency_fallback"
	}
	return tag
}
