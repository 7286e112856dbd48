// Package retrieve implements the hybrid multi-stage retrieval engine:
// parallel dense/lexical/recency candidate generation, fused scoring,
// diversity/coverage reranking, and context-budgeted assembly. Grounded on
// the teacher's retrieve package structure (candidates/fusion/rerank/
// docs/snippet), rewritten to the chunk-level scoring algorithm.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"notesrag/internal/model"
	"notesrag/internal/rag/embedder"
	"notesrag/internal/rag/query"
	"notesrag/internal/store"
	"notesrag/internal/vectorindex"
)

// Candidates is the merged, deduplicated candidate set with per-chunk
// source-stream membership and per-stream counts/timings for observability.
type Candidates struct {
	Chunks        map[string]model.ScoredChunk // keyed by chunk id
	VectorCount   int
	LexicalCount  int
	RecencyCount  int
	Timings       map[string]time.Duration
	DriftDetected bool
	MissingRatio  float64
}

// candidateParams bundles the tunables candidate generation needs.
type candidateParams struct {
	Tenant          string
	VectorTopK      int
	LexicalTopK     int
	LexicalMaxTerms int
	RecencyTopK     int
	Expanded        bool
}

// GenerateCandidates launches the three candidate streams concurrently and
// fans them in, per §4.6 step 3.
func GenerateCandidates(ctx context.Context, chunkStore store.ChunkStore, vec vectorindex.Adapter, emb embedder.Embedder,
	analysis model.QueryAnalysis, queryVector []float32, p candidateParams) Candidates {

	timings := make(map[string]time.Duration)
	var mu sync.Mutex
	var wg sync.WaitGroup

	out := Candidates{Chunks: make(map[string]model.ScoredChunk), Timings: timings}

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		if emb == nil || len(queryVector) == 0 || vec == nil {
			return
		}
		hits, err := vec.Search(ctx, queryVector, p.Tenant, p.VectorTopK)
		mu.Lock()
		timings["vector"] = time.Since(start)
		mu.Unlock()
		if err != nil || len(hits) == 0 {
			return
		}
		ids := make([]string, 0, len(hits))
		rank := make(map[string]int, len(hits))
		for i, h := range hits {
			if len(ids) >= store.BatchHydrationMax {
				break
			}
			ids = append(ids, h.ChunkID)
			rank[h.ChunkID] = i
		}
		hydrated, err := chunkStore.BatchGet(ctx, ids)
		if err != nil {
			return
		}
		missing := len(ids) - len(hydrated)
		ratio := 0.0
		if len(ids) > 0 {
			ratio = float64(missing) / float64(len(ids))
		}
		mu.Lock()
		out.MissingRatio = ratio
		out.DriftDetected = ratio > 0.15
		for _, h := range hits {
			c, ok := hydrated[h.ChunkID]
			if !ok {
				continue
			}
			sc := out.Chunks[c.ID]
			sc.Chunk = c
			sc.VectorScore = h.Score
			sc.VectorRank = rank[c.ID]
			sc.Sources |= model.SourceVector
			out.Chunks[c.ID] = sc
		}
		out.VectorCount = len(hydrated)
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		chunks, termCounts := lexicalCandidates(ctx, chunkStore, p.Tenant, analysis, p.LexicalMaxTerms, p.LexicalTopK)
		mu.Lock()
		timings["lexical"] = time.Since(start)
		for i, c := range chunks {
			sc := out.Chunks[c.ID]
			sc.Chunk = c
			sc.Sources |= model.SourceLexical
			sc.LexicalRank = i
			out.Chunks[c.ID] = sc
		}
		out.LexicalCount = len(chunks)
		_ = termCounts
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		chunks, err := chunkStore.Recent(ctx, p.Tenant, p.RecencyTopK, nil)
		mu.Lock()
		timings["recency"] = time.Since(start)
		if err == nil {
			for _, c := range chunks {
				sc := out.Chunks[c.ID]
				sc.Chunk = c
				sc.Sources |= model.SourceRecency
				out.Chunks[c.ID] = sc
			}
			out.RecencyCount = len(chunks)
		}
		mu.Unlock()
	}()

	wg.Wait()
	return out
}

// lexicalCandidates selects the best ≤ N terms by a rarity heuristic, then
// fans out up to 8 parallel per-term queries and unions the results,
// ranked by term-match count descending.
func lexicalCandidates(ctx context.Context, chunkStore store.ChunkStore, tenant string, analysis model.QueryAnalysis, maxTerms, topK int) ([]model.Chunk, map[string]int) {
	terms := rankTermsByRarity(analysis.Keywords, maxTerms)
	if len(terms) == 0 {
		return nil, nil
	}

	const maxParallel = 8
	const perTermCap = 75
	if len(terms) > maxParallel {
		terms = terms[:maxParallel]
	}

	type termResult struct {
		chunks []model.Chunk
	}
	results := make([]termResult, len(terms))
	var wg sync.WaitGroup
	for i, term := range terms {
		wg.Add(1)
		go func(i int, term string) {
			defer wg.Done()
			chunks, err := chunkStore.ByTerm(ctx, tenant, term, perTermCap)
			if err != nil {
				return
			}
			results[i] = termResult{chunks: chunks}
		}(i, term)
	}
	wg.Wait()

	matchCount := make(map[string]int)
	byID := make(map[string]model.Chunk)
	for _, r := range results {
		for _, c := range r.chunks {
			matchCount[c.ID]++
			byID[c.ID] = c
		}
	}

	out := make([]model.Chunk, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return matchCount[out[i].ID] > matchCount[out[j].ID] })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, matchCount
}

// rankTermsByRarity scores terms higher for length, digits/underscores, and
// unique-identifier shape; terms shorter than 4 characters lose 3 points.
func rankTermsByRarity(keywords []string, maxTerms int) []string {
	type scored struct {
		term  string
		score float64
	}
	scoredTerms := make([]scored, 0, len(keywords))
	for _, k := range keywords {
		s := float64(len(k))
		if strings.ContainsAny(k, "0123456789_") {
			s += 5
		}
		if query.IsUniqueID(k) {
			s += 10
		}
		if len(k) < 4 {
			s -= 3
		}
		scoredTerms = append(scoredTerms, scored{term: k, score: s})
	}
	sort.Slice(scoredTerms, func(i, j int) bool { return scoredTerms[i].score > scoredTerms[j].score })
	if maxTerms <= 0 {
		maxTerms = 15
	}
	if len(scoredTerms) > maxTerms {
		scoredTerms = scoredTerms[:maxTerms]
	}
	out := make([]string, len(scoredTerms))
	for i, s := range scoredTerms {
		out[i] = s.term
	}
	return out
}
