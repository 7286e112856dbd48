// Package model holds the data types shared across the indexing and
// retrieval pipelines: notes, chunks, scored chunks, citations, query
// analysis, and retrieval results.
package model

import "time"

// Note is owned by the external document layer; the core only reads it.
type Note struct {
	ID        string
	TenantID  string
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded-size fragment of a note with stable id, offsets, and
// lexical/dense features attached by the indexer.
type Chunk struct {
	ID              string
	NoteID          string
	TenantID        string
	Text            string
	Fingerprint     string
	Position        int
	TotalChunks     int
	TokenEstimate   int
	CreatedAt       time.Time
	StartOffset     int
	EndOffset       int
	Anchor          string
	PrevContext     string
	NextContext     string
	Terms           []string
	TermsVersion    string
	Embedding       []float32
	EmbeddingModel  string
}

// ScoredChunk is a transient pairing of a chunk with its per-signal scores.
// Never persisted.
type ScoredChunk struct {
	Chunk          Chunk
	VectorScore    float64
	LexicalScore   float64
	RecencyScore   float64
	CombinedScore  float64
	CrossEncoder   *float64
	Sources        SourceSet
	VectorRank     int
	LexicalRank    int
}

// SourceSet is a bitfield over the three candidate-generation streams.
type SourceSet uint8

const (
	SourceVector SourceSet = 1 << iota
	SourceLexical
	SourceRecency
)

func (s SourceSet) Has(flag SourceSet) bool { return s&flag != 0 }

func (s SourceSet) Count() int {
	n := 0
	for _, f := range []SourceSet{SourceVector, SourceLexical, SourceRecency} {
		if s.Has(f) {
			n++
		}
	}
	return n
}

// Citation is the (token, record) pair fed back to a caller.
type Citation struct {
	Token     string
	NoteID    string
	ChunkID   string
	CreatedAt time.Time
	Snippet   string
	Score     float64
	Offset    *int
	Anchor    string
}

// Intent classifies the shape of answer a query calls for.
type Intent string

const (
	IntentQuestion   Intent = "question"
	IntentSearch     Intent = "search"
	IntentSummarize  Intent = "summarize"
	IntentList       Intent = "list"
	IntentDecision   Intent = "decision"
	IntentActionItem Intent = "action_item"
)

// IsAggregation reports whether the intent triggers broader recall and
// stricter time-window filtering.
func (i Intent) IsAggregation() bool {
	switch i {
	case IntentSummarize, IntentList, IntentDecision, IntentActionItem:
		return true
	default:
		return false
	}
}

// QueryAnalysis is the transient output of the query analyzer; it is not
// cached between Analyze calls.
type QueryAnalysis struct {
	Normalized   string
	Keywords     []string
	Intent       Intent
	TimeHintDays *int
	Entities     []string
	BoostTerms   []string
	UniqueIDs    []string
}

// RetrievalResult is cacheable: the final ordered chunk list plus the
// diagnostics needed to explain and reproduce it.
type RetrievalResult struct {
	Query             string
	Chunks            []ScoredChunk
	Strategy          string
	StageCounts       map[string]int
	StageTimings      map[string]time.Duration
	TopScore          float64
	ScoreGapToSecond  float64
	UniqueNoteCount   int
	DriftDetected     bool
	MissingRatio      float64
}
