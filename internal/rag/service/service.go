// Package service is the composition root: it wires the indexer, the
// retrieval engine, the prompt/sourcepack assembly, and the grounded
// generator behind the two operations the HTTP layer calls, Chat and
// ChatStream.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"notesrag/internal/model"
	"notesrag/internal/rag/citation"
	"notesrag/internal/rag/generate"
	"notesrag/internal/rag/indexer"
	"notesrag/internal/rag/prompt"
	"notesrag/internal/rag/query"
	"notesrag/internal/rag/retrieve"
	"notesrag/internal/rag/sourcepack"
	"notesrag/internal/ragerr"
	"notesrag/internal/stream"
)

// heartbeatInterval is how often ChatStream emits a keep-alive frame while
// the generator is producing tokens.
const heartbeatInterval = 15 * time.Second

// Service composes note ingestion with the ask-a-question path.
type Service struct {
	Indexer   *indexer.Indexer
	Retriever *retrieve.Engine
	Generator *generate.Generator
	Log       zerolog.Logger
}

// New constructs a Service from its already-wired collaborators.
func New(ix *indexer.Indexer, eng *retrieve.Engine, gen *generate.Generator, log zerolog.Logger) *Service {
	return &Service{Indexer: ix, Retriever: eng, Generator: gen, Log: log}
}

// IngestNote runs the idempotent note-processing operation.
func (s *Service) IngestNote(ctx context.Context, note model.Note) (indexer.Result, error) {
	if note.TenantID == "" || note.ID == "" {
		return indexer.Result{}, ragerr.New(ragerr.Validation, "note must carry a tenant and an id")
	}
	return s.Indexer.ProcessNote(ctx, note)
}

// askPrep is the work shared by Chat and ChatStream: validate, retrieve,
// build the source pack, and assemble the prompt pair. limit, when > 0,
// caps the number of ranked chunks fed into the pack and prompt.
func (s *Service) askPrep(ctx context.Context, tenant, message string, limit int) (model.RetrievalResult, sourcepack.Pack, model.Intent, string, string, error) {
	if err := ValidateMessage(message); err != nil {
		return model.RetrievalResult{}, sourcepack.Pack{}, "", "", "", err
	}

	result, err := s.Retriever.Retrieve(ctx, tenant, message)
	if err != nil {
		return model.RetrievalResult{}, sourcepack.Pack{}, "", "", "", ragerr.Wrap(ragerr.Internal, "retrieval failed", err)
	}

	chunks := result.Chunks
	if limit > 0 && limit < len(chunks) {
		chunks = chunks[:limit]
	}

	pack := sourcepack.Build(chunks)
	analysis := query.Analyze(message)
	system, user := prompt.Assemble(message, analysis.Intent, pack)
	return result, pack, analysis.Intent, system, user, nil
}

// Chat runs the non-streaming ask-a-question operation end to end.
func (s *Service) Chat(ctx context.Context, tenant, message string, limit int) (generate.Response, error) {
	result, pack, _, system, user, err := s.askPrep(ctx, tenant, message, limit)
	if err != nil {
		return generate.Response{}, err
	}

	meta := generate.RetrievalMeta{
		K:              len(result.Chunks),
		Strategy:       result.Strategy,
		CandidateCount: result.StageCounts["vector"] + result.StageCounts["lexical"] + result.StageCounts["recency"],
		RerankCount:    result.StageCounts["final"],
	}
	return s.Generator.Generate(ctx, system, user, pack, meta)
}

// ChatStream runs the streaming ask-a-question operation, driving the full
// sources -> token* -> heartbeat -> followups -> done/error SSE sequence on w.
func (s *Service) ChatStream(ctx context.Context, tenant, message string, limit int, w *stream.Writer) error {
	_, pack, intent, system, user, err := s.askPrep(ctx, tenant, message, limit)
	if err != nil {
		w.Error(err.Error())
		return err
	}

	if err := w.Sources(toSourceItems(pack)); err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.runHeartbeat(hbCtx, w)

	start := time.Now()
	var answer string
	streamErr := s.Generator.Provider.Stream(ctx, system, user, s.Generator.Temperature, func(token string) {
		answer += token
		if werr := w.Token(citation.NormalizeTokens(token)); werr != nil {
			s.Log.Warn().Err(werr).Msg("sse token write failed")
		}
	})
	stopHeartbeat()

	if streamErr != nil {
		w.Error(streamErr.Error())
		return streamErr
	}

	// Validation runs against the raw, un-normalized answer accumulated
	// above; the client only ever saw the [<d>]-normalized tokens written to
	// w.Token, per the client-display-only transform.
	validated := s.Generator.Validator.Validate(answer, pack)
	if len(validated.InvalidTokens) > 0 {
		s.Log.Warn().Strs("invalid_tokens", validated.InvalidTokens).Msg("streamed answer cited out-of-range tokens")
	}

	confidence := "low"
	switch {
	case pack.SourceCount >= 3:
		confidence = "high"
	case pack.SourceCount >= 1:
		confidence = "medium"
	}

	if werr := w.Followups(prompt.Followups(intent, pack)); werr != nil {
		s.Log.Warn().Err(werr).Msg("sse followups write failed")
	}

	return w.Done(stream.DoneMeta{
		Model:          s.Generator.Provider.Name(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
		Confidence:     confidence,
		SourceCount:    pack.SourceCount,
	})
}

func (s *Service) runHeartbeat(ctx context.Context, w *stream.Writer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			if err := w.Heartbeat(seq); err != nil {
				return
			}
		}
	}
}

func toSourceItems(pack sourcepack.Pack) []stream.SourceItem {
	items := make([]stream.SourceItem, 0, len(pack.Sources))
	for _, c := range pack.Sources {
		item := stream.SourceItem{
			ID:      c.ChunkID,
			NoteID:  c.NoteID,
			Preview: c.Snippet,
			Date:    c.CreatedAt.Format("2006-01-02"),
			Anchor:  c.Anchor,
		}
		if c.Offset != nil {
			item.StartOffset = c.Offset
			end := *c.Offset + len(c.Snippet)
			item.EndOffset = &end
		}
		items = append(items, item)
	}
	return items
}
