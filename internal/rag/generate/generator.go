package generate

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"notesrag/internal/model"
	"notesrag/internal/rag/citation"
	"notesrag/internal/rag/sourcepack"
	"notesrag/internal/ragerr"
)

// classifyError maps a provider error to the closed ragerr.Kind set: a
// quota/429-shaped error becomes RateLimited (never retried by the caller's
// own loop — the caller surfaces it with a backoff hint instead), an
// argument/permission-shaped error becomes Validation (never retried),
// anything else is Transient (retried with backoff).
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return ragerr.Wrap(ragerr.RateLimited, "generator quota exhausted", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "invalid_request") || strings.Contains(msg, "permission"):
		return ragerr.Wrap(ragerr.Validation, "generator rejected the request", err)
	default:
		return ragerr.Wrap(ragerr.Transient, "generator call failed", err)
	}
}

// Response is the non-streaming result the chat HTTP handler returns.
type Response struct {
	Answer    string
	Citations []model.Citation
	Model     string
	Retrieval RetrievalMeta
}

// RetrievalMeta mirrors the JSON meta.retrieval block.
type RetrievalMeta struct {
	K              int
	Strategy       string
	CandidateCount int
	RerankCount    int
	TimeMS         int64
}

// Generator wraps a Provider with retry/backoff, a hard timeout, and
// citation-coverage repair.
type Generator struct {
	Provider    Provider
	Temperature float64
	Timeout     time.Duration
	Validator   *citation.Validator
	RepairOnLow bool
}

// New constructs a Generator with spec defaults (temperature 0.1, 30s
// timeout, repair enabled).
func New(p Provider, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Generator{Provider: p, Temperature: 0.1, Timeout: timeout, Validator: citation.NewValidator(), RepairOnLow: true}
}

// Generate runs the non-streaming grounded-generation path: retry with
// exponential backoff (base 1s, up to 2 retries) on transient errors, no
// retry on validation/rate-limit errors, a hard timeout racing every
// attempt, citation validation, and a single repair call when coverage is
// below 50%.
func (g *Generator) Generate(ctx context.Context, system, user string, pack sourcepack.Pack, meta RetrievalMeta) (Response, error) {
	start := time.Now()
	answer, err := g.callWithRetry(ctx, system, user)
	if err != nil {
		return Response{}, err
	}

	result := g.Validator.Validate(answer, pack)
	if result.Coverage < 0.5 && g.RepairOnLow {
		repaired, rerr := g.repair(ctx, system, user, answer, pack)
		if rerr == nil {
			repairedResult := g.Validator.Validate(repaired, pack)
			if repairedResult.Coverage > result.Coverage {
				answer = repaired
				result = repairedResult
			}
		}
	}

	if len(result.InvalidTokens) > 0 {
		answer = citation.StripTokens(answer, result.InvalidTokens)
	}

	meta.TimeMS = time.Since(start).Milliseconds()
	return Response{
		Answer:    answer,
		Citations: result.UsedCitations,
		Model:     g.Provider.Name(),
		Retrieval: meta,
	}, nil
}

func (g *Generator) repair(ctx context.Context, system, user, priorAnswer string, pack sourcepack.Pack) (string, error) {
	repairPrompt := user + "\n\nYour previous answer below under-cited its sources. Rewrite it, adding a " +
		"[N<d>] citation token after every factual claim, using only tokens already present in the source list.\n\nPrevious answer:\n" + priorAnswer
	return g.callWithRetry(ctx, system, repairPrompt)
}

func (g *Generator) callWithRetry(ctx context.Context, system, user string) (string, error) {
	const maxRetries = 2
	const baseDelay = time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, g.Timeout)
		answer, err := g.Provider.Complete(cctx, system, user, g.Temperature)
		cancel()
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if !ragerr.Is(err, ragerr.Transient) {
			return "", err
		}
		if attempt == maxRetries {
			break
		}
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay + jitter):
		}
	}
	return "", lastErr
}
