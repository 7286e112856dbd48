// Package generate wraps a generative model behind a single-turn,
// citation-aware completion interface, with retry/backoff/rate-limit
// translation for the non-streaming path and an SSE-friendly streaming path.
// Grounded on the teacher's internal/llm/anthropic and internal/llm/openai
// clients' SDK usage, stripped of tool-calling and multi-turn state since
// the grounded generator is always a single system+user turn.
package generate

import "context"

// Provider is the minimal surface the grounded generator needs from a
// chat model backend.
type Provider interface {
	// Complete runs one non-streaming turn and returns the full answer text.
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
	// Stream runs one streaming turn, invoking onToken for every text delta
	// as it arrives.
	Stream(ctx context.Context, system, user string, temperature float64, onToken func(string)) error
	// Name identifies the backing model for response metadata.
	Name() string
}
