package generate

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"notesrag/internal/config"
)

// anthropicProvider is a single-turn wrapper over the Anthropic Messages
// API, grounded on the SDK construction and response/stream parsing the
// teacher's internal/llm/anthropic client uses for its multi-turn,
// tool-calling path.
type anthropicProvider struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic builds a Provider backed by the Anthropic Messages API.
func NewAnthropic(cfg config.AnthropicConfig, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &anthropicProvider{sdk: anthropic.NewClient(opts...), model: model, maxTokens: 4096}
}

func (p *anthropicProvider) Name() string { return p.model }

func (p *anthropicProvider) Complete(ctx context.Context, system, user string, temperature float64) (answer string, err error) {
	ctx, span := startRequestSpan(ctx, "anthropic.complete", p.model, false)
	defer func() { endRequestSpan(span, err) }()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
	}
	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (p *anthropicProvider) Stream(ctx context.Context, system, user string, temperature float64, onToken func(string)) (err error) {
	ctx, span := startRequestSpan(ctx, "anthropic.stream", p.model, true)
	defer func() { endRequestSpan(span, err) }()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
	}
	stream := p.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if td, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
				onToken(td.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return classifyError(err)
	}
	return nil
}
