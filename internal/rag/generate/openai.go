package generate

import (
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"context"

	"notesrag/internal/config"
)

// openaiProvider is a single-turn wrapper over the Chat Completions API,
// grounded on the teacher's internal/llm/openai client's SDK construction
// and streaming chunk parsing, stripped of tool-calling.
type openaiProvider struct {
	sdk   sdk.Client
	model string
}

// NewOpenAI builds a Provider backed by the OpenAI Chat Completions API.
func NewOpenAI(cfg config.OpenAIConfig, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiProvider{sdk: sdk.NewClient(opts...), model: model}
}

func (p *openaiProvider) Name() string { return p.model }

func (p *openaiProvider) Complete(ctx context.Context, system, user string, temperature float64) (answer string, err error) {
	ctx, span := startRequestSpan(ctx, "openai.complete", p.model, false)
	defer func() { endRequestSpan(span, err) }()

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(p.model),
		Temperature: sdk.Float(temperature),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(system),
			sdk.UserMessage(user),
		},
	}
	comp, err := p.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	return comp.Choices[0].Message.Content, nil
}

func (p *openaiProvider) Stream(ctx context.Context, system, user string, temperature float64, onToken func(string)) (err error) {
	ctx, span := startRequestSpan(ctx, "openai.stream", p.model, true)
	defer func() { endRequestSpan(span, err) }()

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(p.model),
		Temperature: sdk.Float(temperature),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(system),
			sdk.UserMessage(user),
		},
	}
	stream := p.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			onToken(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return classifyError(err)
	}
	return nil
}
