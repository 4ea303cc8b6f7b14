package providers

import (
	"context"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAIProvider struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := p.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(temperature),
	})
	if err != nil {
		return "", wrapErr(p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), Message: "empty completion"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ExtractTitles(ctx context.Context, text string) ([]string, error) {
	return extractTitlesVia(ctx, p, text)
}
