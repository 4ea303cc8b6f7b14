package providers

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewAnthropicProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
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

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapErr(p.Name(), err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: p.Name(), Message: "empty completion"}
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) ExtractTitles(ctx context.Context, text string) ([]string, error) {
	return extractTitlesVia(ctx, p, text)
}
