package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inkwellbot/inkwell/pkg/prompts"
)

// Request carries one text generation call to a provider.
type Request struct {
	System      string
	Prompt      string
	Model       string // optional override of the provider's configured model
	MaxTokens   int
	Temperature float64
}

// Generator is the capability surface every provider conforms to.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	ExtractTitles(ctx context.Context, text string) ([]string, error)
}

// ProviderError wraps an upstream provider failure with its message intact,
// so the pipeline can surface it per work item without aborting siblings.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func wrapErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

// extractTitlesVia implements the shared title-extraction capability on top
// of a provider's Generate call.
func extractTitlesVia(ctx context.Context, g Generator, text string) ([]string, error) {
	out, err := g.Generate(ctx, Request{
		System:      prompts.Render(prompts.ExtractSystem, nil, nil),
		Prompt:      prompts.Render(prompts.ExtractTitles, map[string]string{"text": text}, nil),
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	return ParseTitleArray(out)
}

// ParseTitleArray parses a model response expected to be a JSON array of
// title strings. Code fences and surrounding prose are tolerated.
func ParseTitleArray(raw string) ([]string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var titles []string
	if err := json.Unmarshal([]byte(s[start:end+1]), &titles); err != nil {
		return nil, fmt.Errorf("parse title array: %w", err)
	}

	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}
