package generate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/inkwellbot/inkwell/pkg/prompts"
	"github.com/inkwellbot/inkwell/pkg/providers"
)

// Kind names the artifact a generation call produces.
type Kind string

const (
	KindSynopsis        Kind = "synopsis"
	KindDiscussion      Kind = "discussion"
	KindContentWarnings Kind = "content-warnings"
	KindRecommendations Kind = "recommendations"
)

func (k Kind) templateName() string {
	switch k {
	case KindSynopsis:
		return prompts.Synopsis
	case KindDiscussion:
		return prompts.Discussion
	case KindContentWarnings:
		return prompts.ContentWarnings
	case KindRecommendations:
		return prompts.Recommendations
	}
	return ""
}

// Task is one generation unit: a work item plus the artifact kind and any
// prompt context. Provider carries the per-invocation provider snapshot.
type Task struct {
	Provider string
	Title    string
	Kind     Kind
	BasedOn  string // recommendations: the titles the request is based on
	Context  string // optional web-lookup enrichment
	Count    int    // recommendations: how many to suggest
}

// Client builds prompts and dispatches them to the selected provider. Safe
// for concurrent use across distinct tasks.
type Client struct {
	registry  *providers.Registry
	overrides prompts.Lookup
}

func NewClient(registry *providers.Registry, overrides prompts.Lookup) *Client {
	return &Client{registry: registry, overrides: overrides}
}

// Generate produces the artifact text for one task. Provider failures come
// back as *providers.ProviderError; the caller decides how to surface them.
func (c *Client) Generate(ctx context.Context, task Task) (string, error) {
	name := task.Kind.templateName()
	if name == "" {
		return "", fmt.Errorf("unknown artifact kind %q", task.Kind)
	}

	provider, err := c.registry.Get(task.Provider)
	if err != nil {
		return "", err
	}

	count := task.Count
	if count <= 0 {
		count = 5
	}
	contextBlock := ""
	if task.Context != "" {
		contextBlock = "\n\nWeb context that may help:\n" + task.Context
	}

	prompt := prompts.Render(name, map[string]string{
		"title":   task.Title,
		"basedOn": task.BasedOn,
		"count":   strconv.Itoa(count),
		"context": contextBlock,
	}, c.overrides)

	return provider.Generate(ctx, providers.Request{
		System: prompts.Render(prompts.System, nil, c.overrides),
		Prompt: prompt,
	})
}

// ExtractTitles runs the named provider's title-extraction capability.
func (c *Client) ExtractTitles(ctx context.Context, providerName, text string) ([]string, error) {
	provider, err := c.registry.Get(providerName)
	if err != nil {
		return nil, err
	}
	return provider.ExtractTitles(ctx, text)
}
