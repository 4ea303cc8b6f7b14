package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkwellbot/inkwell/pkg/logger"
)

// Client performs an optional web lookup used to enrich recommendation
// prompts. Backends form an ordered attempt list: Brave when a key is
// configured, then the keyless DuckDuckGo instant-answer API. The first
// backend returning usable text wins; a total miss is not an error for
// callers, just an empty enrichment.
type Client struct {
	braveKey   string
	maxResults int
	httpClient *http.Client

	braveEndpoint string
	ddgEndpoint   string
}

func New(braveKey string, maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Client{
		braveKey:      braveKey,
		maxResults:    maxResults,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		braveEndpoint: "https://api.search.brave.com/res/v1/web/search",
		ddgEndpoint:   "https://api.duckduckgo.com/",
	}
}

// Lookup returns a short plain-text summary of web results for query, or an
// empty string if nothing usable was found.
func (c *Client) Lookup(ctx context.Context, query string) string {
	if c.braveKey != "" {
		if out, err := c.brave(ctx, query); err == nil && out != "" {
			return out
		} else if err != nil {
			logger.DebugCF("search", "brave lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	out, err := c.duckduckgo(ctx, query)
	if err != nil {
		logger.DebugCF("search", "duckduckgo lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	return out
}

func (c *Client) brave(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s?q=%s&count=%d",
		c.braveEndpoint, url.QueryEscape(query), c.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.braveKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("brave API status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}

	var lines []string
	for i, r := range result.Web.Results {
		if i >= c.maxResults {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", r.Title, r.Description))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) duckduckgo(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s?q=%s&format=json&no_html=1",
		c.ddgEndpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo API status %d", resp.StatusCode)
	}

	var result struct {
		AbstractText  string `json:"AbstractText"`
		RelatedTopics []struct {
			Text string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}

	if result.AbstractText != "" {
		return result.AbstractText, nil
	}
	var lines []string
	for i, t := range result.RelatedTopics {
		if i >= c.maxResults || t.Text == "" {
			break
		}
		lines = append(lines, "- "+t.Text)
	}
	return strings.Join(lines, "\n"), nil
}
