package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 10
	searchTimeout      = 30 * time.Second
	braveEndpoint      = "https://api.search.brave.com/res/v1/web/search"
)

type searchResult struct {
	Title       string
	URL         string
	Description string
}

// WebSearchTool queries Brave Search when an API key is configured and falls
// back to DuckDuckGo's HTML endpoint otherwise.
type WebSearchTool struct {
	braveKey string
	client   *http.Client
}

func NewWebSearchTool(braveKey string) *WebSearchTool {
	return &WebSearchTool{
		braveKey: braveKey,
		client:   &http.Client{Timeout: searchTimeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return result titles, URLs, and snippets"
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results (1-10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if query == "" {
		return ErrorResult("query is required")
	}

	count := defaultSearchCount
	if c, ok := argInt(args, "count"); ok && c >= 1 && c <= maxSearchCount {
		count = c
	}

	var results []searchResult
	var err error
	provider := "duckduckgo"
	if t.braveKey != "" {
		provider = "brave"
		results, err = t.searchBrave(ctx, query, count)
		if err != nil {
			provider = "duckduckgo"
			results, err = t.searchDDG(ctx, query, count)
		}
	} else {
		results, err = t.searchDDG(ctx, query, count)
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err))
	}
	if len(results) == 0 {
		return NewResult(fmt.Sprintf("No results found for: %s", query))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string, count int) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, "GET", braveEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d", resp.StatusCode)
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	results := make([]searchResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, searchResult{
			Title:       r.Title,
			URL:         r.URL,
			Description: tidyText(r.Description),
		})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a[^>]*class="[^"]*result__snippet[^"]*"[^>]*>([\s\S]*?)</a>`)
)

func (t *WebSearchTool) searchDDG(ctx context.Context, query string, count int) ([]searchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	return parseDDGResults(string(body), count), nil
}

func parseDDGResults(html string, count int) []searchResult {
	links := ddgLinkRe.FindAllStringSubmatch(html, count)
	snippets := ddgSnippetRe.FindAllStringSubmatch(html, count)

	results := make([]searchResult, 0, len(links))
	for i, m := range links {
		r := searchResult{
			Title: tidyText(reTag.ReplaceAllString(m[2], "")),
			URL:   unwrapDDGRedirect(m[1]),
		}
		if i < len(snippets) {
			r.Description = tidyText(reTag.ReplaceAllString(snippets[i][1], ""))
		}
		results = append(results, r)
	}
	return results
}

// unwrapDDGRedirect pulls the target URL out of DuckDuckGo's redirect link
// (the uddg query parameter).
func unwrapDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	idx := strings.Index(u, "uddg=")
	target := u[idx+5:]
	if amp := strings.Index(target, "&"); amp != -1 {
		target = target[:amp]
	}
	return target
}
