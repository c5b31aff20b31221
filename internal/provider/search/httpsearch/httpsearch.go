// Package httpsearch implements provider.SearchProvider against a
// Brave-style search API, extending each result with full extracted text
// via go-readability (falling back to a headless chromedp render for
// JS-heavy pages), since the upstream search API itself returns only a
// short snippet.
package httpsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/ratelimit"
)

// Search is a Brave Search API client wrapped in the shared RateGate.
type Search struct {
	APIKey string
	Gate   *ratelimit.Gate
	Client *http.Client
	// FetchTimeout bounds each per-result extraction fetch (HTTP or chromedp).
	FetchTimeout time.Duration
}

// New builds a Search client with its own RateGate at the given minimum
// spacing, per the engine's minSearchSpacingMs configuration option.
func New(apiKey string, minSpacing time.Duration) *Search {
	return &Search{
		APIKey:       apiKey,
		Gate:         ratelimit.New(minSpacing, ratelimit.DefaultMaxRetries),
		Client:       &http.Client{Timeout: 15 * time.Second},
		FetchTimeout: 10 * time.Second,
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

// SearchWithContents dispatches through the RateGate, then extracts full
// page text for each result via go-readability, falling back to chromedp
// for pages readability can't parse, and finally to the search snippet.
func (s *Search) SearchWithContents(ctx context.Context, query string, opts provider.SearchOptions) (provider.SearchResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	if opts.NumResults > 0 {
		q.Set("count", fmt.Sprintf("%d", opts.NumResults))
	}
	if opts.StartPublishedDate != "" {
		q.Set("freshness", opts.StartPublishedDate)
	}
	endpoint := "https://api.search.brave.com/res/v1/web/search?" + q.Encode()

	var raw braveResponse
	err := s.Gate.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Subscription-Token", s.APIKey)
		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &ratelimit.StatusError{StatusCode: resp.StatusCode}
		}
		return json.NewDecoder(resp.Body).Decode(&raw)
	})
	if err != nil {
		return provider.SearchResponse{}, err
	}

	out := provider.SearchResponse{}
	for _, r := range raw.Web.Results {
		text := s.extractText(ctx, r.URL)
		if text == "" {
			text = r.Description
		}
		out.Results = append(out.Results, provider.SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Text:          text,
			PublishedDate: r.Age,
		})
	}
	return out, nil
}

// extractText fetches u and runs it through go-readability; if that fails
// to produce meaningful content it falls back to a headless chromedp
// render (for JS-rendered pages), returning "" if both fail.
func (s *Search) extractText(ctx context.Context, u string) string {
	fetchCtx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	defer cancel()

	article, err := readability.FromURL(u, s.FetchTimeout)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.TextContent
	}

	chromeCtx, chromeCancel := chromedp.NewContext(fetchCtx)
	defer chromeCancel()
	var rendered string
	runErr := chromedp.Run(chromeCtx,
		chromedp.Navigate(u),
		chromedp.Text("body", &rendered, chromedp.ByQuery),
	)
	if runErr != nil {
		return ""
	}
	return strings.TrimSpace(rendered)
}
