package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/toolerr"
)

// WebSearchResultMeta is the metadata-only view of a search result
// returned to the calling LLM: the extracted text itself never crosses
// this boundary, only the summariser's output does.
type WebSearchResultMeta struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Author        string  `json:"author,omitempty"`
	PublishedDate string  `json:"publishedDate,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

// WebSearchResult is the tool's return shape.
type WebSearchResult struct {
	Summary string                 `json:"summary"`
	Results []WebSearchResultMeta  `json:"results"`
}

const summarizerSystemPrompt = `You are a research summarizer. You will be given the full extracted text of one or more web pages, each preceded by a numbered delimiter. Produce a concise, dense summary that preserves every numerical figure (percentages, dates, dollar amounts, counts) verbatim. Do not invent facts not present in the source text.`

// WebSearch runs the query through SearchProvider, then summarizes the
// extracted text with the summarizer LLM so raw page text never reaches
// the calling LLM's context. If summarization fails, it degrades to a
// truncated per-result snippet fallback.
func WebSearch(ctx context.Context, d *Deps, query string, numResults int, neural, useAutoprompt bool, startPublishedDate string) (WebSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return WebSearchResult{}, toolerr.New(toolerr.ValidationFailed, "query must not be empty", "provide a non-empty search query")
	}
	resp, err := d.Search.SearchWithContents(ctx, query, provider.SearchOptions{
		NumResults:         numResults,
		Neural:             neural,
		UseAutoprompt:      useAutoprompt,
		StartPublishedDate: startPublishedDate,
	})
	if err != nil {
		if rerr, ok := err.(interface{ Retryable() bool }); ok && rerr.Retryable() {
			return WebSearchResult{}, toolerr.Retryable(toolerr.SearchRateLimited, "search provider rate-limited the request", "retry shortly", 2000)
		}
		return WebSearchResult{}, toolerr.New(toolerr.SearchFailed, err.Error(), "try a narrower query or fewer results")
	}
	if len(resp.Results) == 0 {
		return WebSearchResult{Summary: "No results found.", Results: nil}, nil
	}

	meta := make([]WebSearchResultMeta, 0, len(resp.Results))
	for _, r := range resp.Results {
		meta = append(meta, WebSearchResultMeta{Title: r.Title, URL: r.URL, Author: r.Author, PublishedDate: r.PublishedDate, Score: r.Score})
	}

	summary, err := summarize(ctx, d, resp.Results)
	if err != nil {
		summary = fallbackSnippets(resp.Results)
	}
	return WebSearchResult{Summary: summary, Results: meta}, nil
}

func summarize(ctx context.Context, d *Deps, results []provider.SearchResult) (string, error) {
	if d.Summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	var body strings.Builder
	for i, r := range results {
		fmt.Fprintf(&body, "--- Result %d: %s (%s) ---\n%s\n\n", i+1, r.Title, r.URL, r.Text)
	}
	req := provider.ChatRequest{
		System: summarizerSystemPrompt,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Parts: []provider.ContentPart{{Text: body.String()}}},
		},
		Model:       d.Models.Summarizer,
		Temperature: 0.2,
		MaxSteps:    1,
	}
	stream, err := d.Summarizer.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for ev := range stream {
		switch ev.Type {
		case provider.StreamTextDelta:
			out.WriteString(ev.Text)
		case provider.StreamError:
			return "", ev.Err
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("summarizer returned empty output")
	}
	return out.String(), nil
}

// fallbackSnippets truncates each result's text to ~300 characters when
// summarization fails, so the caller still gets something usable.
func fallbackSnippets(results []provider.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		snippet := r.Text
		if len(snippet) > 300 {
			snippet = snippet[:300] + "..."
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, r.Title, snippet)
	}
	return b.String()
}
