// Package reranker provides a rag.Reranker backed by a Jina-compatible
// rerank REST API (POST /v1/rerank). The default model is multilingual so
// documents in any language score correctly against the query.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/papyr-ai/papyr-go/internal/rag"
)

// Client implements rag.Reranker over HTTP. It is safe for concurrent use.
type Client struct {
	// endpoint is the rerank API base URL (e.g. "https://api.jina.ai").
	endpoint string
	// model is the reranking model name.
	model string
	// apiKey is the optional Bearer token.
	apiKey string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// Config holds the settings for constructing a rerank Client.
type Config struct {
	// Endpoint is the rerank API base URL.
	Endpoint string
	// Model is the reranking model name (e.g. "jina-reranker-v2-base-multilingual").
	Model string
	// APIKey is the optional Bearer token for hosted rerank APIs.
	APIKey string
}

// New constructs the process-wide rerank Client from the given config.
func New(cfg *Config) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// rerankRequest is the JSON body sent to the /v1/rerank endpoint.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// rerankResponse is the JSON body returned from the /v1/rerank endpoint.
type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
	Detail string `json:"detail,omitempty"`
}

// Rerank scores the passages against the query and returns the top-n in
// descending relevance order. The original passages are attached to the
// results by index, with Score replaced by the rerank relevance score.
func (c *Client) Rerank(ctx context.Context, query string, passages []rag.Passage, topN int) ([]rag.Passage, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if topN > len(passages) {
		topN = len(passages)
	}

	docs := make([]string, len(passages))
	for i, p := range passages {
		docs[i] = p.Text
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reranker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("reranker: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Detail != "" {
			msg = result.Detail
		}
		return nil, fmt.Errorf("reranker: %s", msg)
	}

	ranked := make([]rag.Passage, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, fmt.Errorf("reranker: index %d out of range [0, %d)", r.Index, len(passages))
		}
		p := passages[r.Index]
		p.Score = r.RelevanceScore
		ranked = append(ranked, p)
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	return ranked, nil
}

// Ping checks reranker reachability for readiness probes. The rerank API has
// no dedicated health route, so a bare GET of the service root distinguishes
// "reachable" from "down" by any HTTP response at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return fmt.Errorf("reranker unreachable: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reranker unreachable: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Name returns the probe label for readiness responses.
func (c *Client) Name() string { return "reranker" }
