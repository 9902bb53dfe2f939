// Package memory is the OpenMemory HTTP client. OpenMemory is an optional
// collaborator: every method degrades to empty results when the service is
// down, so callers never treat its errors as fatal.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	userID  string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, userID, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: trimTrailingSlash(baseURL),
		userID:  userID,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Memory is one stored snippet as returned by the search endpoints.
type Memory struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"metadata,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

type addPayload struct {
	Messages []chatMessage  `json:"messages"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []Memory `json:"results"`
}

// AddMemory stores one snippet with optional metadata.
func (c *Client) AddMemory(ctx context.Context, content string, metadata map[string]any) error {
	payload := addPayload{
		Messages: []chatMessage{{Role: "user", Content: content}},
		UserID:   c.userID,
		Metadata: metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("memory.Client.AddMemory: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/memories/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("memory.Client.AddMemory: request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("memory.Client.AddMemory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("memory.Client.AddMemory: status %d", resp.StatusCode)
	}

	return nil
}

// SearchMemories returns snippets semantically relevant to the query.
func (c *Client) SearchMemories(ctx context.Context, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("user_id", c.userID)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/memories/search/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("memory.Client.SearchMemories: request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory.Client.SearchMemories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory.Client.SearchMemories: status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("memory.Client.SearchMemories: decode: %w", err)
	}

	return out.Results, nil
}

// RelevantContext returns the content of the memories most relevant to the
// query, for injecting into a decision context.
func (c *Client) RelevantContext(ctx context.Context, query string, limit int) ([]string, error) {
	memories, err := c.SearchMemories(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	snippets := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.Content == "" {
			continue
		}
		snippets = append(snippets, m.Content)
	}

	return snippets, nil
}

// RecordOutcome stores an orchestration decision and its outcome so later
// selections can learn from it.
func (c *Client) RecordOutcome(ctx context.Context, project, decision, outcome string) error {
	content := fmt.Sprintf("Orchestration for %s: %s. Outcome: %s", project, decision, outcome)
	return c.AddMemory(ctx, content, map[string]any{
		"context_type": "orchestration_learning",
		"project":      project,
		"outcome":      outcome,
	})
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
