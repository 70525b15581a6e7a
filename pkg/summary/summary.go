// Package summary is a client for the conversation summarization
// endpoint. A finished session's transcript is condensed into a short
// free-text summary for the visitor's profile.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kioskworks/go-kiosk/internal/httpc"
	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/transcript"
)

// Client calls the summarization endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a summarization client for the given API base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpc.Client,
		logger:     log.With("component", "summary"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type summarizeRequest struct {
	Messages []transcript.Message `json:"messages"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize condenses the conversation into a short summary.
func (c *Client) Summarize(ctx context.Context, messages []transcript.Message) (string, error) {
	body, err := json.Marshal(summarizeRequest{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("summary: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transcriptions/summarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("summary: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summary: unexpected status %d", resp.StatusCode)
	}

	var parsed summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("summary: decode response: %w", err)
	}

	c.logger.Debug("summarized conversation",
		"messages", len(messages),
		"summary_len", len(parsed.Summary))
	return parsed.Summary, nil
}
