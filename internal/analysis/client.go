// Package analysis calls the HTTP endpoint that comments on code. It is
// independent of the realtime socket.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Mode selects the kind of commentary.
type Mode string

const (
	ModeAnalysis Mode = "analysis"
	ModeExplain  Mode = "explain"
)

// ParseMode accepts "analysis" (or "analyze") and "explain".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "analysis", "analyze":
		return ModeAnalysis, nil
	case "explain":
		return ModeExplain, nil
	}
	return "", fmt.Errorf("unknown analysis mode %q", s)
}

// Request is the body of POST <base><prefix>/<mode>.
type Request struct {
	Code             string `json:"code"`
	Language         string `json:"language"`
	ExecutionContext string `json:"executionContext,omitempty"`
}

type response struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Client posts analysis requests.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
}

// NewClient builds a client for baseURL (e.g. http://localhost:8080) with
// the endpoints under prefix (e.g. /gemini).
func NewClient(baseURL, prefix string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     "/" + strings.Trim(prefix, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint(mode Mode) string {
	if c.prefix == "/" {
		return c.baseURL + "/" + string(mode)
	}
	return c.baseURL + c.prefix + "/" + string(mode)
}

// Run posts req and returns the result text. Non-2xx statuses and results
// starting with "Error" are errors.
func (c *Client) Run(ctx context.Context, mode Mode, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(mode), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out response
	jsonErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if jsonErr == nil && out.Error != "" {
			msg = out.Error
		}
		return "", fmt.Errorf("%s request failed with status %d: %s", mode, resp.StatusCode, msg)
	}
	if jsonErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", jsonErr)
	}
	if strings.HasPrefix(out.Result, "Error") {
		return "", fmt.Errorf("%s failed: %s", mode, out.Result)
	}
	return out.Result, nil
}
