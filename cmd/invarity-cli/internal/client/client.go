// Package client provides an HTTP client for the Invarity authorizer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"invarity/cmd/invarity-cli/internal/config"
	"invarity/internal/types"
)

// Version is the CLI version, set at build time.
var Version = "dev"

// Client is an HTTP client for the Invarity authorizer API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	trace      bool
	traceOut   io.Writer
}

// RequestTrace contains metadata about an HTTP request/response for debugging.
type RequestTrace struct {
	Method       string
	URL          string
	StatusCode   int
	Duration     time.Duration
	RequestSize  int
	ResponseSize int
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithTrace enables request/response tracing.
func WithTrace(w io.Writer) Option {
	return func(c *Client) {
		c.trace = true
		c.traceOut = w
	}
}

// New creates a new Invarity API client.
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.Server, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// doRequest performs an HTTP request with common handling.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, []byte, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL path: %w", err)
	}

	var reqBody io.Reader
	var reqSize int
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
		reqSize = len(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", fmt.Sprintf("invarity-cli/%s", Version))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if c.trace && c.traceOut != nil {
		trace := RequestTrace{
			Method:       method,
			URL:          u,
			StatusCode:   resp.StatusCode,
			Duration:     duration,
			RequestSize:  reqSize,
			ResponseSize: len(respBody),
		}
		c.printTrace(trace)
	}

	return resp, respBody, nil
}

func (c *Client) printTrace(t RequestTrace) {
	fmt.Fprintf(c.traceOut, "\n[TRACE] %s %s\n", t.Method, t.URL)
	fmt.Fprintf(c.traceOut, "[TRACE] Status: %d | Duration: %s | Request: %d bytes | Response: %d bytes\n",
		t.StatusCode, t.Duration.Round(time.Millisecond), t.RequestSize, t.ResponseSize)
}

// ErrorResponse mirrors the authorizer's structured error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// APIError wraps a non-2xx response body the server returned as a
// structured error envelope.
type APIError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Body.Code, e.Body.Error)
}

func parseError(status int, body []byte) error {
	var env ErrorResponse
	if err := json.Unmarshal(body, &env); err != nil || env.Error == "" {
		return fmt.Errorf("server returned status %d: %s", status, string(body))
	}
	return &APIError{StatusCode: status, Body: env}
}

// HealthResponse represents the response from /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Ping checks the server health.
func (c *Client) Ping(ctx context.Context) (*HealthResponse, error) {
	resp, body, err := c.doRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &health, nil
}

// Authorize submits intent and returns the authorizer's decision.
func (c *Client) Authorize(ctx context.Context, intent *types.Intent) (*types.Decision, error) {
	resp, body, err := c.doRequest(ctx, http.MethodPost, "/v1/authorize", intent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	var decision types.Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision: %w", err)
	}
	return &decision, nil
}

// ReportOutcome reports the execution result of a previously authorized
// intent. The server returns either a realized TrustDelta, or a
// pending-window acknowledgment when the outcome's risk profile defers
// the trust impact.
func (c *Client) ReportOutcome(ctx context.Context, outcome *types.ExecutionOutcome) (*types.TrustDelta, bool, error) {
	resp, body, err := c.doRequest(ctx, http.MethodPost, "/v1/outcomes", outcome)
	if err != nil {
		return nil, false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var delta types.TrustDelta
		if err := json.Unmarshal(body, &delta); err != nil {
			return nil, false, fmt.Errorf("failed to parse trust delta: %w", err)
		}
		return &delta, false, nil
	case http.StatusAccepted:
		return nil, true, nil
	default:
		return nil, false, parseError(resp.StatusCode, body)
	}
}

// GetProfile fetches the current trust profile for agentID.
func (c *Client) GetProfile(ctx context.Context, agentID string) (*types.TrustProfile, error) {
	resp, body, err := c.doRequest(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID)+"/profile", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	var profile types.TrustProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse trust profile: %w", err)
	}
	return &profile, nil
}

// EventFilter narrows a StreamEvents query.
type EventFilter struct {
	CorrelationID string
	AgentID       string
	SinceSeq      int64
}

// StreamEvents fetches a filtered, point-in-time read of the proof chain.
func (c *Client) StreamEvents(ctx context.Context, filter EventFilter) ([]*types.ProofEvent, error) {
	q := url.Values{}
	if filter.CorrelationID != "" {
		q.Set("correlation_id", filter.CorrelationID)
	}
	if filter.AgentID != "" {
		q.Set("agent_id", filter.AgentID)
	}
	if filter.SinceSeq != 0 {
		q.Set("since_seq", strconv.FormatInt(filter.SinceSeq, 10))
	}
	path := "/v1/events"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	var events []*types.ProofEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}
	return events, nil
}

// VerifyChain walks the proof chain for correlationID and reports whether
// it is intact.
func (c *Client) VerifyChain(ctx context.Context, correlationID string) (*types.ChainVerificationResult, error) {
	resp, body, err := c.doRequest(ctx, http.MethodGet, "/v1/chains/"+url.PathEscape(correlationID)+"/verify", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	var result types.ChainVerificationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse verification result: %w", err)
	}
	return &result, nil
}
