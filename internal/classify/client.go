package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxTextLen is the upper bound of the wire contract's text field. Longer
// input is truncated so the remote model scores the prefix; the alternative
// (rejecting) would silently drop long concatenated messages.
const maxTextLen = 1000

// Verdict is the classification result for one message.
type Verdict struct {
	Label    string   `json:"label"`
	Score    float64  `json:"score"`
	Features []string `json:"features_detected,omitempty"`
}

// Endpoint is the remote service location plus optional bearer credential.
type Endpoint struct {
	BaseURL string
	Token   string
}

// Client calls the remote classification service. Endpoint configuration can
// be swapped at runtime; each call snapshots it first, so a swap never
// affects calls already dispatched.
type Client struct {
	mu sync.RWMutex
	ep Endpoint
	hc *http.Client
}

// New creates a client with the given endpoint and per-call timeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		ep: Endpoint{BaseURL: strings.TrimRight(baseURL, "/"), Token: token},
		hc: &http.Client{Timeout: timeout},
	}
}

// SetEndpoint swaps the endpoint for calls issued after the swap.
func (c *Client) SetEndpoint(baseURL, token string) {
	c.mu.Lock()
	c.ep = Endpoint{BaseURL: strings.TrimRight(baseURL, "/"), Token: token}
	c.mu.Unlock()
}

// Endpoint returns a snapshot of the current endpoint.
func (c *Client) Endpoint() Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ep
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify performs one synchronous remote call. Failures are reported as
// TransportError, ProtocolError or RemoteError.
func (c *Client) Classify(ctx context.Context, text string) (*Verdict, error) {
	ep := c.Endpoint()

	if runes := []rune(text); len(runes) > maxTextLen {
		text = string(runes[:maxTextLen])
	}

	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, &ProtocolError{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var v Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &ProtocolError{Reason: "decode response", Err: err}
	}
	if v.Label == "" {
		return nil, &ProtocolError{Reason: "missing label"}
	}
	if v.Score < 0 || v.Score > 1 {
		return nil, &ProtocolError{Reason: "score out of [0,1]"}
	}
	return &v, nil
}
