// Package mcpserver exposes the escrow API to MCP-speaking agents over
// stdio. It is a thin translation layer: every tool call becomes an HTTP
// request to a running clearhold server, authenticated with the agent's own
// API key, so tool calls carry exactly the caller's authority.
package mcpserver

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

// Client is a minimal HTTP client for the clearhold API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the API's structured error body.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &errBody)
		if errBody.Error == "" {
			errBody.Error = "http_error"
			errBody.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &apiError{Status: resp.StatusCode, Code: errBody.Error, Message: errBody.Message}
	}
	return raw, nil
}

func (c *Client) GetEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/escrows/"+id, nil)
}

func (c *Client) GetEscrowByOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/escrow", nil)
}

func (c *Client) ListEscrows(ctx context.Context, status, participant string) (json.RawMessage, error) {
	path := "/v1/escrows"
	switch {
	case status != "":
		path += "?status=" + status
	case participant != "":
		path += "?participant=" + participant
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) GetEvents(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/escrows/"+id+"/events", nil)
}

func (c *Client) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/stats", nil)
}

func (c *Client) CreateEscrow(ctx context.Context, req map[string]interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/escrows", req)
}

func (c *Client) Release(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/escrows/"+id+"/release", nil)
}

func (c *Client) Refund(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/escrows/"+id+"/refund", nil)
}

func (c *Client) Dispute(ctx context.Context, id, reason string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/escrows/"+id+"/dispute", map[string]string{"reason": reason})
}

func (c *Client) Resolve(ctx context.Context, id, winner string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/escrows/"+id+"/resolve", map[string]string{"winner": winner})
}
