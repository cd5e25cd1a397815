// Package client is a minimal HTTP client for the sandboxd API, used
// by cmd/sbctl and anything else that wants to script the daemon
// instead of hand-rolling net/http calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/opensandbox/sandboxd/pkg/types"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) CreateSandbox(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error) {
	var sb types.Sandbox
	if err := c.do(ctx, http.MethodPost, "/sandboxes", cfg, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (c *Client) ListSandboxes(ctx context.Context) ([]types.Sandbox, error) {
	var sbs []types.Sandbox
	if err := c.do(ctx, http.MethodGet, "/sandboxes", nil, &sbs); err != nil {
		return nil, err
	}
	return sbs, nil
}

func (c *Client) GetSandbox(ctx context.Context, id string) (*types.Sandbox, error) {
	var sb types.Sandbox
	if err := c.do(ctx, http.MethodGet, "/sandboxes/"+id, nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (c *Client) DestroySandbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sandboxes/"+id, nil, nil)
}

func (c *Client) PauseSandbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sandboxes/"+id+"/pause", nil, nil)
}

func (c *Client) ResumeSandbox(ctx context.Context, id string) (*types.Sandbox, error) {
	var sb types.Sandbox
	if err := c.do(ctx, http.MethodPost, "/sandboxes/"+id+"/resume", nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (c *Client) Exec(ctx context.Context, id string, req types.ProcessConfig) (*types.ProcessResult, error) {
	var result types.ProcessResult
	if err := c.do(ctx, http.MethodPost, "/sandboxes/"+id+"/exec", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ReadFile(ctx context.Context, id, path string) (map[string]any, error) {
	var resp map[string]any
	q := url.Values{"path": {path}}
	if err := c.do(ctx, http.MethodGet, "/sandboxes/"+id+"/files/read?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) WriteFile(ctx context.Context, id, path, content string, isBase64 bool) error {
	body := map[string]any{"path": path, "content": content, "is_base64": isBase64}
	return c.do(ctx, http.MethodPost, "/sandboxes/"+id+"/files/write", body, nil)
}
