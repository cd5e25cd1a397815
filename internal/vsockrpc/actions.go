package vsockrpc

import (
	"context"
	"fmt"
	"time"

	"github.com/opensandbox/sandboxd/internal/apierrors"
)

const defaultActionTimeout = 300 * time.Second

// ExecResult is the decoded payload of a successful or failed exec call.
type ExecResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Error    string
}

// Exec runs a command in the guest with the caller's logical timeout
// plus a 5s allowance for guest-side wrap-up, per SPEC_FULL.md §4.5.
func (c *Client) Exec(ctx context.Context, command, workingDir string, timeoutSeconds int) (*ExecResult, error) {
	resp, err := c.Call(ctx, map[string]any{
		"action":          "exec",
		"command":         command,
		"working_dir":     workingDir,
		"timeout_seconds": timeoutSeconds,
	}, time.Duration(timeoutSeconds)*time.Second+5*time.Second)
	if err != nil {
		return nil, err
	}
	return decodeExecResult(resp), nil
}

func decodeExecResult(resp map[string]any) *ExecResult {
	r := &ExecResult{}
	if v, ok := resp["success"].(bool); ok {
		r.Success = v
	}
	if v, ok := resp["exit_code"].(float64); ok {
		r.ExitCode = int(v)
	}
	if v, ok := resp["stdout"].(string); ok {
		r.Stdout = v
	}
	if v, ok := resp["stderr"].(string); ok {
		r.Stderr = v
	}
	if v, ok := resp["error"].(string); ok {
		r.Error = v
	}
	return r
}

// ReadFile issues the read_file action.
func (c *Client) ReadFile(ctx context.Context, path string) (map[string]any, error) {
	return c.Call(ctx, map[string]any{"action": "read_file", "path": path}, defaultActionTimeout)
}

// WriteFile issues the write_file action.
func (c *Client) WriteFile(ctx context.Context, path, content string, isBase64 bool) (map[string]any, error) {
	return c.Call(ctx, map[string]any{
		"action":    "write_file",
		"path":      path,
		"content":   content,
		"is_base64": isBase64,
	}, defaultActionTimeout)
}

// DeleteFile issues the delete_file action.
func (c *Client) DeleteFile(ctx context.Context, path string) (map[string]any, error) {
	return c.Call(ctx, map[string]any{"action": "delete_file", "path": path}, defaultActionTimeout)
}

// ListFiles issues the list_files action.
func (c *Client) ListFiles(ctx context.Context, path string) (map[string]any, error) {
	return c.Call(ctx, map[string]any{"action": "list_files", "path": path}, defaultActionTimeout)
}

// Mkdir issues the mkdir action.
func (c *Client) Mkdir(ctx context.Context, path string) (map[string]any, error) {
	return c.Call(ctx, map[string]any{"action": "mkdir", "path": path}, defaultActionTimeout)
}

// StatPath issues the stat action.
func (c *Client) StatPath(ctx context.Context, path string) (map[string]any, error) {
	return c.Call(ctx, map[string]any{"action": "stat", "path": path}, defaultActionTimeout)
}

// Ping issues the ping action, used as a lightweight reachability probe.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, map[string]any{"action": "ping"}, defaultActionTimeout)
	if err != nil {
		return err
	}
	if success, _ := resp["success"].(bool); !success {
		errMsg, _ := resp["error"].(string)
		return apierrors.New(apierrors.GuestUnreachable, fmt.Sprintf("ping failed: %s", errMsg))
	}
	return nil
}
