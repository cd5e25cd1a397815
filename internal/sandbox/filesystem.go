package sandbox

import (
	"context"

	"github.com/opensandbox/sandboxd/pkg/types"
)

// The six methods below return the guest agent's response payload
// verbatim, success field and all. A missing file or a failed write is
// a normal, expected outcome of calling into a sandbox, not a transport
// failure: the caller needs the guest's reported reason, not an
// apierrors value. Only a failure to reach the guest at all (handshake,
// framing, timeout) surfaces as the Go error returned here.

// ReadFile returns the guest agent's read_file response from a running
// sandbox's guest filesystem.
func (m *Manager) ReadFile(ctx context.Context, id, path string) (map[string]any, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.ReadFile(ctx, path)
}

// WriteFile writes content to a path in a running sandbox's guest filesystem.
func (m *Manager) WriteFile(ctx context.Context, id, path, content string, isBase64 bool) (map[string]any, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.WriteFile(ctx, path, content, isBase64)
}

// DeleteFile removes a path in a running sandbox's guest filesystem.
func (m *Manager) DeleteFile(ctx context.Context, id, path string) (map[string]any, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.DeleteFile(ctx, path)
}

// ListFiles lists directory entries at a path in a running sandbox's guest filesystem.
func (m *Manager) ListFiles(ctx context.Context, id, path string) (map[string]any, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}
	resp, err := client.ListFiles(ctx, path)
	if err != nil {
		return nil, err
	}
	if success, _ := resp["success"].(bool); success {
		resp["entries"] = decodeEntries(resp)
	}
	return resp, nil
}

// Mkdir creates a directory (and parents) at a path in a running sandbox's guest filesystem.
func (m *Manager) Mkdir(ctx context.Context, id, path string) (map[string]any, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.Mkdir(ctx, path)
}

// StatPath returns metadata about a path in a running sandbox's guest filesystem.
func (m *Manager) StatPath(ctx context.Context, id, path string) (map[string]any, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.StatPath(ctx, path)
}

func decodeEntries(resp map[string]any) []types.EntryInfo {
	raw, ok := resp["entries"].([]any)
	if !ok {
		return nil
	}
	entries := make([]types.EntryInfo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		isDir, _ := m["is_dir"].(bool)
		size, _ := m["size"].(float64)
		entries = append(entries, types.EntryInfo{Name: name, IsDir: isDir, Size: int64(size)})
	}
	return entries
}
