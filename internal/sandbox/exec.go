package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/vsockrpc"
	"github.com/opensandbox/sandboxd/pkg/types"
)

// rpcFor returns the RPC client for a running sandbox, lazily
// connecting when none is stored (the guest agent was unreachable at
// create or resume). A stored client whose connection has since
// dropped is returned as is; calls on it fail with GuestUnreachable.
func (m *Manager) rpcFor(ctx context.Context, id string) (*vsockrpc.Client, error) {
	m.mu.RLock()
	e, ok := m.table[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("sandbox %q not found", id))
	}
	if e.sandbox.Status != types.StatusRunning {
		return nil, apierrors.New(apierrors.InvalidState, fmt.Sprintf("sandbox %q is not running", id))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.rpc != nil {
		return e.rpc, nil
	}

	client := vsockrpc.New(m.layout.VsockSocketPath(id), m.cfg.VsockPort, m.cfg.MaxMessageSize)
	if err := client.Connect(ctx, time.Duration(m.cfg.GuestAgentTimeoutSeconds)*time.Second); err != nil {
		return nil, err
	}
	e.rpc = client
	return client, nil
}

// Exec runs a command in a running sandbox's guest.
func (m *Manager) Exec(ctx context.Context, id string, req types.ProcessConfig) (*types.ProcessResult, error) {
	client, err := m.rpcFor(ctx, id)
	if err != nil {
		return nil, err
	}

	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = m.cfg.CommandDefaultTimeoutSeconds
	}

	result, err := client.Exec(ctx, req.Command, req.WorkingDir, timeout)
	if err != nil {
		return nil, err
	}
	return &types.ProcessResult{
		Success:  result.Success,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Error:    result.Error,
	}, nil
}
