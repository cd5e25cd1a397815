package sandbox

import (
	"encoding/json"
	"os"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/sandboxd/pkg/types"
)

// ReloadOnStartup walks the sandboxes root, loads every state.json it
// finds, and rebuilds the in-memory table. Every reloaded entry is
// forced to stopped regardless of what it recorded: whatever hypervisor
// process it named either is gone (daemon restarted after a crash) or
// will be killed here (best-effort, in case it somehow survived), and
// no guest RPC connection is reopened. The CID cursor is advanced past
// every CID seen so new sandboxes never reuse one still referenced by
// an on-disk (if orphaned) directory. Entries whose state.json cannot
// be parsed are logged and skipped, not fatal to the reload.
//
// Reading, parsing and orphan-killing for each directory is independent
// per id, so that phase runs concurrently via errgroup; only the final
// merge into the shared table is serialized under the manager's lock.
func (m *Manager) ReloadOnStartup() error {
	ids, err := m.layout.ListSandboxDirs()
	if err != nil {
		return err
	}

	loaded := make([]*types.Sandbox, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			loaded[i] = m.loadOneForReload(id)
			return nil
		})
	}
	_ = g.Wait() // loadOneForReload never returns an error; failures are logged and skipped

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sb := range loaded {
		if sb == nil {
			continue
		}
		id := ids[i]
		m.table[id] = &entry{sandbox: *sb}
		if sb.VsockCID >= m.nextCID {
			m.nextCID = sb.VsockCID + 1
		}
		m.log.WithField("sandbox_id", id).Info("reloaded sandbox state, marked stopped")
	}

	return nil
}

func (m *Manager) loadOneForReload(id string) *types.Sandbox {
	data, err := os.ReadFile(m.layout.StateFilePath(id))
	if err != nil {
		m.log.WithField("sandbox_id", id).WithError(err).Warn("skipping sandbox with unreadable state file")
		return nil
	}

	var sb types.Sandbox
	if err := json.Unmarshal(data, &sb); err != nil {
		m.log.WithField("sandbox_id", id).WithError(err).Warn("skipping sandbox with unparseable state file")
		return nil
	}

	if sb.PID > 0 {
		killOrphan(sb.PID)
	}
	sb.Status = types.StatusStopped
	sb.PID = 0
	return &sb
}

func killOrphan(pid int) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGKILL)
}
