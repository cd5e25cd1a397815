package sandbox

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/hypervisor"
	"github.com/opensandbox/sandboxd/internal/vsockrpc"
	"github.com/opensandbox/sandboxd/pkg/types"
)

// ctrlAltDelGrace is the fixed wait between a graceful SendCtrlAltDel
// request and the unconditional SIGKILL that follows it. Per the
// reaping decision in SPEC_FULL.md §9, Destroy never branches on
// whether the guest actually shut down — it always kills and always
// waits, so no subprocess is ever left unreaped.
const ctrlAltDelGrace = 1 * time.Second

// Destroy tears down a sandbox: disconnect RPC, request a graceful
// guest shutdown, force-kill and reap the hypervisor process, then
// remove the sandbox's working directory (not its snapshot directory).
func (m *Manager) Destroy(ctx context.Context, id string) error {
	e, err := m.lockEntry(id)
	if err != nil {
		return err
	}
	defer e.txLock.Unlock()

	log := m.log.WithField("sandbox_id", id)

	if e.rpc != nil {
		e.rpc.Close()
	}

	if e.sandbox.Status == types.StatusRunning {
		if e.proc != nil {
			controlSock := m.layout.ControlSocketPath(id)
			driver := hypervisor.NewDriver(controlSock)
			if err := driver.SendCtrlAltDel(ctx); err != nil {
				log.WithError(err).Debug("ctrl_alt_del request failed, proceeding to force-kill")
			}
		}
	}

	time.Sleep(ctrlAltDelGrace)

	if e.proc != nil && e.proc.Process != nil {
		_ = e.proc.Process.Signal(syscall.SIGKILL)
		_, _ = e.proc.Process.Wait()
	}

	if err := m.layout.RemoveSandboxDir(id); err != nil {
		log.WithError(err).Warn("failed to remove sandbox directory during destroy")
	}

	m.mu.Lock()
	delete(m.table, id)
	m.mu.Unlock()

	log.Info("sandbox destroyed")
	return nil
}

// Pause freezes the microVM and snapshots it to disk, then kills the
// hypervisor process: a paused sandbox holds no live subprocess.
func (m *Manager) Pause(ctx context.Context, id string) error {
	e, err := m.lockEntry(id)
	if err != nil {
		return err
	}
	defer e.txLock.Unlock()

	if e.sandbox.Status != types.StatusRunning {
		return apierrors.New(apierrors.InvalidState, fmt.Sprintf("sandbox %q is not running", id))
	}

	controlSock := m.layout.ControlSocketPath(id)
	driver := hypervisor.NewDriver(controlSock)

	if err := driver.PauseVM(ctx); err != nil {
		return apierrors.Wrap(apierrors.HypervisorError, "pause vm", err)
	}

	if err := os.MkdirAll(m.layout.SnapshotDir(id), 0755); err != nil {
		return apierrors.Wrap(apierrors.HypervisorError, "create snapshot directory", err)
	}
	if err := driver.SnapshotCreate(ctx, m.layout.SnapshotMetaPath(id), m.layout.SnapshotMemoryPath(id)); err != nil {
		return apierrors.Wrap(apierrors.HypervisorError, "create snapshot", err)
	}

	if m.cfg.CompactSnapshots {
		if err := m.layout.CompactMemoryFile(id); err != nil {
			m.log.WithField("sandbox_id", id).WithError(err).Warn("snapshot memory compaction failed, keeping raw file")
		}
	}

	if e.rpc != nil {
		e.rpc.Close()
		e.rpc = nil
	}
	if e.proc != nil && e.proc.Process != nil {
		_ = e.proc.Process.Signal(syscall.SIGKILL)
		_, _ = e.proc.Process.Wait()
		e.proc = nil
	}

	m.mu.Lock()
	e.sandbox.Status = types.StatusPaused
	sb := e.sandbox
	m.mu.Unlock()

	if err := writeStateFile(m.layout.StateFilePath(id), sb); err != nil {
		m.log.WithField("sandbox_id", id).WithError(err).Warn("failed to persist state after pause")
	}

	m.log.WithField("sandbox_id", id).Info("sandbox paused")
	return nil
}

// Resume restores a paused sandbox, or a stopped one whose snapshot
// pair is still on disk, from that snapshot: spawn a fresh hypervisor
// process, load the snapshot with resume_vm=true, and reopen the guest
// RPC channel.
func (m *Manager) Resume(ctx context.Context, id string) error {
	e, err := m.lockEntry(id)
	if err != nil {
		return err
	}
	defer e.txLock.Unlock()

	switch {
	case e.sandbox.Status == types.StatusPaused:
	case e.sandbox.Status == types.StatusStopped && m.layout.SnapshotExists(id):
	case e.sandbox.Status == types.StatusStopped:
		return apierrors.New(apierrors.InvalidState, fmt.Sprintf("sandbox %q is stopped and has no snapshot", id))
	default:
		return apierrors.New(apierrors.InvalidState, fmt.Sprintf("sandbox %q is not paused", id))
	}
	if !m.layout.SnapshotExists(id) {
		return apierrors.New(apierrors.MissingArtifact, fmt.Sprintf("no snapshot found for sandbox %q", id))
	}
	if err := m.layout.RestoreMemoryFile(id); err != nil {
		return apierrors.Wrap(apierrors.HypervisorError, "restore compacted memory snapshot", err)
	}

	controlSock := m.layout.ControlSocketPath(id)
	os.Remove(controlSock)

	proc, err := spawnFirecracker(m.cfg.FirecrackerBin, controlSock, m.layout.SandboxDir(id))
	if err != nil {
		return apierrors.Wrap(apierrors.HypervisorError, "spawn hypervisor process", err)
	}

	bootTimeout := time.Duration(m.cfg.VMBootTimeoutSeconds) * time.Second
	if err := hypervisor.WaitForSocket(ctx, controlSock, bootTimeout); err != nil {
		killProcess(proc)
		return apierrors.Wrap(apierrors.HypervisorError, "control socket never became ready", err)
	}

	driver := hypervisor.NewDriver(controlSock)
	if err := driver.SnapshotLoad(ctx, m.layout.SnapshotMetaPath(id), m.layout.SnapshotMemoryPath(id), true); err != nil {
		killProcess(proc)
		return apierrors.Wrap(apierrors.HypervisorError, "load snapshot", err)
	}

	m.mu.Lock()
	e.proc = proc
	e.pid = proc.Process.Pid
	e.sandbox.Status = types.StatusRunning
	e.sandbox.PID = proc.Process.Pid
	sb := e.sandbox
	m.mu.Unlock()

	if err := writeStateFile(m.layout.StateFilePath(id), sb); err != nil {
		m.log.WithField("sandbox_id", id).WithError(err).Warn("failed to persist state after resume")
	}

	rpcClient := vsockrpc.New(m.layout.VsockSocketPath(id), m.cfg.VsockPort, m.cfg.MaxMessageSize)
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.GuestAgentTimeoutSeconds)*time.Second)
	defer cancel()
	if err := rpcClient.Connect(connectCtx, time.Duration(m.cfg.GuestAgentTimeoutSeconds)*time.Second); err != nil {
		m.log.WithField("sandbox_id", id).WithError(err).Warn("guest agent not reachable after resume")
	} else {
		m.mu.Lock()
		e.rpc = rpcClient
		m.mu.Unlock()
	}

	m.log.WithField("sandbox_id", id).Info("sandbox resumed")
	return nil
}
