// Package sandbox implements the orchestrator that owns the live
// sandbox table, drives the hypervisor and guest RPC transports, and
// persists/reloads sandbox state across daemon restarts.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/artifact"
	"github.com/opensandbox/sandboxd/internal/capacity"
	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/internal/hypervisor"
	"github.com/opensandbox/sandboxd/internal/vsockrpc"
	"github.com/opensandbox/sandboxd/pkg/types"
)

// firstCID is the first vsock CID handed out; 0-2 are reserved.
const firstCID uint32 = 3

// entry is the manager's in-memory record for one sandbox: the public
// Sandbox value plus the bookkeeping the manager needs to drive it.
type entry struct {
	sandbox types.Sandbox
	pid     int
	proc    *exec.Cmd
	rpc     *vsockrpc.Client
	txLock  sync.Mutex // serializes create/pause/resume/destroy for this id
}

// Admitter is the capacity-admission check Create enforces as step 2 of
// SPEC_FULL.md §4.6. *capacity.Accountant satisfies this; it is wired
// in after construction via SetAdmitter since the accountant itself
// depends on the manager as its capacity.Table.
type Admitter interface {
	CanAdmit(reqMemMB int) (bool, string)
}

// Manager is the sandbox orchestrator described in SPEC_FULL.md §4.6.
type Manager struct {
	cfg      *config.Config
	layout   *artifact.Layout
	log      *logrus.Entry
	admitter Admitter

	mu      sync.RWMutex
	table   map[string]*entry
	nextCID uint32
}

func NewManager(cfg *config.Config, layout *artifact.Layout, log *logrus.Entry) *Manager {
	return &Manager{
		cfg:     cfg,
		layout:  layout,
		log:     log,
		table:   make(map[string]*entry),
		nextCID: firstCID,
	}
}

// SetAdmitter wires the capacity accountant into Create. Until called,
// Create performs no admission check of its own and relies entirely on
// whatever pre-check its caller ran.
func (m *Manager) SetAdmitter(a Admitter) {
	m.admitter = a
}

// Snapshot satisfies internal/capacity.Table.
func (m *Manager) Snapshot() []types.Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Sandbox, 0, len(m.table))
	for _, e := range m.table {
		out = append(out, e.sandbox)
	}
	return out
}

func (m *Manager) Get(id string) (types.Sandbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.table[id]
	if !ok {
		return types.Sandbox{}, apierrors.New(apierrors.NotFound, fmt.Sprintf("sandbox %q not found", id))
	}
	return e.sandbox, nil
}

func (m *Manager) lockEntry(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.table[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("sandbox %q not found", id))
	}
	e.txLock.Lock()
	return e, nil
}

// Create provisions a new sandbox following the 12-step procedure of
// SPEC_FULL.md §4.6. The API layer may run its own CanAdmit pre-check
// for a fast 503 without touching the hypervisor, but that is strictly
// an optimization: Create enforces admission itself as step 2 so any
// caller, HTTP or otherwise, is bound by invariant I2.
func (m *Manager) Create(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error) {
	mem := cfg.MemoryMB
	if mem == 0 {
		mem = m.cfg.DefaultMemoryMB
	}
	vcpu := cfg.VCPUCount
	if vcpu == 0 {
		vcpu = m.cfg.DefaultVCPUCount
	}
	if vcpu < m.cfg.MinVCPUCount || vcpu > m.cfg.MaxVCPUCount {
		return nil, apierrors.New(apierrors.ValidationError, fmt.Sprintf("vcpu_count %d outside [%d, %d]", vcpu, m.cfg.MinVCPUCount, m.cfg.MaxVCPUCount))
	}

	if m.admitter != nil {
		if ok, reason := m.admitter.CanAdmit(mem); !ok {
			kind := apierrors.CapacityExceeded
			if reason == capacity.ReasonMemoryTooLow || reason == capacity.ReasonMemoryTooHigh {
				kind = apierrors.ValidationError
			}
			return nil, apierrors.New(kind, reason)
		}
	}

	template := cfg.Template
	if template == "" {
		template = "default"
	}
	if !m.layout.KernelExists(template) {
		return nil, apierrors.New(apierrors.MissingArtifact, fmt.Sprintf("kernel for template %q not found", template))
	}
	if !m.layout.BaseRootfsExists(template) {
		return nil, apierrors.New(apierrors.MissingArtifact, fmt.Sprintf("base rootfs for template %q not found", template))
	}

	id := uuid.New().String()[:8]
	workspaceID := cfg.WorkspaceID
	if workspaceID == "" {
		workspaceID = id
	}

	log := m.log.WithField("sandbox_id", id)

	if err := m.layout.PrepareSandboxDir(id); err != nil {
		return nil, err
	}
	cleanup := func() {
		_ = m.layout.RemoveSandboxDir(id)
	}

	if err := m.layout.CreateOverlay(template, id); err != nil {
		cleanup()
		return nil, apierrors.Wrap(apierrors.HypervisorError, "create overlay rootfs", err)
	}

	cid := m.allocateCID()

	controlSock := m.layout.ControlSocketPath(id)
	os.Remove(controlSock)

	proc, err := spawnFirecracker(m.cfg.FirecrackerBin, controlSock, m.layout.SandboxDir(id))
	if err != nil {
		cleanup()
		return nil, apierrors.Wrap(apierrors.HypervisorError, "spawn hypervisor process", err)
	}

	bootTimeout := time.Duration(m.cfg.VMBootTimeoutSeconds) * time.Second
	if err := hypervisor.WaitForSocket(ctx, controlSock, bootTimeout); err != nil {
		killProcess(proc)
		cleanup()
		return nil, apierrors.Wrap(apierrors.HypervisorError, "control socket never became ready", err)
	}

	driver := hypervisor.NewDriver(controlSock)
	if err := runCreateSequence(ctx, driver, vcpu, mem, template, m.layout, id, cid); err != nil {
		killProcess(proc)
		cleanup()
		return nil, apierrors.Wrap(apierrors.HypervisorError, "hypervisor configure/start sequence", err)
	}

	now := time.Now().UTC()
	sb := types.Sandbox{
		ID:          id,
		Template:    template,
		MemoryMB:    mem,
		VCPUCount:   vcpu,
		WorkspaceID: workspaceID,
		Status:      types.StatusRunning,
		CreatedAt:   now,
		VsockCID:    cid,
		PID:         proc.Process.Pid,
	}

	if err := writeStateFile(m.layout.StateFilePath(id), sb); err != nil {
		killProcess(proc)
		cleanup()
		return nil, apierrors.Wrap(apierrors.HypervisorError, "persist state file", err)
	}

	e := &entry{sandbox: sb, pid: proc.Process.Pid, proc: proc}
	m.mu.Lock()
	m.table[id] = e
	m.mu.Unlock()

	rpcClient := vsockrpc.New(m.layout.VsockSocketPath(id), m.cfg.VsockPort, m.cfg.MaxMessageSize)
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.GuestAgentTimeoutSeconds)*time.Second)
	defer cancel()
	if err := rpcClient.Connect(connectCtx, time.Duration(m.cfg.GuestAgentTimeoutSeconds)*time.Second); err != nil {
		log.WithError(err).Warn("guest agent not reachable yet; sandbox created, will retry on first RPC")
	} else {
		m.mu.Lock()
		e.rpc = rpcClient
		m.mu.Unlock()
	}

	log.Info("sandbox created")
	return &sb, nil
}

func (m *Manager) allocateCID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid := m.nextCID
	m.nextCID++
	return cid
}

func spawnFirecracker(bin, controlSock, workDir string) (*exec.Cmd, error) {
	cmd := exec.Command(bin, "--api-sock", controlSock)
	cmd.Dir = workDir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start firecracker: %w", err)
	}
	go cmd.Wait() // reap eventually; destroy() waits explicitly on its own path
	return cmd, nil
}

func killProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func runCreateSequence(ctx context.Context, d *hypervisor.Driver, vcpu, memMiB int, template string, layout *artifact.Layout, id string, cid uint32) error {
	if err := d.ConfigureMachine(ctx, vcpu, memMiB); err != nil {
		return fmt.Errorf("configure_machine: %w", err)
	}
	if err := d.SetBootSource(ctx, layout.KernelPath(template)); err != nil {
		return fmt.Errorf("set_boot_source: %w", err)
	}
	if err := d.AttachRootDrive(ctx, layout.RootfsOverlayPath(id)); err != nil {
		return fmt.Errorf("attach_root_drive: %w", err)
	}
	if err := d.AttachVsock(ctx, cid, layout.VsockSocketPath(id)); err != nil {
		return fmt.Errorf("attach_vsock: %w", err)
	}
	if err := d.InstanceStart(ctx); err != nil {
		return fmt.Errorf("instance_start: %w", err)
	}
	return nil
}

func writeStateFile(path string, sb types.Sandbox) error {
	data, err := json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
