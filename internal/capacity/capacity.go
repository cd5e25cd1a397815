// Package capacity implements pure bookkeeping over the sandbox table:
// live count and running-memory accounting, and the ordered admission
// check used to accept or reject a create request.
package capacity

import (
	"sync"

	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/pkg/types"
)

const (
	ReasonMaxSandboxes = "Maximum sandbox limit"
	ReasonMemoryTooLow = "Memory too low"
	ReasonMemoryTooHigh = "Memory too high"
	ReasonInsufficientMemory = "Insufficient memory"
)

// Report is the snapshot returned to the health/capacity HTTP endpoints.
type Report struct {
	ActiveSandboxes   int `json:"active_sandboxes"`
	MaxSandboxes      int `json:"max_sandboxes"`
	MemoryUsedMB      int `json:"memory_used_mb"`
	MemoryAvailableMB int `json:"memory_available_mb"`
	MemoryBudgetMB    int `json:"memory_budget_mb"`
}

// Table is the read-only view of live sandboxes the Accountant needs.
// internal/sandbox.Manager satisfies this interface directly over its
// own locked table.
type Table interface {
	// Snapshot returns every sandbox currently tracked, running or
	// paused or stopped.
	Snapshot() []types.Sandbox
}

// Accountant tracks live sandbox count and running memory usage and
// admits or rejects new create requests.
type Accountant struct {
	mu    sync.Mutex
	cfg   *config.Config
	table Table
}

func New(cfg *config.Config, table Table) *Accountant {
	return &Accountant{cfg: cfg, table: table}
}

// CanAdmit runs the ordered checks from SPEC_FULL.md §4.2 and returns
// (true, "") on success or (false, stableReason) on the first failing
// check.
func (a *Accountant) CanAdmit(reqMemMB int) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sandboxes := a.table.Snapshot()

	liveCount := 0
	for _, s := range sandboxes {
		if s.Status == types.StatusRunning || s.Status == types.StatusPaused {
			liveCount++
		}
	}
	if liveCount >= a.cfg.MaxSandboxes {
		return false, ReasonMaxSandboxes
	}
	if reqMemMB < a.cfg.MinMemoryMB {
		return false, ReasonMemoryTooLow
	}
	if reqMemMB > a.cfg.MaxMemoryMB {
		return false, ReasonMemoryTooHigh
	}
	if reqMemMB > a.availableMB(sandboxes) {
		return false, ReasonInsufficientMemory
	}
	return true, ""
}

// MemoryUsedMB sums memory_mb across running sandboxes only; paused and
// stopped sandboxes do not count against the budget.
func (a *Accountant) MemoryUsedMB() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memoryUsedMB(a.table.Snapshot())
}

func (a *Accountant) memoryUsedMB(sandboxes []types.Sandbox) int {
	used := 0
	for _, s := range sandboxes {
		if s.Status == types.StatusRunning {
			used += s.MemoryMB
		}
	}
	return used
}

func (a *Accountant) availableMB(sandboxes []types.Sandbox) int {
	return a.cfg.TotalMemoryBudgetMB() - a.memoryUsedMB(sandboxes)
}

// Report returns the health/capacity reporting struct.
func (a *Accountant) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	sandboxes := a.table.Snapshot()
	liveCount := 0
	for _, s := range sandboxes {
		if s.Status == types.StatusRunning || s.Status == types.StatusPaused {
			liveCount++
		}
	}
	budget := a.cfg.TotalMemoryBudgetMB()
	used := a.memoryUsedMB(sandboxes)
	return Report{
		ActiveSandboxes:   liveCount,
		MaxSandboxes:      a.cfg.MaxSandboxes,
		MemoryUsedMB:      used,
		MemoryAvailableMB: budget - used,
		MemoryBudgetMB:    budget,
	}
}
