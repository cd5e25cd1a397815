package capacity

import (
	"testing"

	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/pkg/types"
)

type fakeTable struct {
	sandboxes []types.Sandbox
}

func (f *fakeTable) Snapshot() []types.Sandbox { return f.sandboxes }

func testConfig() *config.Config {
	return &config.Config{
		MinMemoryMB:          256,
		MaxMemoryMB:          2048,
		MaxSandboxes:         5,
		HostReservedMemoryMB: 4096,
	}
}

func TestCanAdmitWithinLimits(t *testing.T) {
	a := New(testConfig(), &fakeTable{})
	ok, reason := a.CanAdmit(512)
	if !ok {
		t.Errorf("ok = false, want true (reason %q)", reason)
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty", reason)
	}
}

func TestCanAdmitAtMaxCount(t *testing.T) {
	sandboxes := make([]types.Sandbox, 0, 5)
	for i := 0; i < 5; i++ {
		sandboxes = append(sandboxes, types.Sandbox{ID: "x", Status: types.StatusRunning, MemoryMB: 256})
	}
	a := New(testConfig(), &fakeTable{sandboxes: sandboxes})
	ok, reason := a.CanAdmit(512)
	if ok {
		t.Error("ok = true, want false")
	}
	if reason != ReasonMaxSandboxes {
		t.Errorf("reason = %q, want %q", reason, ReasonMaxSandboxes)
	}
}

func TestCanAdmitMemoryTooLow(t *testing.T) {
	a := New(testConfig(), &fakeTable{})
	ok, reason := a.CanAdmit(128)
	if ok {
		t.Error("ok = true, want false")
	}
	if reason != ReasonMemoryTooLow {
		t.Errorf("reason = %q, want %q", reason, ReasonMemoryTooLow)
	}
}

func TestCanAdmitMemoryTooHigh(t *testing.T) {
	a := New(testConfig(), &fakeTable{})
	ok, reason := a.CanAdmit(4096)
	if ok {
		t.Error("ok = true, want false")
	}
	if reason != ReasonMemoryTooHigh {
		t.Errorf("reason = %q, want %q", reason, ReasonMemoryTooHigh)
	}
}

func TestMemoryTrackingExcludesPaused(t *testing.T) {
	sandboxes := []types.Sandbox{
		{ID: "a", Status: types.StatusRunning, MemoryMB: 512},
		{ID: "b", Status: types.StatusRunning, MemoryMB: 1024},
		{ID: "c", Status: types.StatusPaused, MemoryMB: 512},
	}
	a := New(testConfig(), &fakeTable{sandboxes: sandboxes})
	if got := a.MemoryUsedMB(); got != 1536 {
		t.Errorf("MemoryUsedMB = %d, want 1536", got)
	}
}
