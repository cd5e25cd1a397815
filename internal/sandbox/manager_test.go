package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/pkg/types"
)

func requireKind(t *testing.T, err error, want apierrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatal("err = nil, want error")
	}
	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apierrors.Error", err)
	}
	if apiErr.Kind != want {
		t.Fatalf("kind = %v, want %v", apiErr.Kind, want)
	}
}

func TestGetUnknownSandboxReturnsNotFound(t *testing.T) {
	m, _, _ := testManager(t)

	_, err := m.Get("missing1")
	requireKind(t, err, apierrors.NotFound)
}

func TestSnapshotReflectsTable(t *testing.T) {
	m, layout, _ := testManager(t)
	writeFakeState(t, layout, types.Sandbox{ID: "cafe0001", Status: types.StatusRunning})
	if err := m.ReloadOnStartup(); err != nil {
		t.Fatalf("ReloadOnStartup: %v", err)
	}

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snap) = %d, want 1", len(snap))
	}
	if snap[0].ID != "cafe0001" {
		t.Fatalf("snap[0].ID = %q, want %q", snap[0].ID, "cafe0001")
	}
}

func TestDestroyUnknownSandboxReturnsNotFound(t *testing.T) {
	m, _, _ := testManager(t)
	err := m.Destroy(context.Background(), "missing1")
	requireKind(t, err, apierrors.NotFound)
}

func TestPauseNonRunningSandboxIsInvalidState(t *testing.T) {
	m, layout, _ := testManager(t)
	writeFakeState(t, layout, types.Sandbox{ID: "dead0001", Status: types.StatusStopped})
	if err := m.ReloadOnStartup(); err != nil {
		t.Fatalf("ReloadOnStartup: %v", err)
	}

	err := m.Pause(context.Background(), "dead0001")
	requireKind(t, err, apierrors.InvalidState)
}

func TestResumeNonPausedSandboxIsInvalidState(t *testing.T) {
	m, layout, _ := testManager(t)
	writeFakeState(t, layout, types.Sandbox{ID: "runn0001", Status: types.StatusRunning})
	if err := m.ReloadOnStartup(); err != nil {
		t.Fatalf("ReloadOnStartup: %v", err)
	}
	// ReloadOnStartup forces the entry to stopped; with no snapshot on disk
	// resume must still reject it.

	err := m.Resume(context.Background(), "runn0001")
	requireKind(t, err, apierrors.InvalidState)
}

func TestCreateRejectsOverCapacity(t *testing.T) {
	m, _, _ := testManager(t)
	m.SetAdmitter(rejectingAdmitter{})

	// VCPUCount left at 0 so it defaults to the zero-value DefaultVCPUCount,
	// which trivially satisfies this test's unset [Min,Max]VCPUCount range;
	// the admission check must reject before any hypervisor work happens.
	_, err := m.Create(context.Background(), types.SandboxConfig{MemoryMB: 512})
	requireKind(t, err, apierrors.CapacityExceeded)
}

type rejectingAdmitter struct{}

func (rejectingAdmitter) CanAdmit(int) (bool, string) { return false, "over capacity" }
