package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/opensandbox/sandboxd/internal/artifact"
	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/pkg/types"
)

func testManager(t *testing.T) (*Manager, *artifact.Layout, string) {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		KernelsDir:   filepath.Join(base, "kernels"),
		RootfsDir:    filepath.Join(base, "rootfs"),
		SandboxesDir: filepath.Join(base, "sandboxes"),
		SnapshotsDir: filepath.Join(base, "snapshots"),
		MaxSandboxes: 10,
		MinMemoryMB:  128,
		MaxMemoryMB:  8192,
	}
	layout := artifact.New(cfg)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	log := logrus.NewEntry(logrus.New())
	return NewManager(cfg, layout, log), layout, base
}

func writeFakeState(t *testing.T, layout *artifact.Layout, sb types.Sandbox) {
	t.Helper()
	dir := layout.SandboxDir(sb.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	data, err := json.Marshal(sb)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(layout.StateFilePath(sb.ID), data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestReloadOnStartupMarksStoppedAndAdvancesCID(t *testing.T) {
	m, layout, _ := testManager(t)

	writeFakeState(t, layout, types.Sandbox{ID: "aaaaaaaa", Status: types.StatusRunning, VsockCID: 7, PID: 999999})
	writeFakeState(t, layout, types.Sandbox{ID: "bbbbbbbb", Status: types.StatusPaused, VsockCID: 4})

	if err := m.ReloadOnStartup(); err != nil {
		t.Fatalf("ReloadOnStartup: %v", err)
	}

	sb, err := m.Get("aaaaaaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sb.Status != types.StatusStopped {
		t.Errorf("Status = %v, want %v", sb.Status, types.StatusStopped)
	}
	if sb.PID != 0 {
		t.Errorf("PID = %d, want 0", sb.PID)
	}

	if m.nextCID != 8 {
		t.Errorf("nextCID = %d, want 8", m.nextCID)
	}
}

func TestReloadOnStartupSkipsUnparseableState(t *testing.T) {
	m, layout, _ := testManager(t)

	dir := layout.SandboxDir("badbad01")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(layout.StateFilePath("badbad01"), []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := m.ReloadOnStartup(); err != nil {
		t.Fatalf("ReloadOnStartup: %v", err)
	}

	if _, err := m.Get("badbad01"); err == nil {
		t.Fatal("Get: err = nil, want error for unparseable state")
	}
}

func TestAllocateCIDMonotonic(t *testing.T) {
	m, _, _ := testManager(t)
	first := m.allocateCID()
	second := m.allocateCID()
	if first != firstCID {
		t.Errorf("first = %d, want %d", first, firstCID)
	}
	if second != firstCID+1 {
		t.Errorf("second = %d, want %d", second, firstCID+1)
	}
}
