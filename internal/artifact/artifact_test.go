package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/config"
)

func testLayout(t *testing.T) *Layout {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		KernelsDir:   filepath.Join(base, "kernels"),
		RootfsDir:    filepath.Join(base, "rootfs"),
		SandboxesDir: filepath.Join(base, "sandboxes"),
		SnapshotsDir: filepath.Join(base, "snapshots"),
	}
	l := New(cfg)
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return l
}

func TestCreateOverlayCopiesBaseRootfs(t *testing.T) {
	l := testLayout(t)
	base := l.BaseRootfsPath("default")
	if err := os.WriteFile(base, []byte("fake-rootfs-bytes"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := l.PrepareSandboxDir("id00001"); err != nil {
		t.Fatalf("PrepareSandboxDir: %v", err)
	}
	if err := l.CreateOverlay("default", "id00001"); err != nil {
		t.Fatalf("CreateOverlay: %v", err)
	}

	data, err := os.ReadFile(l.RootfsOverlayPath("id00001"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "fake-rootfs-bytes" {
		t.Errorf("overlay content = %q, want %q", data, "fake-rootfs-bytes")
	}
}

func TestPrepareSandboxDirRejectsSnapshotCollision(t *testing.T) {
	l := testLayout(t)
	if err := os.MkdirAll(l.SnapshotDir("dup00001"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	err := l.PrepareSandboxDir("dup00001")
	if err == nil {
		t.Fatal("PrepareSandboxDir: err = nil, want error")
	}
	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apierrors.Error", err)
	}
	if apiErr.Kind != apierrors.InvalidState {
		t.Errorf("kind = %v, want %v", apiErr.Kind, apierrors.InvalidState)
	}
}

func TestKernelAndRootfsExistence(t *testing.T) {
	l := testLayout(t)
	if l.KernelExists("default") {
		t.Error("KernelExists = true before write, want false")
	}
	if l.BaseRootfsExists("default") {
		t.Error("BaseRootfsExists = true before write, want false")
	}

	if err := os.WriteFile(l.KernelPath("default"), []byte("k"), 0644); err != nil {
		t.Fatalf("WriteFile kernel: %v", err)
	}
	if err := os.WriteFile(l.BaseRootfsPath("default"), []byte("r"), 0644); err != nil {
		t.Fatalf("WriteFile rootfs: %v", err)
	}

	if !l.KernelExists("default") {
		t.Error("KernelExists = false after write, want true")
	}
	if !l.BaseRootfsExists("default") {
		t.Error("BaseRootfsExists = false after write, want true")
	}
}

func TestSnapshotExistsAcceptsCompactedArchive(t *testing.T) {
	l := testLayout(t)
	id := "snap0001"
	if err := os.MkdirAll(l.SnapshotDir(id), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(l.SnapshotMetaPath(id), []byte("meta"), 0644); err != nil {
		t.Fatalf("WriteFile meta: %v", err)
	}
	if l.SnapshotExists(id) {
		t.Error("SnapshotExists = true before memory file written, want false")
	}

	if err := os.WriteFile(l.SnapshotMemoryPath(id)+".zst", []byte("z"), 0644); err != nil {
		t.Fatalf("WriteFile memory: %v", err)
	}
	if !l.SnapshotExists(id) {
		t.Error("SnapshotExists = false after compacted memory file written, want true")
	}
}

func TestListSandboxDirsOnEmptyBase(t *testing.T) {
	l := testLayout(t)
	ids, err := l.ListSandboxDirs()
	if err != nil {
		t.Fatalf("ListSandboxDirs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}

	if err := l.PrepareSandboxDir("aa000001"); err != nil {
		t.Fatalf("PrepareSandboxDir: %v", err)
	}
	ids, err = l.ListSandboxDirs()
	if err != nil {
		t.Fatalf("ListSandboxDirs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"aa000001"}) {
		t.Errorf("ids = %v, want %v", ids, []string{"aa000001"})
	}
}

func TestRemoveSandboxDirLeavesSnapshotIntact(t *testing.T) {
	l := testLayout(t)
	id := "rm000001"
	if err := l.PrepareSandboxDir(id); err != nil {
		t.Fatalf("PrepareSandboxDir: %v", err)
	}
	if err := os.MkdirAll(l.SnapshotDir(id), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(l.SnapshotMetaPath(id), []byte("meta"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := l.RemoveSandboxDir(id); err != nil {
		t.Fatalf("RemoveSandboxDir: %v", err)
	}

	if _, err := os.Stat(l.SandboxDir(id)); !os.IsNotExist(err) {
		t.Errorf("sandbox dir stat err = %v, want IsNotExist", err)
	}
	if _, err := os.Stat(l.SnapshotMetaPath(id)); err != nil {
		t.Errorf("snapshot meta stat err = %v, want nil", err)
	}
}
