// Package artifact produces deterministic on-disk paths for kernels,
// base rootfs images, per-sandbox overlays and control sockets, and
// snapshots, and builds the per-sandbox copy-on-write rootfs overlay.
package artifact

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/config"
)

// Layout resolves every path associated with a sandbox and its template.
type Layout struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Layout {
	return &Layout{cfg: cfg}
}

func (l *Layout) KernelPath(template string) string {
	return filepath.Join(l.cfg.KernelsDir, template+"-vmlinux.bin")
}

func (l *Layout) BaseRootfsPath(template string) string {
	return filepath.Join(l.cfg.RootfsDir, template+"-rootfs.ext4")
}

func (l *Layout) SandboxDir(id string) string {
	return filepath.Join(l.cfg.SandboxesDir, id)
}

func (l *Layout) RootfsOverlayPath(id string) string {
	return filepath.Join(l.SandboxDir(id), "rootfs.ext4")
}

func (l *Layout) ControlSocketPath(id string) string {
	return filepath.Join(l.SandboxDir(id), "firecracker.sock")
}

func (l *Layout) VsockSocketPath(id string) string {
	return filepath.Join(l.SandboxDir(id), "vsock.sock")
}

func (l *Layout) StateFilePath(id string) string {
	return filepath.Join(l.SandboxDir(id), "state.json")
}

func (l *Layout) WorkspacePath(id string) string {
	return filepath.Join(l.SandboxDir(id), "workspace")
}

func (l *Layout) SnapshotDir(id string) string {
	return filepath.Join(l.cfg.SnapshotsDir, id)
}

func (l *Layout) SnapshotMetaPath(id string) string {
	return filepath.Join(l.SnapshotDir(id), "snapshot")
}

func (l *Layout) SnapshotMemoryPath(id string) string {
	return filepath.Join(l.SnapshotDir(id), "memory")
}

// EnsureDirs creates the four top-level directory roots if absent.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.cfg.KernelsDir, l.cfg.RootfsDir, l.cfg.SandboxesDir, l.cfg.SnapshotsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// KernelExists reports whether the template's kernel input exists.
func (l *Layout) KernelExists(template string) bool {
	_, err := os.Stat(l.KernelPath(template))
	return err == nil
}

// BaseRootfsExists reports whether the template's base rootfs input exists.
func (l *Layout) BaseRootfsExists(template string) bool {
	_, err := os.Stat(l.BaseRootfsPath(template))
	return err == nil
}

// SnapshotExists reports whether a prior pause left a snapshot pair on
// disk. The memory half may be present either as the raw file Firecracker
// writes or, if compaction is enabled, as its .zst archive.
func (l *Layout) SnapshotExists(id string) bool {
	_, errMeta := os.Stat(l.SnapshotMetaPath(id))
	if errMeta != nil {
		return false
	}
	if _, err := os.Stat(l.SnapshotMemoryPath(id)); err == nil {
		return true
	}
	_, errArchive := os.Stat(l.SnapshotMemoryPath(id) + ".zst")
	return errArchive == nil
}

// PrepareSandboxDir creates the sandbox's directory tree, refusing to
// reuse an id whose snapshot directory already exists on disk (see
// SPEC_FULL.md §9, snapshot-hygiene decision).
func (l *Layout) PrepareSandboxDir(id string) error {
	if _, err := os.Stat(l.SnapshotDir(id)); err == nil {
		return apierrors.New(apierrors.InvalidState, fmt.Sprintf("sandbox id %q collides with an existing snapshot directory", id))
	}
	if err := os.MkdirAll(l.WorkspacePath(id), 0755); err != nil {
		return fmt.Errorf("mkdir sandbox dir: %w", err)
	}
	return nil
}

// CreateOverlay copies the template's base rootfs into the sandbox's
// per-instance overlay path with `cp --reflink=auto --sparse=always`,
// which reflinks on XFS/btrfs and otherwise makes a sparse copy. If cp
// itself fails, it falls back to sparseCopy; only a failure of both
// paths fails sandbox create.
func (l *Layout) CreateOverlay(template, id string) error {
	base := l.BaseRootfsPath(template)
	dest := l.RootfsOverlayPath(id)

	cmd := exec.Command("cp", "--reflink=auto", "--sparse=always", base, dest)
	if out, err := cmd.CombinedOutput(); err == nil {
		return nil
	} else {
		_ = out // reflink/sparse cp failed; fall through to manual copy
	}

	return sparseCopy(base, dest)
}

// sparseCopy copies src to dst with io.Copy; zero regions are written
// out in full, so dst does not keep src's holes.
func sparseCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open base rootfs: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create overlay: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy overlay: %w", err)
	}
	return nil
}

// RemoveSandboxDir removes a sandbox's directory tree. The snapshot
// directory is intentionally left untouched (see SPEC_FULL.md §9).
func (l *Layout) RemoveSandboxDir(id string) error {
	if err := os.RemoveAll(l.SandboxDir(id)); err != nil {
		return fmt.Errorf("remove sandbox dir: %w", err)
	}
	return nil
}

// ListSandboxDirs returns the ids of every sub-directory under the
// sandboxes root, for crash-recovery reload.
func (l *Layout) ListSandboxDirs() ([]string, error) {
	entries, err := os.ReadDir(l.cfg.SandboxesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
