package artifact

import (
	"fmt"
	"os"

	"github.com/opensandbox/sandboxd/internal/sparse"
)

// CompactMemoryFile compacts a just-written snapshot memory file into a
// sparse block archive alongside it (memory.zst), then removes the raw
// file. Most of a paused microVM's memory image is zero-filled, so this
// shrinks what actually sits on disk between pause and resume. The raw
// memory-file format Firecracker's snapshot_load requires is restored
// transiently by RestoreMemoryFile before resume — compaction affects
// only the at-rest representation.
func (l *Layout) CompactMemoryFile(id string) error {
	raw := l.SnapshotMemoryPath(id)
	archive := raw + ".zst"
	if _, err := sparse.Create(raw, archive); err != nil {
		return fmt.Errorf("compact memory snapshot: %w", err)
	}
	if err := os.Remove(raw); err != nil {
		return fmt.Errorf("remove raw memory snapshot after compaction: %w", err)
	}
	return nil
}

// RestoreMemoryFile reverses CompactMemoryFile, materializing the raw
// memory file Firecracker's snapshot_load expects. A no-op if no
// compacted archive exists (compaction is optional, see
// Config.CompactSnapshots).
func (l *Layout) RestoreMemoryFile(id string) error {
	raw := l.SnapshotMemoryPath(id)
	archive := raw + ".zst"
	if _, err := os.Stat(archive); err != nil {
		return nil
	}
	if err := sparse.Restore(archive, raw); err != nil {
		return fmt.Errorf("restore memory snapshot: %w", err)
	}
	return nil
}
