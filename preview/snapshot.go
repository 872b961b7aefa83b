package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/e7canasta/orion-inspect/frame"
)

// SnapshotWriter saves frames as snapshot_<unix seconds>.jpg.
type SnapshotWriter struct {
	Dir     string
	Quality int

	now func() time.Time
}

// NewSnapshotWriter writes snapshots into dir, creating it if needed.
func NewSnapshotWriter(dir string) *SnapshotWriter {
	if dir == "" {
		dir = "."
	}
	return &SnapshotWriter{Dir: dir, Quality: DefaultQuality, now: time.Now}
}

// Write encodes f and returns the path written. A second snapshot within
// the same second replaces the first.
func (w *SnapshotWriter) Write(f *frame.Frame) (string, error) {
	if f == nil {
		return "", fmt.Errorf("preview: nothing to snapshot")
	}
	data, err := encodeJPEG(f.Image, w.Quality)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("preview: create snapshot dir: %w", err)
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("snapshot_%d.jpg", w.now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("preview: write snapshot: %w", err)
	}
	return path, nil
}
