package collector

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SnapshotStore writes snapshots under <dir>/<browser>/<task>/r<round>-p<page>.png
// and looks up references under the same layout in refsDir.
type SnapshotStore struct {
	dir     string
	refsDir string
}

// NewSnapshotStore creates a store. An empty dir disables writing and an
// empty refsDir disables comparison.
func NewSnapshotStore(dir, refsDir string) *SnapshotStore {
	return &SnapshotStore{dir: dir, refsDir: refsDir}
}

// RelPath is the location of a page snapshot relative to a snapshot root
func RelPath(browser, taskID string, round, page int) string {
	return filepath.Join(safeName(browser), safeName(taskID), fmt.Sprintf("r%d-p%d.png", round, page))
}

// safeName keeps client-supplied names inside the snapshot root
func safeName(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Write stores data and returns its path, or "" when writing is disabled
func (s *SnapshotStore) Write(browser, taskID string, round, page int, data []byte) (string, error) {
	if s.dir == "" {
		return "", nil
	}
	path := filepath.Join(s.dir, RelPath(browser, taskID, round, page))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// Compare checks data against the reference snapshot of the same page.
// Images match when they have the same size and identical pixels.
func (s *SnapshotStore) Compare(browser, taskID string, round, page int, data []byte) (Comparison, error) {
	if s.refsDir == "" {
		return ComparisonNone, nil
	}

	ref, err := os.ReadFile(filepath.Join(s.refsDir, RelPath(browser, taskID, round, page)))
	if errors.Is(err, fs.ErrNotExist) {
		return ComparisonNew, nil
	}
	if err != nil {
		return ComparisonNone, fmt.Errorf("read reference: %w", err)
	}
	if bytes.Equal(ref, data) {
		return ComparisonMatch, nil
	}

	refImg, err := png.Decode(bytes.NewReader(ref))
	if err != nil {
		return ComparisonNone, fmt.Errorf("decode reference: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return ComparisonNone, fmt.Errorf("decode snapshot: %w", err)
	}
	if samePixels(refImg, img) {
		return ComparisonMatch, nil
	}
	return ComparisonMismatch, nil
}

func samePixels(a, b image.Image) bool {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Size() != bb.Size() {
		return false
	}
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}
