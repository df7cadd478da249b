package collector

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/render-driver/internal/surface"
)

func pngOf(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	canvas := surface.New()
	canvas.Resize(w, h)
	canvas.Clear(c)
	url, err := canvas.Snapshot()
	require.NoError(t, err)
	data, err := surface.DecodeDataURL(url)
	require.NoError(t, err)
	return data
}

func TestRelPath_StaysInsideRoot(t *testing.T) {
	assert.Equal(t, filepath.Join("firefox", "a", "r0-p1.png"), RelPath("firefox", "a", 0, 1))
	assert.Equal(t, filepath.Join("_", ".._etc", "r1-p2.png"), RelPath("..", "../etc", 1, 2))
}

func TestSnapshotStore_Write(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshotStore(dir, "")

	data := pngOf(t, 2, 2, color.White)
	path, err := s.Write("firefox", "a", 0, 1, data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "firefox", "a", "r0-p1.png"), path)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestSnapshotStore_WriteDisabled(t *testing.T) {
	path, err := NewSnapshotStore("", "").Write("firefox", "a", 0, 1, []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestSnapshotStore_Compare(t *testing.T) {
	refs := t.TempDir()
	white := pngOf(t, 4, 4, color.White)
	require.NoError(t, os.MkdirAll(filepath.Join(refs, "firefox", "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(refs, "firefox", "a", "r0-p1.png"), white, 0o644))

	s := NewSnapshotStore("", refs)

	tests := []struct {
		name string
		page int
		data []byte
		want Comparison
	}{
		{"identical bytes", 1, white, ComparisonMatch},
		{"different pixels", 1, pngOf(t, 4, 4, color.Black), ComparisonMismatch},
		{"different size", 1, pngOf(t, 4, 5, color.White), ComparisonMismatch},
		{"no reference", 2, white, ComparisonNew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Compare("firefox", "a", 0, tt.page, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnapshotStore_CompareDisabled(t *testing.T) {
	got, err := NewSnapshotStore("", "").Compare("firefox", "a", 0, 1, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ComparisonNone, got)
}
