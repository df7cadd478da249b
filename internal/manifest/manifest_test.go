package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/render-driver/internal/domain"
)

const sampleManifest = `[
  {"id": "tracemonkey", "file": "pdfs/tracemonkey.pdf", "md5": "9a19", "rounds": 2, "type": "eq"},
  {"id": "intelisa", "file": "pdfs/intelisa.pdf", "firstPage": 2, "pageLimit": 3, "skipPages": [3]},
  {"id": "remote", "file": "https://example.com/remote.pdf"}
]`

func TestParse_Defaults(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m, 3)

	assert.Equal(t, "tracemonkey", m[0].ID)
	assert.Equal(t, 2, m[0].Rounds)
	assert.Equal(t, "eq", m[0].Type)

	assert.Equal(t, 1, m[1].Rounds, "rounds defaults to 1")
	assert.Equal(t, 2, m[1].FirstPage)
	assert.Equal(t, 3, m[1].PageLimit)
	assert.True(t, m[1].Skips(3))
	assert.False(t, m[1].Skips(2))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{`},
		{name: "not an array", data: `{"id": "a"}`},
		{name: "missing id", data: `[{"file": "a.pdf"}]`},
		{name: "missing file", data: `[{"id": "a"}]`},
		{name: "duplicate id", data: `[{"id": "a", "file": "a.pdf"}, {"id": "a", "file": "b.pdf"}]`},
		{name: "null entry", data: `[null]`},
		{name: "negative limit", data: `[{"id": "a", "file": "a.pdf", "pageLimit": -1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeManifest))
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		location string
		file     string
		want     string
	}{
		{"http://localhost:8080/test/test_manifest.json", "pdfs/a.pdf", "http://localhost:8080/test/pdfs/a.pdf"},
		{"http://localhost:8080/test/test_manifest.json", "../a.pdf", "http://localhost:8080/a.pdf"},
		{"http://localhost:8080/test/m.json", "https://cdn.example.com/b.pdf", "https://cdn.example.com/b.pdf"},
		{"/srv/test/m.json", "pdfs/a.pdf", "/srv/test/pdfs/a.pdf"},
		{"m.json", "a.pdf", "a.pdf"},
		{"/srv/test/m.json", "/abs/a.pdf", "/abs/a.pdf"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.location, tt.file), "%s + %s", tt.location, tt.file)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	m, err := Load(context.Background(), NewFetcher(nil), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pdfs", "tracemonkey.pdf"), m[0].File)
	assert.Equal(t, "https://example.com/remote.pdf", m[2].File)
}

func TestLoad_FromHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/test/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleManifest))
	})
	mux.HandleFunc("/test/pdfs/tracemonkey.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 fake"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	f := NewFetcher(srv.Client())

	m, err := Load(ctx, f, srv.URL+"/test/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/test/pdfs/tracemonkey.pdf", m[0].File)

	data, err := f.Fetch(ctx, m[0].File)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	_, err = f.Fetch(ctx, m[1].File)
	assert.Error(t, err, "404 is an error")
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(context.Background(), NewFetcher(nil), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeManifest))
}

func TestExpectedOutcomes(t *testing.T) {
	m, err := Parse([]byte(`[
		{"id": "a", "file": "a.pdf"},
		{"id": "b", "file": "b.pdf", "rounds": 2},
		{"id": "c", "file": "c.pdf", "pageLimit": 1},
		{"id": "d", "file": "d.pdf"},
		{"id": "e", "file": "e.pdf", "firstPage": 2, "rounds": 2}
	]`))
	require.NoError(t, err)

	pages := map[string]int{"a": 2, "b": 2, "c": 5, "e": 3}
	// a: 2, b: 2*2, c: 1, d: failed load 1, e: pages 2-3 then 1-3
	assert.Equal(t, 2+4+1+1+5, m.ExpectedOutcomes(pages))
}
