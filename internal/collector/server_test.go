package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/color"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/render-driver/internal/domain"
	"github.com/spherical/render-driver/internal/report"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ResultEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e ResultEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []ResultEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ResultEvent(nil), p.events...)
}

func (p *recordingPublisher) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func submitBody(t *testing.T, p report.Payload) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

type testServer struct {
	*httptest.Server
	store     *Store
	publisher *recordingPublisher
	snapDir   string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store := newSQLiteStore(t)
	pub := &recordingPublisher{}
	if opts.SnapshotDir == "" {
		opts.SnapshotDir = t.TempDir()
	}
	srv := NewServer(opts, store, pub, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: store, publisher: pub, snapDir: opts.SnapshotDir}
}

func TestSubmit_StoresResult(t *testing.T) {
	ts := newTestServer(t, Options{})
	png := pngOf(t, 3, 3, color.White)

	resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", submitBody(t, report.Payload{
		Browser: "firefox", ID: "a", NumPages: 2, File: "a.pdf", Round: 0, Page: 1, Snapshot: dataURL(png),
	}))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dto SubmitResponseDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, 1, dto.Attempts)

	results, err := ts.store.ListResults(context.Background(), "firefox")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].TaskID)
	assert.Equal(t, 2, results[0].NumPages)

	written, err := os.ReadFile(filepath.Join(ts.snapDir, "firefox", "a", "r0-p1.png"))
	require.NoError(t, err)
	assert.Equal(t, png, written)

	events := ts.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].TaskID)
}

func TestSubmit_ResendIsHarmless(t *testing.T) {
	ts := newTestServer(t, Options{})
	payload := report.Payload{Browser: "firefox", ID: "a", Round: 1, Page: 2, Snapshot: dataURL(pngOf(t, 1, 1, color.White))}

	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", submitBody(t, payload))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	results, err := ts.store.ListResults(context.Background(), "firefox")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestSubmit_ComparesWithReference(t *testing.T) {
	refs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(refs, "firefox", "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(refs, "firefox", "a", "r0-p1.png"), pngOf(t, 2, 2, color.White), 0o644))

	ts := newTestServer(t, Options{RefsDir: refs})

	resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", submitBody(t, report.Payload{
		Browser: "firefox", ID: "a", Page: 1, Snapshot: dataURL(pngOf(t, 2, 2, color.Black)),
	}))
	require.NoError(t, err)
	defer resp.Body.Close()

	var dto SubmitResponseDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	assert.Equal(t, ComparisonMismatch, dto.Comparison)
}

func TestSubmit_PublishFailureStillAcknowledges(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.publisher.failWith(errors.New("redis down"))

	resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", submitBody(t, report.Payload{
		Browser: "firefox", ID: "a", Page: 1,
	}))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmit_RejectsUnkeyableBodies(t *testing.T) {
	ts := newTestServer(t, Options{MaxBodyBytes: 1 << 10})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"browser":`},
		{"not an object", `[1,2]`},
		{"missing id", `{"browser":"firefox","page":1}`},
		{"negative page", `{"browser":"firefox","id":"a","page":-1}`},
		{"too large without key", `{"failure":"` + strings.Repeat("x", 2<<10) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	results, err := ts.store.ListResults(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSubmit_StoresUnusableBodyAsFailure(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantPage    int
		wantFailure string
	}{
		{
			name:        "bad snapshot",
			body:        `{"browser":"firefox","id":"a","page":1,"snapshot":"data:text/plain,hi"}`,
			wantPage:    1,
			wantFailure: "collector: invalid snapshot",
		},
		{
			name:        "bad snapshot keeps driver failure",
			body:        `{"browser":"firefox","id":"a","page":2,"failure":"render : x","snapshot":"nope"}`,
			wantPage:    2,
			wantFailure: "render : x; collector: invalid snapshot",
		},
		{
			name:        "too large",
			body:        `{"browser":"firefox","id":"a","page":3,"snapshot":"data:image/png;base64,` + strings.Repeat("A", 4<<10) + `"}`,
			wantPage:    3,
			wantFailure: "collector: submission exceeds 1024 bytes",
		},
		{
			name:        "wrong field type",
			body:        `{"browser":"firefox","id":"a","page":4,"numPages":"two"}`,
			wantPage:    4,
			wantFailure: "collector: invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Options{MaxBodyBytes: 1 << 10})

			resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			results, err := ts.store.ListResults(context.Background(), "firefox")
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "a", results[0].TaskID)
			assert.Equal(t, tt.wantPage, results[0].Page)
			assert.True(t, strings.HasPrefix(results[0].Failure, tt.wantFailure), "failure %q", results[0].Failure)
			assert.Empty(t, results[0].SnapshotPath)

			_, err = os.Stat(filepath.Join(ts.snapDir, "firefox", "a"))
			assert.True(t, os.IsNotExist(err), "no snapshot is written for an unusable body")
		})
	}
}

func TestSubmit_OversizedSubmissionDrains(t *testing.T) {
	ts := newTestServer(t, Options{MaxBodyBytes: 1 << 10})
	client := report.NewClient(ts.URL, report.Options{
		Retry: report.RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}, nil)

	snapshot := dataURL(bytes.Repeat([]byte{0x89}, 4<<10))
	require.NoError(t, client.Submit(context.Background(), domain.RenderOutcome{
		TaskID: "a", Browser: "firefox", File: "a.pdf", Page: 1, NumPages: 1, Snapshot: snapshot,
	}))

	require.Eventually(t, func() bool { return client.InFlight() == 0 }, 5*time.Second, 5*time.Millisecond)
	client.Wait()

	stats := client.Stats()
	assert.Equal(t, 1, stats.Acked)
	assert.Zero(t, stats.Dropped)

	results, err := ts.store.ListResults(context.Background(), "firefox")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Contains(t, results[0].Failure, "submission exceeds")
}

func TestSubmit_StoreFailureAsksForResend(t *testing.T) {
	ts := newTestServer(t, Options{})
	require.NoError(t, ts.store.Close())

	resp, err := http.Post(ts.URL+"/submit_task_results", "application/json", submitBody(t, report.Payload{
		Browser: "firefox", ID: "a", Page: 1,
	}))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestResults(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()
	require.NoError(t, ts.store.UpsertResult(ctx, &Result{Browser: "firefox", TaskID: "a", Page: 1, Failure: "render : x"}))
	require.NoError(t, ts.store.UpsertResult(ctx, &Result{Browser: "firefox", TaskID: "a", Page: 2}))

	resp, err := http.Get(ts.URL + "/results")
	require.NoError(t, err)
	var summaries []Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	resp.Body.Close()
	assert.Equal(t, []Summary{{Browser: "firefox", Total: 2, Failed: 1}}, summaries)

	resp, err = http.Get(ts.URL + "/results/firefox")
	require.NoError(t, err)
	var results []Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	resp.Body.Close()
	assert.Len(t, results, 2)
}

func TestStaticFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "manifest.json"), []byte(`[]`), 0o644))
	ts := newTestServer(t, Options{RootDir: root})

	resp, err := http.Get(ts.URL + "/manifest.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestQuit_RecordsAndStops(t *testing.T) {
	store := newSQLiteStore(t)
	srv := NewServer(Options{ExitOnQuit: true, ShutdownTimeout: time.Second}, store, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/tellMeToQuit?path=%2Fapp", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after quit request")
	}

	n, err := store.CountQuits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestShutdown_StopsServe(t *testing.T) {
	srv := NewServer(Options{}, newSQLiteStore(t), nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(context.Background(), ln)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}
}
