package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semcode/semcode/internal/coordinator"
	"github.com/semcode/semcode/internal/embedder"
	cerr "github.com/semcode/semcode/internal/errors"
	"github.com/semcode/semcode/internal/graphstore"
	"github.com/semcode/semcode/internal/hashstore"
	"github.com/semcode/semcode/internal/project"
	"github.com/semcode/semcode/internal/vectorstore"
)

type stubProvider struct {
	dims int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Probe(context.Context) (embedder.Capabilities, error) {
	return embedder.Capabilities{
		Name:         "stub",
		Model:        "stub-model",
		Dimensions:   p.dims,
		MaxBatchSize: 64,
		Available:    true,
	}, nil
}

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, p.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

type fixture struct {
	ts       *httptest.Server
	coord    *coordinator.Coordinator
	registry *project.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	registry, err := project.NewRegistry(filepath.Join(t.TempDir(), "projects.json"), logger)
	require.NoError(t, err)
	hashes, err := hashstore.Open("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hashes.Close() })
	vectors, err := vectorstore.Open("", logger)
	require.NoError(t, err)

	gcfg := graphstore.DefaultConfig()
	gcfg.ReadinessInterval = 10 * time.Millisecond
	graphs, err := graphstore.Open("", gcfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = graphs.Close() })

	pool := embedder.NewPool(embedder.DefaultPoolConfig(), logger)
	pool.Register(&stubProvider{dims: 4})

	ccfg := coordinator.DefaultConfig()
	ccfg.Provider = "stub"
	ccfg.Retry = cerr.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	coord := coordinator.New(ccfg, registry, hashes, pool, vectors, graphs, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	srv := New(Config{DefaultProvider: "stub"}, coord, registry, pool, vectors, graphs, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, coord: coord, registry: registry}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func writeSample(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go": "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n",
		"util.go": "package main\n\nfunc helper() int { return 1 }\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

// indexSample registers and indexes a fixture project, waiting for it
// to become active.
func (f *fixture) indexSample(t *testing.T) string {
	t.Helper()
	root := writeSample(t)
	resp := f.post(t, "/api/projects/", map[string]any{"path": root})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decodeBody[map[string]string](t, resp)
	id := created["projectId"]
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		st, err := f.coord.Status(id)
		return err == nil && st.Status == coordinator.ProjectActive
	}, 10*time.Second, 10*time.Millisecond)
	return id
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndStatus(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	resp := f.get(t, "/api/projects/"+id+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[coordinator.ProjectState](t, resp)
	assert.Equal(t, id, st.ID)
	assert.Equal(t, coordinator.ProjectActive, st.Status)
	assert.Equal(t, 2, st.IndexedFiles)
}

func TestCreateProjectValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/projects/", map[string]any{"path": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/projects/", map[string]any{"path": filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, string(cerr.KindInvalidPath), body["kind"])
}

func TestStatusUnknownProject(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/projects/deadbeef/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, string(cerr.KindNotFound), body["kind"])
}

func TestListProjects(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	resp := f.get(t, "/api/projects/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]coordinator.ProjectState](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestListEmbedders(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/embedders")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	caps := decodeBody[[]embedder.Capabilities](t, resp)
	require.Len(t, caps, 1)
	assert.Equal(t, "stub", caps[0].Name)
	assert.True(t, caps[0].Available)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	resp := f.post(t, "/api/search", map[string]any{
		"projectId": id,
		"query":     "print greeting",
		"limit":     5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string][]map[string]any](t, resp)
	require.NotEmpty(t, body["results"])
	for _, hit := range body["results"] {
		meta := hit["metadata"].(map[string]any)
		assert.Equal(t, id, meta["project_id"])
	}
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/search", map[string]any{"projectId": "nope", "query": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestVectorAndGraphInfo(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	resp := f.get(t, fmt.Sprintf("/api/projects/%s/vector", id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vinfo := decodeBody[vectorstore.CollectionInfo](t, resp)
	assert.Greater(t, vinfo.Points, 0)
	assert.Equal(t, 4, vinfo.Dimensions)

	resp = f.get(t, fmt.Sprintf("/api/projects/%s/graph", id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ginfo := decodeBody[graphstore.SpaceInfo](t, resp)
	assert.Equal(t, graphstore.SpaceReady, ginfo.Status)
	assert.Greater(t, ginfo.Nodes, 0)
}

func TestFileChanges(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	resp := f.post(t, fmt.Sprintf("/api/projects/%s/changes", id), map[string]any{
		"events": []map[string]string{{"op": "delete", "relPath": "util.go"}},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, fmt.Sprintf("/api/projects/%s/changes", id), map[string]any{
		"events": []map[string]string{{"op": "rename", "relPath": "util.go"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRemoveProject(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/projects/"+id+"/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/api/projects/"+id+"/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStopIndexingIdleProject(t *testing.T) {
	f := newFixture(t)
	id := f.indexSample(t)

	resp := f.post(t, fmt.Sprintf("/api/projects/%s/stop", id), nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}
