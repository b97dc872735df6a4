package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/semcode/semcode/internal/errors"
)

func ollamaServer(t *testing.T, embedStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "nomic-embed-text:latest"}},
			})
		case "/api/embed":
			if embedStatus != http.StatusOK {
				w.WriteHeader(embedStatus)
				return
			}
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := ollamaEmbedResponse{}
			for range req.Input {
				resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2})
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProbeFindsPulledModel(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK)
	p := NewOllamaProvider(srv.URL, "nomic-embed-text", time.Second)

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Available)
	assert.Equal(t, 768, caps.Dimensions)
	assert.False(t, caps.RequiresAPIKey)
}

func TestOllamaProbeUnreachableIsNotAnError(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "nomic-embed-text", 200*time.Millisecond)

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.Available)
	assert.Contains(t, caps.Detail, "unreachable")
}

func TestOllamaEmbedReturnsVectorPerInput(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK)
	p := NewOllamaProvider(srv.URL, "nomic-embed-text", time.Second)

	vecs, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
}

func TestOllamaEmbedMapsServerErrors(t *testing.T) {
	srv := ollamaServer(t, http.StatusInternalServerError)
	p := NewOllamaProvider(srv.URL, "nomic-embed-text", time.Second)

	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindTransient))
}

func TestOllamaEmbedMapsMissingModel(t *testing.T) {
	srv := ollamaServer(t, http.StatusNotFound)
	p := NewOllamaProvider(srv.URL, "nomic-embed-text", time.Second)

	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindConfiguration))
	assert.NotEmpty(t, cerr.HintsOf(err))
}

func TestOllamaEmbedMapsBatchLimit(t *testing.T) {
	srv := ollamaServer(t, http.StatusRequestEntityTooLarge)
	p := NewOllamaProvider(srv.URL, "nomic-embed-text", time.Second)

	_, err := p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindBatchLimit))
}
