package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cerr "github.com/semcode/semcode/internal/errors"
)

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "nomic-embed-text"

var ollamaModelDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// OllamaProvider embeds through a local Ollama server. No API key is
// required; availability means the server answers and has the model.
type OllamaProvider struct {
	host   string
	model  string
	client *http.Client
}

// NewOllamaProvider builds the provider for the given host
// (default http://localhost:11434).
func NewOllamaProvider(host, model string, timeout time.Duration) *OllamaProvider {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Probe asks the server for its model list.
func (p *OllamaProvider) Probe(ctx context.Context) (Capabilities, error) {
	caps := Capabilities{
		Name:         p.Name(),
		Model:        p.model,
		Dimensions:   ollamaModelDims[p.model],
		MaxBatchSize: 32,
	}
	if caps.Dimensions == 0 {
		caps.Dimensions = 768
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return caps, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		caps.Detail = fmt.Sprintf("ollama server at %s is unreachable", p.host)
		return caps, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		caps.Detail = fmt.Sprintf("ollama server returned status %d", resp.StatusCode)
		return caps, nil
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		caps.Detail = "ollama server returned an unreadable model list"
		return caps, nil
	}
	for _, m := range tags.Models {
		if m.Name == p.model || strings.HasPrefix(m.Name, p.model+":") {
			caps.Available = true
			return caps, nil
		}
	}
	caps.Detail = fmt.Sprintf("model %q is not pulled", p.model)
	return caps, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, cerr.Wrapf(cerr.KindTransient, err, "ollama is unreachable").
			WithHint("check that the Ollama server is running")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerr.Wrapf(cerr.KindTransient, err, "failed to read ollama response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, cerr.Newf(cerr.KindConfiguration, "ollama model %q is not pulled", p.model).
			WithHint(fmt.Sprintf("run: ollama pull %s", p.model))
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, cerr.Newf(cerr.KindBatchLimit, "ollama rejected batch of %d inputs", len(texts))
	case resp.StatusCode >= 500:
		return nil, cerr.Newf(cerr.KindTransient, "ollama returned status %d: %s", resp.StatusCode, truncate(data, 200))
	default:
		return nil, cerr.Newf(cerr.KindProviderUnavailable, "ollama returned status %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, cerr.Wrapf(cerr.KindProviderUnavailable, err, "ollama returned invalid JSON")
	}
	if parsed.Error != "" {
		return nil, cerr.Newf(cerr.KindProviderUnavailable, "ollama error: %s", parsed.Error)
	}
	return parsed.Embeddings, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
