package embedder

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"

	cerr "github.com/semcode/semcode/internal/errors"
)

// SiliconFlow exposes an OpenAI-compatible embeddings endpoint, so the
// provider reuses the OpenAI client with a different base URL.

const (
	siliconFlowBaseURL = "https://api.siliconflow.cn/v1"

	// DefaultSiliconFlowModel is used when no model is configured.
	DefaultSiliconFlowModel = "BAAI/bge-m3"
)

var siliconFlowModelDims = map[string]int{
	"BAAI/bge-m3":                          1024,
	"BAAI/bge-large-zh-v1.5":               1024,
	"BAAI/bge-large-en-v1.5":               1024,
	"netease-youdao/bce-embedding-base_v1": 768,
}

// SiliconFlowProvider embeds through the SiliconFlow API.
type SiliconFlowProvider struct {
	client *openai.Client
	model  string
	apiKey string
}

// NewSiliconFlowProvider builds the provider. The API key comes from
// SILICONFLOW_API_KEY when apiKey is empty.
func NewSiliconFlowProvider(apiKey, model string) *SiliconFlowProvider {
	if apiKey == "" {
		apiKey = os.Getenv("SILICONFLOW_API_KEY")
	}
	if model == "" {
		model = DefaultSiliconFlowModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = siliconFlowBaseURL
	return &SiliconFlowProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		apiKey: apiKey,
	}
}

func (p *SiliconFlowProvider) Name() string { return "siliconflow" }

func (p *SiliconFlowProvider) Probe(_ context.Context) (Capabilities, error) {
	caps := Capabilities{
		Name:           p.Name(),
		Model:          p.model,
		Dimensions:     siliconFlowModelDims[p.model],
		MaxBatchSize:   64,
		RequiresAPIKey: true,
		Available:      p.apiKey != "",
	}
	if caps.Dimensions == 0 {
		caps.Dimensions = 1024
	}
	if !caps.Available {
		caps.Detail = "SILICONFLOW_API_KEY is not set"
	}
	return caps, nil
}

func (p *SiliconFlowProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.apiKey == "" {
		return nil, cerr.New(cerr.KindConfiguration, "siliconflow API key is not configured").
			WithHint("set SILICONFLOW_API_KEY")
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(p.Name(), err)
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, cerr.Newf(cerr.KindProviderUnavailable,
				"%s returned out-of-range embedding index %d", p.Name(), item.Index)
		}
		out[item.Index] = item.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, cerr.Newf(cerr.KindProviderUnavailable,
				"%s returned no embedding for input %d", p.Name(), i)
		}
	}
	return out, nil
}
