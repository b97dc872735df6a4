package embedder

import (
	"context"
	"errors"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	cerr "github.com/semcode/semcode/internal/errors"
)

// OpenAIProvider embeds through the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	apiKey string
}

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

var openAIModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// NewOpenAIProvider builds the provider. The API key comes from
// OPENAI_API_KEY when apiKey is empty.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		apiKey: apiKey,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Probe reports availability without spending an API call: a missing
// key is the common failure and is detectable locally.
func (p *OpenAIProvider) Probe(_ context.Context) (Capabilities, error) {
	caps := Capabilities{
		Name:           p.Name(),
		Model:          p.model,
		Dimensions:     openAIModelDims[p.model],
		MaxBatchSize:   100,
		RequiresAPIKey: true,
		Available:      p.apiKey != "",
	}
	if caps.Dimensions == 0 {
		caps.Dimensions = 1536
	}
	if !caps.Available {
		caps.Detail = "OPENAI_API_KEY is not set"
	}
	return caps, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.apiKey == "" {
		return nil, cerr.New(cerr.KindConfiguration, "openai API key is not configured").
			WithHint("set OPENAI_API_KEY")
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(p.Name(), err)
	}

	// Response order follows the request's Index field.
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

// classifyOpenAIError maps API failures onto the error taxonomy so the
// pool can decide between retry, batch splitting, and giving up.
func classifyOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return cerr.Wrapf(cerr.KindConfiguration, err, "%s rejected the API key", provider).
				WithHint("verify the configured API key")
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return cerr.Wrapf(cerr.KindTransient, err, "%s request failed transiently", provider)
		case apiErr.HTTPStatusCode == 400 && looksLikeBatchLimit(apiErr.Message):
			return cerr.Wrapf(cerr.KindBatchLimit, err, "%s rejected the batch size", provider)
		default:
			return cerr.Wrapf(cerr.KindProviderUnavailable, err, "%s request failed", provider)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 500 {
		return cerr.Wrapf(cerr.KindTransient, err, "%s request failed transiently", provider)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Connection-level failures (DNS, refused, timeout).
	return cerr.Wrapf(cerr.KindTransient, err, "%s is unreachable", provider)
}

func looksLikeBatchLimit(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "batch") ||
		strings.Contains(msg, "too many inputs") ||
		strings.Contains(msg, "maximum context length")
}
