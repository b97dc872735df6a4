package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	cerr "github.com/semcode/semcode/internal/errors"
)

// DefaultMaxBatchSize applies when a provider does not report its own
// batch limit.
const DefaultMaxBatchSize = 64

// PoolConfig tunes the pool.
type PoolConfig struct {
	// CapabilityTTL is how long probe results are cached.
	CapabilityTTL time.Duration
	// Retry governs transient failures of individual batch calls.
	Retry cerr.RetryConfig
}

// DefaultPoolConfig returns a 5-minute capability cache and the
// standard retry policy.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		CapabilityTTL: 5 * time.Minute,
		Retry:         cerr.DefaultRetryConfig(),
	}
}

// Pool is a registry of embedding providers. It owns capability
// caching and batch splitting so callers can hand it arbitrarily large
// input slices.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider

	caps *expirable.LRU[string, Capabilities]
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CapabilityTTL <= 0 {
		cfg.CapabilityTTL = 5 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = cerr.DefaultRetryConfig()
	}
	return &Pool{
		cfg:       cfg,
		logger:    logger,
		providers: make(map[string]Provider),
		caps:      expirable.NewLRU[string, Capabilities](32, nil, cfg.CapabilityTTL),
	}
}

// Register adds a provider. Registering a name twice replaces the
// earlier provider and drops its cached capabilities.
func (p *Pool) Register(provider Provider) {
	p.mu.Lock()
	p.providers[provider.Name()] = provider
	p.mu.Unlock()
	p.caps.Remove(provider.Name())
}

// Names returns the registered provider names, sorted.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.providers))
	for name := range p.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Pool) provider(name string) (Provider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prov, ok := p.providers[name]
	if !ok {
		return nil, cerr.Newf(cerr.KindConfiguration, "unknown embedding provider %q", name).
			WithHint(fmt.Sprintf("registered providers: %v", p.namesLocked()))
	}
	return prov, nil
}

func (p *Pool) namesLocked() []string {
	names := make([]string, 0, len(p.providers))
	for name := range p.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns the provider's capabilities, probing at most
// once per TTL.
func (p *Pool) Capabilities(ctx context.Context, name string) (Capabilities, error) {
	if caps, ok := p.caps.Get(name); ok {
		return caps, nil
	}
	prov, err := p.provider(name)
	if err != nil {
		return Capabilities{}, err
	}
	caps, err := prov.Probe(ctx)
	if err != nil {
		return Capabilities{}, cerr.Wrapf(cerr.KindProviderUnavailable, err,
			"probe of provider %q failed", name)
	}
	p.caps.Add(name, caps)
	return caps, nil
}

// InvalidateCapabilities drops the cached probe result for name.
func (p *Pool) InvalidateCapabilities(name string) {
	p.caps.Remove(name)
}

// ProbeAll probes every registered provider and returns their
// capabilities, sorted by name. Probe failures are reported as
// unavailable entries rather than errors.
func (p *Pool) ProbeAll(ctx context.Context) []Capabilities {
	var out []Capabilities
	for _, name := range p.Names() {
		caps, err := p.Capabilities(ctx, name)
		if err != nil {
			caps = Capabilities{Name: name, Available: false, Detail: err.Error()}
		}
		out = append(out, caps)
	}
	return out
}

// Validate checks that the named provider is usable right now.
// The returned error carries actionable hints.
func (p *Pool) Validate(ctx context.Context, name string) error {
	caps, err := p.Capabilities(ctx, name)
	if err != nil {
		return err
	}
	if caps.Available {
		return nil
	}
	e := cerr.Newf(cerr.KindProviderUnavailable, "embedding provider %q is not available: %s", name, caps.Detail)
	if caps.RequiresAPIKey {
		e = e.WithHint(fmt.Sprintf("configure the API key for %q", name))
	}
	switch name {
	case "openai":
		e = e.WithHint("set OPENAI_API_KEY")
	case "siliconflow":
		e = e.WithHint("set SILICONFLOW_API_KEY")
	case "ollama":
		e = e.WithHint("check that the Ollama server is running and the model is pulled")
	}
	return e
}

// Embed embeds texts with the named provider. Inputs are split into
// batches no larger than the provider's limit, calls run sequentially,
// and the output preserves input order. Receiving fewer vectors than
// inputs is a failure, never silently padded.
func (p *Pool) Embed(ctx context.Context, name string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prov, err := p.provider(name)
	if err != nil {
		return nil, err
	}
	caps, err := p.Capabilities(ctx, name)
	if err != nil {
		return nil, err
	}
	if !caps.Available {
		return nil, p.Validate(ctx, name)
	}

	maxBatch := caps.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embedBatch(ctx, prov, texts[start:end], maxBatch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedBatch embeds one batch with retry. A BatchLimit rejection
// halves the batch and recurses, down to single inputs.
func (p *Pool) embedBatch(ctx context.Context, prov Provider, texts []string, batchSize int) ([][]float32, error) {
	var vecs [][]float32
	err := cerr.Retry(ctx, p.cfg.Retry, func() error {
		var embedErr error
		vecs, embedErr = prov.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		if cerr.IsKind(err, cerr.KindBatchLimit) && len(texts) > 1 {
			half := len(texts) / 2
			p.logger.Debug("batch rejected, splitting",
				slog.String("provider", prov.Name()),
				slog.Int("size", len(texts)), slog.Int("new_size", half))
			left, lerr := p.embedBatch(ctx, prov, texts[:half], half)
			if lerr != nil {
				return nil, lerr
			}
			right, rerr := p.embedBatch(ctx, prov, texts[half:], half)
			if rerr != nil {
				return nil, rerr
			}
			return append(left, right...), nil
		}
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, cerr.Newf(cerr.KindProviderUnavailable,
			"provider %q returned %d vectors for %d inputs", prov.Name(), len(vecs), len(texts))
	}
	return vecs, nil
}
