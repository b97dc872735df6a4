package embedder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/semcode/semcode/internal/errors"
)

// fakeProvider scripts Embed behavior for pool tests.
type fakeProvider struct {
	mu         sync.Mutex
	name       string
	caps       Capabilities
	probeCount int
	calls      [][]string
	// failFirst makes the first N Embed calls fail with failErr.
	failFirst int
	failErr   error
	// short makes Embed return one vector fewer than requested.
	short bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Probe(context.Context) (Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCount++
	return f.caps, nil
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failFirst > 0 {
		f.failFirst--
		return nil, f.failErr
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		// Encode the input index so order preservation is checkable.
		out = append(out, []float32{float32(len(texts[i]))})
	}
	return out, nil
}

func fastPool(prov Provider) *Pool {
	p := NewPool(PoolConfig{
		CapabilityTTL: time.Minute,
		Retry: cerr.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
	}, nil)
	p.Register(prov)
	return p
}

func availableCaps(name string, maxBatch int) Capabilities {
	return Capabilities{Name: name, Model: "fake", Dimensions: 1, MaxBatchSize: maxBatch, Available: true}
}

func TestEmbedPreservesOrderAcrossBatches(t *testing.T) {
	f := &fakeProvider{name: "fake", caps: availableCaps("fake", 2)}
	p := fastPool(f)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := p.Embed(context.Background(), "fake", texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, txt := range texts {
		assert.Equal(t, float32(len(txt)), vecs[i][0], "vector %d out of order", i)
	}
}

func TestEmbedSplitsOnProviderBatchLimit(t *testing.T) {
	f := &fakeProvider{name: "fake", caps: availableCaps("fake", 2)}
	p := fastPool(f)

	_, err := p.Embed(context.Background(), "fake", []string{"x", "y", "z"})
	require.NoError(t, err)

	require.Len(t, f.calls, 2)
	assert.Len(t, f.calls[0], 2)
	assert.Len(t, f.calls[1], 1)
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	f := &fakeProvider{
		name:      "fake",
		caps:      availableCaps("fake", 10),
		failFirst: 2,
		failErr:   cerr.New(cerr.KindTransient, "flaky"),
	}
	p := fastPool(f)

	vecs, err := p.Embed(context.Background(), "fake", []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Len(t, f.calls, 3, "two failures then success")
}

func TestEmbedDoesNotRetryConfigurationErrors(t *testing.T) {
	f := &fakeProvider{
		name:      "fake",
		caps:      availableCaps("fake", 10),
		failFirst: 5,
		failErr:   cerr.New(cerr.KindConfiguration, "bad key"),
	}
	p := fastPool(f)

	_, err := p.Embed(context.Background(), "fake", []string{"a"})
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindConfiguration))
	assert.Len(t, f.calls, 1)
}

func TestEmbedHalvesBatchOnBatchLimit(t *testing.T) {
	f := &fakeProvider{
		name:      "fake",
		caps:      availableCaps("fake", 8),
		failFirst: 1,
		failErr:   cerr.New(cerr.KindBatchLimit, "too big"),
	}
	p := fastPool(f)

	vecs, err := p.Embed(context.Background(), "fake", []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Len(t, vecs, 4)

	// First call of 4 rejected, then two halves of 2.
	require.Len(t, f.calls, 3)
	assert.Len(t, f.calls[0], 4)
	assert.Len(t, f.calls[1], 2)
	assert.Len(t, f.calls[2], 2)
}

func TestEmbedRejectsShortResponses(t *testing.T) {
	f := &fakeProvider{name: "fake", caps: availableCaps("fake", 10), short: true}
	p := fastPool(f)

	_, err := p.Embed(context.Background(), "fake", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 inputs")
}

func TestCapabilitiesAreCached(t *testing.T) {
	f := &fakeProvider{name: "fake", caps: availableCaps("fake", 10)}
	p := fastPool(f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := p.Capabilities(ctx, "fake")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.probeCount)

	p.InvalidateCapabilities("fake")
	_, err := p.Capabilities(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 2, f.probeCount)
}

func TestValidateUnavailableProviderCarriesHints(t *testing.T) {
	f := &fakeProvider{name: "openai", caps: Capabilities{
		Name: "openai", RequiresAPIKey: true, Available: false, Detail: "OPENAI_API_KEY is not set",
	}}
	p := fastPool(f)

	err := p.Validate(context.Background(), "openai")
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindProviderUnavailable))

	hints := cerr.HintsOf(err)
	require.NotEmpty(t, hints)
	assert.Contains(t, fmt.Sprint(hints), "OPENAI_API_KEY")
}

func TestUnknownProvider(t *testing.T) {
	p := fastPool(&fakeProvider{name: "fake", caps: availableCaps("fake", 10)})

	_, err := p.Embed(context.Background(), "missing", []string{"a"})
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindConfiguration))
}

func TestEmbedEmptyInput(t *testing.T) {
	f := &fakeProvider{name: "fake", caps: availableCaps("fake", 10)}
	p := fastPool(f)

	vecs, err := p.Embed(context.Background(), "fake", nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, f.calls)
}

func TestProbeAllReportsEveryProvider(t *testing.T) {
	p := fastPool(&fakeProvider{name: "a", caps: availableCaps("a", 1)})
	p.Register(&fakeProvider{name: "b", caps: Capabilities{Name: "b", Available: false, Detail: "down"}})

	all := p.ProbeAll(context.Background())
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.True(t, all[0].Available)
	assert.False(t, all[1].Available)
}
