package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a test double that counts calls
type mockEmbedder struct {
	embedCalls     atomic.Int64
	batchCalls     atomic.Int64
	dimensions     int
	modelName      string
	returnedVector []float32
}

func newMockEmbedder(dims int) *mockEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}
	return &mockEmbedder{
		dimensions:     dims,
		modelName:      "mock-model",
		returnedVector: vec,
	}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.returnedVector, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = m.returnedVector
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int {
	return m.dimensions
}

func (m *mockEmbedder) ModelName() string {
	return m.modelName
}

func (m *mockEmbedder) Available(ctx context.Context) bool {
	return true
}

func (m *mockEmbedder) Close() error {
	return nil
}

func TestCachedEmbedder_CacheHit_ReturnsWithoutCallingInner(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(StaticDimensions)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	text := "picked up keys from the new apartment"

	// When: I embed the same text twice
	result1, err1 := cached.Embed(ctx, text)
	result2, err2 := cached.Embed(ctx, text)

	// Then: inner embedder is called only once
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, int64(1), inner.embedCalls.Load(), "inner should be called once")

	// And: results are identical
	assert.Equal(t, result1, result2, "cached results should match")
}

func TestCachedEmbedder_CacheMiss_CallsInnerForNewText(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(StaticDimensions)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	// When: I embed different texts
	_, err1 := cached.Embed(ctx, "note one")
	_, err2 := cached.Embed(ctx, "note two")
	_, err3 := cached.Embed(ctx, "note three")

	// Then: inner embedder is called for each unique text
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)
	assert.Equal(t, int64(3), inner.embedCalls.Load(), "inner should be called three times")
}

func TestCachedEmbedder_PassthroughMethods(t *testing.T) {
	inner := newMockEmbedder(384)
	inner.modelName = "all-minilm"
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, 384, cached.Dimensions())
	assert.Equal(t, "all-minilm", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Equal(t, Embedder(inner), cached.Inner())
}

func TestCachedEmbedder_EmbedBatch_CachesIndividualResults(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(StaticDimensions)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	texts := []string{"note1", "note2", "note3"}

	// When: I call EmbedBatch then Embed on the same text
	_, err1 := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err1)

	_, err2 := cached.Embed(ctx, "note1")

	// Then: the second call is a cache hit
	require.NoError(t, err2)
	assert.Equal(t, int64(0), inner.embedCalls.Load(), "individual Embed should hit batch cache")
}

func TestCachedEmbedder_EmbedBatch_OnlyMissesHitInner(t *testing.T) {
	// Given: a cached embedder with one text already cached
	inner := newMockEmbedder(StaticDimensions)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	_, err := cached.Embed(ctx, "already cached")
	require.NoError(t, err)
	inner.embedCalls.Store(0)

	// When: I batch embed a mix of cached and new texts
	results, err := cached.EmbedBatch(ctx, []string{"already cached", "brand new"})

	// Then: only the miss reaches the inner batch call
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int64(0), inner.embedCalls.Load())
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_CacheEviction_OldestEvictedFirst(t *testing.T) {
	// Given: a cached embedder with a tiny cache
	inner := newMockEmbedder(StaticDimensions)
	cached := NewCachedEmbedder(inner, 3)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	// When: I embed 4 different texts (exceeds cache)
	_, _ = cached.Embed(ctx, "note1")
	_, _ = cached.Embed(ctx, "note2")
	_, _ = cached.Embed(ctx, "note3")
	_, _ = cached.Embed(ctx, "note4")

	inner.embedCalls.Store(0)

	// Then: the first text causes a cache miss
	_, err := cached.Embed(ctx, "note1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.embedCalls.Load(), "evicted text should require new embedding")

	// And: recent texts are still cached
	inner.embedCalls.Store(0)
	_, _ = cached.Embed(ctx, "note3")
	_, _ = cached.Embed(ctx, "note4")
	assert.Equal(t, int64(0), inner.embedCalls.Load(), "recent texts should be cached")
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	// Given: two caches over embedders with different model names
	innerA := newMockEmbedder(StaticDimensions)
	innerA.modelName = "model-a"
	innerB := newMockEmbedder(StaticDimensions)
	innerB.modelName = "model-b"

	cachedA := NewCachedEmbedder(innerA, 100)
	cachedB := NewCachedEmbedder(innerB, 100)
	defer func() { _ = cachedA.Close() }()
	defer func() { _ = cachedB.Close() }()

	// When: the same text is keyed under each model
	keyA := cachedA.cacheKey("same text")
	keyB := cachedB.cacheKey("same text")

	// Then: the keys differ
	assert.NotEqual(t, keyA, keyB, "cache keys must include the model name")
}

func TestCachedEmbedder_ConcurrentAccess_NoRace(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(StaticDimensions)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	texts := []string{"a", "b", "c", "d", "e"}

	// When: I access it concurrently
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_, _ = cached.Embed(ctx, texts[j%len(texts)])
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
