package embedding

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingEmbedder struct {
	Calls   int
	Vectors map[string][]float32
}

func (m *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.Calls++
	if vec, ok := m.Vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0}, nil
}

func newTestIndex(t *testing.T, embedder *countingEmbedder) *Index {
	t.Helper()
	cache, err := NewCache(filepath.Join(t.TempDir(), "embeddings.json"))
	require.NoError(t, err)
	return NewIndex(embedder, cache, zap.NewNop())
}

func TestEncode_CacheHitDeterminism(t *testing.T) {
	embedder := &countingEmbedder{Vectors: map[string][]float32{"apple": {0.1, 0.2, 0.3}}}
	index := newTestIndex(t, embedder)

	first, err := index.Encode(context.Background(), "apple")
	require.NoError(t, err)
	second, err := index.Encode(context.Background(), "apple")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, embedder.Calls, "second call must be served from cache")
}

func TestEncode_NoNormalization(t *testing.T) {
	embedder := &countingEmbedder{}
	index := newTestIndex(t, embedder)

	_, err := index.Encode(context.Background(), "apple")
	require.NoError(t, err)
	_, err = index.Encode(context.Background(), "Apple ")
	require.NoError(t, err)

	assert.Equal(t, 2, embedder.Calls, "raw text is the cache key")
}

func TestCache_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")

	cache, err := NewCache(path)
	require.NoError(t, err)
	embedder := &countingEmbedder{Vectors: map[string][]float32{"apple": {0.5, 0.5}}}
	index := NewIndex(embedder, cache, zap.NewNop())
	_, err = index.Encode(context.Background(), "apple")
	require.NoError(t, err)

	reloaded, err := NewCache(path)
	require.NoError(t, err)
	vec, ok := reloaded.Get("apple")
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestUpdateEmbedding_InvalidatesOldEntry(t *testing.T) {
	embedder := &countingEmbedder{}
	index := newTestIndex(t, embedder)

	_, err := index.Encode(context.Background(), "old text")
	require.NoError(t, err)
	_, err = index.UpdateEmbedding(context.Background(), "old text", "new text")
	require.NoError(t, err)

	_, ok := index.cache.Get("old text")
	assert.False(t, ok)
	_, ok = index.cache.Get("new text")
	assert.True(t, ok)
}

func TestBatchEncode_OnlyComputesMisses(t *testing.T) {
	embedder := &countingEmbedder{}
	index := newTestIndex(t, embedder)

	_, err := index.Encode(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, 1, embedder.Calls)

	vecs, err := index.BatchEncode(context.Background(), []string{"a", "b", "c", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 4)
	assert.Equal(t, 3, embedder.Calls, "one call each for b and c")
}

func TestFindMostSimilar_CosineDescending(t *testing.T) {
	index := newTestIndex(t, &countingEmbedder{})
	query := []float32{1, 0}
	candidates := [][]float32{
		{0, 1},     // orthogonal
		{1, 0},     // identical
		{0.7, 0.7}, // close
		{-1, 0},    // opposite
	}

	matches, err := index.FindMostSimilar(query, candidates, 4, MetricCosine)
	require.NoError(t, err)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, 1, matches[0].Index)
}

func TestFindMostSimilar_EuclideanAscending(t *testing.T) {
	index := newTestIndex(t, &countingEmbedder{})
	query := []float32{0, 0}
	candidates := [][]float32{{3, 4}, {1, 0}, {0, 2}}

	matches, err := index.FindMostSimilar(query, candidates, 3, MetricEuclidean)
	require.NoError(t, err)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, 1, matches[0].Index)
	assert.Equal(t, 0, matches[2].Index)
}

func TestFindMostSimilar_UnknownMetric(t *testing.T) {
	index := newTestIndex(t, &countingEmbedder{})
	_, err := index.FindMostSimilar([]float32{1}, [][]float32{{1}}, 1, Metric("manhattan"))
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestFlatIndex_SnapshotIsImmutable(t *testing.T) {
	index := newTestIndex(t, &countingEmbedder{})
	vectors := [][]float32{{1, 0}, {0, 1}}
	index.BuildIndex(vectors)

	// Mutating the source after the build must not affect the snapshot.
	vectors[0][0] = 0
	vectors[0][1] = 1

	matches, err := index.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, matches[0].Index)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestSearch_BeforeBuildFails(t *testing.T) {
	index := newTestIndex(t, &countingEmbedder{})
	_, err := index.Search([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
