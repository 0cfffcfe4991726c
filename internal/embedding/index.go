package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mnemolab/recall/internal/llm"
)

// Metric selects how vectors are compared.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

var ErrUnsupportedMetric = errors.New("unsupported similarity metric")

// Match pairs a candidate index with its similarity (cosine, higher is
// better) or distance (euclidean, lower is better).
type Match struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Index computes and caches text embeddings and ranks vectors by
// similarity. The persistent cache is owned by the caller and injected.
type Index struct {
	embedder llm.EmbedderClient
	cache    *Cache
	logger   *zap.Logger

	// group collapses concurrent encodes of the same text into one
	// embedding computation.
	group singleflight.Group

	mu   sync.Mutex
	flat *FlatIndex
}

func NewIndex(embedder llm.EmbedderClient, cache *Cache, logger *zap.Logger) *Index {
	return &Index{embedder: embedder, cache: cache, logger: logger}
}

// Encode returns the embedding for text, cache-first. A miss computes via
// the external model, persists the cache synchronously, and returns.
func (ix *Index) Encode(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := ix.cache.Get(text); ok {
		return vec, nil
	}

	result, err, _ := ix.group.Do(text, func() (any, error) {
		if vec, ok := ix.cache.Get(text); ok {
			return vec, nil
		}
		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text: %w", err)
		}
		if err := ix.cache.Put(text, vec); err != nil {
			return nil, err
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// BatchEncode encodes several texts, computing only the misses and
// persisting them with a single cache write.
func (ix *Index) BatchEncode(ctx context.Context, texts []string) ([][]float32, error) {
	fresh := make(map[string][]float32)
	for _, text := range texts {
		if _, ok := ix.cache.Get(text); ok {
			continue
		}
		if _, ok := fresh[text]; ok {
			continue
		}
		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text: %w", err)
		}
		fresh[text] = vec
	}
	if len(fresh) > 0 {
		if err := ix.cache.PutAll(fresh); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, _ := ix.cache.Get(text)
		out[i] = vec
	}
	return out, nil
}

// UpdateEmbedding invalidates the old cache entry and computes the
// embedding for the replacement text.
func (ix *Index) UpdateEmbedding(ctx context.Context, oldText, newText string) ([]float32, error) {
	if err := ix.cache.Invalidate(oldText); err != nil {
		return nil, err
	}
	return ix.Encode(ctx, newText)
}

// Similarity compares two vectors under the given metric.
func (ix *Index) Similarity(a, b []float32, metric Metric) (float64, error) {
	switch metric {
	case MetricCosine:
		return CosineSimilarity(a, b), nil
	case MetricEuclidean:
		return EuclideanDistance(a, b), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMetric, metric)
	}
}

// FindMostSimilar ranks candidates against the query vector: cosine
// descending by similarity, euclidean ascending by distance. Ties break on
// the lower candidate index.
func (ix *Index) FindMostSimilar(query []float32, candidates [][]float32, k int, metric Metric) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for i, candidate := range candidates {
		score, err := ix.Similarity(query, candidate, metric)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Index: i, Score: score})
	}

	ascending := metric == MetricEuclidean
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			if ascending {
				return matches[a].Score < matches[b].Score
			}
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Index < matches[b].Index
	})

	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// BuildIndex snapshots the vectors into a fresh flat index, replacing any
// previous one. The snapshot is stale the instant an underlying vector
// changes; callers rebuild explicitly.
func (ix *Index) BuildIndex(vectors [][]float32) {
	flat := BuildFlatIndex(vectors)
	ix.mu.Lock()
	ix.flat = flat
	ix.mu.Unlock()
	ix.logger.Debug("built similarity index", zap.Int("vectors", flat.Len()))
}

// Search queries the snapshot index.
func (ix *Index) Search(query []float32, k int) ([]Match, error) {
	ix.mu.Lock()
	flat := ix.flat
	ix.mu.Unlock()
	if flat == nil {
		return nil, ErrIndexNotBuilt
	}
	return flat.Search(query, k), nil
}

// CosineSimilarity is zero when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func EuclideanDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
