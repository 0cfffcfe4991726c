package embedding

import (
	"errors"
	"sort"
)

// ErrIndexNotBuilt is returned by Search before BuildIndex has run.
var ErrIndexNotBuilt = errors.New("similarity index not built")

// FlatIndex is a point-in-time inner-product index over a snapshot of
// vectors. It is immutable once built: any change to the underlying
// vectors leaves it stale, and there is no staleness detection. Callers
// rebuild explicitly.
type FlatIndex struct {
	vectors [][]float32
	dim     int
}

// BuildFlatIndex copies the vectors into a new snapshot index.
func BuildFlatIndex(vectors [][]float32) *FlatIndex {
	snapshot := make([][]float32, len(vectors))
	for i, v := range vectors {
		vec := make([]float32, len(v))
		copy(vec, v)
		snapshot[i] = vec
	}

	dim := 0
	if len(snapshot) > 0 {
		dim = len(snapshot[0])
	}
	return &FlatIndex{vectors: snapshot, dim: dim}
}

func (ix *FlatIndex) Len() int { return len(ix.vectors) }

// Search returns the k entries with the highest inner product against the
// query, best first. Ties break on the lower index for determinism.
func (ix *FlatIndex) Search(query []float32, k int) []Match {
	matches := make([]Match, 0, len(ix.vectors))
	for i, vec := range ix.vectors {
		matches = append(matches, Match{Index: i, Score: float64(dot(query, vec))})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Index < matches[b].Index
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
