package catalog

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0, 2}, []float32{1, 0, 2}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-9)

	assert.True(t, math.IsNaN(cosineSimilarity([]float32{0, 0}, []float32{1, 1})))
	assert.True(t, math.IsNaN(cosineSimilarity([]float32{1}, []float32{1, 2})))
	assert.True(t, math.IsNaN(cosineSimilarity(nil, nil)))
}

func TestSimilar_RanksByCosine(t *testing.T) {
	st := newMockStore()
	st.candidates = []model.CatalogEntry{
		{ProductID: "far", Embedding: []float32{0, 1, 0}},
		{ProductID: "near", Embedding: []float32{1, 0.1, 0}},
		{ProductID: "exact", Embedding: []float32{1, 0, 0}},
		{ProductID: "no-vector"},
	}
	m := NewSimilarityMatcher(st, 30, 100)

	got := m.Similar(context.Background(), model.CatalogEntry{ProductID: "q", Category: "footwear"}, []float32{1, 0, 0})
	require.Len(t, got, 3)
	assert.Equal(t, "exact", got[0].ProductID)
	assert.Equal(t, "near", got[1].ProductID)
	assert.Equal(t, "far", got[2].ProductID)
}

func TestSimilar_CapsAtK(t *testing.T) {
	st := newMockStore()
	for i := 0; i < 50; i++ {
		st.candidates = append(st.candidates, model.CatalogEntry{
			ProductID: "c", Embedding: []float32{1, float32(i)},
		})
	}
	m := NewSimilarityMatcher(st, 30, 100)

	got := m.Similar(context.Background(), model.CatalogEntry{}, []float32{1, 0})
	assert.Len(t, got, 30)
}

func TestSimilar_KeywordFallbackWithoutEmbedding(t *testing.T) {
	st := newMockStore()
	st.candidates = []model.CatalogEntry{{ProductID: "vector-only", Embedding: []float32{1}}}
	st.keyword = []model.CatalogEntry{{ProductID: "kw-1"}, {ProductID: "kw-2"}}
	m := NewSimilarityMatcher(st, 30, 100)

	got := m.Similar(context.Background(), model.CatalogEntry{Name: "boot"}, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "kw-1", got[0].ProductID)
}

func TestSimilar_EmptyCandidatesFallsBackToKeyword(t *testing.T) {
	st := newMockStore()
	st.keyword = []model.CatalogEntry{{ProductID: "kw"}}
	m := NewSimilarityMatcher(st, 30, 100)

	got := m.Similar(context.Background(), model.CatalogEntry{Name: "boot"}, []float32{1, 0})
	require.Len(t, got, 1)
	assert.Equal(t, "kw", got[0].ProductID)
}

func TestSimilar_EmptyOnTotalMiss(t *testing.T) {
	st := newMockStore()
	m := NewSimilarityMatcher(st, 30, 100)

	got := m.Similar(context.Background(), model.CatalogEntry{Name: "boot"}, nil)
	assert.Empty(t, got)
}
