package vecstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/errors"
)

func seedStore(t *testing.T) *MemStore {
	t.Helper()
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "memories_test_3", 3))

	records := []Record{
		{SessionID: "s1", Content: "prefers dark mode", MemoryType: "SEMANTIC", Importance: 0.9, CreateTimeMs: 100, Embedding: []float32{1, 0, 0}},
		{SessionID: "s1", Content: "ran deploy script", MemoryType: "EPISODIC", Importance: 0.6, CreateTimeMs: 200, Embedding: []float32{0, 1, 0}},
		{SessionID: "s2", Content: "likes terse answers", MemoryType: "SEMANTIC", Importance: 0.8, CreateTimeMs: 300, Embedding: []float32{0.7, 0.7, 0}},
	}
	_, err := s.Insert(ctx, "memories_test_3", records)
	require.NoError(t, err)
	return s
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "c", 3))
	require.NoError(t, s.EnsureCollection(ctx, "c", 3))

	err := s.EnsureCollection(ctx, "c", 4)
	assert.True(t, errors.IsKind(err, errors.KindValidation), "dimension mismatch must be rejected")
}

func TestInsertAssignsIDs(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "c", 2))

	ids, err := s.Insert(ctx, "c", []Record{
		{SessionID: "s1", Content: "a", Embedding: []float32{1, 0}},
		{SessionID: "s1", Content: "b", Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	_, err = s.Insert(ctx, "c", []Record{{Content: "bad", Embedding: []float32{1, 2, 3}}})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	s := seedStore(t)
	hits, err := s.Search(context.Background(), "memories_test_3", []float32{1, 0, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "prefers dark mode", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "likes terse answers", hits[1].Content)
	assert.Equal(t, "ran deploy script", hits[2].Content)
}

func TestSearchTopKAndFilter(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	hits, err := s.Search(ctx, "memories_test_3", []float32{1, 0, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = s.Search(ctx, "memories_test_3", []float32{1, 0, 0}, 10, `session_id == "s1"`)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "s1", h.SessionID)
	}

	hits, err = s.Search(ctx, "memories_test_3", []float32{1, 0, 0}, 10,
		`session_id == "s1" and memory_type == "SEMANTIC"`)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "prefers dark mode", hits[0].Content)
}

func TestQueryPagingAndEmbeddingOmitted(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	records, err := s.Query(ctx, "memories_test_3", "", 0, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Nil(t, records[0].Embedding)

	records, err = s.Query(ctx, "memories_test_3", "", 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = s.Query(ctx, "memories_test_3", "", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryLikeFilter(t *testing.T) {
	s := seedStore(t)
	records, err := s.Query(context.Background(), "memories_test_3", `content like "%deploy%"`, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ran deploy script", records[0].Content)
}

func TestDeleteByFilterAndIDs(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "memories_test_3", `session_id == "s1"`))
	n, err := s.Count(ctx, "memories_test_3", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := s.Query(ctx, "memories_test_3", "", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, s.DeleteByIDs(ctx, "memories_test_3", []int64{records[0].ID}))

	n, err = s.Count(ctx, "memories_test_3", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountWithFilter(t *testing.T) {
	s := seedStore(t)
	n, err := s.Count(context.Background(), "memories_test_3", `memory_type == "SEMANTIC"`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUnknownCollection(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.Insert(ctx, "nope", []Record{{Embedding: []float32{1}}})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, err = s.Search(ctx, "nope", []float32{1}, 5, "")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestBadFilterRejected(t *testing.T) {
	s := seedStore(t)
	_, err := s.Search(context.Background(), "memories_test_3", []float32{1, 0, 0}, 5, `importance > 0.5`)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}
