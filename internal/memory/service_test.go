package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/vecstore"
)

// stubEmbedder returns canned vectors per input and a fallback for the rest.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *stubEmbedder) Dimensions() int   { return 3 }
func (e *stubEmbedder) ModelName() string { return "stub-embed" }

const testCollection = "memories_stub_embed_3"

func newTestService(t *testing.T, embedder *stubEmbedder) (*Service, *vecstore.MemStore) {
	t.Helper()
	store := vecstore.NewMemStore()
	if embedder == nil {
		embedder = &stubEmbedder{}
	}
	return NewService(store, embedder, testCollection, nil, 0), store
}

func TestRememberAndRecall(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"user prefers dark mode": {1, 0, 0},
		"deploy script location": {0, 1, 0},
		"what theme?":            {0.9, 0.1, 0},
	}}
	svc, _ := newTestService(t, embedder)
	ctx := context.Background()

	svc.Remember(ctx, "s1", "user prefers dark mode", TypeSemantic, 0.9, "")
	svc.Remember(ctx, "s1", "deploy script location", TypeProcedural, 0.7, "")

	records := svc.Recall(ctx, "what theme?", 10, "")
	require.Len(t, records, 2)
	assert.Equal(t, "user prefers dark mode", records[0].Content)
	assert.Equal(t, TypeSemantic, records[0].MemoryType)
	assert.Greater(t, records[0].Score, records[1].Score)
	assert.NotZero(t, records[0].CreateTimeMs)
}

func TestRecallMinScoreThreshold(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"relevant fact": {1, 0, 0},
		"other fact":    {0, 1, 0},
		"query":         {1, 0, 0},
	}}
	store := vecstore.NewMemStore()
	svc := NewService(store, embedder, testCollection, nil, 0.5)
	ctx := context.Background()

	svc.Remember(ctx, "s1", "relevant fact", TypeSemantic, 0.9, "")
	svc.Remember(ctx, "s1", "other fact", TypeSemantic, 0.9, "")

	records := svc.Recall(ctx, "query", 10, "")
	require.Len(t, records, 1)
	assert.Equal(t, "relevant fact", records[0].Content)
}

func TestRecallFromSession(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"fact a": {1, 0, 0},
		"fact b": {1, 0, 0},
		"query":  {1, 0, 0},
	}}
	svc, _ := newTestService(t, embedder)
	ctx := context.Background()

	svc.Remember(ctx, "s1", "fact a", TypeSemantic, 0.9, "")
	svc.Remember(ctx, "s2", "fact b", TypeSemantic, 0.9, "")

	records := svc.RecallFromSession(ctx, "query", "s2", 10, "")
	require.Len(t, records, 1)
	assert.Equal(t, "fact b", records[0].Content)
}

func TestSearchAppliesNoThreshold(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"far away": {0, 1, 0},
		"query":    {1, 0, 0},
	}}
	store := vecstore.NewMemStore()
	svc := NewService(store, embedder, testCollection, nil, 0.5)
	ctx := context.Background()

	svc.Remember(ctx, "s1", "far away", TypeSemantic, 0.9, "")

	assert.Empty(t, svc.Recall(ctx, "query", 10, ""), "recall thresholds low scores")
	results := svc.Search(ctx, "query", 10, "")
	require.Len(t, results, 1, "search returns all ranked hits")
}

func TestOpHookCountsOperations(t *testing.T) {
	svc, _ := newTestService(t, nil)
	counts := map[string]int{}
	svc.SetOpHook(func(operation string) { counts[operation]++ })
	ctx := context.Background()

	svc.Remember(ctx, "s1", "user prefers dark mode", TypeSemantic, 0.9, "")
	svc.Recall(ctx, "theme", 5, "")
	svc.Search(ctx, "theme", 5, "")
	require.NoError(t, svc.DeleteBySession(ctx, "s1", ""))

	assert.Equal(t, map[string]int{"remember": 1, "recall": 1, "search": 1, "delete": 1}, counts)
}

func TestFormatForPrompt(t *testing.T) {
	svc, _ := newTestService(t, nil)

	assert.Empty(t, svc.FormatForPrompt(nil))

	out := svc.FormatForPrompt([]Record{
		{MemoryType: TypeSemantic, Content: "user prefers dark mode", Score: 0.91},
		{MemoryType: TypeEpisodic, Content: "deploy succeeded", Score: 0.5},
	})
	assert.Equal(t, "## Relevant memories from past experience:\n"+
		"- [SEMANTIC] user prefers dark mode (relevance: 0.91)\n"+
		"- [EPISODIC] deploy succeeded (relevance: 0.50)\n", out)
}

func seedRows(t *testing.T, store *vecstore.MemStore, rows []vecstore.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3))
	_, err := store.Insert(ctx, testCollection, rows)
	require.NoError(t, err)
}

func TestListSortsNewestFirstAndPages(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedRows(t, store, []vecstore.Record{
		{SessionID: "s1", Content: "oldest", MemoryType: "SEMANTIC", CreateTimeMs: 100, Embedding: []float32{1, 0, 0}},
		{SessionID: "s1", Content: "newest", MemoryType: "SEMANTIC", CreateTimeMs: 300, Embedding: []float32{1, 0, 0}},
		{SessionID: "s1", Content: "middle", MemoryType: "EPISODIC", CreateTimeMs: 200, Embedding: []float32{1, 0, 0}},
	})

	ctx := context.Background()
	records := svc.List(ctx, ListFilter{Limit: 2}, "")
	require.Len(t, records, 2)
	assert.Equal(t, "newest", records[0].Content)
	assert.Equal(t, "middle", records[1].Content)

	records = svc.List(ctx, ListFilter{Offset: 2, Limit: 2}, "")
	require.Len(t, records, 1)
	assert.Equal(t, "oldest", records[0].Content)
}

func TestListFilters(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedRows(t, store, []vecstore.Record{
		{SessionID: "s1", Content: "dark mode preference", MemoryType: "SEMANTIC", CreateTimeMs: 100, Embedding: []float32{1, 0, 0}},
		{SessionID: "s2", Content: "deploy ran", MemoryType: "EPISODIC", CreateTimeMs: 200, Embedding: []float32{1, 0, 0}},
	})
	ctx := context.Background()

	records := svc.List(ctx, ListFilter{Type: TypeEpisodic, Limit: 10}, "")
	require.Len(t, records, 1)
	assert.Equal(t, "deploy ran", records[0].Content)

	records = svc.List(ctx, ListFilter{SessionID: "s1", Limit: 10}, "")
	require.Len(t, records, 1)

	records = svc.List(ctx, ListFilter{Keyword: "mode", Limit: 10}, "")
	require.Len(t, records, 1)
	assert.Equal(t, "dark mode preference", records[0].Content)
}

func TestCountWithFilters(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedRows(t, store, []vecstore.Record{
		{SessionID: "s1", MemoryType: "SEMANTIC", Content: "a", Embedding: []float32{1, 0, 0}},
		{SessionID: "s1", MemoryType: "EPISODIC", Content: "b", Embedding: []float32{1, 0, 0}},
		{SessionID: "s2", MemoryType: "SEMANTIC", Content: "c", Embedding: []float32{1, 0, 0}},
	})
	ctx := context.Background()

	assert.Equal(t, int64(3), svc.Count(ctx, "", "", ""))
	assert.Equal(t, int64(2), svc.Count(ctx, TypeSemantic, "", ""))
	assert.Equal(t, int64(1), svc.Count(ctx, TypeSemantic, "s1", ""))
}

func TestDeletes(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedRows(t, store, []vecstore.Record{
		{SessionID: "s1", MemoryType: "SEMANTIC", Content: "a", Embedding: []float32{1, 0, 0}},
		{SessionID: "s1", MemoryType: "EPISODIC", Content: "b", Embedding: []float32{1, 0, 0}},
		{SessionID: "s2", MemoryType: "EPISODIC", Content: "c", Embedding: []float32{1, 0, 0}},
	})
	ctx := context.Background()

	require.NoError(t, svc.DeleteBySession(ctx, "s1", ""))
	assert.Equal(t, int64(1), svc.Count(ctx, "", "", ""))

	require.NoError(t, svc.DeleteByType(ctx, TypeEpisodic, ""))
	assert.Zero(t, svc.Count(ctx, "", "", ""))
}

func TestRememberTruncatesContent(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	svc.Remember(ctx, "s1", strings.Repeat("x", 5000), TypeSemantic, 0.5, "")

	rows, err := store.Query(ctx, testCollection, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Content, maxStoredContentChars)
}

func TestUnavailableStoreDegrades(t *testing.T) {
	svc := NewService(nil, &stubEmbedder{}, testCollection, nil, 0)
	ctx := context.Background()

	svc.Remember(ctx, "s1", "fact", TypeSemantic, 0.5, "")
	assert.Empty(t, svc.Recall(ctx, "query", 10, ""))
	assert.Empty(t, svc.List(ctx, ListFilter{Limit: 10}, ""))
	assert.Zero(t, svc.Count(ctx, "", "", ""))
	assert.NoError(t, svc.DeleteBySession(ctx, "s1", ""))
}

func TestParseType(t *testing.T) {
	assert.Equal(t, TypeEpisodic, ParseType("episodic"))
	assert.Equal(t, TypeProcedural, ParseType(" PROCEDURAL "))
	assert.Equal(t, TypeSemantic, ParseType("semantic"))
	assert.Equal(t, TypeSemantic, ParseType("unknown"))
	assert.Equal(t, TypeSemantic, ParseType(""))
}
