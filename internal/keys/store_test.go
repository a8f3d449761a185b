package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateKeyValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateKey(&APIKey{Provider: "openai", APIKey: "sk-x"})
	assert.True(t, errors.IsKind(err, errors.KindValidation), "missing userId")

	_, err = s.CreateKey(&APIKey{UserID: "u1", APIKey: "sk-x"})
	assert.True(t, errors.IsKind(err, errors.KindValidation), "missing provider")

	_, err = s.CreateKey(&APIKey{UserID: "u1", Provider: "openai"})
	assert.True(t, errors.IsKind(err, errors.KindValidation), "missing apiKey")

	_, err = s.CreateKey(&APIKey{UserID: "u1", Provider: "openai", APIKey: "sk-x", KeyType: "bogus"})
	assert.True(t, errors.IsKind(err, errors.KindValidation), "unknown key type")
}

func TestAtMostOneDefaultPerScope(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "openai", KeyType: KeyTypeLLM, APIKey: "sk-1", IsDefault: true})
	require.NoError(t, err)
	second, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "openai", KeyType: KeyTypeLLM, APIKey: "sk-2", IsDefault: true})
	require.NoError(t, err)

	// A default in another scope must not be touched.
	other, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "deepseek", KeyType: KeyTypeLLM, APIKey: "sk-3", IsDefault: true})
	require.NoError(t, err)

	defaults := 0
	for _, k := range s.ListKeys("u1") {
		if k.Provider == "openai" && k.IsDefault {
			defaults++
			assert.Equal(t, second.ID, k.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	got, err := s.GetKey(other.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	// Promoting the first demotes the second.
	_, err = s.SetDefaultKey(first.ID)
	require.NoError(t, err)
	got, err = s.GetKey(second.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestListKeysDefaultFirst(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "openai", APIKey: "sk-1"})
	require.NoError(t, err)
	def, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "deepseek", APIKey: "sk-2", IsDefault: true})
	require.NoError(t, err)
	_, err = s.CreateKey(&APIKey{UserID: "u2", Provider: "openai", APIKey: "sk-3"})
	require.NoError(t, err)

	list := s.ListKeys("u1")
	require.Len(t, list, 2)
	assert.Equal(t, def.ID, list[0].ID)
}

func TestDeleteKeyIdempotent(t *testing.T) {
	s := newTestStore(t)

	k, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "openai", APIKey: "sk-1"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteKey(k.ID))
	require.NoError(t, s.DeleteKey(k.ID))

	_, err = s.GetKey(k.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	k, err := s.CreateKey(&APIKey{UserID: "u1", Provider: "openai", APIKey: "sk-1", IsDefault: true})
	require.NoError(t, err)
	_, err = s.CreateEmbeddingModel(&EmbeddingModel{
		UserID: "u1", Provider: "ollama", BaseURL: "http://localhost:11434/v1",
		ModelName: "nomic-embed-text", Dimension: 768, IsDefault: true,
	})
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)

	got, err := reopened.GetKey(k.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-1", got.APIKey)
	assert.True(t, got.IsDefault)

	models := reopened.ListEmbeddingModels("u1")
	require.Len(t, models, 1)
	assert.Equal(t, "memories_nomic_embed_text_768", models[0].CollectionName)
}

func TestDeriveCollectionName(t *testing.T) {
	assert.Equal(t, "memories_text_embedding_3_small_1536", DeriveCollectionName("text-embedding-3-small", 1536))
	assert.Equal(t, "memories_bge_m3_1024", DeriveCollectionName("BGE/M3", 1024))
	assert.Equal(t, "memories_nomic_embed_text_768", DeriveCollectionName("  nomic.embed.text  ", 768))
	assert.Equal(t, "agent_tools_index_1536", ToolIndexCollectionName(1536))
}
