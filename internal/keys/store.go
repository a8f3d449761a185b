package keys

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"strix/internal/errors"
	"strix/internal/logging"
)

const (
	keysFile            = "api_keys.json"
	embeddingModelsFile = "embedding_models.json"
)

// Store persists user API keys and embedding model configurations as JSON
// files under a directory. Reads are served from memory; every mutation
// rewrites the affected file.
type Store struct {
	dir    string
	logger logging.Logger

	mu         sync.RWMutex
	keys       map[string]*APIKey
	embeddings map[string]*EmbeddingModel
}

// NewStore opens (or initializes) a key store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "create key store directory")
	}

	s := &Store{
		dir:        dir,
		logger:     logging.NewComponentLogger("key-store"),
		keys:       make(map[string]*APIKey),
		embeddings: make(map[string]*EmbeddingModel),
	}

	var keyList []*APIKey
	if err := readJSONList(filepath.Join(dir, keysFile), &keyList); err != nil {
		return nil, err
	}
	for _, k := range keyList {
		s.keys[k.ID] = k
	}

	var embList []*EmbeddingModel
	if err := readJSONList(filepath.Join(dir, embeddingModelsFile), &embList); err != nil {
		return nil, err
	}
	for _, m := range embList {
		s.embeddings[m.ID] = m
	}

	s.logger.Debug("Loaded %d api keys, %d embedding models from %s", len(s.keys), len(s.embeddings), dir)
	return s, nil
}

func readJSONList(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.KindInternal, err, "read "+filepath.Base(path))
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return errors.Wrap(errors.KindInternal, err, "parse "+filepath.Base(path))
	}
	return nil
}

func writeJSONList(path string, list any) error {
	encoded, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode "+filepath.Base(path))
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o600); err != nil {
		return errors.Wrap(errors.KindInternal, err, "write "+filepath.Base(path))
	}
	return nil
}

// persistKeys must be called with s.mu held.
func (s *Store) persistKeys() error {
	list := make([]*APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return writeJSONList(filepath.Join(s.dir, keysFile), list)
}

// persistEmbeddings must be called with s.mu held.
func (s *Store) persistEmbeddings() error {
	list := make([]*EmbeddingModel, 0, len(s.embeddings))
	for _, m := range s.embeddings {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return writeJSONList(filepath.Join(s.dir, embeddingModelsFile), list)
}

// CreateKey stores a new credential. When the key is marked default, any
// existing default for the same user, provider and key type is demoted so
// that at most one default exists per (user, provider, type).
func (s *Store) CreateKey(key *APIKey) (*APIKey, error) {
	if key.UserID == "" {
		return nil, errors.New(errors.KindValidation, "userId is required")
	}
	if key.Provider == "" {
		return nil, errors.New(errors.KindValidation, "provider is required")
	}
	if key.APIKey == "" {
		return nil, errors.New(errors.KindValidation, "apiKey is required")
	}
	if key.KeyType == "" {
		key.KeyType = KeyTypeLLM
	}
	if !key.KeyType.Valid() {
		return nil, errors.New(errors.KindValidation, "unknown key type: "+string(key.KeyType))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := *key
	stored.ID = uuid.NewString()
	stored.Provider = strings.ToLower(stored.Provider)
	stored.IsActive = true
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if stored.IsDefault {
		s.demoteDefaults(stored.UserID, stored.Provider, stored.KeyType, "")
	}
	s.keys[stored.ID] = &stored

	if err := s.persistKeys(); err != nil {
		delete(s.keys, stored.ID)
		return nil, err
	}
	s.logger.Info("Created %s key for user=%s provider=%s default=%v", stored.KeyType, stored.UserID, stored.Provider, stored.IsDefault)
	return &stored, nil
}

// demoteDefaults must be called with s.mu held.
func (s *Store) demoteDefaults(userID, provider string, keyType KeyType, exceptID string) {
	for _, k := range s.keys {
		if k.ID != exceptID && k.UserID == userID && k.Provider == provider && k.KeyType == keyType && k.IsDefault {
			k.IsDefault = false
			k.UpdatedAt = time.Now()
		}
	}
}

// GetKey returns a key by id.
func (s *Store) GetKey(id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "api key not found: "+id)
	}
	copied := *k
	return &copied, nil
}

// ListKeys returns all keys for a user, defaults first then newest first.
func (s *Store) ListKeys(userID string) []*APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			copied := *k
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SetDefaultKey marks a key as the default for its (user, provider, type)
// scope and demotes any previous default in that scope.
func (s *Store) SetDefaultKey(id string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "api key not found: "+id)
	}
	s.demoteDefaults(k.UserID, k.Provider, k.KeyType, k.ID)
	k.IsDefault = true
	k.UpdatedAt = time.Now()

	if err := s.persistKeys(); err != nil {
		return nil, err
	}
	copied := *k
	return &copied, nil
}

// UpdateKey applies mutable fields of in to the stored key with the same id.
func (s *Store) UpdateKey(in *APIKey) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[in.ID]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "api key not found: "+in.ID)
	}
	if in.APIKey != "" {
		k.APIKey = in.APIKey
	}
	k.BaseURL = in.BaseURL
	k.Model = in.Model
	k.IsActive = in.IsActive
	if in.IsDefault && !k.IsDefault {
		s.demoteDefaults(k.UserID, k.Provider, k.KeyType, k.ID)
		k.IsDefault = true
	} else if !in.IsDefault {
		k.IsDefault = false
	}
	k.UpdatedAt = time.Now()

	if err := s.persistKeys(); err != nil {
		return nil, err
	}
	copied := *k
	return &copied, nil
}

// DeleteKey removes a key. Deleting an unknown id is not an error.
func (s *Store) DeleteKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return nil
	}
	delete(s.keys, id)
	return s.persistKeys()
}

// CreateEmbeddingModel stores a user embedding endpoint. The collection name
// is always derived from the model name and dimension.
func (s *Store) CreateEmbeddingModel(m *EmbeddingModel) (*EmbeddingModel, error) {
	if m.UserID == "" {
		return nil, errors.New(errors.KindValidation, "userId is required")
	}
	if m.BaseURL == "" {
		return nil, errors.New(errors.KindValidation, "baseUrl is required")
	}
	if m.ModelName == "" {
		return nil, errors.New(errors.KindValidation, "modelName is required")
	}
	if m.Dimension <= 0 {
		return nil, errors.New(errors.KindValidation, "dimension must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := *m
	stored.ID = uuid.NewString()
	stored.Provider = strings.ToLower(stored.Provider)
	stored.CollectionName = DeriveCollectionName(stored.ModelName, stored.Dimension)
	stored.IsActive = true
	if stored.MaxTokens <= 0 {
		stored.MaxTokens = 8192
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if stored.IsDefault {
		s.demoteDefaultEmbeddings(stored.UserID, "")
	}
	s.embeddings[stored.ID] = &stored

	if err := s.persistEmbeddings(); err != nil {
		delete(s.embeddings, stored.ID)
		return nil, err
	}
	s.logger.Info("Created embedding model for user=%s model=%s dim=%d collection=%s",
		stored.UserID, stored.ModelName, stored.Dimension, stored.CollectionName)
	return &stored, nil
}

// demoteDefaultEmbeddings must be called with s.mu held.
func (s *Store) demoteDefaultEmbeddings(userID, exceptID string) {
	for _, m := range s.embeddings {
		if m.ID != exceptID && m.UserID == userID && m.IsDefault {
			m.IsDefault = false
			m.UpdatedAt = time.Now()
		}
	}
}

// ListEmbeddingModels returns all embedding models for a user, defaults first.
func (s *Store) ListEmbeddingModels(userID string) []*EmbeddingModel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EmbeddingModel
	for _, m := range s.embeddings {
		if m.UserID == userID {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SetDefaultEmbeddingModel marks one model as the user's default.
func (s *Store) SetDefaultEmbeddingModel(id string) (*EmbeddingModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.embeddings[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "embedding model not found: "+id)
	}
	s.demoteDefaultEmbeddings(m.UserID, m.ID)
	m.IsDefault = true
	m.UpdatedAt = time.Now()

	if err := s.persistEmbeddings(); err != nil {
		return nil, err
	}
	copied := *m
	return &copied, nil
}

// DeleteEmbeddingModel removes a model. Deleting an unknown id is not an error.
func (s *Store) DeleteEmbeddingModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.embeddings[id]; !ok {
		return nil
	}
	delete(s.embeddings, id)
	return s.persistEmbeddings()
}
