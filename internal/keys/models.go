package keys

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// KeyType classifies what a stored credential is used for.
type KeyType string

const (
	KeyTypeLLM       KeyType = "llm"
	KeyTypeEmbedding KeyType = "embedding"
	KeyTypeVectorDB  KeyType = "vector_db"
	KeyTypeOther     KeyType = "other"
)

// Valid reports whether t is a known key type.
func (t KeyType) Valid() bool {
	switch t {
	case KeyTypeLLM, KeyTypeEmbedding, KeyTypeVectorDB, KeyTypeOther:
		return true
	}
	return false
}

// APIKey is a user-scoped provider credential. BaseURL and Model are
// optional overrides; when blank the provider defaults apply.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	KeyType   KeyType   `json:"keyType"`
	APIKey    string    `json:"apiKey"`
	BaseURL   string    `json:"baseUrl,omitempty"`
	Model     string    `json:"model,omitempty"`
	IsDefault bool      `json:"isDefault"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EmbeddingModel is a user-scoped embedding endpoint. Each one owns a
// dedicated vector collection derived from its model name and dimension.
type EmbeddingModel struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Provider       string    `json:"provider"`
	BaseURL        string    `json:"baseUrl"`
	APIKey         string    `json:"apiKey,omitempty"`
	ModelName      string    `json:"modelName"`
	Dimension      int       `json:"dimension"`
	MaxTokens      int       `json:"maxTokens"`
	CollectionName string    `json:"collectionName"`
	IsDefault      bool      `json:"isDefault"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

var collectionSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveCollectionName maps a model name and dimension to the vector
// collection holding its memories. Different models or dimensions never
// share a collection.
func DeriveCollectionName(modelName string, dimension int) string {
	sanitized := collectionSanitizer.ReplaceAllString(strings.ToLower(modelName), "_")
	sanitized = strings.Trim(sanitized, "_")
	return fmt.Sprintf("memories_%s_%d", sanitized, dimension)
}

// ToolIndexCollectionName maps a dimension to the shared tool index
// collection for that embedding space.
func ToolIndexCollectionName(dimension int) string {
	return fmt.Sprintf("agent_tools_index_%d", dimension)
}
