package keys

import (
	"strings"

	"strix/internal/config"
	"strix/internal/logging"
)

// Resolver turns stored user credentials into ready-to-use provider and
// embedding configurations, applying per-provider defaults for whatever the
// user left blank.
type Resolver struct {
	store  *Store
	logger logging.Logger
}

// NewResolver builds a resolver over a key store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store, logger: logging.NewComponentLogger("key-resolver")}
}

// ResolveLLM finds the user's LLM credential, preferring the key marked
// default across providers, then any active key. Returns false when the
// user has no active LLM key.
func (r *Resolver) ResolveLLM(userID string) (config.ProviderConfig, bool) {
	for _, k := range r.store.ListKeys(userID) {
		if k.KeyType == KeyTypeLLM && k.IsActive {
			r.logger.Debug("Resolved LLM key for user=%s provider=%s default=%v", userID, k.Provider, k.IsDefault)
			return toProviderConfig(k), true
		}
	}
	return config.ProviderConfig{}, false
}

// ResolveProvider finds the user's credential for a specific provider and
// key type, preferring the default.
func (r *Resolver) ResolveProvider(userID, provider string, keyType KeyType) (config.ProviderConfig, bool) {
	provider = strings.ToLower(provider)
	for _, k := range r.store.ListKeys(userID) {
		if k.KeyType == keyType && k.IsActive && k.Provider == provider {
			return toProviderConfig(k), true
		}
	}
	return config.ProviderConfig{}, false
}

func toProviderConfig(k *APIKey) config.ProviderConfig {
	baseURL := k.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(k.Provider)
	}
	model := k.Model
	if model == "" {
		model = defaultModel(k.Provider)
	}
	return config.ProviderConfig{
		Name:           k.Provider,
		BaseURL:        baseURL,
		APIKey:         k.APIKey,
		Model:          model,
		TimeoutSeconds: 120,
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "anthropic":
		return "https://api.anthropic.com/v1"
	case "moonshot":
		return "https://api.moonshot.cn/v1"
	case "zhipu":
		return "https://open.bigmodel.cn/api/paas/v4"
	case "qwen":
		return "https://dashscope.aliyuncs.com/compatible-mode/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o"
	case "deepseek":
		return "deepseek-chat"
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "moonshot":
		return "moonshot-v1-8k"
	case "zhipu":
		return "glm-4"
	case "qwen":
		return "qwen-plus"
	default:
		return "gpt-4o"
	}
}

// ResolvedEmbedding carries a ready embedding config plus the vector
// collection that stores this model's memories.
type ResolvedEmbedding struct {
	Config         config.EmbeddingConfig
	CollectionName string
	Dimension      int
}

// ResolveEmbedding finds the user's default active embedding model. Blank
// API keys resolve to the dummy "ollama" token so self-hosted endpoints
// still receive a bearer header. Returns false when the user has none,
// letting the caller fall back to the system embedding config.
func (r *Resolver) ResolveEmbedding(userID string) (ResolvedEmbedding, bool) {
	for _, m := range r.store.ListEmbeddingModels(userID) {
		if !m.IsDefault || !m.IsActive {
			continue
		}
		apiKey := m.APIKey
		if strings.TrimSpace(apiKey) == "" {
			apiKey = "ollama"
		}
		r.logger.Debug("Resolved embedding for user=%s model=%s dim=%d collection=%s",
			userID, m.ModelName, m.Dimension, m.CollectionName)
		return ResolvedEmbedding{
			Config: config.EmbeddingConfig{
				BaseURL:        m.BaseURL,
				APIKey:         apiKey,
				Model:          m.ModelName,
				Dimensions:     m.Dimension,
				TimeoutSeconds: 30,
				MaxInputTokens: m.MaxTokens,
			},
			CollectionName: m.CollectionName,
			Dimension:      m.Dimension,
		}, true
	}
	return ResolvedEmbedding{}, false
}
