package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ProviderConfig describes one OpenAI-compatible chat provider.
type ProviderConfig struct {
	Name           string `mapstructure:"name"`
	BaseURL        string `mapstructure:"baseUrl"`
	APIKey         string `mapstructure:"apiKey"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

// EmbeddingConfig describes the system-default embedding endpoint.
type EmbeddingConfig struct {
	BaseURL        string `mapstructure:"baseUrl"`
	APIKey         string `mapstructure:"apiKey"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
	MaxInputTokens int    `mapstructure:"maxInputTokens"`
}

// MilvusConfig holds vector database connection parameters.
// An empty host selects the in-process vector store.
type MilvusConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	CollectionName   string `mapstructure:"collectionName"`
	VectorDimensions int    `mapstructure:"vectorDimensions"`
}

// AgentConfig holds loop tunables.
type AgentConfig struct {
	MaxContextMessages   int `mapstructure:"maxContextMessages"`
	MaxIterations        int `mapstructure:"maxIterations"`
	TopKTools            int `mapstructure:"topKTools"`
	StoreMemoryPrefixLen int `mapstructure:"storeMemoryPrefixLen"`
	ResumePollMs         int `mapstructure:"resumePollMs"`
	MaxWorkers           int `mapstructure:"maxWorkers"`
}

// MemoryConfig holds memory service tunables.
type MemoryConfig struct {
	MinScore float64 `mapstructure:"minScore"`
}

// LLMConfig holds the system primary/fallback provider pair.
type LLMConfig struct {
	Primary  ProviderConfig `mapstructure:"primary"`
	Fallback ProviderConfig `mapstructure:"fallback"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig holds persistence locations.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File string `mapstructure:"file"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Milvus    MilvusConfig    `mapstructure:"milvus"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Memory    MemoryConfig    `mapstructure:"memory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.dir", "~/.strix")
	v.SetDefault("log.file", "~/strix-debug.log")

	v.SetDefault("milvus.host", "")
	v.SetDefault("milvus.port", 19530)
	v.SetDefault("milvus.collectionName", "agent_memories")
	v.SetDefault("milvus.vectorDimensions", 1536)

	v.SetDefault("llm.primary.timeoutSeconds", 120)
	v.SetDefault("llm.fallback.timeoutSeconds", 120)

	v.SetDefault("embedding.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeoutSeconds", 30)
	v.SetDefault("embedding.maxInputTokens", 8192)

	v.SetDefault("agent.maxContextMessages", 50)
	v.SetDefault("agent.maxIterations", 30)
	v.SetDefault("agent.topKTools", 12)
	v.SetDefault("agent.storeMemoryPrefixLen", 15)
	v.SetDefault("agent.resumePollMs", 2000)
	v.SetDefault("agent.maxWorkers", 1024)

	v.SetDefault("memory.minScore", 0.0)
}

// Load reads configuration from the given file (optional) with STRIX_*
// environment overrides layered on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("strix")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.strix")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
