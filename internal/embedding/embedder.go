package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"

	"strix/internal/config"
	"strix/internal/errors"
	"strix/internal/logging"
)

const (
	// Inputs longer than this are truncated before embedding. Character
	// based so it also bounds requests when token counting is unavailable.
	maxInputChars = 8000

	cacheSize = 4096
)

// Embedder converts text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// Client is an OpenAI-compatible embedding client with an in-process LRU
// cache keyed by model and input hash.
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
	encoding   *tiktoken.Tiktoken
	retry      errors.RetryConfig
	logger     logging.Logger
}

// NewClient constructs an embedding client from its config.
func NewClient(cfg config.EmbeddingConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.KindValidation, "embedding baseUrl is required")
	}
	if cfg.Model == "" {
		return nil, errors.New(errors.KindValidation, "embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "create embedding cache")
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		retry:      errors.DefaultRetryConfig(),
		logger:     logging.NewComponentLogger("embedding"),
	}

	// Offline token counting; fall back to rune truncation if the
	// encoding tables are unavailable.
	if enc, encErr := tiktoken.GetEncoding("cl100k_base"); encErr == nil {
		client.encoding = enc
	} else {
		client.logger.Warn("Token encoding unavailable, using character truncation: %v", encErr)
	}

	return client, nil
}

// Dimensions returns the configured output dimensionality.
func (c *Client) Dimensions() int {
	return c.cfg.Dimensions
}

// ModelName returns the configured embedding model.
func (c *Client) ModelName() string {
	return c.cfg.Model
}

// Embed returns the embedding vector for text. Results are cached, blank
// input is rejected, and over-length input is truncated rather than failed.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.KindValidation, "cannot embed blank text")
	}

	text = c.truncate(text)
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := errors.RetryWithResultAndLog(ctx, c.retry, func(ctx context.Context) ([]float32, error) {
		return c.requestEmbedding(ctx, text)
	}, c.logger)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.cfg.Model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// truncate bounds the input to the model's token budget when the token
// encoder is available, and to maxInputChars otherwise.
func (c *Client) truncate(text string) string {
	if c.encoding != nil && c.cfg.MaxInputTokens > 0 {
		tokens := c.encoding.Encode(text, nil, nil)
		if len(tokens) > c.cfg.MaxInputTokens {
			c.logger.Debug("Truncating embedding input from %d to %d tokens", len(tokens), c.cfg.MaxInputTokens)
			text = c.encoding.Decode(tokens[:c.cfg.MaxInputTokens])
		}
	}
	if runes := []rune(text); len(runes) > maxInputChars {
		c.logger.Debug("Truncating embedding input from %d to %d characters", len(runes), maxInputChars)
		text = string(runes[:maxInputChars])
	}
	return text
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) requestEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "serialize embedding request")
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "build embedding request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "network error calling embedding endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "read embedding response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.New(errors.KindRateLimited, "rate-limited by embedding endpoint").WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(errors.KindProvider,
			fmt.Sprintf("embedding endpoint returned HTTP %d: %s", resp.StatusCode, truncateForLog(respBody))).WithStatus(resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(errors.KindProtocol, err, "parse embedding response")
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New(errors.KindProtocol, "embedding response contained no vector")
	}
	return parsed.Data[0].Embedding, nil
}

func truncateForLog(body []byte) string {
	s := string(body)
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
