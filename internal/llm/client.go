package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"strix/internal/config"
	"strix/internal/errors"
	"strix/internal/logging"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"

	bodySnippetLimit = 500
)

// Client is a stateless OpenAI-compatible chat client for one provider.
//
// Chat waits for the full response; StreamChat reads the SSE stream, fires
// the token callback per content delta, and returns the assembled response
// in the non-streaming shape.
type Client struct {
	cfg          config.ProviderConfig
	chatClient   *http.Client
	streamClient *http.Client
	logger       logging.Logger
}

// NewClient constructs a provider client from its config.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		cfg:        cfg,
		chatClient: &http.Client{Timeout: timeout},
		// Streaming responses can take far longer to complete.
		streamClient: &http.Client{Timeout: 2 * timeout},
		logger:       logging.NewComponentLogger("llm-client"),
	}
}

// ModelName returns the model configured for this provider.
func (c *Client) ModelName() string {
	return c.cfg.Model
}

// Chat performs a blocking (non-streaming) chat completion.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := c.marshalRequest(req, false)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("[%s] chat POST body-length=%d", c.cfg.Name, len(body))

	resp, err := c.send(ctx, c.chatClient, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err,
			fmt.Sprintf("read response from provider [%s]", c.cfg.Name))
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var parsed ChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(errors.KindProtocol, err,
			fmt.Sprintf("parse response from provider [%s]: %s", c.cfg.Name, snippet(respBody)))
	}
	return &parsed, nil
}

// StreamChat performs a streaming chat completion via SSE.
//
// For every non-empty content delta, onToken is invoked synchronously on the
// calling goroutine. Tool-call fragments are accumulated per index and the
// assembled response is returned when the stream ends, so callers can act on
// tool calls exactly as with a non-streaming response.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest, onToken TokenCallback) (*ChatResponse, error) {
	body, err := c.marshalRequest(req, true)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("[%s] streamChat POST body-length=%d", c.cfg.Name, len(body))

	resp, err := c.send(ctx, c.streamClient, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
	}

	return c.assembleStream(resp.Body, onToken)
}

// streamChunk mirrors one SSE data frame.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    *int   `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type toolAccumulator struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// assembleStream reads the SSE line stream, fires onToken for content deltas,
// and builds a ChatResponse mirroring the non-streaming format.
//
// Tool-call deltas are grouped by index: the first delta for an index
// establishes id and type, later deltas append to arguments. The final
// tool-call list is built in ascending index order.
func (c *Client) assembleStream(r io.Reader, onToken TokenCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	accumulators := make(map[int]*toolAccumulator)
	var contentBuilder strings.Builder
	responseID := ""
	responseModel := ""
	finishReason := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if payload == "" {
			continue
		}
		if payload == sseDone {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("[%s] Failed to parse SSE chunk: %s", c.cfg.Name, snippet([]byte(payload)))
			continue
		}

		if responseID == "" {
			responseID = chunk.ID
		}
		if responseModel == "" {
			responseModel = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}

		if text := choice.Delta.Content; text != "" {
			contentBuilder.WriteString(text)
			if onToken != nil {
				onToken(text)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := accumulators[idx]
			if !ok {
				acc = &toolAccumulator{typ: "function"}
				accumulators[idx] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Type != "" {
				acc.typ = tc.Type
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err,
			fmt.Sprintf("read stream from provider [%s]", c.cfg.Name))
	}

	var toolCalls []ToolCall
	if len(accumulators) > 0 {
		indexes := make([]int, 0, len(accumulators))
		for idx := range accumulators {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			acc := accumulators[idx]
			toolCalls = append(toolCalls, ToolCall{
				ID:   acc.id,
				Type: acc.typ,
				Function: FunctionCall{
					Name:      acc.name,
					Arguments: acc.args.String(),
				},
			})
		}
	}

	assistant := Message{
		Role:      "assistant",
		Content:   contentBuilder.String(),
		ToolCalls: toolCalls,
	}

	return &ChatResponse{
		ID:     responseID,
		Object: "chat.completion",
		Model:  responseModel,
		Choices: []Choice{
			{Index: 0, Message: assistant, FinishReason: finishReason},
		},
	}, nil
}

func (c *Client) marshalRequest(req *ChatRequest, stream bool) ([]byte, error) {
	out := *req
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	out.Stream = stream
	if strictToolHistoryProvider(c.cfg.Name) {
		out.Messages = filterToolMessages(out.Messages)
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "serialize chat request")
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err,
			fmt.Sprintf("network error calling provider [%s]", c.cfg.Name))
	}
	return resp, nil
}

func (c *Client) checkStatus(status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		return errors.New(errors.KindRateLimited,
			fmt.Sprintf("rate-limited by provider [%s]", c.cfg.Name)).WithStatus(status)
	}
	if status < 200 || status >= 300 {
		return errors.New(errors.KindProvider,
			fmt.Sprintf("provider [%s] returned HTTP %d: %s", c.cfg.Name, status, snippet(body))).WithStatus(status)
	}
	return nil
}

// strictToolHistoryProvider reports whether the provider rejects requests
// whose history contains role=tool messages.
func strictToolHistoryProvider(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "zhipu") || strings.Contains(lower, "glm")
}

func filterToolMessages(messages []Message) []Message {
	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "tool" {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > bodySnippetLimit {
		return s[:bodySnippetLimit] + "..."
	}
	return s
}
