package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"strix/internal/config"
	"strix/internal/keys"
	"strix/internal/llm"
	"strix/internal/logging"
)

const (
	maxMemoriesForCompress = 200
	compressSessionID      = "compressed"
)

const compressPromptTemplate = `You are a memory compression assistant. Below is a list of long-term memory entries (content, type, importance).
Merge duplicates and semantically similar items into a smaller set. Keep important facts; drop redundant or low-value entries.
Preserve memory_type (SEMANTIC, EPISODIC, PROCEDURAL) and set importance 0.0-1.0.
Reply with ONLY a JSON array, no markdown, no explanation. Example:
[{"content":"用户是Java开发人员","memory_type":"SEMANTIC","importance":0.85},{"content":"...","memory_type":"EPISODIC","importance":0.7}]

Memories to compress:
%s`

var jsonFencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*([\\s\\S]*?)```")

// CompressedMemory is one proposed replacement entry produced by the model.
type CompressedMemory struct {
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"`
	Importance float64 `json:"importance"`
}

// PrepareResult carries the current memories and the model's proposed
// replacement set, for human confirmation before anything is deleted.
type PrepareResult struct {
	Current  []Record           `json:"current"`
	Proposed []CompressedMemory `json:"proposed"`
	Error    string             `json:"error,omitempty"`
}

// Compressor merges duplicate or similar long-term memories via the user's
// default LLM, in two phases: a read-only prepare and a destructive execute.
type Compressor struct {
	memories *Service
	resolver *keys.Resolver
	logger   logging.Logger

	// newCaller builds a chat client for the resolved config.
	newCaller func(config.ProviderConfig) llm.Caller
}

// NewCompressor builds a compressor over the memory service.
func NewCompressor(memories *Service, resolver *keys.Resolver) *Compressor {
	return &Compressor{
		memories:  memories,
		resolver:  resolver,
		logger:    logging.NewComponentLogger("memory-compress"),
		newCaller: func(cfg config.ProviderConfig) llm.Caller { return llm.NewClient(cfg) },
	}
}

// Prepare fetches current memories and asks the user's LLM for a compressed
// set. Errors are reported in the result so the caller can still render the
// current list.
func (c *Compressor) Prepare(ctx context.Context, userID string) PrepareResult {
	if userID == "" {
		return PrepareResult{Error: "user not identified"}
	}

	current := c.memories.List(ctx, ListFilter{Limit: maxMemoriesForCompress}, userID)
	if len(current) == 0 {
		return PrepareResult{}
	}

	if c.resolver == nil {
		return PrepareResult{Current: current, Error: "no default LLM key configured"}
	}
	llmCfg, ok := c.resolver.ResolveLLM(userID)
	if !ok {
		return PrepareResult{Current: current, Error: "no default LLM key configured"}
	}

	var entries strings.Builder
	for _, m := range current {
		fmt.Fprintf(&entries, "- [%s] importance=%.2f: %s\n", m.MemoryType, m.Importance, previewContent(m.Content))
	}

	caller := c.newCaller(llmCfg)
	resp, err := caller.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage("You output only valid JSON arrays. No markdown, no code fence."),
			llm.UserMessage(fmt.Sprintf(compressPromptTemplate, entries.String())),
		},
	})
	if err != nil {
		c.logger.Warn("LLM prepare failed: %v", err)
		return PrepareResult{Current: current, Error: "compression proposal failed: " + err.Error()}
	}

	msg := resp.FirstMessage()
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return PrepareResult{Current: current, Error: "LLM returned empty response"}
	}

	proposed, err := parseProposed(msg.Content)
	if err != nil {
		c.logger.Warn("Failed to parse compression proposal: %v", err)
		return PrepareResult{Current: current, Error: "compression proposal failed: " + err.Error()}
	}
	return PrepareResult{Current: current, Proposed: proposed}
}

// Execute deletes the confirmed ids and inserts the replacement memories
// under the synthetic "compressed" session. The two phases are not atomic;
// individual delete failures are logged and skipped.
func (c *Compressor) Execute(ctx context.Context, userID string, deleteIDs []int64, replacements []CompressedMemory) {
	if userID == "" {
		return
	}
	for _, id := range deleteIDs {
		if err := c.memories.DeleteByID(ctx, id, userID); err != nil {
			c.logger.Warn("Failed to delete memory id=%d: %v", id, err)
		}
	}
	for _, m := range replacements {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		importance := float32(m.Importance)
		if m.Importance == 0 {
			importance = 0.8
		}
		c.memories.Remember(ctx, compressSessionID, m.Content, ParseType(m.MemoryType), importance, userID)
	}
	c.logger.Info("user=%s deleted %d inserted %d", userID, len(deleteIDs), len(replacements))
}

// parseProposed extracts the JSON array from the model output, stripping a
// Markdown fence if present and repairing minor JSON damage.
func parseProposed(raw string) ([]CompressedMemory, error) {
	if m := jsonFencePattern.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	var proposed []CompressedMemory
	if err := json.Unmarshal([]byte(raw), &proposed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(repaired), &proposed); err != nil {
			return nil, err
		}
	}
	return proposed, nil
}

func previewContent(content string) string {
	runes := []rune(content)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return content
}
