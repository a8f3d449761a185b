package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"unicode/utf8"

	"strix/internal/errors"
	"strix/internal/memory"
	"strix/internal/tools"
)

const (
	defaultRecallTopK = 10
	maxRecallTopK     = 20
	noMemoriesFound   = "No relevant memories found for this query. " +
		"You can answer from general knowledge or say you don't recall."

	msgDuplicateMemory = "Memory already stored previously; skipping duplicate."
	msgSimilarMemory   = "Already stored similar content."
	msgMemoryStored    = "Memory stored successfully."
)

// callInfo carries the session and user of the running loop into tool
// handlers through the context.
type callInfo struct {
	SessionID string
	UserID    string
}

type callInfoKey struct{}

func withCallInfo(ctx context.Context, sessionID, userID string) context.Context {
	return context.WithValue(ctx, callInfoKey{}, callInfo{SessionID: sessionID, UserID: userID})
}

func callInfoFrom(ctx context.Context) callInfo {
	info, _ := ctx.Value(callInfoKey{}).(callInfo)
	return info
}

// dedupTracker remembers what each session already stored so repeated
// store_memory calls within a run are rejected. Process-local; losing it
// on restart only risks redundant stores.
type dedupTracker struct {
	mu        sync.Mutex
	prefixLen int
	contents  map[string]map[string]struct{}
	prefixes  map[string]map[string]struct{}
}

func newDedupTracker(prefixLen int) *dedupTracker {
	if prefixLen <= 0 {
		prefixLen = 15
	}
	return &dedupTracker{
		prefixLen: prefixLen,
		contents:  make(map[string]map[string]struct{}),
		prefixes:  make(map[string]map[string]struct{}),
	}
}

func normalizeForDedup(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// check classifies normalized content against the session's history and
// records it when new. Returns the rejection message, empty for new content.
func (d *dedupTracker) check(sessionID, normalized string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := d.contents[sessionID]
	if seen == nil {
		seen = make(map[string]struct{})
		d.contents[sessionID] = seen
	}
	if _, dup := seen[normalized]; dup {
		return msgDuplicateMemory
	}

	prefix := normalized
	if runes := []rune(prefix); len(runes) > d.prefixLen {
		prefix = string(runes[:d.prefixLen])
	}
	prefixes := d.prefixes[sessionID]
	if prefixes == nil {
		prefixes = make(map[string]struct{})
		d.prefixes[sessionID] = prefixes
	}
	if _, similar := prefixes[prefix]; similar {
		return msgSimilarMemory
	}

	seen[normalized] = struct{}{}
	prefixes[prefix] = struct{}{}
	return ""
}

func (d *dedupTracker) forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.contents, sessionID)
	delete(d.prefixes, sessionID)
}

type recallArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (l *Loop) handleRecallMemory(ctx context.Context, arguments string) (string, error) {
	var args recallArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", errors.Wrap(errors.KindValidation, err, "parse recall_memory arguments")
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", errors.New(errors.KindValidation, "recall_memory requires a query")
	}

	topK := clampTopK(args.TopK)
	info := callInfoFrom(ctx)
	records := l.memories.Recall(ctx, args.Query, topK, info.UserID)
	if len(records) == 0 {
		records = l.memories.Search(ctx, args.Query, topK, info.UserID)
	}
	if len(records) == 0 {
		return noMemoriesFound, nil
	}
	return l.memories.FormatForPrompt(records), nil
}

func clampTopK(k int) int {
	switch {
	case k == 0:
		return defaultRecallTopK
	case k < 1:
		return 1
	case k > maxRecallTopK:
		return maxRecallTopK
	}
	return k
}

type storeArgs struct {
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"`
	Importance float32 `json:"importance"`
}

func (l *Loop) handleStoreMemory(ctx context.Context, arguments string) (string, error) {
	var args storeArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", errors.Wrap(errors.KindValidation, err, "parse store_memory arguments")
	}
	if strings.TrimSpace(args.Content) == "" {
		return "", errors.New(errors.KindValidation, "store_memory requires content")
	}

	info := callInfoFrom(ctx)
	if msg := l.dedup.check(info.SessionID, normalizeForDedup(args.Content)); msg != "" {
		return msg, nil
	}

	importance := args.Importance
	if importance <= 0 {
		importance = 0.8
	}
	l.memories.Remember(ctx, info.SessionID, args.Content,
		memory.ParseType(args.MemoryType), importance, info.UserID)
	return msgMemoryStored, nil
}

// captureEpisodic stores substantial results of non-builtin tools as
// EPISODIC memories. Stubs, errors and short outputs are skipped.
func (l *Loop) captureEpisodic(ctx context.Context, sessionID, userID, toolName, result string) {
	if toolName == tools.RecallMemoryName || toolName == tools.StoreMemoryName {
		return
	}
	if utf8.RuneCountInString(result) < 50 ||
		strings.HasPrefix(result, "[STUB]") ||
		strings.HasPrefix(result, "[ToolError]") {
		return
	}
	content := "Tool '" + toolName + "' returned: " + truncate(result, 300)
	l.memories.Remember(ctx, sessionID, content, memory.TypeEpisodic, 0.6, userID)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
