package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"strix/internal/embedding"
	"strix/internal/keys"
	"strix/internal/logging"
	"strix/internal/vecstore"
)

const (
	maxStoredContentChars = 4000
	maxPageSize           = 100
	maxFetchLimit         = 1000
)

// Service is the agent's persistent knowledge store over the vector store.
//
// Every operation that takes a user id resolves the user's default embedding
// configuration; memories for different embedding models live in different
// collections and never mix. When the vector store is absent the service
// degrades to a no-op so agent runs still complete.
type Service struct {
	store            vecstore.Store
	systemEmbedder   embedding.Embedder
	systemCollection string
	resolver         *keys.Resolver
	minScore         float32
	logger           logging.Logger
	onOp             func(operation string)

	mu          sync.Mutex
	userClients map[string]embedding.Embedder
	ensured     map[string]bool
}

// NewService builds a memory service. store may be nil (memory disabled),
// resolver may be nil (no per-user embedding configs).
func NewService(store vecstore.Store, systemEmbedder embedding.Embedder, systemCollection string, resolver *keys.Resolver, minScore float64) *Service {
	s := &Service{
		store:            store,
		systemEmbedder:   systemEmbedder,
		systemCollection: systemCollection,
		resolver:         resolver,
		minScore:         float32(minScore),
		logger:           logging.NewComponentLogger("memory"),
		userClients:      make(map[string]embedding.Embedder),
		ensured:          make(map[string]bool),
	}
	if store == nil {
		s.logger.Warn("Vector store not available, long-term memory features disabled")
	}
	return s
}

// SetOpHook installs a per-operation callback (remember, recall, search,
// delete). Call before the service starts serving requests.
func (s *Service) SetOpHook(fn func(operation string)) {
	s.onOp = fn
}

func (s *Service) countOp(operation string) {
	if s.onOp != nil {
		s.onOp(operation)
	}
}

func (s *Service) unavailable() bool {
	if s.store == nil {
		s.logger.Debug("Skipped, vector store not connected")
		return true
	}
	return false
}

// resolveContext returns the effective embedder and collection for a user,
// falling back to the system pair, and makes sure the collection exists.
func (s *Service) resolveContext(ctx context.Context, userID string) (embedding.Embedder, string, error) {
	embedder := s.systemEmbedder
	collection := s.systemCollection

	if s.resolver != nil && userID != "" {
		if resolved, ok := s.resolver.ResolveEmbedding(userID); ok {
			client, err := s.userEmbedder(resolved)
			if err != nil {
				return nil, "", err
			}
			embedder = client
			collection = resolved.CollectionName
		}
	}
	if embedder == nil {
		return nil, "", fmt.Errorf("no embedding configuration available")
	}

	s.mu.Lock()
	ensured := s.ensured[collection]
	s.mu.Unlock()
	if !ensured {
		if err := s.store.EnsureCollection(ctx, collection, embedder.Dimensions()); err != nil {
			return nil, "", err
		}
		s.mu.Lock()
		s.ensured[collection] = true
		s.mu.Unlock()
	}
	return embedder, collection, nil
}

// userEmbedder caches per-collection embedding clients so their LRU caches
// survive across calls.
func (s *Service) userEmbedder(resolved keys.ResolvedEmbedding) (embedding.Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.userClients[resolved.CollectionName]; ok {
		return client, nil
	}
	client, err := embedding.NewClient(resolved.Config)
	if err != nil {
		return nil, err
	}
	s.userClients[resolved.CollectionName] = client
	return client, nil
}

// Remember embeds and stores one memory. Failures are logged, not returned:
// memory storage must never break an agent run.
func (s *Service) Remember(ctx context.Context, sessionID, content string, memType Type, importance float32, userID string) {
	if s.unavailable() {
		return
	}
	if strings.TrimSpace(content) == "" {
		return
	}
	s.countOp("remember")

	embedder, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to store memory for session %s: %v", sessionID, err)
		return
	}
	vector, err := embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("Failed to store memory for session %s: %v", sessionID, err)
		return
	}

	_, err = s.store.Insert(ctx, collection, []vecstore.Record{{
		SessionID:    sessionID,
		Content:      truncate(content, maxStoredContentChars),
		MemoryType:   string(memType),
		Importance:   importance,
		CreateTimeMs: time.Now().UnixMilli(),
		Embedding:    vector,
	}})
	if err != nil {
		s.logger.Warn("Failed to store memory for session %s: %v", sessionID, err)
		return
	}
	s.logger.Debug("Stored %s memory for session %s (importance=%.2f collection=%s)",
		memType, sessionID, importance, collection)
}

// Recall runs an ANN search across the user's collection and returns hits
// above the minimum score, best first.
func (s *Service) Recall(ctx context.Context, query string, topK int, userID string) []Record {
	return s.recallFiltered(ctx, query, topK, "", userID)
}

// RecallFromSession recalls only memories recorded for one session.
func (s *Service) RecallFromSession(ctx context.Context, query, sessionID string, topK int, userID string) []Record {
	return s.recallFiltered(ctx, query, topK, fmt.Sprintf("session_id == %q", sessionID), userID)
}

// RecallSemantic recalls only SEMANTIC memories, used for profile-style
// prompt injection independent of session.
func (s *Service) RecallSemantic(ctx context.Context, query string, topK int, userID string) []Record {
	return s.recallFiltered(ctx, query, topK, fmt.Sprintf("memory_type == %q", TypeSemantic), userID)
}

func (s *Service) recallFiltered(ctx context.Context, query string, topK int, filter, userID string) []Record {
	if s.unavailable() {
		return nil
	}
	s.countOp("recall")
	embedder, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		s.logger.Warn("Recall failed: %v", err)
		return nil
	}
	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Recall failed: %v", err)
		return nil
	}
	hits, err := s.store.Search(ctx, collection, vector, topK, filter)
	if err != nil {
		s.logger.Warn("Recall failed: %v", err)
		return nil
	}

	var out []Record
	for _, h := range hits {
		if h.Score < s.minScore {
			continue
		}
		out = append(out, toRecord(h.Record, h.Score))
	}
	return out
}

// FormatForPrompt renders records as the prompt block injected before the
// model answers. Empty input renders to the empty string.
func (s *Service) FormatForPrompt(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant memories from past experience:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- [%s] %s (relevance: %.2f)\n", r.MemoryType, r.Content, r.Score)
	}
	return b.String()
}

// ListFilter selects memories for browsing. Zero values mean "no filter".
type ListFilter struct {
	Type      Type
	SessionID string
	Keyword   string
	Offset    int64
	Limit     int
}

// List pages through memories newest first. The store's own ordering is not
// relied on: up to 1000 matching rows are fetched, sorted by create time
// descending in memory, then the requested page is sliced out.
func (s *Service) List(ctx context.Context, f ListFilter, userID string) []Record {
	if s.unavailable() {
		return nil
	}
	_, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		s.logger.Warn("List failed: %v", err)
		return nil
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	pageSize := f.Limit
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	rows, err := s.store.Query(ctx, collection, buildFilter(f.Type, f.SessionID, f.Keyword), 0, maxFetchLimit)
	if err != nil {
		s.logger.Warn("List failed: %v", err)
		return nil
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, toRecord(r, 0))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreateTimeMs > records[j].CreateTimeMs })

	from := int(offset)
	if from > len(records) {
		from = len(records)
	}
	to := from + pageSize
	if to > len(records) {
		to = len(records)
	}
	return records[from:to]
}

// Count returns the number of memories matching the type/session filter.
func (s *Service) Count(ctx context.Context, memType Type, sessionID, userID string) int64 {
	if s.unavailable() {
		return 0
	}
	_, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		s.logger.Warn("Count failed: %v", err)
		return 0
	}
	n, err := s.store.Count(ctx, collection, buildFilter(memType, sessionID, ""))
	if err != nil {
		s.logger.Warn("Count failed: %v", err)
		return 0
	}
	return n
}

// Search is user-facing semantic search: like Recall but without the score
// threshold, so every ranked hit is visible.
func (s *Service) Search(ctx context.Context, query string, topK int, userID string) []Record {
	if s.unavailable() {
		return nil
	}
	s.countOp("search")
	embedder, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		s.logger.Warn("Search failed: %v", err)
		return nil
	}
	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Search failed: %v", err)
		return nil
	}
	hits, err := s.store.Search(ctx, collection, vector, topK, "")
	if err != nil {
		s.logger.Warn("Search failed: %v", err)
		return nil
	}

	out := make([]Record, 0, len(hits))
	for _, h := range hits {
		out = append(out, toRecord(h.Record, h.Score))
	}
	return out
}

// DeleteByID removes one memory from the user's collection.
func (s *Service) DeleteByID(ctx context.Context, id int64, userID string) error {
	if s.unavailable() {
		return nil
	}
	s.countOp("delete")
	_, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteByIDs(ctx, collection, []int64{id}); err != nil {
		return err
	}
	s.logger.Info("Deleted memory id=%d", id)
	return nil
}

// DeleteBySession removes all memories recorded for a session.
func (s *Service) DeleteBySession(ctx context.Context, sessionID, userID string) error {
	if s.unavailable() {
		return nil
	}
	s.countOp("delete")
	_, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, collection, fmt.Sprintf("session_id == %q", sessionID)); err != nil {
		return err
	}
	s.logger.Info("Deleted memories for session %s", sessionID)
	return nil
}

// DeleteByType removes all memories of one type.
func (s *Service) DeleteByType(ctx context.Context, memType Type, userID string) error {
	if s.unavailable() {
		return nil
	}
	s.countOp("delete")
	_, collection, err := s.resolveContext(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, collection, fmt.Sprintf("memory_type == %q", memType)); err != nil {
		return err
	}
	s.logger.Info("Deleted all %s memories", memType)
	return nil
}

func buildFilter(memType Type, sessionID, keyword string) string {
	var clauses []string
	if memType != "" {
		clauses = append(clauses, fmt.Sprintf("memory_type == %q", memType))
	}
	if sessionID != "" {
		clauses = append(clauses, fmt.Sprintf("session_id == %q", sessionID))
	}
	if keyword != "" {
		clauses = append(clauses, fmt.Sprintf("content like \"%%%s%%\"", keyword))
	}
	return strings.Join(clauses, " and ")
}

func toRecord(r vecstore.Record, score float32) Record {
	return Record{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Content:      r.Content,
		MemoryType:   Type(r.MemoryType),
		Importance:   r.Importance,
		CreateTimeMs: r.CreateTimeMs,
		Score:        score,
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
