package tools

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"strix/internal/embedding"
	"strix/internal/keys"
	"strix/internal/logging"
)

const maxIndexTextChars = 3500

// Index is the vector index over tool descriptors used to pick the top-K
// tools relevant to a query. One embedded collection exists per embedding
// dimension; population is lazy, process-local and idempotent to rebuild.
type Index struct {
	registry       *Registry
	resolver       *keys.Resolver
	systemEmbedder embedding.Embedder
	logger         logging.Logger

	mu          sync.Mutex
	db          *chromem.DB
	collections map[int]*chromem.Collection
	populated   map[int]bool
	userClients map[string]embedding.Embedder
}

// NewIndex builds the tool index. systemEmbedder may be nil; resolver may
// be nil when per-user embedding configs are not in play.
func NewIndex(registry *Registry, resolver *keys.Resolver, systemEmbedder embedding.Embedder) *Index {
	return &Index{
		registry:       registry,
		resolver:       resolver,
		systemEmbedder: systemEmbedder,
		logger:         logging.NewComponentLogger("tool-index"),
		db:             chromem.NewDB(),
		collections:    make(map[int]*chromem.Collection),
		populated:      make(map[int]bool),
		userClients:    make(map[string]embedding.Embedder),
	}
}

// SearchRelevantTools returns up to k tool ids most relevant to the query,
// best first. Returns empty when no embedding config is usable or on any
// failure; the caller degrades to the full tool list.
func (x *Index) SearchRelevantTools(ctx context.Context, query string, k int, userID string) []string {
	if k <= 0 || query == "" {
		return nil
	}
	embedder := x.resolveEmbedder(userID)
	if embedder == nil {
		return nil
	}
	dim := embedder.Dimensions()

	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.collection(embedder, dim)
	if err != nil {
		x.logger.Warn("Tool index unavailable: %v", err)
		return nil
	}
	if !x.populated[dim] {
		if err := x.populate(ctx, col, embedder); err != nil {
			x.logger.Warn("Tool index population failed: %v", err)
			return nil
		}
		x.populated[dim] = true
	}

	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil
	}
	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		x.logger.Warn("Tool index query failed: %v", err)
		return nil
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids
}

// Invalidate drops the populated flags so the next search re-indexes all
// descriptors. Called after registry mutations.
func (x *Index) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.populated = make(map[int]bool)
}

// resolveEmbedder prefers the user's embedding config and falls back to the
// system default; nil means tool retrieval is disabled for this call.
func (x *Index) resolveEmbedder(userID string) embedding.Embedder {
	if x.resolver != nil && userID != "" {
		if resolved, ok := x.resolver.ResolveEmbedding(userID); ok {
			x.mu.Lock()
			defer x.mu.Unlock()
			if client, ok := x.userClients[resolved.CollectionName]; ok {
				return client
			}
			client, err := embedding.NewClient(resolved.Config)
			if err != nil {
				x.logger.Warn("Failed to build user embedding client: %v", err)
				return nil
			}
			x.userClients[resolved.CollectionName] = client
			return client
		}
	}
	return x.systemEmbedder
}

// collection must be called with x.mu held.
func (x *Index) collection(embedder embedding.Embedder, dim int) (*chromem.Collection, error) {
	if col, ok := x.collections[dim]; ok {
		return col, nil
	}
	name := keys.ToolIndexCollectionName(dim)
	col, err := x.db.GetOrCreateCollection(name, nil, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	x.collections[dim] = col
	return col, nil
}

// populate indexes every active descriptor. Upsert is delete-then-insert
// since re-adding an existing id would fail.
func (x *Index) populate(ctx context.Context, col *chromem.Collection, embedder embedding.Embedder) error {
	for _, d := range x.registry.ListActive() {
		text := indexText(d)
		vector, err := embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed tool %s: %w", d.Name, err)
		}
		if err := col.Delete(ctx, nil, nil, d.ID); err != nil {
			x.logger.Debug("Delete before insert for tool %s: %v", d.Name, err)
		}
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        d.ID,
			Content:   text,
			Embedding: vector,
			Metadata:  map[string]string{"name": d.Name},
		}); err != nil {
			return fmt.Errorf("index tool %s: %w", d.Name, err)
		}
	}
	x.logger.Debug("Populated tool index with %d descriptors", len(x.registry.ListActive()))
	return nil
}

func indexText(d *Descriptor) string {
	text := fmt.Sprintf("%s\n%s\n%s", d.Name, d.Description, string(d.Schema))
	runes := []rune(text)
	if len(runes) > maxIndexTextChars {
		text = string(runes[:maxIndexTextChars])
	}
	return text
}
