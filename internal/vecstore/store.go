package vecstore

import "context"

// Record is one stored memory vector with its scalar payload.
type Record struct {
	ID           int64
	SessionID    string
	Content      string
	MemoryType   string
	Importance   float32
	CreateTimeMs int64
	Embedding    []float32
}

// Hit is a search result: a record plus its similarity score. Scores use
// inner product, so higher is more similar.
type Hit struct {
	Record
	Score float32
}

// Store is the vector database surface for memory collections.
//
// Filter expressions use a small subset shared by all implementations:
// equality (`field == "value"`), substring match (`field like "%sub%"`)
// and conjunction with `and`. An empty filter matches everything.
type Store interface {
	// EnsureCollection creates the collection and its indexes if missing.
	// Safe to call repeatedly.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Insert stores records and returns their assigned primary keys.
	Insert(ctx context.Context, collection string, records []Record) ([]int64, error)

	// Search returns up to topK records matching filter, most similar first.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter string) ([]Hit, error)

	// Query returns records matching filter, paged by offset and limit.
	// Embeddings are not returned.
	Query(ctx context.Context, collection string, filter string, offset, limit int) ([]Record, error)

	// Delete removes all records matching filter.
	Delete(ctx context.Context, collection string, filter string) error

	// DeleteByIDs removes records by primary key.
	DeleteByIDs(ctx context.Context, collection string, ids []int64) error

	// Count returns the number of records matching filter.
	Count(ctx context.Context, collection string, filter string) (int64, error)

	Close() error
}
