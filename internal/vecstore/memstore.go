package vecstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strix/internal/errors"
	"strix/internal/logging"
)

// MemStore is an in-process Store used when no vector database is
// configured, and as the test double. Search is a full inner-product scan,
// which is fine at development scale.
type MemStore struct {
	logger logging.Logger

	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim     int
	nextID  int64
	records map[int64]Record
}

// NewMemStore builds an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{
		logger:      logging.NewComponentLogger("memstore"),
		collections: make(map[string]*memCollection),
	}
}

func (s *MemStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return errors.New(errors.KindValidation, "dimension must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		if existing.dim != dim {
			return errors.New(errors.KindValidation,
				fmt.Sprintf("collection %s exists with dimension %d, requested %d", name, existing.dim, dim))
		}
		return nil
	}
	s.collections[name] = &memCollection{dim: dim, nextID: 1, records: make(map[int64]Record)}
	s.logger.Debug("Created collection %s dim=%d", name, dim)
	return nil
}

func (s *MemStore) get(collection string) (*memCollection, error) {
	c, ok := s.collections[collection]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "collection not found: "+collection)
	}
	return c, nil
}

func (s *MemStore) Insert(ctx context.Context, collection string, records []Record) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != c.dim {
			return nil, errors.New(errors.KindValidation,
				fmt.Sprintf("embedding dimension %d does not match collection dimension %d", len(r.Embedding), c.dim))
		}
		r.ID = c.nextID
		c.nextID++
		c.records[r.ID] = r
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *MemStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter string) ([]Hit, error) {
	pred, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dim {
		return nil, errors.New(errors.KindValidation,
			fmt.Sprintf("query dimension %d does not match collection dimension %d", len(vector), c.dim))
	}

	var hits []Hit
	for _, r := range c.records {
		if !pred(scalarFields(&r)) {
			continue
		}
		hits = append(hits, Hit{Record: r, Score: innerProduct(vector, r.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemStore) Query(ctx context.Context, collection string, filter string, offset, limit int) ([]Record, error) {
	pred, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}

	var matched []Record
	for _, r := range c.records {
		if !pred(scalarFields(&r)) {
			continue
		}
		r.Embedding = nil
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemStore) Delete(ctx context.Context, collection string, filter string) error {
	pred, err := parseFilter(filter)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(collection)
	if err != nil {
		return err
	}
	for id, r := range c.records {
		if pred(scalarFields(&r)) {
			delete(c.records, id)
		}
	}
	return nil
}

func (s *MemStore) DeleteByIDs(ctx context.Context, collection string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.get(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.records, id)
	}
	return nil
}

func (s *MemStore) Count(ctx context.Context, collection string, filter string) (int64, error) {
	pred, err := parseFilter(filter)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.get(collection)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range c.records {
		if pred(scalarFields(&r)) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Close() error {
	return nil
}

func innerProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
