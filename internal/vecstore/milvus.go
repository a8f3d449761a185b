package vecstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"strix/internal/config"
	"strix/internal/errors"
	"strix/internal/logging"
)

const (
	fieldID           = "id"
	fieldSessionID    = "session_id"
	fieldContent      = "content"
	fieldMemoryType   = "memory_type"
	fieldImportance   = "importance"
	fieldCreateTimeMs = "create_time_ms"
	fieldEmbedding    = "embedding"

	hnswM              = 16
	hnswEfConstruction = 256
	hnswSearchEf       = 64
)

var queryOutputFields = []string{fieldID, fieldSessionID, fieldContent, fieldMemoryType, fieldImportance, fieldCreateTimeMs}

// MilvusStore implements Store on a Milvus cluster. Collections are created
// lazily with an HNSW index on the embedding and a TRIE index on session_id.
type MilvusStore struct {
	c      client.Client
	logger logging.Logger
}

// NewMilvusStore connects to the configured Milvus instance.
func NewMilvusStore(ctx context.Context, cfg config.MilvusConfig) (*MilvusStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, errors.Wrap(errors.KindStoreUnavailable, err, "connect to milvus at "+addr)
	}
	logger := logging.NewComponentLogger("milvus")
	logger.Info("Connected to milvus at %s", addr)
	return &MilvusStore{c: c, logger: logger}, nil
}

func (s *MilvusStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	has, err := s.c.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrap(errors.KindStoreUnavailable, err, "check collection "+name)
	}
	if !has {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("agent long-term memories").
			WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
			WithField(entity.NewField().WithName(fieldSessionID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096)).
			WithField(entity.NewField().WithName(fieldMemoryType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
			WithField(entity.NewField().WithName(fieldImportance).WithDataType(entity.FieldTypeFloat)).
			WithField(entity.NewField().WithName(fieldCreateTimeMs).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))

		if err := s.c.CreateCollection(ctx, schema, 1); err != nil {
			return errors.Wrap(errors.KindStoreUnavailable, err, "create collection "+name)
		}

		vectorIdx, err := entity.NewIndexHNSW(entity.IP, hnswM, hnswEfConstruction)
		if err != nil {
			return errors.Wrap(errors.KindInternal, err, "build hnsw index spec")
		}
		if err := s.c.CreateIndex(ctx, name, fieldEmbedding, vectorIdx, false); err != nil {
			return errors.Wrap(errors.KindStoreUnavailable, err, "create vector index on "+name)
		}

		scalarIdx := entity.NewScalarIndexWithType(entity.Trie)
		if err := s.c.CreateIndex(ctx, name, fieldSessionID, scalarIdx, false); err != nil {
			return errors.Wrap(errors.KindStoreUnavailable, err, "create session_id index on "+name)
		}
		s.logger.Info("Created collection %s dim=%d", name, dim)
	}

	if err := s.c.LoadCollection(ctx, name, false); err != nil {
		return errors.Wrap(errors.KindStoreUnavailable, err, "load collection "+name)
	}
	return nil
}

func (s *MilvusStore) Insert(ctx context.Context, collection string, records []Record) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	sessionIDs := make([]string, len(records))
	contents := make([]string, len(records))
	memoryTypes := make([]string, len(records))
	importances := make([]float32, len(records))
	createTimes := make([]int64, len(records))
	vectors := make([][]float32, len(records))
	dim := len(records[0].Embedding)

	for i, r := range records {
		sessionIDs[i] = r.SessionID
		contents[i] = r.Content
		memoryTypes[i] = r.MemoryType
		importances[i] = r.Importance
		createTimes[i] = r.CreateTimeMs
		vectors[i] = r.Embedding
	}

	pks, err := s.c.Insert(ctx, collection, "",
		entity.NewColumnVarChar(fieldSessionID, sessionIDs),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnVarChar(fieldMemoryType, memoryTypes),
		entity.NewColumnFloat(fieldImportance, importances),
		entity.NewColumnInt64(fieldCreateTimeMs, createTimes),
		entity.NewColumnFloatVector(fieldEmbedding, dim, vectors),
	)
	if err != nil {
		return nil, errors.Wrap(errors.KindStoreUnavailable, err, "insert into "+collection)
	}

	idCol, ok := pks.(*entity.ColumnInt64)
	if !ok {
		return nil, errors.New(errors.KindInternal, "unexpected primary key column type")
	}
	return idCol.Data(), nil
}

func (s *MilvusStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter string) ([]Hit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(hnswSearchEf)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "build search params")
	}

	results, err := s.c.Search(ctx, collection, nil, filter, queryOutputFields,
		[]entity.Vector{entity.FloatVector(vector)}, fieldEmbedding, entity.IP, topK, sp)
	if err != nil {
		return nil, errors.Wrap(errors.KindStoreUnavailable, err, "search "+collection)
	}

	var hits []Hit
	for _, rs := range results {
		for i := 0; i < rs.ResultCount; i++ {
			rec, err := recordFromColumns(rs.Fields, i)
			if err != nil {
				return nil, err
			}
			hits = append(hits, Hit{Record: rec, Score: rs.Scores[i]})
		}
	}
	return hits, nil
}

func (s *MilvusStore) Query(ctx context.Context, collection string, filter string, offset, limit int) ([]Record, error) {
	opts := []client.SearchQueryOptionFunc{}
	if offset > 0 {
		opts = append(opts, client.WithOffset(int64(offset)))
	}
	if limit > 0 {
		opts = append(opts, client.WithLimit(int64(limit)))
	}

	rs, err := s.c.Query(ctx, collection, nil, filter, queryOutputFields, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.KindStoreUnavailable, err, "query "+collection)
	}

	n := resultSetLen(rs)
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := recordFromColumns(rs, i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *MilvusStore) Delete(ctx context.Context, collection string, filter string) error {
	if strings.TrimSpace(filter) == "" {
		return errors.New(errors.KindValidation, "refusing to delete without a filter")
	}
	if err := s.c.Delete(ctx, collection, "", filter); err != nil {
		return errors.Wrap(errors.KindStoreUnavailable, err, "delete from "+collection)
	}
	return nil
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, collection string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldID, strings.Join(parts, ", "))
	if err := s.c.Delete(ctx, collection, "", expr); err != nil {
		return errors.Wrap(errors.KindStoreUnavailable, err, "delete ids from "+collection)
	}
	return nil
}

func (s *MilvusStore) Count(ctx context.Context, collection string, filter string) (int64, error) {
	rs, err := s.c.Query(ctx, collection, nil, filter, []string{"count(*)"})
	if err != nil {
		return 0, errors.Wrap(errors.KindStoreUnavailable, err, "count "+collection)
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, errors.Wrap(errors.KindInternal, err, "read count column")
	}
	return n, nil
}

func (s *MilvusStore) Close() error {
	return s.c.Close()
}

func resultSetLen(rs client.ResultSet) int {
	if col := rs.GetColumn(fieldID); col != nil {
		return col.Len()
	}
	return 0
}

func recordFromColumns(rs client.ResultSet, i int) (Record, error) {
	var rec Record
	var err error

	if col := rs.GetColumn(fieldID); col != nil {
		if rec.ID, err = col.GetAsInt64(i); err != nil {
			return rec, errors.Wrap(errors.KindInternal, err, "read id column")
		}
	}
	if col := rs.GetColumn(fieldSessionID); col != nil {
		if rec.SessionID, err = col.GetAsString(i); err != nil {
			return rec, errors.Wrap(errors.KindInternal, err, "read session_id column")
		}
	}
	if col := rs.GetColumn(fieldContent); col != nil {
		if rec.Content, err = col.GetAsString(i); err != nil {
			return rec, errors.Wrap(errors.KindInternal, err, "read content column")
		}
	}
	if col := rs.GetColumn(fieldMemoryType); col != nil {
		if rec.MemoryType, err = col.GetAsString(i); err != nil {
			return rec, errors.Wrap(errors.KindInternal, err, "read memory_type column")
		}
	}
	if col := rs.GetColumn(fieldImportance); col != nil {
		v, err := col.GetAsDouble(i)
		if err != nil {
			return rec, errors.Wrap(errors.KindInternal, err, "read importance column")
		}
		rec.Importance = float32(v)
	}
	if col := rs.GetColumn(fieldCreateTimeMs); col != nil {
		if rec.CreateTimeMs, err = col.GetAsInt64(i); err != nil {
			return rec, errors.Wrap(errors.KindInternal, err, "read create_time_ms column")
		}
	}
	return rec, nil
}
