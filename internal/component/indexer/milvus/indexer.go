package milvus

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"chatcpg/config"
	"chatcpg/internal/component/indexer"
	"chatcpg/pkgs/consts"

	"github.com/bytedance/sonic"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const shardNum int32 = 1

type MilvusIndexer struct {
	client client.Client
	config config.MilvusConfig
}

// NewMilvusIndexer 创建索引，集合不存在时建表、建索引并加载
func NewMilvusIndexer(ctx context.Context, cli client.Client, conf config.MilvusConfig) (*MilvusIndexer, error) {
	if cli == nil {
		return nil, fmt.Errorf("[NewMilvusIndexer] milvus client is nil")
	}
	if conf.CollectionName == "" {
		return nil, fmt.Errorf("[NewMilvusIndexer] collection is empty")
	}
	if conf.VectorDimension <= 0 {
		return nil, fmt.Errorf("[NewMilvusIndexer] invalid vector dimension %d", conf.VectorDimension)
	}
	m := &MilvusIndexer{client: cli, config: conf}
	if err := m.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MilvusIndexer) ensureCollection(ctx context.Context) error {
	name := m.config.CollectionName
	exists, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("[Milvus] check collection failed: %w", err)
	}
	if !exists {
		log.Printf("[Milvus] collection %s not exists, creating", name)
		if err := m.client.CreateCollection(ctx, collectionSchema(m.config), shardNum); err != nil {
			return fmt.Errorf("[Milvus] create collection failed: %w", err)
		}
		idx, err := m.config.GetMilvusIndex()
		if err != nil {
			return fmt.Errorf("[Milvus] build index param failed: %w", err)
		}
		if err := m.client.CreateIndex(ctx, name, consts.FieldNameVector, idx, false); err != nil {
			return fmt.Errorf("[Milvus] create index failed: %w", err)
		}
	}

	// 检查是否load，没load的话load
	collection, err := m.client.DescribeCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("[Milvus] describe collection failed: %w", err)
	}
	if !collection.Loaded {
		if err := m.client.LoadCollection(ctx, name, false); err != nil {
			return fmt.Errorf("[Milvus] load collection failed: %w", err)
		}
	}
	return nil
}

func collectionSchema(conf config.MilvusConfig) *entity.Schema {
	return entity.NewSchema().
		WithName(conf.CollectionName).
		WithDescription("knowledge base chunk vectors").
		WithField(entity.NewField().WithName(consts.FieldNameID).WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).WithMaxLength(maxLength(conf.IDMaxLength, 256))).
		WithField(entity.NewField().WithName(consts.FieldNameUserID).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(consts.FieldNameKBID).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxLength(conf.KbIDMaxLength, 64))).
		WithField(entity.NewField().WithName(consts.FieldNameDocumentID).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxLength(conf.DocIDMaxLength, 64))).
		WithField(entity.NewField().WithName(consts.FieldNameVector).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(conf.VectorDimension))).
		WithField(entity.NewField().WithName(consts.FieldNameMetadata).WithDataType(entity.FieldTypeJSON))
}

func maxLength(v, def int) int64 {
	if v <= 0 {
		return int64(def)
	}
	return int64(v)
}

func (m *MilvusIndexer) Available() bool { return true }

func (m *MilvusIndexer) Name() string { return "milvus" }

func (m *MilvusIndexer) Upsert(ctx context.Context, records []indexer.Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	userIDs := make([]int64, 0, len(records))
	kbIDs := make([]string, 0, len(records))
	docIDs := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	metas := make([][]byte, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != m.config.VectorDimension {
			return fmt.Errorf("[Milvus] vector %s has dimension %d, expected %d", r.ID, len(r.Vector), m.config.VectorDimension)
		}
		meta, err := sonic.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("[Milvus] marshal metadata failed: %w", err)
		}
		ids = append(ids, r.ID)
		userIDs = append(userIDs, int64(r.Metadata.UserID))
		kbIDs = append(kbIDs, r.Metadata.KnowledgeBaseID)
		docIDs = append(docIDs, r.Metadata.DocumentID)
		vectors = append(vectors, r.Vector)
		metas = append(metas, meta)
	}

	_, err := m.client.Upsert(ctx, m.config.CollectionName, "",
		entity.NewColumnVarChar(consts.FieldNameID, ids),
		entity.NewColumnInt64(consts.FieldNameUserID, userIDs),
		entity.NewColumnVarChar(consts.FieldNameKBID, kbIDs),
		entity.NewColumnVarChar(consts.FieldNameDocumentID, docIDs),
		entity.NewColumnFloatVector(consts.FieldNameVector, m.config.VectorDimension, vectors),
		entity.NewColumnJSONBytes(consts.FieldNameMetadata, metas),
	)
	if err != nil {
		return fmt.Errorf("[Milvus] upsert failed: %w", err)
	}
	return nil
}

func (m *MilvusIndexer) Query(ctx context.Context, vector []float32, topK int, filter indexer.Filter) ([]indexer.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	sp, err := m.searchParam()
	if err != nil {
		return nil, err
	}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		[]string{},
		FilterExpr(filter),
		consts.SearchFields,
		[]entity.Vector{entity.FloatVector(vector)},
		consts.FieldNameVector,
		m.config.GetMetricType(),
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("[Milvus] search failed: %w", err)
	}

	var matches []indexer.Match
	for _, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("[Milvus] search result has error: %w", result.Err)
		}
		converted, err := convertResult(result)
		if err != nil {
			return nil, err
		}
		matches = append(matches, converted...)
	}
	return matches, nil
}

func (m *MilvusIndexer) searchParam() (entity.SearchParam, error) {
	switch m.config.IndexType {
	case "HNSW":
		ef := m.config.Nprobe
		if ef <= 0 {
			ef = 64
		}
		return entity.NewIndexHNSWSearchParam(ef)
	case "FLAT":
		return entity.NewIndexFlatSearchParam()
	default:
		nprobe := m.config.Nprobe
		if nprobe <= 0 {
			nprobe = 16
		}
		return entity.NewIndexIvfFlatSearchParam(nprobe)
	}
}

// convertResult 结果顺序即 milvus 返回顺序（相似度降序）
func convertResult(result client.SearchResult) ([]indexer.Match, error) {
	if result.IDs == nil || result.ResultCount == 0 {
		return nil, nil
	}
	metaCol := result.Fields.GetColumn(consts.FieldNameMetadata)
	if metaCol == nil {
		return nil, fmt.Errorf("[Milvus] search result has no metadata field")
	}

	matches := make([]indexer.Match, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		id, err := result.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("[Milvus] failed to get id: %w", err)
		}
		val, err := metaCol.Get(i)
		if err != nil {
			return nil, fmt.Errorf("[Milvus] failed to get metadata: %w", err)
		}
		raw, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("metadata field is not []byte")
		}
		var meta indexer.Metadata
		if err := sonic.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata failed: %w", err)
		}
		matches = append(matches, indexer.Match{ID: id, Score: float64(result.Scores[i]), Metadata: meta})
	}
	return matches, nil
}

func (m *MilvusIndexer) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.client.Delete(ctx, m.config.CollectionName, "", IDsExpr(ids)); err != nil {
		return fmt.Errorf("[Milvus] delete vectors failed: %w", err)
	}
	return nil
}

// FilterExpr 构造检索过滤表达式，用户条件始终存在
func FilterExpr(filter indexer.Filter) string {
	expr := fmt.Sprintf("%s == %d", consts.FieldNameUserID, filter.UserID)
	if filter.KnowledgeBaseID != "" {
		expr += fmt.Sprintf(" && %s == %s", consts.FieldNameKBID, strconv.Quote(filter.KnowledgeBaseID))
	}
	return expr
}

func IDsExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", consts.FieldNameID, strings.Join(quoted, ","))
}
