package indexer

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable 向量索引未配置
var ErrUnavailable = errors.New("vector index unavailable")

// Metadata 随向量一起写入索引，检索时无需回表即可组装结果
type Metadata struct {
	UserID          uint   `json:"user_id"`
	DocumentID      string `json:"document_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	ChunkID         string `json:"chunk_id"`
	ChunkIndex      int    `json:"chunk_index"`
	ContentLength   int    `json:"content_length"`
	ContentPreview  string `json:"content_preview"`
}

type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Filter UserID 必填，所有查询都按用户隔离
type Filter struct {
	UserID          uint
	KnowledgeBaseID string
}

type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// VectorIndex 向量索引的统一接口
type VectorIndex interface {
	Available() bool
	Name() string
	Upsert(ctx context.Context, records []Record) error
	// Query 返回按相似度降序排列的结果
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
}

// VectorID 由用户、文档、切片组成，重复写入同一切片时覆盖而不是新增
func VectorID(userID uint, documentID, chunkID string) string {
	return fmt.Sprintf("%d_%s_%s", userID, documentID, chunkID)
}

type disabled struct{}

// NewDisabled 未配置向量库时使用，所有操作返回 ErrUnavailable
func NewDisabled() VectorIndex { return disabled{} }

func (disabled) Available() bool { return false }
func (disabled) Name() string    { return "none" }

func (disabled) Upsert(context.Context, []Record) error { return ErrUnavailable }

func (disabled) Query(context.Context, []float32, int, Filter) ([]Match, error) {
	return nil, ErrUnavailable
}

func (disabled) Delete(context.Context, []string) error { return ErrUnavailable }
