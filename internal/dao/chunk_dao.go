package dao

import (
	"context"
	"errors"
	"time"

	"chatcpg/internal/model"

	"gorm.io/gorm"
)

type ChunkDao interface {
	GetChunkByID(ctx context.Context, id string) (*model.Chunk, error)
	ListByDocument(ctx context.Context, docID string, limit int) ([]model.Chunk, error)
	// ListUnembedded 尚未写入向量索引的切片，按序号排列
	ListUnembedded(ctx context.Context, docID string) ([]model.Chunk, error)
	// SetVectorID 切片已被删除时返回 false
	SetVectorID(ctx context.Context, chunkID, vectorID, embeddingModel string, at time.Time) (bool, error)
	VectorIDsByDocument(ctx context.Context, docID string) ([]string, error)
	VectorIDsByKB(ctx context.Context, kbID string) ([]string, error)
	CountByUser(ctx context.Context, userID uint) (total int64, embedded int64, err error)
}

type chunkDao struct {
	db *gorm.DB
}

func NewChunkDao(db *gorm.DB) ChunkDao { return &chunkDao{db: db} }

func (c *chunkDao) GetChunkByID(ctx context.Context, id string) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(chunk).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return chunk, nil
}

func (c *chunkDao) ListByDocument(ctx context.Context, docID string, limit int) ([]model.Chunk, error) {
	var chunks []model.Chunk
	query := c.db.WithContext(ctx).Where("document_id = ?", docID).Order("chunk_index asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *chunkDao) ListUnembedded(ctx context.Context, docID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := c.db.WithContext(ctx).
		Where("document_id = ? AND (vector_id = '' OR vector_id IS NULL)", docID).
		Order("chunk_index asc").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *chunkDao) SetVectorID(ctx context.Context, chunkID, vectorID, embeddingModel string, at time.Time) (bool, error) {
	res := c.db.WithContext(ctx).Model(&model.Chunk{}).Where("id = ?", chunkID).Updates(map[string]any{
		"vector_id":       vectorID,
		"embedding_model": embeddingModel,
		"embedded_at":     at,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (c *chunkDao) VectorIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	var ids []string
	err := c.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("document_id = ? AND vector_id <> ''", docID).
		Pluck("vector_id", &ids).Error
	return ids, err
}

func (c *chunkDao) VectorIDsByKB(ctx context.Context, kbID string) ([]string, error) {
	var ids []string
	err := c.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("knowledge_base_id = ? AND vector_id <> ''", kbID).
		Pluck("vector_id", &ids).Error
	return ids, err
}

func (c *chunkDao) CountByUser(ctx context.Context, userID uint) (int64, int64, error) {
	var total, embedded int64
	db := c.db.WithContext(ctx)
	if err := db.Model(&model.Chunk{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := db.Model(&model.Chunk{}).Where("user_id = ? AND vector_id <> ''", userID).Count(&embedded).Error; err != nil {
		return 0, 0, err
	}
	return total, embedded, nil
}
