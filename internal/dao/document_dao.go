package dao

import (
	"context"
	"errors"
	"fmt"

	"chatcpg/internal/model"

	"gorm.io/gorm"
)

// ErrStatusConflict 写入处理结果时文档已不在 processing 状态（被删除或并发处理）
var ErrStatusConflict = errors.New("document status changed concurrently")

type DocumentDao interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocumentByID(ctx context.Context, id string) (*model.Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]*model.Document, error)
	// ListDocuments status 为空时不返回已删除的文档
	ListDocuments(ctx context.Context, kbID string, status model.DocumentStatus, limit, offset int) ([]model.Document, int64, error)
	RecentDocuments(ctx context.Context, kbID string, n int) ([]model.Document, error)
	ListAllByKB(ctx context.Context, kbID string) ([]model.Document, error)
	// ListByStatus 按上传时间升序，用于启动时恢复未完成的任务
	ListByStatus(ctx context.Context, status model.DocumentStatus, limit int) ([]model.Document, error)
	// TransitionStatus 仅当当前状态属于 from 时更新，返回是否更新成功
	TransitionStatus(ctx context.Context, id string, from []model.DocumentStatus, to model.DocumentStatus, fields map[string]any) (bool, error)
	// MarkKBDeleted 把知识库下未删除的文档标记为 deleted，返回更新数量
	MarkKBDeleted(ctx context.Context, kbID string) (int64, error)
	// SaveProcessingResult 在一个事务里替换切片并把文档标记为完成
	SaveProcessingResult(ctx context.Context, docID string, updates map[string]any, chunks []model.Chunk) error
	DeleteDocument(ctx context.Context, id string) error
	StatsByKB(ctx context.Context, kbID string) (*model.KBStats, error)
}

type documentDao struct {
	db *gorm.DB
}

func NewDocumentDao(db *gorm.DB) DocumentDao { return &documentDao{db: db} }

func (d *documentDao) CreateDocument(ctx context.Context, doc *model.Document) error {
	return d.db.WithContext(ctx).Create(doc).Error
}

func (d *documentDao) GetDocumentByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

func (d *documentDao) GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]*model.Document, error) {
	out := make(map[string]*model.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var docs []model.Document
	if err := d.db.WithContext(ctx).Omit("content").Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, err
	}
	for i := range docs {
		out[docs[i].ID] = &docs[i]
	}
	return out, nil
}

func (d *documentDao) ListDocuments(ctx context.Context, kbID string, status model.DocumentStatus, limit, offset int) ([]model.Document, int64, error) {
	query := d.db.WithContext(ctx).Model(&model.Document{}).Where("knowledge_base_id = ?", kbID)
	if status != "" {
		query = query.Where("status = ?", status)
	} else {
		query = query.Where("status <> ?", model.StatusDeleted)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var docs []model.Document
	if err := query.Omit("content").Order("uploaded_at desc").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (d *documentDao) RecentDocuments(ctx context.Context, kbID string, n int) ([]model.Document, error) {
	docs, _, err := d.ListDocuments(ctx, kbID, "", n, 0)
	return docs, err
}

func (d *documentDao) ListByStatus(ctx context.Context, status model.DocumentStatus, limit int) ([]model.Document, error) {
	var docs []model.Document
	err := d.db.WithContext(ctx).Omit("content").
		Where("status = ?", status).
		Order("uploaded_at ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

func (d *documentDao) ListAllByKB(ctx context.Context, kbID string) ([]model.Document, error) {
	var docs []model.Document
	if err := d.db.WithContext(ctx).Omit("content").Where("knowledge_base_id = ?", kbID).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("获取文档失败: %w", err)
	}
	return docs, nil
}

func (d *documentDao) TransitionStatus(ctx context.Context, id string, from []model.DocumentStatus, to model.DocumentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := d.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *documentDao) MarkKBDeleted(ctx context.Context, kbID string) (int64, error) {
	res := d.db.WithContext(ctx).Model(&model.Document{}).
		Where("knowledge_base_id = ? AND status <> ?", kbID, model.StatusDeleted).
		Update("status", model.StatusDeleted)
	return res.RowsAffected, res.Error
}

func (d *documentDao) SaveProcessingResult(ctx context.Context, docID string, updates map[string]any, chunks []model.Chunk) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("删除旧切片失败: %w", err)
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
				return fmt.Errorf("保存切片失败: %w", err)
			}
		}
		fields := map[string]any{"status": model.StatusCompleted}
		for k, v := range updates {
			fields[k] = v
		}
		res := tx.Model(&model.Document{}).
			Where("id = ? AND status = ?", docID, model.StatusProcessing).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrStatusConflict
		}
		return nil
	})
}

func (d *documentDao) DeleteDocument(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("删除切片失败: %w", err)
		}
		return tx.Where("id = ?", id).Delete(&model.Document{}).Error
	})
}

func (d *documentDao) StatsByKB(ctx context.Context, kbID string) (*model.KBStats, error) {
	var rows []struct {
		Status model.DocumentStatus
		Count  int64
		Size   int64
	}
	err := d.db.WithContext(ctx).Model(&model.Document{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS size").
		Where("knowledge_base_id = ?", kbID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &model.KBStats{StatusBreakdown: make(map[model.DocumentStatus]int64)}
	for _, r := range rows {
		stats.StatusBreakdown[r.Status] = r.Count
		if r.Status == model.StatusDeleted {
			continue
		}
		stats.TotalDocuments += r.Count
		stats.TotalSize += r.Size
	}
	stats.ProcessingDocuments = stats.StatusBreakdown[model.StatusProcessing] + stats.StatusBreakdown[model.StatusPending]
	stats.FailedDocuments = stats.StatusBreakdown[model.StatusFailed]

	if err := d.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("knowledge_base_id = ?", kbID).
		Count(&stats.TotalChunks).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
