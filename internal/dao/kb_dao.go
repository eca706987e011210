package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcpg/internal/model"

	"gorm.io/gorm"
)

type KnowledgeBaseDao interface {
	CreateKB(ctx context.Context, kb *model.KnowledgeBase) error                            // 创建知识库
	GetKBByID(ctx context.Context, id string) (*model.KnowledgeBase, error)                 // 获取知识库，不存在返回 nil
	GetKBByName(ctx context.Context, userID uint, name string) (*model.KnowledgeBase, error) // 按名称获取
	ListKBs(ctx context.Context, userID uint) ([]model.KnowledgeBase, error)                // 获取知识库列表
	UpdateKB(ctx context.Context, kb *model.KnowledgeBase) error                            // 更新知识库
	UpdateKBStats(ctx context.Context, id string, stats *model.KBStats) error               // 回写统计缓存
	TouchKB(ctx context.Context, id string, at time.Time) error                             // 更新最后访问时间
	DeleteKB(ctx context.Context, id string) error                                          // 删除知识库及其文档、切片
}

type kbDao struct {
	db *gorm.DB
}

func NewKnowledgeBaseDao(db *gorm.DB) KnowledgeBaseDao { return &kbDao{db: db} }

func (kd *kbDao) CreateKB(ctx context.Context, kb *model.KnowledgeBase) error {
	return kd.db.WithContext(ctx).Create(kb).Error
}

func (kd *kbDao) GetKBByID(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	kb := &model.KnowledgeBase{}
	if err := kd.db.WithContext(ctx).Where("id = ?", id).First(kb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return kb, nil
}

func (kd *kbDao) GetKBByName(ctx context.Context, userID uint, name string) (*model.KnowledgeBase, error) {
	kb := &model.KnowledgeBase{}
	err := kd.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(kb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return kb, nil
}

func (kd *kbDao) ListKBs(ctx context.Context, userID uint) ([]model.KnowledgeBase, error) {
	var kbs []model.KnowledgeBase
	if err := kd.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&kbs).Error; err != nil {
		return nil, err
	}
	return kbs, nil
}

func (kd *kbDao) UpdateKB(ctx context.Context, kb *model.KnowledgeBase) error {
	if err := kd.db.WithContext(ctx).Save(kb).Error; err != nil {
		return fmt.Errorf("更新知识库失败: %w", err)
	}
	return nil
}

func (kd *kbDao) UpdateKBStats(ctx context.Context, id string, stats *model.KBStats) error {
	return kd.db.WithContext(ctx).Model(&model.KnowledgeBase{}).Where("id = ?", id).Updates(map[string]any{
		"total_documents": stats.TotalDocuments,
		"total_size":      stats.TotalSize,
		"total_chunks":    stats.TotalChunks,
	}).Error
}

func (kd *kbDao) TouchKB(ctx context.Context, id string, at time.Time) error {
	return kd.db.WithContext(ctx).Model(&model.KnowledgeBase{}).Where("id = ?", id).
		UpdateColumn("last_accessed", at).Error
}

func (kd *kbDao) DeleteKB(ctx context.Context, id string) error {
	return kd.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("knowledge_base_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("删除切片失败: %w", err)
		}
		if err := tx.Where("knowledge_base_id = ?", id).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("删除文档失败: %w", err)
		}
		return tx.Where("id = ?", id).Delete(&model.KnowledgeBase{}).Error
	})
}
