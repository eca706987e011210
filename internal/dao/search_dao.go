package dao

import (
	"context"

	"chatcpg/internal/model"

	"gorm.io/gorm"
)

// SearchQueryDao 检索审计日志
type SearchQueryDao interface {
	CreateSearchQuery(ctx context.Context, q *model.SearchQuery) error
}

type searchQueryDao struct {
	db *gorm.DB
}

func NewSearchQueryDao(db *gorm.DB) SearchQueryDao { return &searchQueryDao{db: db} }

func (s *searchQueryDao) CreateSearchQuery(ctx context.Context, q *model.SearchQuery) error {
	return s.db.WithContext(ctx).Create(q).Error
}
