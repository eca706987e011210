package dao

import (
	"context"

	"chatcpg/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageDao interface {
	// GetOrCreate 不存在时按 init 创建
	GetOrCreate(ctx context.Context, init *model.UserUsage) (*model.UserUsage, error)
	// ResetPeriod 跨月时清零上传计数
	ResetPeriod(ctx context.Context, userID uint, period string) error
	IncrementUploads(ctx context.Context, userID uint) error
	// AddStorage delta 可为负，结果不小于 0
	AddStorage(ctx context.Context, userID uint, delta int64) error
}

type usageDao struct {
	db *gorm.DB
}

func NewUsageDao(db *gorm.DB) UsageDao { return &usageDao{db: db} }

func (u *usageDao) GetOrCreate(ctx context.Context, init *model.UserUsage) (*model.UserUsage, error) {
	db := u.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(init).Error; err != nil {
		return nil, err
	}
	usage := &model.UserUsage{}
	if err := db.Where("user_id = ?", init.UserID).First(usage).Error; err != nil {
		return nil, err
	}
	return usage, nil
}

func (u *usageDao) ResetPeriod(ctx context.Context, userID uint, period string) error {
	return u.db.WithContext(ctx).Model(&model.UserUsage{}).
		Where("user_id = ? AND period <> ?", userID, period).
		Updates(map[string]any{"period": period, "monthly_uploads": 0}).Error
}

func (u *usageDao) IncrementUploads(ctx context.Context, userID uint) error {
	return u.db.WithContext(ctx).Model(&model.UserUsage{}).Where("user_id = ?", userID).
		UpdateColumn("monthly_uploads", gorm.Expr("monthly_uploads + 1")).Error
}

func (u *usageDao) AddStorage(ctx context.Context, userID uint, delta int64) error {
	return u.db.WithContext(ctx).Model(&model.UserUsage{}).Where("user_id = ?", userID).
		UpdateColumn("storage_used", gorm.Expr("CASE WHEN storage_used + ? < 0 THEN 0 ELSE storage_used + ? END", delta, delta)).Error
}
