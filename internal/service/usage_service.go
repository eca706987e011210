package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatcpg/config"
	"chatcpg/internal/dao"
	"chatcpg/internal/model"

	"github.com/redis/go-redis/v9"
)

// UsageService 上传次数与存储用量的限额检查，-1 表示不限
type UsageService interface {
	CheckUploadAllowed(ctx context.Context, userID uint) (bool, error)
	IncrementUploadUsage(ctx context.Context, userID uint) error
	CheckStorageAllowed(ctx context.Context, userID uint, size int64) (bool, error)
	// AddStorageUsage delta 为负表示释放
	AddStorageUsage(ctx context.Context, userID uint, delta int64) error
}

func currentPeriod(t time.Time) string {
	return t.Format("2006-01")
}

type usageService struct {
	usageDao dao.UsageDao
	cfg      config.UsageConfig
	now      func() time.Time
}

func NewUsageService(usageDao dao.UsageDao, cfg config.UsageConfig) UsageService {
	return &usageService{usageDao: usageDao, cfg: cfg, now: time.Now}
}

// load 读取用量，跨月时懒重置上传计数
func (s *usageService) load(ctx context.Context, userID uint) (*model.UserUsage, config.TierLimit, error) {
	period := currentPeriod(s.now())
	limit := s.cfg.Limit(s.cfg.DefaultTier)
	usage, err := s.usageDao.GetOrCreate(ctx, &model.UserUsage{
		UserID:          userID,
		Tier:            s.cfg.DefaultTier,
		Period:          period,
		FileUploadLimit: limit.FileUploads,
		StorageLimit:    limit.StorageBytes,
	})
	if err != nil {
		return nil, limit, fmt.Errorf("load usage: %w", err)
	}
	if usage.Period != period {
		if err := s.usageDao.ResetPeriod(ctx, userID, period); err != nil {
			return nil, limit, fmt.Errorf("reset usage period: %w", err)
		}
		usage.Period = period
		usage.MonthlyUploads = 0
	}
	return usage, s.cfg.Limit(usage.Tier), nil
}

func (s *usageService) CheckUploadAllowed(ctx context.Context, userID uint) (bool, error) {
	usage, limit, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return limit.FileUploads < 0 || usage.MonthlyUploads < limit.FileUploads, nil
}

func (s *usageService) IncrementUploadUsage(ctx context.Context, userID uint) error {
	if _, _, err := s.load(ctx, userID); err != nil {
		return err
	}
	return s.usageDao.IncrementUploads(ctx, userID)
}

func (s *usageService) CheckStorageAllowed(ctx context.Context, userID uint, size int64) (bool, error) {
	usage, limit, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return limit.StorageBytes < 0 || usage.StorageUsed+size <= limit.StorageBytes, nil
}

func (s *usageService) AddStorageUsage(ctx context.Context, userID uint, delta int64) error {
	if _, _, err := s.load(ctx, userID); err != nil {
		return err
	}
	return s.usageDao.AddStorage(ctx, userID, delta)
}

// redisUsageService 计数放在 redis，多实例部署时共享
type redisUsageService struct {
	client *redis.Client
	cfg    config.UsageConfig
	now    func() time.Time
}

func NewRedisUsageService(client *redis.Client, cfg config.UsageConfig) UsageService {
	return &redisUsageService{client: client, cfg: cfg, now: time.Now}
}

func uploadsKey(userID uint, period string) string {
	return fmt.Sprintf("usage:%d:uploads:%s", userID, period)
}

func storageKey(userID uint) string {
	return fmt.Sprintf("usage:%d:storage", userID)
}

func tierKey(userID uint) string {
	return fmt.Sprintf("usage:%d:tier", userID)
}

// 按月的计数 key 保留到下个月结束后自动过期
const uploadsKeyTTL = 62 * 24 * time.Hour

func (s *redisUsageService) limit(ctx context.Context, userID uint) (config.TierLimit, error) {
	tier, err := s.client.Get(ctx, tierKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return s.cfg.Limit(s.cfg.DefaultTier), nil
	}
	if err != nil {
		return config.TierLimit{}, err
	}
	return s.cfg.Limit(tier), nil
}

func (s *redisUsageService) getInt(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *redisUsageService) CheckUploadAllowed(ctx context.Context, userID uint) (bool, error) {
	limit, err := s.limit(ctx, userID)
	if err != nil {
		return false, err
	}
	if limit.FileUploads < 0 {
		return true, nil
	}
	n, err := s.getInt(ctx, uploadsKey(userID, currentPeriod(s.now())))
	if err != nil {
		return false, err
	}
	return n < int64(limit.FileUploads), nil
}

func (s *redisUsageService) IncrementUploadUsage(ctx context.Context, userID uint) error {
	key := uploadsKey(userID, currentPeriod(s.now()))
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, uploadsKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisUsageService) CheckStorageAllowed(ctx context.Context, userID uint, size int64) (bool, error) {
	limit, err := s.limit(ctx, userID)
	if err != nil {
		return false, err
	}
	if limit.StorageBytes < 0 {
		return true, nil
	}
	used, err := s.getInt(ctx, storageKey(userID))
	if err != nil {
		return false, err
	}
	return used+size <= limit.StorageBytes, nil
}

func (s *redisUsageService) AddStorageUsage(ctx context.Context, userID uint, delta int64) error {
	v, err := s.client.IncrBy(ctx, storageKey(userID), delta).Result()
	if err != nil {
		return err
	}
	if v < 0 {
		return s.client.Set(ctx, storageKey(userID), 0, 0).Err()
	}
	return nil
}
