package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"chatcpg/config"
)

var ErrObjectNotFound = errors.New("object not found")

// Driver 上传文件的存储后端，key 使用 "/" 分隔
type Driver interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// ObjectKey 按用户分目录，文件名为生成的ID，原始文件名只记录在文档上
func ObjectKey(userID uint, id string, ext string) string {
	return path.Join(fmt.Sprintf("%d", userID), id+"."+ext)
}

// NewDriver 根据配置创建存储后端
func NewDriver(ctx context.Context, cfg config.StorageConfig) (Driver, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalDriver(cfg.Local.BaseDir)
	case "minio":
		return NewMinioDriver(ctx, cfg.Minio)
	case "oss":
		return NewOSSDriver(cfg.OSS)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
