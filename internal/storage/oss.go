package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"chatcpg/config"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossDriver struct {
	bucket *oss.Bucket
}

func NewOSSDriver(cfg config.OSSConfig) (Driver, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
	}
	return &ossDriver{bucket: bucket}, nil
}

func (d *ossDriver) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	return d.bucket.PutObject(key, r, oss.ContentType(contentType), oss.WithContext(ctx))
}

func (d *ossDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := d.bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		var svcErr oss.ServiceError
		if errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, err
	}
	return body, nil
}

func (d *ossDriver) Delete(ctx context.Context, key string) error {
	return d.bucket.DeleteObject(key, oss.WithContext(ctx))
}

func (d *ossDriver) Name() string { return "oss" }
