package database

import (
	"context"
	"fmt"

	"chatcpg/config"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
)

// InitMilvus 初始化
func InitMilvus(ctx context.Context, cfg config.MilvusConfig) (client.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("milvus address is empty")
	}
	milvusClient, err := client.NewClient(ctx, client.Config{
		Address: cfg.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接到Milvus: %w", err)
	}

	return milvusClient, nil
}
