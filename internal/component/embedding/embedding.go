package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatcpg/config"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ErrNotConfigured 未配置向量模型（例如缺少 api key）
var ErrNotConfigured = errors.New("embedding provider not configured")

type EmbeddingOption func(*EmbeddingOptions)

type EmbeddingOptions struct {
	Timeout *time.Duration
}

func WithTimeout(timeout time.Duration) EmbeddingOption {
	return func(o *EmbeddingOptions) {
		o.Timeout = &timeout
	}
}

// EmbeddingService 向量嵌入服务的通用接口
type EmbeddingService interface {
	einoEmbedding.Embedder
	// GetDimension 返回嵌入向量的维度
	GetDimension() int
	// ModelName 返回模型名称，记录在切片上
	ModelName() string
}

type factory func(ctx context.Context, cfg config.EmbeddingConfig, options *EmbeddingOptions) (EmbeddingService, error)

var factories = make(map[string]factory)

func register(name string, f factory) {
	factories[name] = f
}

// NewEmbeddingService 按 cfg.Server 创建向量服务
func NewEmbeddingService(ctx context.Context, cfg config.EmbeddingConfig, opts ...EmbeddingOption) (EmbeddingService, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("embedding config server is empty")
	}

	options := &EmbeddingOptions{}
	if cfg.Timeout > 0 {
		options.Timeout = &cfg.Timeout
	}
	for _, opt := range opts {
		opt(options)
	}

	f, ok := factories[cfg.Server]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Server)
	}
	svc, err := f(ctx, cfg, options)
	if err != nil {
		return nil, err
	}
	return &checked{EmbeddingService: svc}, nil
}

// checked 校验返回数量与维度，维度不一致的向量写入索引会失败
type checked struct {
	EmbeddingService
}

func (c *checked) EmbedStrings(ctx context.Context, texts []string, opts ...einoEmbedding.Option) ([][]float64, error) {
	vectors, err := c.EmbeddingService.EmbedStrings(ctx, texts, opts...)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch, got=%d, expected=%d", len(vectors), len(texts))
	}
	if dim := c.GetDimension(); dim > 0 {
		for i, v := range vectors {
			if len(v) != dim {
				return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), dim)
			}
		}
	}
	return vectors, nil
}

// Provider 按模型名获取向量服务，知识库可以指定自己的模型
type Provider interface {
	Available() bool
	DefaultModel() string
	Get(ctx context.Context, model string) (EmbeddingService, error)
}

type provider struct {
	base  config.EmbeddingConfig
	opts  []EmbeddingOption
	mu    sync.Mutex
	cache map[string]EmbeddingService
}

// NewProvider 缓存每个模型的客户端
func NewProvider(cfg config.EmbeddingConfig, opts ...EmbeddingOption) Provider {
	return &provider{base: cfg, opts: opts, cache: make(map[string]EmbeddingService)}
}

func (p *provider) Available() bool {
	if _, ok := factories[p.base.Server]; !ok {
		return false
	}
	// openai 兼容接口必须有 key，ollama 本地部署不需要
	return p.base.Server != ProviderOpenAI || p.base.APIKey != ""
}

func (p *provider) DefaultModel() string { return p.base.Model }

func (p *provider) Get(ctx context.Context, model string) (EmbeddingService, error) {
	if !p.Available() {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = p.base.Model
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if svc, ok := p.cache[model]; ok {
		return svc, nil
	}
	cfg := p.base
	cfg.Model = model
	svc, err := NewEmbeddingService(ctx, cfg, p.opts...)
	if err != nil {
		return nil, err
	}
	p.cache[model] = svc
	return svc, nil
}
