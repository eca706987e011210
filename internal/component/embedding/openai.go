package embedding

import (
	"context"
	"strings"
	"time"

	"chatcpg/config"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

func init() {
	register(ProviderOpenAI, newOpenAIEmbedder)
}

var defaultOpenAITimeout = 30 * time.Second

type openaiEmbedder struct {
	model     string
	dimension int
	embedder  *openai.Embedder
}

func newOpenAIEmbedder(ctx context.Context, cfg config.EmbeddingConfig, options *EmbeddingOptions) (EmbeddingService, error) {
	timeout := defaultOpenAITimeout
	if options.Timeout != nil {
		timeout = *options.Timeout
	}

	conf := &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: timeout,
	}
	// ada-002 不接受 dimensions 参数
	if cfg.Dimension > 0 && strings.HasPrefix(cfg.Model, "text-embedding-3") {
		dim := cfg.Dimension
		conf.Dimensions = &dim
	}

	embedder, err := openai.NewEmbedder(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &openaiEmbedder{
		model:     cfg.Model,
		dimension: cfg.Dimension,
		embedder:  embedder,
	}, nil
}

func (o *openaiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	return o.embedder.EmbedStrings(ctx, texts, opts...)
}

func (o *openaiEmbedder) GetDimension() int { return o.dimension }

func (o *openaiEmbedder) ModelName() string { return o.model }
