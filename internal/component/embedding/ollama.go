package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chatcpg/config"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"github.com/ollama/ollama/api"
)

func init() {
	register(ProviderOllama, newOllamaEmbedder)
}

var (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaTimeout = 10 * time.Minute
	defaultOllamaModel   = "nomic-embed-text:latest"
)

type ollamaEmbedder struct {
	cli       *api.Client
	model     string
	dimension int
}

func newOllamaEmbedder(_ context.Context, cfg config.EmbeddingConfig, options *EmbeddingOptions) (EmbeddingService, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	timeout := defaultOllamaTimeout
	if options.Timeout != nil {
		timeout = *options.Timeout
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &ollamaEmbedder{
		cli:       api.NewClient(baseURL, &http.Client{Timeout: timeout}),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

func (o *ollamaEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...einoEmbedding.Option) ([][]float64, error) {
	resp, err := o.cli.Embed(ctx, &api.EmbedRequest{
		Model: o.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float64, len(resp.Embeddings))
	for i, d := range resp.Embeddings {
		res := make([]float64, len(d))
		for j, emb := range d {
			res[j] = float64(emb)
		}
		embeddings[i] = res
	}
	return embeddings, nil
}

func (o *ollamaEmbedder) GetDimension() int { return o.dimension }

func (o *ollamaEmbedder) ModelName() string { return o.model }
