package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"chatcpg/config"
	"chatcpg/internal/component/embedding"
	"chatcpg/internal/component/indexer"
	"chatcpg/internal/dao"
	"chatcpg/internal/model"
	"chatcpg/internal/utils"

	"golang.org/x/sync/errgroup"
)

// EmbedResult 一次向量化的结果，失败的切片保留为未向量化，可重试
type EmbedResult struct {
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

type VectorService interface {
	Available() bool
	Backend() string
	// EmbedDocument 向量化文档中尚无向量ID的切片
	EmbedDocument(ctx context.Context, doc *model.Document, embeddingModel string) (*EmbedResult, error)
	// Query 返回按分数降序、不低于阈值的匹配
	Query(ctx context.Context, userID uint, kbID, query, embeddingModel string, topK int, threshold float64) ([]indexer.Match, error)
	DeleteDocumentVectors(ctx context.Context, docID string) error
	DeleteKBVectors(ctx context.Context, kbID string) error
	Stats(ctx context.Context, userID uint) (*model.VectorStats, error)
}

type vectorService struct {
	chunkDao    dao.ChunkDao
	provider    embedding.Provider
	index       indexer.VectorIndex
	cfg         config.RAGConfig
	callTimeout time.Duration
}

func NewVectorService(chunkDao dao.ChunkDao, provider embedding.Provider, index indexer.VectorIndex, cfg config.RAGConfig, callTimeout time.Duration) VectorService {
	if index == nil {
		index = indexer.NewDisabled()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 10
	}
	if cfg.VectorPreview <= 0 {
		cfg.VectorPreview = 200
	}
	return &vectorService{
		chunkDao:    chunkDao,
		provider:    provider,
		index:       index,
		cfg:         cfg,
		callTimeout: callTimeout,
	}
}

func (s *vectorService) Available() bool {
	return s.provider != nil && s.provider.Available() && s.index.Available()
}

func (s *vectorService) Backend() string { return s.index.Name() }

// callCtx 每次外部调用单独限时
func (s *vectorService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(ctx, s.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *vectorService) EmbedDocument(ctx context.Context, doc *model.Document, embeddingModel string) (*EmbedResult, error) {
	res := &EmbedResult{}
	if !s.Available() {
		log.Printf("[VectorService] vector search unavailable, skip embedding document %s", doc.ID)
		return res, nil
	}
	emb, err := s.provider.Get(ctx, embeddingModel)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	chunks, err := s.chunkDao.ListUnembedded(ctx, doc.ID)
	if err != nil {
		return res, fmt.Errorf("list unembedded chunks: %w", err)
	}

	for start := 0; start < len(chunks); start += s.cfg.EmbedBatchSize {
		end := min(start+s.cfg.EmbedBatchSize, len(chunks))
		embedded, failed := s.embedBatch(ctx, emb, chunks[start:end])
		res.Embedded += embedded
		res.Failed += failed
	}

	if res.Failed > 0 {
		return res, fmt.Errorf("%w: %d of %d chunks of document %s", ErrEmbeddingFailed, res.Failed, len(chunks), doc.ID)
	}
	log.Printf("[VectorService] document %s embedded %d chunks", doc.ID, res.Embedded)
	return res, nil
}

// embedBatch 批内并发，每个切片的结果互不影响
func (s *vectorService) embedBatch(ctx context.Context, emb embedding.EmbeddingService, batch []model.Chunk) (embedded int, failed int) {
	vectors := make([][]float64, len(batch))
	errs := make([]error, len(batch))

	var g errgroup.Group
	for i := range batch {
		g.Go(func() error {
			cctx, cancel := s.callCtx(ctx)
			defer cancel()
			out, err := emb.EmbedStrings(cctx, []string{batch[i].Content})
			if err != nil {
				errs[i] = err
				return nil
			}
			if len(out) != 1 {
				errs[i] = fmt.Errorf("expected 1 vector, got %d", len(out))
				return nil
			}
			vectors[i] = out[0]
			return nil
		})
	}
	_ = g.Wait()

	records := make([]indexer.Record, 0, len(batch))
	ready := make([]*model.Chunk, 0, len(batch))
	for i := range batch {
		c := &batch[i]
		if errs[i] != nil {
			log.Printf("[VectorService] embed chunk %s (document %s, index %d) failed: %v", c.ID, c.DocumentID, c.ChunkIndex, errs[i])
			failed++
			continue
		}
		records = append(records, indexer.Record{
			ID:     indexer.VectorID(c.UserID, c.DocumentID, c.ID),
			Vector: utils.ConvertFloat64ToFloat32Embedding(vectors[i]),
			Metadata: indexer.Metadata{
				UserID:          c.UserID,
				DocumentID:      c.DocumentID,
				KnowledgeBaseID: c.KnowledgeBaseID,
				ChunkID:         c.ID,
				ChunkIndex:      c.ChunkIndex,
				ContentLength:   c.ContentLength,
				ContentPreview:  truncateRunes(c.Content, s.cfg.VectorPreview),
			},
		})
		ready = append(ready, c)
	}
	if len(records) == 0 {
		return 0, failed
	}

	uctx, cancel := s.callCtx(ctx)
	err := s.index.Upsert(uctx, records)
	cancel()
	if err != nil {
		log.Printf("[VectorService] upsert %d vectors failed: %v", len(records), err)
		return 0, failed + len(records)
	}

	now := time.Now()
	var orphans []string
	for i, c := range ready {
		ok, err := s.chunkDao.SetVectorID(ctx, c.ID, records[i].ID, emb.ModelName(), now)
		if err != nil {
			// 向量已写入，下次重试会以相同ID覆盖
			log.Printf("[VectorService] save vector id for chunk %s failed: %v", c.ID, err)
			failed++
			continue
		}
		if !ok {
			// 向量化期间文档或知识库已被删除
			orphans = append(orphans, records[i].ID)
			continue
		}
		embedded++
	}
	if len(orphans) > 0 {
		if err := s.deleteVectors(ctx, orphans); err != nil {
			log.Printf("[VectorService] delete %d vectors of removed chunks failed: %v", len(orphans), err)
		}
	}
	return embedded, failed
}

func (s *vectorService) Query(ctx context.Context, userID uint, kbID, query, embeddingModel string, topK int, threshold float64) ([]indexer.Match, error) {
	if !s.Available() {
		return nil, ErrIndexUnavailable
	}
	emb, err := s.provider.Get(ctx, embeddingModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	cctx, cancel := s.callCtx(ctx)
	vectors, err := emb.EmbedStrings(cctx, []string{query})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: invalid return length of vector, got=%d, expected=1", ErrEmbeddingFailed, len(vectors))
	}

	qctx, cancel := s.callCtx(ctx)
	matches, err := s.index.Query(qctx, utils.ConvertFloat64ToFloat32Embedding(vectors[0]), topK, indexer.Filter{
		UserID:          userID,
		KnowledgeBaseID: kbID,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := matches[:0]
	for _, m := range matches {
		if m.Metadata.UserID != userID || m.Score < threshold {
			continue
		}
		out = append(out, m)
	}
	// 稳定排序，同分保持索引返回的顺序
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *vectorService) deleteVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 || !s.index.Available() {
		return nil
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	return s.index.Delete(cctx, ids)
}

func (s *vectorService) DeleteDocumentVectors(ctx context.Context, docID string) error {
	ids, err := s.chunkDao.VectorIDsByDocument(ctx, docID)
	if err != nil {
		return err
	}
	return s.deleteVectors(ctx, ids)
}

func (s *vectorService) DeleteKBVectors(ctx context.Context, kbID string) error {
	ids, err := s.chunkDao.VectorIDsByKB(ctx, kbID)
	if err != nil {
		return err
	}
	return s.deleteVectors(ctx, ids)
}

func (s *vectorService) Stats(ctx context.Context, userID uint) (*model.VectorStats, error) {
	total, embedded, err := s.chunkDao.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := &model.VectorStats{
		Available:      s.Available(),
		Backend:        s.index.Name(),
		EmbeddedChunks: embedded,
		TotalChunks:    total,
	}
	if s.provider != nil {
		stats.Model = s.provider.DefaultModel()
	}
	return stats, nil
}
