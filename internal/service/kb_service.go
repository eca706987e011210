package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"chatcpg/config"
	"chatcpg/internal/component/chunker"
	"chatcpg/internal/dao"
	"chatcpg/internal/model"
	"chatcpg/internal/storage"
	"chatcpg/internal/utils"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
)

const (
	maxSearchTopK     = 100
	detailChunkLimit  = 10
	searchQueryType   = "semantic"
	auditWriteTimeout = 5 * time.Second
)

type KBService interface {
	CreateKB(ctx context.Context, userID uint, req *model.CreateKBRequest) (*model.KnowledgeBase, error) // 创建知识库
	ListKBs(ctx context.Context, userID uint) ([]model.KnowledgeBase, error)                            // 获取知识库列表，统计实时重算
	GetKB(ctx context.Context, userID uint, kbID string) (*model.KBDetail, error)                        // 知识库详情
	UpdateKB(ctx context.Context, userID uint, kbID string, req *model.UpdateKBRequest) (*model.KnowledgeBase, error)
	DeleteKB(ctx context.Context, userID uint, kbID string) error // 删除知识库及其文档、切片、向量
	RefreshStats(ctx context.Context, kbID string) (*model.KBStats, error)

	ListDocuments(ctx context.Context, userID uint, kbID string, status model.DocumentStatus, limit, offset int) ([]model.Document, int64, error)
	GetDocument(ctx context.Context, userID uint, docID string) (*model.DocumentDetail, error)
	DeleteDocument(ctx context.Context, userID uint, docID string) error
	GetChunk(ctx context.Context, userID uint, chunkID string, withContext bool) (*model.ChunkContent, error)

	Search(ctx context.Context, userID uint, req *model.SearchRequest) (*model.SearchResponse, error)
	VectorStats(ctx context.Context, userID uint) (*model.VectorStats, error)
}

type kbService struct {
	kbDao          dao.KnowledgeBaseDao
	docDao         dao.DocumentDao
	chunkDao       dao.ChunkDao
	searchDao      dao.SearchQueryDao
	storageDriver  storage.Driver
	vectorService  VectorService
	usage          UsageService
	cfg            config.RAGConfig
	embeddingModel string

	audits sync.WaitGroup
}

func NewKBService(kbDao dao.KnowledgeBaseDao, docDao dao.DocumentDao, chunkDao dao.ChunkDao, searchDao dao.SearchQueryDao,
	driver storage.Driver, vectorService VectorService, usage UsageService, cfg config.RAGConfig, embeddingModel string) KBService {
	return &kbService{
		kbDao:          kbDao,
		docDao:         docDao,
		chunkDao:       chunkDao,
		searchDao:      searchDao,
		storageDriver:  driver,
		vectorService:  vectorService,
		usage:          usage,
		cfg:            cfg,
		embeddingModel: embeddingModel,
	}
}

func encodeTags(tags []string) (datatypes.JSON, error) {
	raw, err := sonic.Marshal(normalizeTags(tags))
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeTags(raw datatypes.JSON) []string {
	tags := []string{}
	if len(raw) == 0 {
		return tags
	}
	if err := sonic.Unmarshal(raw, &tags); err != nil {
		return []string{}
	}
	return tags
}

func (ks *kbService) CreateKB(ctx context.Context, userID uint, req *model.CreateKBRequest) (*model.KnowledgeBase, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	size := req.ChunkSize
	if size == 0 {
		size = ks.cfg.ChunkSize
	}
	overlap := ks.cfg.OverlapSize
	if req.ChunkOverlap != nil {
		overlap = *req.ChunkOverlap
	}
	if _, err := chunker.New(size, overlap); err != nil {
		return nil, fmt.Errorf("%w: chunk_size=%d chunk_overlap=%d", ErrInvalidChunkConfig, size, overlap)
	}

	existing, err := ks.kbDao.GetKBByName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateName
	}

	tags, err := encodeTags(req.Tags)
	if err != nil {
		return nil, err
	}
	embeddingModel := strings.TrimSpace(req.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = ks.embeddingModel
	}
	kb := &model.KnowledgeBase{
		ID:             utils.GenerateUUID(),
		UserID:         userID,
		Name:           name,
		Description:    req.Description,
		ChunkSize:      size,
		ChunkOverlap:   overlap,
		EmbeddingModel: embeddingModel,
		Tags:           tags,
		Meta:           datatypes.JSON("{}"),
	}
	if err := ks.kbDao.CreateKB(ctx, kb); err != nil {
		return nil, fmt.Errorf("知识库创建失败: %w", err)
	}
	return kb, nil
}

func (ks *kbService) ListKBs(ctx context.Context, userID uint) ([]model.KnowledgeBase, error) {
	kbs, err := ks.kbDao.ListKBs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range kbs {
		stats, err := ks.RefreshStats(ctx, kbs[i].ID)
		if err != nil {
			return nil, err
		}
		applyStats(&kbs[i], stats)
	}
	return kbs, nil
}

func applyStats(kb *model.KnowledgeBase, stats *model.KBStats) {
	kb.TotalDocuments = stats.TotalDocuments
	kb.TotalSize = stats.TotalSize
	kb.TotalChunks = stats.TotalChunks
}

// RefreshStats 从文档与切片表重算统计并回写缓存列
func (ks *kbService) RefreshStats(ctx context.Context, kbID string) (*model.KBStats, error) {
	stats, err := ks.docDao.StatsByKB(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("compute stats: %w", err)
	}
	if err := ks.kbDao.UpdateKBStats(ctx, kbID, stats); err != nil {
		return nil, fmt.Errorf("update stats: %w", err)
	}
	return stats, nil
}

func (ks *kbService) GetKB(ctx context.Context, userID uint, kbID string) (*model.KBDetail, error) {
	kb, err := ownedKB(ctx, ks.kbDao, userID, kbID)
	if err != nil {
		return nil, err
	}
	stats, err := ks.RefreshStats(ctx, kbID)
	if err != nil {
		return nil, err
	}
	applyStats(kb, stats)

	recent, err := ks.docDao.RecentDocuments(ctx, kbID, ks.cfg.RecentDocuments)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := ks.kbDao.TouchKB(ctx, kbID, now); err != nil {
		log.Printf("[KBService] touch knowledge base %s failed: %v", kbID, err)
	} else {
		kb.LastAccessed = &now
	}
	return &model.KBDetail{KnowledgeBase: kb, Stats: stats, RecentDocuments: recent}, nil
}

func (ks *kbService) UpdateKB(ctx context.Context, userID uint, kbID string, req *model.UpdateKBRequest) (*model.KnowledgeBase, error) {
	kb, err := ownedKB(ctx, ks.kbDao, userID, kbID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		if name != kb.Name {
			existing, err := ks.kbDao.GetKBByName(ctx, userID, name)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, ErrDuplicateName
			}
			kb.Name = name
		}
	}
	if req.Description != nil {
		kb.Description = *req.Description
	}

	size, overlap := kb.ChunkSize, kb.ChunkOverlap
	if req.ChunkSize != nil {
		size = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		overlap = *req.ChunkOverlap
	}
	if _, err := chunker.New(size, overlap); err != nil {
		return nil, fmt.Errorf("%w: chunk_size=%d chunk_overlap=%d", ErrInvalidChunkConfig, size, overlap)
	}
	kb.ChunkSize, kb.ChunkOverlap = size, overlap

	if req.Tags != nil {
		if kb.Tags, err = encodeTags(req.Tags); err != nil {
			return nil, err
		}
	}
	if req.Meta != nil {
		meta, err := mergeMeta(kb.Meta, req.Meta)
		if err != nil {
			return nil, err
		}
		kb.Meta = meta
	}

	if err := ks.kbDao.UpdateKB(ctx, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

func (ks *kbService) DeleteKB(ctx context.Context, userID uint, kbID string) error {
	if _, err := ownedKB(ctx, ks.kbDao, userID, kbID); err != nil {
		return err
	}
	docs, err := ks.docDao.ListAllByKB(ctx, kbID)
	if err != nil {
		return err
	}
	// 和删除单个文档一样先标记 deleted，处理中的任务不再写入切片
	if _, err := ks.docDao.MarkKBDeleted(ctx, kbID); err != nil {
		return fmt.Errorf("mark documents of knowledge base %s deleted: %w", kbID, err)
	}

	if err := ks.vectorService.DeleteKBVectors(ctx, kbID); err != nil {
		return fmt.Errorf("delete vectors of knowledge base %s: %w", kbID, err)
	}

	var freed int64
	for _, doc := range docs {
		if doc.Status != model.StatusDeleted {
			freed += doc.FileSize
		}
		if err := ks.storageDriver.Delete(ctx, doc.StoragePath); err != nil {
			log.Printf("[KBService] delete file %s of document %s failed: %v", doc.StoragePath, doc.ID, err)
		}
	}

	if err := ks.kbDao.DeleteKB(ctx, kbID); err != nil {
		return fmt.Errorf("知识库删除失败: %w", err)
	}
	if freed > 0 {
		if err := ks.usage.AddStorageUsage(ctx, userID, -freed); err != nil {
			log.Printf("[KBService] release storage usage for user %d failed: %v", userID, err)
		}
	}
	log.Printf("[KBService] knowledge base %s deleted with %d documents", kbID, len(docs))
	return nil
}

func (ks *kbService) ListDocuments(ctx context.Context, userID uint, kbID string, status model.DocumentStatus, limit, offset int) ([]model.Document, int64, error) {
	if _, err := ownedKB(ctx, ks.kbDao, userID, kbID); err != nil {
		return nil, 0, err
	}
	return ks.docDao.ListDocuments(ctx, kbID, status, limit, offset)
}

func (ks *kbService) GetDocument(ctx context.Context, userID uint, docID string) (*model.DocumentDetail, error) {
	doc, err := ownedDocument(ctx, ks.docDao, userID, docID)
	if err != nil {
		return nil, err
	}
	chunks, err := ks.chunkDao.ListByDocument(ctx, docID, detailChunkLimit)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.ChunkSummary, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		summaries = append(summaries, model.ChunkSummary{
			ID:             c.ID,
			ChunkIndex:     c.ChunkIndex,
			ContentPreview: truncateRunes(c.Content, ks.cfg.VectorPreview),
			ContentLength:  c.ContentLength,
			HasEmbedding:   c.HasEmbedding(),
		})
	}
	return &model.DocumentDetail{Document: doc, Chunks: summaries}, nil
}

// DeleteDocument 顺序：向量、文件、切片与记录
func (ks *kbService) DeleteDocument(ctx context.Context, userID uint, docID string) error {
	doc, err := ownedDocument(ctx, ks.docDao, userID, docID)
	if err != nil {
		return err
	}
	// 先标记为 deleted，正在处理的任务写入结果时会失败
	if _, err := ks.docDao.TransitionStatus(ctx, docID, []model.DocumentStatus{
		model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed,
	}, model.StatusDeleted, nil); err != nil {
		return err
	}

	if err := ks.vectorService.DeleteDocumentVectors(ctx, docID); err != nil {
		return fmt.Errorf("delete vectors of document %s: %w", docID, err)
	}
	if err := ks.storageDriver.Delete(ctx, doc.StoragePath); err != nil {
		log.Printf("[KBService] delete file %s failed: %v", doc.StoragePath, err)
	}
	if err := ks.docDao.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if err := ks.usage.AddStorageUsage(ctx, userID, -doc.FileSize); err != nil {
		log.Printf("[KBService] release storage usage for user %d failed: %v", userID, err)
	}
	if _, err := ks.RefreshStats(ctx, doc.KnowledgeBaseID); err != nil {
		log.Printf("[KBService] refresh stats of %s failed: %v", doc.KnowledgeBaseID, err)
	}
	return nil
}

func (ks *kbService) GetChunk(ctx context.Context, userID uint, chunkID string, withContext bool) (*model.ChunkContent, error) {
	c, err := ks.chunkDao.GetChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	out := &model.ChunkContent{
		ID:              c.ID,
		DocumentID:      c.DocumentID,
		KnowledgeBaseID: c.KnowledgeBaseID,
		ChunkIndex:      c.ChunkIndex,
		Content:         c.Content,
		ContentLength:   c.ContentLength,
		StartChar:       c.StartChar,
		EndChar:         c.EndChar,
		HasEmbedding:    c.HasEmbedding(),
	}
	if withContext {
		out.ContextBefore = c.ContextBefore
		out.ContextAfter = c.ContextAfter
	}
	return out, nil
}

func (ks *kbService) Search(ctx context.Context, userID uint, req *model.SearchRequest) (*model.SearchResponse, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = ks.cfg.SearchTopK
	}
	topK = min(topK, maxSearchTopK)
	threshold := ks.cfg.ScoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	resp := &model.SearchResponse{
		Query:           query,
		Results:         []model.SearchResult{},
		VectorAvailable: ks.vectorService.Available(),
	}

	embeddingModel := ks.embeddingModel
	if req.KnowledgeBaseID != "" {
		kb, err := ownedKB(ctx, ks.kbDao, userID, req.KnowledgeBaseID)
		if errors.Is(err, ErrNotFound) {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		embeddingModel = kb.EmbeddingModel
		if err := ks.kbDao.TouchKB(ctx, kb.ID, start); err != nil {
			log.Printf("[KBService] touch knowledge base %s failed: %v", kb.ID, err)
		}
	}

	matches, err := ks.vectorService.Query(ctx, userID, req.KnowledgeBaseID, query, embeddingModel, topK, threshold)
	if err != nil {
		if !errors.Is(err, ErrIndexUnavailable) {
			log.Printf("[KBService] search for user %d failed: %v", userID, err)
		}
		resp.Degraded = true
		return resp, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Metadata.DocumentID)
	}
	docs, err := ks.docDao.GetDocumentsByIDs(ctx, ids)
	if err != nil {
		log.Printf("[KBService] load documents for search results failed: %v", err)
		docs = map[string]*model.Document{}
	}

	for _, m := range matches {
		doc := docs[m.Metadata.DocumentID]
		// 父文档已删除的向量直接丢弃
		if doc == nil || doc.Status == model.StatusDeleted || doc.UserID != userID {
			continue
		}
		resp.Results = append(resp.Results, model.SearchResult{
			ChunkID:         m.Metadata.ChunkID,
			DocumentID:      m.Metadata.DocumentID,
			KnowledgeBaseID: m.Metadata.KnowledgeBaseID,
			ChunkIndex:      m.Metadata.ChunkIndex,
			Score:           m.Score,
			ContentPreview:  m.Metadata.ContentPreview,
			ContentLength:   m.Metadata.ContentLength,
			DocumentTitle:   doc.Title,
			Filename:        doc.Filename,
			FileType:        doc.FileType,
			Tags:            decodeTags(doc.Tags),
		})
	}
	resp.Total = len(resp.Results)

	ks.audit(userID, req.KnowledgeBaseID, query, resp.Results, time.Since(start))
	return resp, nil
}

// audit 异步写检索日志，失败只记日志
func (ks *kbService) audit(userID uint, kbID, query string, results []model.SearchResult, elapsed time.Duration) {
	q := &model.SearchQuery{
		ID:              utils.GenerateUUID(),
		UserID:          userID,
		KnowledgeBaseID: kbID,
		QueryText:       query,
		QueryType:       searchQueryType,
		ResultsCount:    len(results),
		ResponseTimeMs:  elapsed.Milliseconds(),
	}
	if len(results) > 0 {
		var sum float64
		for _, r := range results {
			sum += r.Score
		}
		q.TopScore = results[0].Score
		q.AvgScore = sum / float64(len(results))
	}

	ks.audits.Add(1)
	go func() {
		defer ks.audits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()
		if err := ks.searchDao.CreateSearchQuery(ctx, q); err != nil {
			log.Printf("[KBService] write search audit failed: %v", err)
		}
	}()
}

func (ks *kbService) VectorStats(ctx context.Context, userID uint) (*model.VectorStats, error) {
	return ks.vectorService.Stats(ctx, userID)
}
