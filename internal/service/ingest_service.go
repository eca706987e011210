package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"chatcpg/internal/component/chunker"
	"chatcpg/internal/component/parser"
	"chatcpg/internal/dao"
	"chatcpg/internal/model"
	"chatcpg/internal/storage"
	"chatcpg/internal/utils"
	"chatcpg/internal/worker"

	"github.com/bytedance/sonic"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"gorm.io/datatypes"
)

// IngestService 文档后台处理：抽取、切片、入库、向量化
type IngestService interface {
	// Enqueue 提交处理任务，同一文档在处理中时返回已有句柄
	Enqueue(doc *model.Document) (*worker.Handle, error)
	// Process 同步处理一个 processing 状态的文档
	Process(ctx context.Context, docID string) error
	// Reprocess failed 文档完整重跑，completed 文档只重试向量化
	Reprocess(ctx context.Context, userID uint, docID string) (*worker.Handle, error)
	// Resume 重新提交进程退出前仍处于 processing 的文档
	Resume(ctx context.Context, limit int) (int, error)
}

type IngestConfig struct {
	PreviewLength int
	CallTimeout   time.Duration
}

type ingestService struct {
	docDao        dao.DocumentDao
	kbDao         dao.KnowledgeBaseDao
	storageDriver storage.Driver
	parser        einoParser.Parser
	vectorService VectorService
	pool          *worker.Pool
	cfg           IngestConfig
}

func NewIngestService(docDao dao.DocumentDao, kbDao dao.KnowledgeBaseDao, driver storage.Driver, p einoParser.Parser,
	vectorService VectorService, pool *worker.Pool, cfg IngestConfig) IngestService {
	if p == nil {
		p = parser.NewDocumentParser()
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = 500
	}
	return &ingestService{
		docDao:        docDao,
		kbDao:         kbDao,
		storageDriver: driver,
		parser:        p,
		vectorService: vectorService,
		pool:          pool,
		cfg:           cfg,
	}
}

func processKey(docID string) string { return "doc:" + docID }
func embedKey(docID string) string   { return "embed:" + docID }

func (s *ingestService) Enqueue(doc *model.Document) (*worker.Handle, error) {
	docID := doc.ID
	h, err := s.pool.Submit(processKey(docID), func(ctx context.Context) error {
		return s.Process(ctx, docID)
	})
	if err != nil {
		s.markFailed(context.Background(), docID, fmt.Errorf("enqueue processing: %w", err))
		return nil, err
	}
	return h, nil
}

func (s *ingestService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *ingestService) Process(ctx context.Context, docID string) error {
	doc, err := s.docDao.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	if doc.Status != model.StatusProcessing {
		return fmt.Errorf("%w: document %s is %s", ErrInvalidStatus, docID, doc.Status)
	}

	kb, err := s.kbDao.GetKBByID(ctx, doc.KnowledgeBaseID)
	if err == nil && kb == nil {
		err = fmt.Errorf("knowledge base %s: %w", doc.KnowledgeBaseID, ErrNotFound)
	}
	if err != nil {
		s.markFailed(ctx, docID, err)
		return err
	}

	if err := s.extractAndChunk(ctx, doc, kb); err != nil {
		s.markFailed(ctx, docID, err)
		return err
	}

	res, err := s.vectorService.EmbedDocument(ctx, doc, kb.EmbeddingModel)
	if err != nil {
		// 向量化失败不影响文档状态，切片保留为未向量化
		log.Printf("[Ingest] document %s embedding incomplete: %v", docID, err)
		return nil
	}
	log.Printf("[Ingest] document %s processed, embedded=%d", docID, res.Embedded)
	return nil
}

// extractAndChunk 抽取与切片作为一个阶段，切片写入成功后文档才变为 completed
func (s *ingestService) extractAndChunk(ctx context.Context, doc *model.Document, kb *model.KnowledgeBase) error {
	ck, err := chunker.New(kb.ChunkSize, kb.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChunkConfig, err)
	}

	// 重新处理前清理旧向量，旧切片在保存结果时一并替换
	if err := s.vectorService.DeleteDocumentVectors(ctx, doc.ID); err != nil {
		log.Printf("[Ingest] delete stale vectors of document %s failed: %v", doc.ID, err)
	}

	data, err := s.readObject(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("read stored file: %w", err)
	}

	pctx, cancel := s.callCtx(ctx)
	docs, err := s.parser.Parse(pctx, bytes.NewReader(data),
		einoParser.WithURI(doc.Filename),
		parser.WithFileType(doc.FileType),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if len(docs) != 1 {
		return fmt.Errorf("%w: parser returned %d documents", ErrExtractionFailed, len(docs))
	}
	parsed := docs[0]

	pieces := ck.Split(parsed.Content)
	chunks := make([]model.Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, model.Chunk{
			ID:              utils.GenerateUUID(),
			DocumentID:      doc.ID,
			ChunkIndex:      p.Index,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			UserID:          doc.UserID,
			Content:         p.Content,
			ContentLength:   p.ContentLength,
			StartChar:       p.StartChar,
			EndChar:         p.EndChar,
			ContextBefore:   p.ContextBefore,
			ContextAfter:    p.ContextAfter,
		})
	}

	meta, err := mergeMeta(doc.Meta, parsed.MetaData)
	if err != nil {
		return err
	}
	pageCount, _ := parsed.MetaData[parser.MetaPageCount].(int)
	now := time.Now()
	updates := map[string]any{
		"content":                 parsed.Content,
		"content_preview":         truncateRunes(parsed.Content, s.cfg.PreviewLength),
		"word_count":              len(strings.Fields(parsed.Content)),
		"page_count":              pageCount,
		"chunk_count":             len(chunks),
		"meta":                    meta,
		"processing_error":        "",
		"processing_completed_at": now,
	}
	if err := s.docDao.SaveProcessingResult(ctx, doc.ID, updates, chunks); err != nil {
		return fmt.Errorf("save processing result: %w", err)
	}
	doc.Status = model.StatusCompleted
	doc.ChunkCount = len(chunks)
	log.Printf("[Ingest] document %s extracted, %d chunks", doc.ID, len(chunks))
	return nil
}

func (s *ingestService) readObject(ctx context.Context, key string) ([]byte, error) {
	rctx, cancel := s.callCtx(ctx)
	defer cancel()
	rc, err := s.storageDriver.Get(rctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// mergeMeta 上传时写入的元数据与抽取元数据合并
func mergeMeta(existing datatypes.JSON, extra map[string]any) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		if err := sonic.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("decode document meta: %w", err)
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	raw, err := sonic.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode document meta: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// shuttingDown 进程退出导致的中断，文档保持 processing，重启后由 Resume 重新入队
func (s *ingestService) shuttingDown(ctx context.Context, cause error) bool {
	if s.pool == nil || !s.pool.Closing() {
		return false
	}
	return errors.Is(cause, context.Canceled) || errors.Is(cause, worker.ErrPoolClosed) ||
		errors.Is(ctx.Err(), context.Canceled)
}

// markFailed 任务超时或取消后仍需写入失败状态
func (s *ingestService) markFailed(ctx context.Context, docID string, cause error) {
	if s.shuttingDown(ctx, cause) {
		log.Printf("[Ingest] document %s interrupted by shutdown, left processing: %v", docID, cause)
		return
	}
	msg := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "processing timed out: " + msg
	}
	if strings.TrimSpace(msg) == "" {
		msg = "processing failed"
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	ok, err := s.docDao.TransitionStatus(wctx, docID,
		[]model.DocumentStatus{model.StatusProcessing},
		model.StatusFailed,
		map[string]any{
			"processing_error":        msg,
			"processing_completed_at": time.Now(),
		})
	if err != nil {
		log.Printf("[Ingest] mark document %s failed: %v", docID, err)
		return
	}
	if ok {
		log.Printf("[Ingest] document %s failed: %s", docID, msg)
	}
}

func (s *ingestService) Reprocess(ctx context.Context, userID uint, docID string) (*worker.Handle, error) {
	doc, err := ownedDocument(ctx, s.docDao, userID, docID)
	if err != nil {
		return nil, err
	}

	switch doc.Status {
	case model.StatusFailed:
		now := time.Now()
		ok, err := s.docDao.TransitionStatus(ctx, docID,
			[]model.DocumentStatus{model.StatusFailed},
			model.StatusProcessing,
			map[string]any{
				"processing_error":        "",
				"processing_started_at":   now,
				"processing_completed_at": nil,
			})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: document %s changed concurrently", ErrInvalidStatus, docID)
		}
		return s.Enqueue(doc)
	case model.StatusProcessing:
		// 进程重启后遗留的 processing 文档也可以重新入队
		return s.Enqueue(doc)
	case model.StatusCompleted:
		kb, err := ownedKB(ctx, s.kbDao, userID, doc.KnowledgeBaseID)
		if err != nil {
			return nil, err
		}
		embeddingModel := kb.EmbeddingModel
		return s.pool.Submit(embedKey(docID), func(ctx context.Context) error {
			_, err := s.vectorService.EmbedDocument(ctx, doc, embeddingModel)
			return err
		})
	default:
		return nil, fmt.Errorf("%w: cannot reprocess %s document", ErrInvalidStatus, doc.Status)
	}
}

func (s *ingestService) Resume(ctx context.Context, limit int) (int, error) {
	docs, err := s.docDao.ListByStatus(ctx, model.StatusProcessing, limit)
	if err != nil {
		return 0, fmt.Errorf("list processing documents: %w", err)
	}
	n := 0
	for i := range docs {
		if _, err := s.Enqueue(&docs[i]); err != nil {
			log.Printf("[Ingest] resume document %s failed: %v", docs[i].ID, err)
			continue
		}
		n++
	}
	if n > 0 {
		log.Printf("[Ingest] resumed %d processing documents", n)
	}
	return n, nil
}
