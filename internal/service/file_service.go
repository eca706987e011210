package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"chatcpg/config"
	"chatcpg/internal/dao"
	"chatcpg/internal/model"
	"chatcpg/internal/storage"
	"chatcpg/internal/utils"
	"chatcpg/internal/worker"

	"github.com/bytedance/sonic"
)

// UploadInput Size 为声明的大小，未知时传 -1
type UploadInput struct {
	UserID          uint
	KnowledgeBaseID string
	Filename        string
	Title           string
	Tags            []string
	Size            int64
	Reader          io.Reader
}

type FileService interface {
	// Upload 校验并保存文件，创建 processing 状态的文档后提交后台处理
	Upload(ctx context.Context, in *UploadInput) (*model.Document, *worker.Handle, error)
	// OpenDocument 读取原始文件
	OpenDocument(ctx context.Context, userID uint, docID string) (io.ReadCloser, *model.Document, error)
	SupportedFormats() *model.SupportedFormats
}

type fileService struct {
	kbDao         dao.KnowledgeBaseDao
	docDao        dao.DocumentDao
	storageDriver storage.Driver
	usage         UsageService
	ingest        IngestService
	cfg           config.UploadConfig
	allowed       map[model.FileType]bool
}

func NewFileService(kbDao dao.KnowledgeBaseDao, docDao dao.DocumentDao, driver storage.Driver, usage UsageService,
	ingest IngestService, cfg config.UploadConfig) FileService {
	allowed := make(map[model.FileType]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[model.FileType(strings.ToLower(strings.TrimPrefix(t, ".")))] = true
	}
	return &fileService{
		kbDao:         kbDao,
		docDao:        docDao,
		storageDriver: driver,
		usage:         usage,
		ingest:        ingest,
		cfg:           cfg,
		allowed:       allowed,
	}
}

func (s *fileService) Upload(ctx context.Context, in *UploadInput) (*model.Document, *worker.Handle, error) {
	kb, err := ownedKB(ctx, s.kbDao, in.UserID, in.KnowledgeBaseID)
	if err != nil {
		return nil, nil, err
	}

	// 1. 上传次数
	ok, err := s.usage.CheckUploadAllowed(ctx, in.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("check upload usage: %w", err)
	}
	if !ok {
		return nil, nil, ErrQuotaExceeded
	}

	// 2. 文件大小，声明值不可信，读取时再限制一次
	if in.Size > s.cfg.MaxFileSize {
		return nil, nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, in.Size, s.cfg.MaxFileSize)
	}

	// 3. 扩展名
	fileType, ok := model.ParseFileType(in.Filename)
	if !ok || !s.allowed[fileType] {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, in.Filename)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(in.Reader, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	if n > s.cfg.MaxFileSize {
		return nil, nil, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}

	ok, err = s.usage.CheckStorageAllowed(ctx, in.UserID, n)
	if err != nil {
		return nil, nil, fmt.Errorf("check storage usage: %w", err)
	}
	if !ok {
		return nil, nil, ErrStorageExceeded
	}

	data := buf.Bytes()
	sum := md5.Sum(data)
	docID := utils.GenerateUUID()
	key := storage.ObjectKey(in.UserID, docID, string(fileType))
	if err := s.storageDriver.Put(ctx, key, bytes.NewReader(data), n, fileType.MimeType()); err != nil {
		return nil, nil, fmt.Errorf("store file: %w", err)
	}

	tags, err := sonic.Marshal(normalizeTags(in.Tags))
	if err != nil {
		return nil, nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.Filename
	}
	now := time.Now()
	doc := &model.Document{
		ID:                  docID,
		UserID:              in.UserID,
		KnowledgeBaseID:     kb.ID,
		Filename:            in.Filename,
		Title:               title,
		StoragePath:         key,
		FileSize:            n,
		FileType:            fileType,
		MimeType:            fileType.MimeType(),
		ContentHash:         hex.EncodeToString(sum[:]),
		Status:              model.StatusProcessing,
		Tags:                tags,
		UploadedAt:          now,
		ProcessingStartedAt: &now,
	}
	if err := s.docDao.CreateDocument(ctx, doc); err != nil {
		// 记录未创建时不能留下孤立文件
		if derr := s.storageDriver.Delete(context.WithoutCancel(ctx), key); derr != nil {
			log.Printf("[FileService] remove orphan file %s failed: %v", key, derr)
		}
		return nil, nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.usage.IncrementUploadUsage(ctx, in.UserID); err != nil {
		log.Printf("[FileService] increment upload usage for user %d failed: %v", in.UserID, err)
	}
	if err := s.usage.AddStorageUsage(ctx, in.UserID, n); err != nil {
		log.Printf("[FileService] add storage usage for user %d failed: %v", in.UserID, err)
	}

	handle, err := s.ingest.Enqueue(doc)
	if err != nil {
		// 文档已被标记为 failed，可通过 reprocess 重试
		log.Printf("[FileService] enqueue document %s failed: %v", doc.ID, err)
		doc.Status = model.StatusFailed
		doc.ProcessingError = err.Error()
		return doc, nil, nil
	}
	log.Printf("[FileService] user %d uploaded %s (%d bytes) as document %s", in.UserID, in.Filename, n, doc.ID)
	return doc, handle, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *fileService) OpenDocument(ctx context.Context, userID uint, docID string) (io.ReadCloser, *model.Document, error) {
	doc, err := ownedDocument(ctx, s.docDao, userID, docID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storageDriver.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open stored file: %w", err)
	}
	return rc, doc, nil
}

func (s *fileService) SupportedFormats() *model.SupportedFormats {
	formats := make([]string, 0, len(s.cfg.AllowedTypes))
	for _, t := range s.cfg.AllowedTypes {
		formats = append(formats, strings.ToLower(strings.TrimPrefix(t, ".")))
	}
	return &model.SupportedFormats{
		Formats:       formats,
		MaxFileSize:   s.cfg.MaxFileSize,
		MaxFileSizeMB: float64(s.cfg.MaxFileSize) / (1024 * 1024),
	}
}
