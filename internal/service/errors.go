package service

import (
	"context"
	"errors"

	"chatcpg/internal/dao"
	"chatcpg/internal/model"
)

var (
	ErrQuotaExceeded       = errors.New("upload quota exceeded")
	ErrStorageExceeded     = errors.New("storage quota exceeded")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtractionFailed    = errors.New("content extraction failed")
	ErrEmbeddingFailed     = errors.New("embedding failed")
	ErrIndexUnavailable    = errors.New("vector index unavailable")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrDuplicateName       = errors.New("knowledge base name already exists")
	ErrInvalidChunkConfig  = errors.New("invalid chunk configuration")
	ErrInvalidStatus       = errors.New("invalid document status")
	ErrInvalidInput        = errors.New("invalid input")
)

// ownedKB 获取知识库并校验归属
func ownedKB(ctx context.Context, kbDao dao.KnowledgeBaseDao, userID uint, kbID string) (*model.KnowledgeBase, error) {
	kb, err := kbDao.GetKBByID(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, ErrNotFound
	}
	if kb.UserID != userID {
		return nil, ErrForbidden
	}
	return kb, nil
}

// ownedDocument 已删除的文档视为不存在
func ownedDocument(ctx context.Context, docDao dao.DocumentDao, userID uint, docID string) (*model.Document, error) {
	doc, err := docDao.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Status == model.StatusDeleted {
		return nil, ErrNotFound
	}
	if doc.UserID != userID {
		return nil, ErrForbidden
	}
	return doc, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
