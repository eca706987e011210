package retriever

import (
	"context"
	"fmt"

	"chatcpg/internal/model"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

const (
	MetaDocumentID      = "document_id"
	MetaKnowledgeBaseID = "knowledge_base_id"
	MetaChunkIndex      = "chunk_index"
	MetaFilename        = "filename"
	MetaTitle           = "document_title"
	MetaFileType        = "file_type"
)

// Searcher 知识库检索
type Searcher interface {
	Search(ctx context.Context, userID uint, req *model.SearchRequest) (*model.SearchResponse, error)
}

type KnowledgeRetrieverConfig struct {
	Searcher        Searcher // Required
	UserID          uint     // Required
	KnowledgeBaseID string   // Optional 为空时检索用户全部知识库
	TopK            int      // Optional default is 5
	ScoreThreshold  float64  // Optional default is 0
}

// KnowledgeRetriever 把知识库检索包装为 eino Retriever，供编排链路直接使用
type KnowledgeRetriever struct {
	config KnowledgeRetrieverConfig
}

func NewKnowledgeRetriever(conf *KnowledgeRetrieverConfig) (*KnowledgeRetriever, error) {
	if conf.Searcher == nil {
		return nil, fmt.Errorf("[NewKnowledgeRetriever] searcher is nil")
	}
	if conf.UserID == 0 {
		return nil, fmt.Errorf("[NewKnowledgeRetriever] user id is empty")
	}
	if conf.TopK <= 0 {
		conf.TopK = 5
	}
	return &KnowledgeRetriever{config: *conf}, nil
}

func (r *KnowledgeRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	co := retriever.GetCommonOptions(&retriever.Options{
		TopK:           &r.config.TopK,
		ScoreThreshold: &r.config.ScoreThreshold,
	}, opts...)

	req := &model.SearchRequest{
		Query:           query,
		KnowledgeBaseID: r.config.KnowledgeBaseID,
		TopK:            *co.TopK,
		ScoreThreshold:  co.ScoreThreshold,
	}
	resp, err := r.config.Searcher.Search(ctx, r.config.UserID, req)
	if err != nil {
		return nil, fmt.Errorf("[KnowledgeRetriever.Retrieve] search failed: %w", err)
	}

	docs := make([]*schema.Document, 0, len(resp.Results))
	for _, res := range resp.Results {
		doc := &schema.Document{
			ID:      res.ChunkID,
			Content: res.ContentPreview,
			MetaData: map[string]any{
				MetaDocumentID:      res.DocumentID,
				MetaKnowledgeBaseID: res.KnowledgeBaseID,
				MetaChunkIndex:      res.ChunkIndex,
				MetaFilename:        res.Filename,
				MetaTitle:           res.DocumentTitle,
				MetaFileType:        string(res.FileType),
			},
		}
		docs = append(docs, doc.WithScore(res.Score))
	}
	return docs, nil
}

func (r *KnowledgeRetriever) GetType() string {
	return "KnowledgeBase"
}
