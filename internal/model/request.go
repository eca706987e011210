package model

import "time"

type CreateKBRequest struct {
	Name           string   `json:"name" binding:"required"`
	Description    string   `json:"description"`
	ChunkSize      int      `json:"chunk_size"`
	ChunkOverlap   *int     `json:"chunk_overlap"`
	EmbeddingModel string   `json:"embedding_model"`
	Tags           []string `json:"tags"`
}

type UpdateKBRequest struct {
	Name         *string        `json:"name"`
	Description  *string        `json:"description"`
	ChunkSize    *int           `json:"chunk_size"`
	ChunkOverlap *int           `json:"chunk_overlap"`
	Tags         []string       `json:"tags"`
	Meta         map[string]any `json:"meta"`
}

type SearchRequest struct {
	Query           string   `json:"query" binding:"required"`
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	TopK            int      `json:"top_k"`
	ScoreThreshold  *float64 `json:"score_threshold"`
}

// SearchResult 检索结果，文档字段为补充信息
type SearchResult struct {
	ChunkID         string   `json:"chunk_id"`
	DocumentID      string   `json:"document_id"`
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	ChunkIndex      int      `json:"chunk_index"`
	Score           float64  `json:"score"`
	ContentPreview  string   `json:"content_preview"`
	ContentLength   int      `json:"content_length"`
	DocumentTitle   string   `json:"document_title"`
	Filename        string   `json:"filename"`
	FileType        FileType `json:"file_type"`
	Tags            []string `json:"tags"`
}

type SearchResponse struct {
	Query           string         `json:"query"`
	Results         []SearchResult `json:"results"`
	Total           int            `json:"total"`
	VectorAvailable bool           `json:"vector_available"`
	Degraded        bool           `json:"degraded"`
}

type KBStats struct {
	TotalDocuments      int64                    `json:"total_documents"`
	TotalSize           int64                    `json:"total_size"`
	TotalChunks         int64                    `json:"total_chunks"`
	StatusBreakdown     map[DocumentStatus]int64 `json:"status_breakdown"`
	ProcessingDocuments int64                    `json:"processing_documents"`
	FailedDocuments     int64                    `json:"failed_documents"`
}

type KBDetail struct {
	KnowledgeBase   *KnowledgeBase `json:"knowledge_base"`
	Stats           *KBStats       `json:"stats"`
	RecentDocuments []Document     `json:"recent_documents"`
}

type ChunkSummary struct {
	ID             string `json:"id"`
	ChunkIndex     int    `json:"chunk_index"`
	ContentPreview string `json:"content_preview"`
	ContentLength  int    `json:"content_length"`
	HasEmbedding   bool   `json:"has_embedding"`
}

type DocumentDetail struct {
	Document *Document      `json:"document"`
	Chunks   []ChunkSummary `json:"chunks"`
}

type ChunkContent struct {
	ID              string `json:"id"`
	DocumentID      string `json:"document_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	ChunkIndex      int    `json:"chunk_index"`
	Content         string `json:"content"`
	ContentLength   int    `json:"content_length"`
	StartChar       int    `json:"start_char"`
	EndChar         int    `json:"end_char"`
	ContextBefore   string `json:"context_before,omitempty"`
	ContextAfter    string `json:"context_after,omitempty"`
	HasEmbedding    bool   `json:"has_embedding"`
}

type VectorStats struct {
	Available      bool   `json:"available"`
	Backend        string `json:"backend"`
	Model          string `json:"model"`
	EmbeddedChunks int64  `json:"embedded_chunks"`
	TotalChunks    int64  `json:"total_chunks"`
}

type SupportedFormats struct {
	Formats       []string `json:"formats"`
	MaxFileSize   int64    `json:"max_file_size"`
	MaxFileSizeMB float64  `json:"max_file_size_mb"`
}

type UploadResponse struct {
	DocumentID string         `json:"document_id"`
	Filename   string         `json:"filename"`
	FileSize   int64          `json:"file_size"`
	Status     DocumentStatus `json:"status"`
	UploadedAt time.Time      `json:"uploaded_at"`
}
