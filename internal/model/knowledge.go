package model

import (
	"time"

	"gorm.io/datatypes"
)

// KnowledgeBase 知识库，统计字段只是缓存，以文档表为准
type KnowledgeBase struct {
	ID             string         `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID         uint           `gorm:"not null;uniqueIndex:idx_kb_user_name" json:"user_id"`
	Name           string         `gorm:"not null;size:255;uniqueIndex:idx_kb_user_name" json:"name"`
	Description    string         `gorm:"type:text" json:"description"`
	ChunkSize      int            `gorm:"not null" json:"chunk_size"`
	ChunkOverlap   int            `gorm:"not null" json:"chunk_overlap"`
	EmbeddingModel string         `gorm:"size:128" json:"embedding_model"`
	TotalDocuments int64          `json:"total_documents"`
	TotalSize      int64          `json:"total_size"`
	TotalChunks    int64          `json:"total_chunks"`
	Tags           datatypes.JSON `json:"tags"`
	Meta           datatypes.JSON `json:"meta"`
	LastAccessed   *time.Time     `json:"last_accessed"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Document 知识库文档，对应一次上传
type Document struct {
	ID                    string         `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID                uint           `gorm:"index" json:"user_id"`
	KnowledgeBaseID       string         `gorm:"index;type:char(36)" json:"knowledge_base_id"`
	Filename              string         `gorm:"size:255" json:"filename"` // 原始文件名
	Title                 string         `gorm:"size:255" json:"title"`
	StoragePath           string         `gorm:"size:512" json:"-"`
	FileSize              int64          `json:"file_size"`
	FileType              FileType       `gorm:"size:16" json:"file_type"`
	MimeType              string         `gorm:"size:128" json:"mime_type"`
	ContentHash           string         `gorm:"size:64" json:"content_hash"`
	Status                DocumentStatus `gorm:"size:20;index" json:"status"`
	Content               string         `gorm:"type:longtext" json:"-"`
	ContentPreview        string         `gorm:"type:text" json:"content_preview"`
	WordCount             int            `json:"word_count"`
	PageCount             int            `json:"page_count"`
	ChunkCount            int            `json:"chunk_count"`
	ProcessingError       string         `gorm:"type:text" json:"processing_error,omitempty"`
	Tags                  datatypes.JSON `json:"tags"`
	Meta                  datatypes.JSON `json:"meta"`
	UploadedAt            time.Time      `json:"uploaded_at"`
	ProcessingStartedAt   *time.Time     `json:"processing_started_at"`
	ProcessingCompletedAt *time.Time     `json:"processing_completed_at"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Chunk 文档切片，用户与知识库字段冗余存储用于检索过滤
type Chunk struct {
	ID              string     `gorm:"primaryKey;type:char(36)" json:"id"`
	DocumentID      string     `gorm:"type:char(36);uniqueIndex:idx_chunk_doc_index" json:"document_id"`
	ChunkIndex      int        `gorm:"uniqueIndex:idx_chunk_doc_index" json:"chunk_index"`
	KnowledgeBaseID string     `gorm:"index;type:char(36)" json:"knowledge_base_id"`
	UserID          uint       `gorm:"index" json:"user_id"`
	Content         string     `gorm:"type:text" json:"content"`
	ContentLength   int        `json:"content_length"`
	StartChar       int        `json:"start_char"`
	EndChar         int        `json:"end_char"`
	ContextBefore   string     `gorm:"type:text" json:"context_before,omitempty"`
	ContextAfter    string     `gorm:"type:text" json:"context_after,omitempty"`
	VectorID        string     `gorm:"size:191;index" json:"vector_id,omitempty"` // 为空表示尚未向量化
	EmbeddingModel  string     `gorm:"size:128" json:"embedding_model,omitempty"`
	EmbeddedAt      *time.Time `json:"embedded_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// HasEmbedding 是否已写入向量索引
func (c *Chunk) HasEmbedding() bool { return c.VectorID != "" }

// SearchQuery 检索审计记录，只写不读
type SearchQuery struct {
	ID              string    `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID          uint      `gorm:"index" json:"user_id"`
	KnowledgeBaseID string    `gorm:"type:char(36)" json:"knowledge_base_id"`
	QueryText       string    `gorm:"type:text" json:"query_text"`
	QueryType       string    `gorm:"size:32" json:"query_type"`
	ResultsCount    int       `json:"results_count"`
	TopScore        float64   `json:"top_score"`
	AvgScore        float64   `json:"avg_score"`
	ResponseTimeMs  int64     `json:"response_time_ms"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// UserUsage 用户用量，Period 为 YYYY-MM，跨月时上传计数清零
type UserUsage struct {
	UserID          uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Tier            string    `gorm:"size:32" json:"tier"`
	Period          string    `gorm:"size:7" json:"period"`
	MonthlyUploads  int       `json:"monthly_uploads"`
	StorageUsed     int64     `json:"storage_used"`
	FileUploadLimit int       `json:"file_upload_limit"`
	StorageLimit    int64     `json:"storage_limit"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
