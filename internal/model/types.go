package model

import (
	"path/filepath"
	"strings"
)

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
	StatusDeleted    DocumentStatus = "deleted"
)

// CanTransition 状态只能向前推进，failed 允许重新处理，completed 不再回到 processing
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if to == StatusDeleted {
		return s != StatusDeleted
	}
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusProcessing
	}
	return false
}

// FileType 支持的文件类型
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeXLSX FileType = "xlsx"
	FileTypeCSV  FileType = "csv"
	FileTypeTXT  FileType = "txt"
	FileTypeMD   FileType = "md"
	FileTypeJSON FileType = "json"
)

var fileTypes = map[FileType]string{
	FileTypePDF:  "application/pdf",
	FileTypeDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FileTypeXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FileTypeCSV:  "text/csv",
	FileTypeTXT:  "text/plain",
	FileTypeMD:   "text/markdown",
	FileTypeJSON: "application/json",
}

// ParseFileType 按扩展名（小写）识别文件类型
func ParseFileType(filename string) (FileType, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	ft := FileType(ext)
	_, ok := fileTypes[ft]
	return ft, ok
}

// MimeType 文件类型对应的 MIME
func (f FileType) MimeType() string {
	if m, ok := fileTypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}
