package extractor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"chatcpg/internal/model"
)

var ErrUnsupportedType = errors.New("unsupported file type")

// Result 抽取结果，Metadata 的键沿用 snake_case，直接写入文档 meta
type Result struct {
	Text      string
	PageCount int
	Metadata  map[string]any
}

type extractFunc func(ctx context.Context, data []byte) (*Result, error)

// 按文件类型分发，扩展名在上传时已经校验过
var extractors = map[model.FileType]extractFunc{
	model.FileTypePDF:  extractPDF,
	model.FileTypeDOCX: extractDOCX,
	model.FileTypeXLSX: extractXLSX,
	model.FileTypeCSV:  extractCSV,
	model.FileTypeTXT:  extractText,
	model.FileTypeMD:   extractText,
	model.FileTypeJSON: extractJSON,
}

// Extract 抽取文本与结构信息
func Extract(ctx context.Context, ft model.FileType, data []byte) (*Result, error) {
	fn, ok := extractors[ft]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ft)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := fn(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s content: %w", strings.ToUpper(string(ft)), err)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	return res, nil
}

// Supports 是否有对应的抽取器
func Supports(ft model.FileType) bool {
	_, ok := extractors[ft]
	return ok
}

// Supported 所有可抽取的类型
func Supported() []string {
	types := make([]string, 0, len(extractors))
	for ft := range extractors {
		types = append(types, string(ft))
	}
	sort.Strings(types)
	return types
}

// countLines 与 str.splitlines 的计数一致，末尾换行不产生空行
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			n++
		case '\r':
			n++
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		}
	}
	if last := s[len(s)-1]; last != '\n' && last != '\r' {
		n++
	}
	return n
}
