/*
基于 extractor 的文档解析器；
实现了 Eino 组件接口的 Parse 方法，按文件类型分发。
*/

package parser

import (
	"context"
	"fmt"
	"io"

	"chatcpg/internal/component/extractor"
	"chatcpg/internal/model"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// MetaPageCount 页数写入文档元数据的键
const MetaPageCount = "page_count"

type options struct {
	fileType model.FileType
}

// WithFileType 显式指定文件类型，不指定时按 URI 的扩展名识别
func WithFileType(ft model.FileType) parser.Option {
	return parser.WrapImplSpecificOptFn(func(opts *options) {
		opts.fileType = ft
	})
}

type DocumentParser struct{}

var _ parser.Parser = (*DocumentParser)(nil)

func NewDocumentParser() *DocumentParser {
	return &DocumentParser{}
}

func (p *DocumentParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	commonOpts := parser.GetCommonOptions(&parser.Options{}, opts...)
	specificOpts := parser.GetImplSpecificOptions(&options{}, opts...)

	ft := specificOpts.fileType
	if ft == "" {
		var ok bool
		if ft, ok = model.ParseFileType(commonOpts.URI); !ok {
			return nil, fmt.Errorf("%w: %q", extractor.ErrUnsupportedType, commonOpts.URI)
		}
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	res, err := extractor.Extract(ctx, ft, data)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]any, len(commonOpts.ExtraMeta)+len(res.Metadata)+1)
	for k, v := range commonOpts.ExtraMeta {
		meta[k] = v
	}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	meta[MetaPageCount] = res.PageCount

	return []*schema.Document{{
		ID:       commonOpts.URI,
		Content:  res.Text,
		MetaData: meta,
	}}, nil
}

func (p *DocumentParser) GetType() string {
	return "ChatCPGDocument"
}
