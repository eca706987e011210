package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

func extractPDF(ctx context.Context, data []byte) (*Result, error) {
	pages, err := readPDFPages(ctx, data)
	if err != nil {
		// 纯 Go 解析失败时回退到 docconv（pdftotext），按换页符还原分页
		text, _, convErr := docconv.ConvertPDF(bytes.NewReader(data))
		if convErr != nil {
			return nil, errors.Join(err, convErr)
		}
		log.Printf("[Extractor] pdf reader failed, used docconv fallback: %v", err)
		pages = strings.Split(text, "\f")
		if last := len(pages) - 1; last >= 0 && strings.TrimSpace(pages[last]) == "" {
			pages = pages[:last]
		}
	}

	var b strings.Builder
	for i, page := range pages {
		fmt.Fprintf(&b, "\n\n--- Page %d ---\n\n", i+1)
		b.WriteString(page)
	}

	return &Result{
		Text:      strings.TrimSpace(b.String()),
		PageCount: len(pages),
		Metadata: map[string]any{
			"total_pages": len(pages),
		},
	}, nil
}

func readPDFPages(ctx context.Context, data []byte) (pages []string, err error) {
	// 畸形文件会让解析器 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
