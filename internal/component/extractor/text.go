package extractor

import (
	"context"
	"errors"
	"unicode/utf8"
)

// extractText txt/md 原样返回
func extractText(_ context.Context, data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("file is not valid utf-8")
	}
	text := string(data)
	return &Result{
		Text: text,
		Metadata: map[string]any{
			"encoding":   "utf-8",
			"line_count": countLines(text),
		},
	}, nil
}
