package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractXLSX(ctx context.Context, data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var (
		b         strings.Builder
		totalRows int
		totalCols int
	)
	for _, name := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		header, rows := normalizeTable(records)

		fmt.Fprintf(&b, "\n\n--- Sheet: %s ---\n\n", name)
		b.WriteString(renderTable(header, rows))
		totalRows += len(rows)
		totalCols += len(header)
	}

	return &Result{
		Text: strings.TrimSpace(b.String()),
		Metadata: map[string]any{
			"sheet_names":   sheets,
			"total_sheets":  len(sheets),
			"total_rows":    totalRows,
			"total_columns": totalCols,
		},
	}, nil
}
