package extractor

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractCSV(_ context.Context, data []byte) (*Result, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("no columns to parse from file")
	}

	header, rows := normalizeTable(records)
	return &Result{
		Text: renderTable(header, rows),
		Metadata: map[string]any{
			"total_rows":    len(rows),
			"total_columns": len(header),
			"column_names":  header,
		},
	}, nil
}
