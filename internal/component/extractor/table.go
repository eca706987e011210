package extractor

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// normalizeTable 第一行作为表头，补齐缺失列，缺失表头命名为 "Unnamed: i"
func normalizeTable(records [][]string) (header []string, rows [][]string) {
	if len(records) == 0 {
		return nil, nil
	}
	width := 0
	for _, r := range records {
		width = max(width, len(r))
	}

	header = make([]string, width)
	for i := range header {
		if i < len(records[0]) && strings.TrimSpace(records[0][i]) != "" {
			header[i] = records[0][i]
		} else {
			header[i] = fmt.Sprintf("Unnamed: %d", i)
		}
	}

	rows = make([][]string, 0, len(records)-1)
	for _, r := range records[1:] {
		row := make([]string, width)
		copy(row, r)
		rows = append(rows, row)
	}
	return header, rows
}

// renderTable 无边框对齐的纯文本表格
func renderTable(header []string, rows [][]string) string {
	if len(header) == 0 {
		return ""
	}
	var b strings.Builder
	t := tablewriter.NewWriter(&b)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetColumnSeparator("")
	t.SetCenterSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetTablePadding(" ")
	t.SetNoWhiteSpace(true)
	t.AppendBulk(rows)
	t.Render()
	return strings.TrimRight(b.String(), "\n")
}
