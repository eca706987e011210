package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// extractDOCX 只统计 body 下的直接段落和表格，表格内的段落不计入正文
func extractDOCX(ctx context.Context, data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, errors.New("word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	paragraphs, tables, err := walkDocument(ctx, rc)
	if err != nil {
		return nil, err
	}

	return &Result{
		Text: strings.TrimSpace(strings.Join(paragraphs, "\n")),
		Metadata: map[string]any{
			"total_paragraphs": len(paragraphs),
			"has_tables":       tables > 0,
			"table_count":      tables,
		},
	}, nil
}

func walkDocument(ctx context.Context, r io.Reader) (paragraphs []string, tables int, err error) {
	dec := xml.NewDecoder(r)
	var (
		stack  []string
		para   strings.Builder
		inPara bool
		inText bool
	)
	parent := func() string {
		if len(stack) < 2 {
			return ""
		}
		return stack[len(stack)-2]
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if t.Name.Space != wordNS {
				name = ""
			}
			stack = append(stack, name)
			switch name {
			case "p":
				if parent() == "body" {
					if err := ctx.Err(); err != nil {
						return nil, 0, err
					}
					inPara = true
					para.Reset()
				}
			case "tbl":
				if parent() == "body" {
					tables++
				}
			case "t":
				inText = inPara
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			name := ""
			if len(stack) > 0 {
				name = stack[len(stack)-1]
			}
			if name == "t" {
				inText = false
			}
			if name == "p" && inPara && parent() == "body" {
				paragraphs = append(paragraphs, para.String())
				inPara = false
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return paragraphs, tables, nil
}
