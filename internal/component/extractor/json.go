package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// 结构摘要只看前 10 个数组元素
const sampleItems = 10

// extractJSON 解析后缩进两格重新输出。键保持首次出现的顺序，重复键取最后一个值
func extractJSON(_ context.Context, data []byte) (*Result, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json document")
	}
	root := gjson.ParseBytes(data)

	var out strings.Builder
	if err := writeJSON(&out, root, 0); err != nil {
		return nil, err
	}

	return &Result{
		Text: out.String(),
		Metadata: map[string]any{
			"json_structure": summarize(root),
			"encoding":       "utf-8",
		},
	}, nil
}

// objectFields 去重后的键与对应的值
func objectFields(v gjson.Result) ([]string, map[string]gjson.Result) {
	keys := make([]string, 0)
	values := map[string]gjson.Result{}
	v.ForEach(func(k, val gjson.Result) bool {
		key := k.String()
		if _, ok := values[key]; !ok {
			keys = append(keys, key)
		}
		values[key] = val
		return true
	})
	return keys, values
}

func writeJSON(b *strings.Builder, v gjson.Result, depth int) error {
	switch {
	case v.IsObject():
		keys, values := objectFields(v)
		if len(keys) == 0 {
			b.WriteString("{}")
			return nil
		}
		b.WriteString("{\n")
		for i, k := range keys {
			b.WriteString(strings.Repeat("  ", depth+1))
			if err := writeString(b, k); err != nil {
				return err
			}
			b.WriteString(": ")
			if err := writeJSON(b, values[k], depth+1); err != nil {
				return err
			}
			if i < len(keys)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteByte('}')
	case v.IsArray():
		items := v.Array()
		if len(items) == 0 {
			b.WriteString("[]")
			return nil
		}
		b.WriteString("[\n")
		for i, item := range items {
			b.WriteString(strings.Repeat("  ", depth+1))
			if err := writeJSON(b, item, depth+1); err != nil {
				return err
			}
			if i < len(items)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteByte(']')
	case v.Type == gjson.String:
		return writeString(b, v.String())
	case v.Type == gjson.Number:
		b.WriteString(formatNumber(v.Raw))
	case v.Type == gjson.True:
		b.WriteString("true")
	case v.Type == gjson.False:
		b.WriteString("false")
	default:
		b.WriteString("null")
	}
	return nil
}

// writeString 非 ASCII 字符原样输出
func writeString(b *strings.Builder, s string) error {
	raw, err := sonic.ConfigDefault.MarshalToString(s)
	if err != nil {
		return fmt.Errorf("encode json string: %w", err)
	}
	b.WriteString(raw)
	return nil
}

// formatNumber 整数原样输出，小数统一成 100.0、1e+20 这样的形式
func formatNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil || exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func summarize(v gjson.Result) map[string]any {
	switch {
	case v.IsObject():
		keys, _ := objectFields(v)
		return map[string]any{
			"type":      "object",
			"keys":      keys,
			"key_count": len(keys),
		}
	case v.IsArray():
		items := v.Array()
		types := make([]string, 0)
		seen := map[string]bool{}
		for _, item := range items[:min(sampleItems, len(items))] {
			if name := typeName(item); !seen[name] {
				seen[name] = true
				types = append(types, name)
			}
		}
		return map[string]any{
			"type":       "array",
			"length":     len(items),
			"item_types": types,
		}
	default:
		return map[string]any{"type": typeName(v)}
	}
}

// typeName 值类型名，和前端约定沿用 dict/list/str/int/float/bool/NoneType
func typeName(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "NoneType"
	case gjson.True, gjson.False:
		return "bool"
	case gjson.String:
		return "str"
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return "float"
		}
		return "int"
	}
	if v.IsArray() {
		return "list"
	}
	return "dict"
}
