package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ContextLength 每个切片前后保留的上下文字符数
const ContextLength = 100

var ErrInvalidConfig = errors.New("invalid chunk config")

// Chunk 切分结果，偏移量以字符（rune）计
type Chunk struct {
	Index         int
	Content       string
	ContentLength int
	StartChar     int
	EndChar       int
	ContextBefore string
	ContextAfter  string
}

// Chunker 定长重叠窗口切分，窗口边界尽量落在空白或句末标点上
type Chunker struct {
	size    int
	overlap int
}

// New overlap 必须小于 size，否则窗口无法前进
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d", ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func isBoundary(r rune) bool {
	switch r {
	case ' ', '\n', '\t', '.', '!', '?':
		return true
	}
	return false
}

// Split 切分文本。空文本返回 nil
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + c.size
		if end < n {
			// 向后回退到边界字符，回退到起点说明整段没有边界，直接按 size 截断
			for end > start && !isBoundary(runes[end]) {
				end--
			}
			if end == start {
				end = start + c.size
			}
		} else {
			end = n
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content == "" {
			// 整个窗口都是空白，按 size-overlap 步长跳过；
			// 窗口回退过时步长不越过 end，end 之后的正文不会丢失
			start = min(start+c.size-c.overlap, end)
			continue
		}

		chunks = append(chunks, Chunk{
			Index:         len(chunks),
			Content:       content,
			ContentLength: len([]rune(content)),
			StartChar:     start,
			EndChar:       end,
			ContextBefore: string(runes[max(0, start-ContextLength):start]),
			ContextAfter:  string(runes[end:min(n, end+ContextLength)]),
		})

		if end == n {
			break
		}
		next := end - c.overlap
		if next <= start {
			// 边界离起点太近，放弃重叠以保证前进
			next = end
		}
		start = next
	}
	return chunks
}

// Count 非空切片数量
func (c *Chunker) Count(text string) int {
	return len(c.Split(text))
}
