package indexer

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryIndex struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory 进程内索引，余弦相似度暴力检索，用于单机部署和测试
func NewMemory() VectorIndex {
	return &memoryIndex{records: make(map[string]Record)}
}

func (m *memoryIndex) Available() bool { return true }
func (m *memoryIndex) Name() string    { return "memory" }

func (m *memoryIndex) Upsert(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		r.Vector = vec
		m.records[r.ID] = r
	}
	return nil
}

func (m *memoryIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0)
	for id, r := range m.records {
		if r.Metadata.UserID != filter.UserID {
			continue
		}
		if filter.KnowledgeBaseID != "" && r.Metadata.KnowledgeBaseID != filter.KnowledgeBaseID {
			continue
		}
		matches = append(matches, Match{ID: id, Score: cosine(vector, r.Vector), Metadata: r.Metadata})
	}
	m.mu.RUnlock()

	// 同分按 id 排序保证结果稳定
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memoryIndex) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
