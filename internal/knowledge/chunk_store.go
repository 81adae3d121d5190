package knowledge

import (
	"context"
	"sort"
)

// VectorChunk 存储向量信息
type VectorChunk struct {
	ChunkID    uint
	DocumentID uint
	CloneID    uint
	Text       string
	Embedding  []float32
}

// VectorSearchRequest 向量检索请求
type VectorSearchRequest struct {
	CloneID        uint
	QueryEmbedding []float32
	Limit          int
	CandidateLimit int
	Threshold      float64 // 相似度阈值，仅返回 >= Threshold 的结果
}

// SearchMatch 检索命中，向量检索与全文检索共用
type SearchMatch struct {
	ChunkID    uint
	DocumentID uint
	Content    string
	Score      float64
	Highlight  string
	Metadata   map[string]interface{}
}

// ChunkVectorStore 分块向量存储抽象。模拟存储路径下承担检索职责，
// 真实提供商路径下仅作分块向量的旁路落地。
type ChunkVectorStore interface {
	UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error)
	DeleteClone(ctx context.Context, cloneID uint) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	Ready() bool
}

// sortMatchesByScore 按分数降序排序，同分按chunk_id升序保证稳定
func sortMatchesByScore(matches []SearchMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
}
