package knowledge

import (
	"context"
	"time"
)

// FulltextChunk 提供索引用的分块结构
type FulltextChunk struct {
	ChunkID    uint
	DocumentID uint
	CloneID    uint
	Content    string
	ChunkSeq   int
	FileName   string
	FileType   string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}

// FulltextSearchRequest 全文搜索请求
type FulltextSearchRequest struct {
	CloneID uint
	Query   string
	Limit   int
	Filters map[string]interface{}
}

// FulltextIndexer 全文索引接口。模拟存储路径下与向量检索
// 并用，为退化检索提供文本命中。
type FulltextIndexer interface {
	IndexChunk(ctx context.Context, chunk FulltextChunk) error
	RemoveClone(ctx context.Context, cloneID uint) error
	Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error)
	Ready() bool
}
