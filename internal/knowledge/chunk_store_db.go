package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gorm.io/gorm"
)

// DatabaseChunkStore 基于PostgreSQL的退化向量存储。
// 向量以JSON存在分块行上，检索时在内存中算余弦相似度。
type DatabaseChunkStore struct {
	db *gorm.DB
}

func NewDatabaseChunkStore(db *gorm.DB) ChunkVectorStore {
	return &DatabaseChunkStore{db: db}
}

func (s *DatabaseChunkStore) UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error) {
	if len(chunk.Embedding) == 0 {
		return "", fmt.Errorf("embedding is empty")
	}

	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return "", err
	}

	vectorID := fmt.Sprintf("db_%d", chunk.ChunkID)
	err = s.db.WithContext(ctx).Table("knowledge_chunks").
		Where("chunk_id = ?", chunk.ChunkID).
		Updates(map[string]interface{}{
			"vector_id": vectorID,
			"embedding": string(embeddingJSON),
		}).Error
	if err != nil {
		return "", err
	}
	return vectorID, nil
}

func (s *DatabaseChunkStore) DeleteClone(ctx context.Context, cloneID uint) error {
	return s.db.WithContext(ctx).Table("knowledge_chunks").
		Where("clone_id = ?", cloneID).
		Updates(map[string]interface{}{
			"vector_id": "",
			"embedding": "",
		}).Error
}

func (s *DatabaseChunkStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if req.CandidateLimit == 0 {
		req.CandidateLimit = req.Limit * 20
	}

	var rows []chunkEmbeddingRecord
	err := s.db.WithContext(ctx).
		Table("knowledge_chunks").
		Select("chunk_id, document_id, content, embedding, metadata").
		Where("clone_id = ?", req.CloneID).
		Where("embedding IS NOT NULL AND embedding::text <> ''").
		Limit(req.CandidateLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}

	results := make([]SearchMatch, 0, req.Limit)
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.EmbeddingJSON), &embedding); err != nil {
			continue
		}
		var metadata map[string]interface{}
		if row.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(row.MetadataJSON), &metadata)
		}
		score := cosineSimilarity(req.QueryEmbedding, embedding, queryNorm)
		if score < req.Threshold {
			continue
		}
		results = append(results, SearchMatch{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Content:    row.Content,
			Score:      score,
			Metadata:   metadata,
		})
	}

	sortMatchesByScore(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

func (s *DatabaseChunkStore) Ready() bool {
	return s.db != nil
}

type chunkEmbeddingRecord struct {
	ChunkID       uint
	DocumentID    uint
	Content       string
	EmbeddingJSON string `gorm:"column:embedding"`
	MetadataJSON  string `gorm:"column:metadata"`
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (normA * math.Sqrt(normB))
}
