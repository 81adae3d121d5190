package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/expertclone/backend-go/internal/logger"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	CollectionPrefix string
	VectorSize       int
	Distance         string
	Database         string
	UseTLS           bool
	Timeout          time.Duration
}

type milvusChunkStore struct {
	milvusClient     client.Client
	collectionPrefix string
	vectorSize       int
	distance         string
	database         string
}

// NewMilvusChunkStore 创建Milvus分块向量存储，每个克隆一个集合
func NewMilvusChunkStore(opts MilvusOptions) (ChunkVectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "clone_vectors"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Distance == "" {
		opts.Distance = "COSINE"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	host := opts.Address
	port := "19530"
	if strings.Contains(opts.Address, ":") {
		parts := strings.Split(opts.Address, ":")
		host = parts[0]
		port = parts[1]
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       fmt.Sprintf("%s:%s", host, port),
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusChunkStore{
		milvusClient:     milvusClient,
		collectionPrefix: opts.CollectionPrefix,
		vectorSize:       opts.VectorSize,
		distance:         formatMilvusDistance(opts.Distance),
		database:         opts.Database,
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *milvusChunkStore) collectionName(cloneID uint) string {
	return fmt.Sprintf("%s_%d", s.collectionPrefix, cloneID)
}

func (s *milvusChunkStore) ensureCollection(ctx context.Context, cloneID uint) error {
	name := s.collectionName(cloneID)

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("Clone %d knowledge vectors", cloneID),
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     "chunk_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "clone_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.vectorSize),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// 索引优先HNSW，失败退回IVF_FLAT
	var index entity.Index
	var indexErr error
	switch s.distance {
	case "COSINE":
		index, indexErr = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	case "IP":
		index, indexErr = entity.NewIndexHNSW(entity.IP, 8, 64)
	default:
		index, indexErr = entity.NewIndexHNSW(entity.L2, 8, 64)
	}
	if indexErr != nil {
		switch s.distance {
		case "COSINE":
			index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
		case "IP":
			index, indexErr = entity.NewIndexIvfFlat(entity.IP, 128)
		default:
			index, indexErr = entity.NewIndexIvfFlat(entity.L2, 128)
		}
		if indexErr != nil {
			return fmt.Errorf("failed to create index: %w", indexErr)
		}
	}

	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		// 索引创建失败不影响使用
		logger.Warn("failed to create milvus index", zap.String("collection", name), zap.Error(err))
	}

	return nil
}

func (s *milvusChunkStore) UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error) {
	if len(chunk.Embedding) == 0 {
		return "", fmt.Errorf("embedding is empty")
	}
	if len(chunk.Embedding) != s.vectorSize {
		embedding := make([]float32, s.vectorSize)
		copy(embedding, chunk.Embedding)
		chunk.Embedding = embedding
	}

	if err := s.ensureCollection(ctx, chunk.CloneID); err != nil {
		return "", err
	}

	collectionName := s.collectionName(chunk.CloneID)

	idColumn := entity.NewColumnInt64("id", []int64{int64(chunk.ChunkID)})
	chunkIDColumn := entity.NewColumnInt64("chunk_id", []int64{int64(chunk.ChunkID)})
	documentIDColumn := entity.NewColumnInt64("document_id", []int64{int64(chunk.DocumentID)})
	cloneIDColumn := entity.NewColumnInt64("clone_id", []int64{int64(chunk.CloneID)})
	contentColumn := entity.NewColumnVarChar("content", []string{chunk.Text})
	vectorColumn := entity.NewColumnFloatVector("vector", s.vectorSize, [][]float32{chunk.Embedding})

	_, err := s.milvusClient.Insert(ctx, collectionName, "", idColumn, chunkIDColumn, documentIDColumn, cloneIDColumn, contentColumn, vectorColumn)
	if err != nil {
		return "", fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, collectionName, false); err != nil {
		logger.Warn("failed to flush milvus collection", zap.String("collection", collectionName), zap.Error(err))
	}

	return fmt.Sprintf("milvus_%d", chunk.ChunkID), nil
}

// DeleteClone 删除克隆的全部向量。强制重建时整集合丢弃，
// 避免新旧向量并存。
func (s *milvusChunkStore) DeleteClone(ctx context.Context, cloneID uint) error {
	name := s.collectionName(cloneID)
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		return nil
	}
	if err := s.milvusClient.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("milvus drop collection failed: %w", err)
	}
	return nil
}

func (s *milvusChunkStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx, req.CloneID); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	collectionName := s.collectionName(req.CloneID)

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	queryVector := entity.FloatVector(req.QueryEmbedding)
	searchResults, err := s.milvusClient.Search(
		ctx,
		collectionName,
		[]string{},
		"",
		[]string{"chunk_id", "document_id", "clone_id", "content"},
		[]entity.Vector{queryVector},
		"vector",
		entity.MetricType(s.distance),
		req.Limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	if len(searchResults) == 0 || searchResults[0].Err != nil {
		if len(searchResults) > 0 && searchResults[0].Err != nil {
			return nil, fmt.Errorf("milvus search error: %w", searchResults[0].Err)
		}
		return []SearchMatch{}, nil
	}

	result := searchResults[0]
	if result.ResultCount == 0 {
		return []SearchMatch{}, nil
	}

	var ids []int64
	if result.IDs != nil {
		if idCol, ok := result.IDs.(*entity.ColumnInt64); ok {
			ids = idCol.Data()
		}
	}

	var chunkIDs []int64
	var documentIDs []int64
	var contents []string
	if result.Fields != nil {
		for _, field := range result.Fields {
			switch field.Name() {
			case "chunk_id":
				if val, ok := field.(*entity.ColumnInt64); ok {
					chunkIDs = val.Data()
				}
			case "document_id":
				if val, ok := field.(*entity.ColumnInt64); ok {
					documentIDs = val.Data()
				}
			case "content":
				if val, ok := field.(*entity.ColumnVarChar); ok {
					contents = val.Data()
				}
			}
		}
	}

	results := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		chunkID := uint(0)
		documentID := uint(0)
		content := ""

		if i < len(chunkIDs) {
			chunkID = uint(chunkIDs[i])
		} else if i < len(ids) {
			chunkID = uint(ids[i])
		}
		if i < len(documentIDs) {
			documentID = uint(documentIDs[i])
		}
		if i < len(contents) {
			content = contents[i]
		}

		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		if score < req.Threshold {
			continue
		}

		results = append(results, SearchMatch{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Content:    content,
			Score:      score,
			Metadata:   make(map[string]interface{}),
		})
	}

	return results, nil
}

func (s *milvusChunkStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
