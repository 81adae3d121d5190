package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/expertclone/backend-go/internal/errors"
	"github.com/expertclone/backend-go/internal/logger"
)

// 提供商向量库名称长度上限
const storeNameMaxRunes = 64

// StoreClient 提供商侧向量库客户端。真实实现走OpenAI向量库API；
// 提供商不可用时退化为模拟实现，流水线结构保持完整但Simulated()
// 返回true，状态里据此打标。实现选择在启动时一次性确定。
type StoreClient interface {
	// CreateStore 为克隆创建向量库，返回provider侧store id
	CreateStore(ctx context.Context, cloneID uint, name string) (string, error)
	// AttachFile 上传文件字节并挂到向量库，返回provider侧file id
	AttachFile(ctx context.Context, storeID string, content []byte, filename string) (string, error)
	// RemoveStore 删除向量库（强制重建时调用）
	RemoveStore(ctx context.Context, storeID string) error
	Simulated() bool
	Ready(ctx context.Context) bool
}

// BuildStoreName 生成确定性的向量库名：{cloneID}_{cloneName}，
// 截断到提供商名称长度上限。
func BuildStoreName(cloneID uint, cloneName string) string {
	name := fmt.Sprintf("%d_%s", cloneID, strings.TrimSpace(cloneName))
	runes := []rune(name)
	if len(runes) > storeNameMaxRunes {
		runes = runes[:storeNameMaxRunes]
	}
	return string(runes)
}

// OpenAIStoreClient 真实提供商实现
type OpenAIStoreClient struct {
	client     *openai.Client
	expireDays int
}

// NewOpenAIStoreClient 创建OpenAI向量库客户端。
// expireDays > 0 时向量库按最近活跃时间过期。
func NewOpenAIStoreClient(client *openai.Client, expireDays int) *OpenAIStoreClient {
	return &OpenAIStoreClient{client: client, expireDays: expireDays}
}

func (c *OpenAIStoreClient) CreateStore(ctx context.Context, cloneID uint, name string) (string, error) {
	req := openai.VectorStoreRequest{Name: name}
	if c.expireDays > 0 {
		req.ExpiresAfter = &openai.VectorStoreExpires{
			Anchor: "last_active_at",
			Days:   c.expireDays,
		}
	}

	store, err := c.client.CreateVectorStore(ctx, req)
	if err != nil {
		return "", apperrors.NewExternalError(
			apperrors.ErrCodeVectorStoreCreation,
			fmt.Sprintf("创建向量库失败: %s", name), err)
	}

	logger.Info("vector store created",
		zap.Uint("clone_id", cloneID),
		zap.String("store_id", store.ID),
		zap.String("name", name))
	return store.ID, nil
}

func (c *OpenAIStoreClient) AttachFile(ctx context.Context, storeID string, content []byte, filename string) (string, error) {
	file, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    filename,
		Bytes:   content,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("上传文件失败 %s: %w", filename, err)
	}

	_, err = c.client.CreateVectorStoreFile(ctx, storeID, openai.VectorStoreFileRequest{
		FileID: file.ID,
	})
	if err != nil {
		return "", fmt.Errorf("挂载文件到向量库失败 %s: %w", filename, err)
	}

	return file.ID, nil
}

func (c *OpenAIStoreClient) RemoveStore(ctx context.Context, storeID string) error {
	if storeID == "" {
		return nil
	}
	_, err := c.client.DeleteVectorStore(ctx, storeID)
	if err != nil {
		return fmt.Errorf("删除向量库失败 %s: %w", storeID, err)
	}
	return nil
}

func (c *OpenAIStoreClient) Simulated() bool {
	return false
}

// Ready 探测提供商向量库能力。列表调用失败视为不可用，
// 调用方据此切换到模拟实现。
func (c *OpenAIStoreClient) Ready(ctx context.Context) bool {
	if c.client == nil {
		return false
	}
	_, err := c.client.ListVectorStores(ctx, openai.Pagination{})
	return err == nil
}

// SimulatedStoreClient 模拟实现。分块已落在本地向量/全文存储，
// 查询走退化检索路径，这里只维护结构性的store/file标识。
type SimulatedStoreClient struct {
	mu        sync.Mutex
	fileSeq   map[string]int
	chunkSink ChunkVectorStore
}

// NewSimulatedStoreClient 创建模拟客户端。chunkSink可为nil，
// 仅用于RemoveStore时顺带清理本地向量。
func NewSimulatedStoreClient(chunkSink ChunkVectorStore) *SimulatedStoreClient {
	return &SimulatedStoreClient{
		fileSeq:   make(map[string]int),
		chunkSink: chunkSink,
	}
}

func (c *SimulatedStoreClient) CreateStore(ctx context.Context, cloneID uint, name string) (string, error) {
	storeID := fmt.Sprintf("sim_store_%d", cloneID)
	logger.Warn("向量库API不可用，使用模拟存储",
		zap.Uint("clone_id", cloneID),
		zap.String("store_id", storeID))
	return storeID, nil
}

func (c *SimulatedStoreClient) AttachFile(ctx context.Context, storeID string, content []byte, filename string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileSeq[storeID]++
	return fmt.Sprintf("%s_file_%d", storeID, c.fileSeq[storeID]), nil
}

func (c *SimulatedStoreClient) RemoveStore(ctx context.Context, storeID string) error {
	c.mu.Lock()
	delete(c.fileSeq, storeID)
	c.mu.Unlock()

	var cloneID uint
	if _, err := fmt.Sscanf(storeID, "sim_store_%d", &cloneID); err == nil && c.chunkSink != nil {
		return c.chunkSink.DeleteClone(ctx, cloneID)
	}
	return nil
}

func (c *SimulatedStoreClient) Simulated() bool {
	return true
}

func (c *SimulatedStoreClient) Ready(ctx context.Context) bool {
	return true
}
