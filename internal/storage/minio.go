package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/expertclone/backend-go/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 文档字节存取，核心流程只读不管理生命周期
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore 创建MinIO对象存储客户端
func NewObjectStore(cfg config.ObjectStorageConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" {
		return nil, fmt.Errorf("object storage not configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// Fetch 按路径读取文档字节。支持 "bucket/path" 形式的完整路径，
// 也支持仅 object key（使用默认bucket）。
func (s *ObjectStore) Fetch(ctx context.Context, filePath string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("storage client not available")
	}

	bucket, key := s.resolvePath(filePath)
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象失败 %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象内容失败: %w", err)
	}
	return data, nil
}

// Put 保存文件到存储（处理流水线持久化提取预览等）
func (s *ObjectStore) Put(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("storage client not available")
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file to storage: %w", err)
	}
	return fmt.Sprintf("%s/%s", s.bucket, key), nil
}

// resolvePath 解析存储路径。允许传入完整URL（取path部分）或 bucket/key。
func (s *ObjectStore) resolvePath(filePath string) (bucket, key string) {
	if strings.HasPrefix(filePath, "http://") || strings.HasPrefix(filePath, "https://") {
		if u, err := url.Parse(filePath); err == nil {
			filePath = strings.TrimPrefix(u.Path, "/")
		}
	}

	parts := strings.SplitN(filePath, "/", 2)
	if len(parts) == 2 && parts[0] == s.bucket {
		return parts[0], parts[1]
	}
	return s.bucket, filePath
}

// Ready 检查存储是否可用
func (s *ObjectStore) Ready(ctx context.Context) bool {
	if s == nil || s.client == nil {
		return false
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	return err == nil && exists
}
