package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/expertclone/backend-go/internal/config"
	apperrors "github.com/expertclone/backend-go/internal/errors"
	"github.com/expertclone/backend-go/internal/kafka"
	"github.com/expertclone/backend-go/internal/knowledge"
	"github.com/expertclone/backend-go/internal/logger"
	"github.com/expertclone/backend-go/internal/models"
	"github.com/expertclone/backend-go/internal/storage"
)

// DocumentInput 一条待处理文档。内联内容与对象存储路径二选一。
type DocumentInput struct {
	Title       string   `json:"title"`
	Content     string   `json:"content,omitempty"`
	FilePath    string   `json:"file_path,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ProcessingResult 一次处理运行的结果
type ProcessingResult struct {
	Status                string  `json:"status"`
	JobID                 string  `json:"job_id"`
	ProcessedDocuments    int     `json:"processed_documents"`
	FailedDocuments       int     `json:"failed_documents"`
	TotalDocuments        int     `json:"total_documents"`
	AssistantID           string  `json:"assistant_id,omitempty"`
	StoreID               string  `json:"store_id,omitempty"`
	Simulated             bool    `json:"simulated"`
	Error                 string  `json:"error,omitempty"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// StartResult 异步受理结果
type StartResult struct {
	JobID          string `json:"job_id"`
	Existing       bool   `json:"existing"`
	TotalDocuments int    `json:"total_documents"`
}

// CloneRAGStatus 克隆聚合RAG状态
type CloneRAGStatus struct {
	IsReady         bool       `json:"is_ready"`
	Status          string     `json:"status"`
	DocumentCount   int        `json:"document_count"`
	LastInitialized *time.Time `json:"last_initialized,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// RAGProcessingService 知识处理编排。
// 流水线：校验租户 → 建向量库 → 逐文档提取/分块/嵌入/挂载 →
// 建助手 → 落聚合状态。文档级失败只计数不中断整批。
type RAGProcessingService struct {
	db         *gorm.DB
	cfg        *config.Config
	objects    *storage.ObjectStore
	extractor  *knowledge.TextExtractor
	chunker    *knowledge.Chunker
	embedder   knowledge.Embedder
	stores     knowledge.StoreClient
	assistants knowledge.AssistantManager
	chunkStore knowledge.ChunkVectorStore
	indexer    knowledge.FulltextIndexer
	tracker    *InitializationTracker
	sm         *RAGStateMachine
	producer   *kafka.Producer
	metrics    *RAGMetrics

	// 每租户同时只允许一个运行中任务
	running sync.Map
}

// RAGProcessingDeps 构造依赖
type RAGProcessingDeps struct {
	DB         *gorm.DB
	Config     *config.Config
	Objects    *storage.ObjectStore
	Extractor  *knowledge.TextExtractor
	Chunker    *knowledge.Chunker
	Embedder   knowledge.Embedder
	Stores     knowledge.StoreClient
	Assistants knowledge.AssistantManager
	ChunkStore knowledge.ChunkVectorStore
	Indexer    knowledge.FulltextIndexer
	Tracker    *InitializationTracker
	Producer   *kafka.Producer
	Metrics    *RAGMetrics
}

// NewRAGProcessingService 创建处理编排服务
func NewRAGProcessingService(deps RAGProcessingDeps) *RAGProcessingService {
	return &RAGProcessingService{
		db:         deps.DB,
		cfg:        deps.Config,
		objects:    deps.Objects,
		extractor:  deps.Extractor,
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		stores:     deps.Stores,
		assistants: deps.Assistants,
		chunkStore: deps.ChunkStore,
		indexer:    deps.Indexer,
		tracker:    deps.Tracker,
		sm:         NewRAGStateMachine(),
		producer:   deps.Producer,
		metrics:    deps.Metrics,
	}
}

// StartProcessing 受理处理请求并在后台运行。
// 非force时若该租户已有未终结任务，返回现有job而不是并发重跑。
func (s *RAGProcessingService) StartProcessing(ctx context.Context, cloneID uint, inputs []DocumentInput, force bool) (*StartResult, error) {
	var clone models.Clone
	if err := s.db.WithContext(ctx).First(&clone, cloneID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewTenantNotFoundError(cloneID)
		}
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "查询克隆失败", err)
	}

	if !force {
		if jobID := s.activeJobID(ctx, cloneID); jobID != "" {
			snapshot := s.tracker.Get(ctx, jobID)
			return &StartResult{
				JobID:          jobID,
				Existing:       true,
				TotalDocuments: snapshot.TotalDocs,
			}, nil
		}
	}

	docs, err := s.resolveDocuments(ctx, cloneID, inputs)
	if err != nil {
		return nil, err
	}

	jobID, err := s.tracker.Create(ctx, cloneID, len(docs))
	if err != nil {
		return nil, err
	}
	s.running.Store(cloneID, jobID)

	docIDs := make([]uint, len(docs))
	for i, d := range docs {
		docIDs[i] = d.DocumentID
	}

	go func() {
		defer s.running.Delete(cloneID)
		// 后台任务脱离请求上下文运行
		s.Process(context.Background(), jobID, cloneID, docIDs, force)
	}()

	return &StartResult{JobID: jobID, TotalDocuments: len(docs)}, nil
}

// activeJobID 返回该租户当前未终结任务的id，没有则为空
func (s *RAGProcessingService) activeJobID(ctx context.Context, cloneID uint) string {
	if v, ok := s.running.Load(cloneID); ok {
		return v.(string)
	}
	var job models.RAGInitialization
	err := s.db.WithContext(ctx).
		Where("clone_id = ? AND status NOT IN ?", cloneID,
			[]string{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusExpired}).
		Order("create_time DESC").
		First(&job).Error
	if err != nil {
		return ""
	}
	return job.JobID
}

// resolveDocuments 落库内联文档；没有内联文档时取该克隆的全部文档
func (s *RAGProcessingService) resolveDocuments(ctx context.Context, cloneID uint, inputs []DocumentInput) ([]models.KnowledgeDocument, error) {
	now := time.Now()
	if len(inputs) == 0 {
		var docs []models.KnowledgeDocument
		if err := s.db.WithContext(ctx).Where("clone_id = ?", cloneID).Order("document_id ASC").Find(&docs).Error; err != nil {
			return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "查询文档失败", err)
		}
		return docs, nil
	}

	docs := make([]models.KnowledgeDocument, 0, len(inputs))
	for _, input := range inputs {
		doc := models.KnowledgeDocument{
			CloneID:          cloneID,
			Title:            input.Title,
			FilePath:         input.FilePath,
			ContentType:      input.ContentType,
			ProcessingStatus: models.DocumentStatusPending,
			CreateTime:       now,
			UpdateTime:       now,
		}
		if len(input.Tags) > 0 {
			if raw, err := json.Marshal(input.Tags); err == nil {
				doc.Tags = string(raw)
			}
		}

		// 内联内容优先落对象存储，存储不可用时留在预览列
		if input.Content != "" && input.FilePath == "" {
			doc.FileSize = int64(len(input.Content))
			key := fmt.Sprintf("clones/%d/knowledge/%d_%s", cloneID, now.UnixNano(), sanitizeFilename(input.Title))
			if s.objects != nil {
				if path, err := s.objects.Put(ctx, key, []byte(input.Content), input.ContentType); err == nil {
					doc.FilePath = path
				} else {
					logger.Warn("save document to object storage failed", zap.Error(err))
					doc.ContentPreview = input.Content
				}
			} else {
				doc.ContentPreview = input.Content
			}
		}

		if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
			return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "保存文档失败", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "document.txt"
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if filepath.Ext(name) == "" {
		name += ".txt"
	}
	return name
}

// Process 同步执行完整处理流水线。后台goroutine与测试直接调用。
func (s *RAGProcessingService) Process(ctx context.Context, jobID string, cloneID uint, docIDs []uint, force bool) *ProcessingResult {
	start := time.Now()
	result := &ProcessingResult{
		Status:         models.RAGStatusProcessing,
		JobID:          jobID,
		TotalDocuments: len(docIDs),
		Simulated:      s.stores.Simulated(),
	}

	s.publishEvent(jobID, cloneID, "started", models.JobStatusAnalyzing, result)

	fail := func(code apperrors.ErrorCode, msg string, err error) *ProcessingResult {
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		logger.Error("knowledge processing failed",
			zap.String("job_id", jobID),
			zap.Uint("clone_id", cloneID),
			zap.String("reason", msg))
		result.Status = models.RAGStatusFailed
		result.Error = msg
		result.ProcessingTimeSeconds = time.Since(start).Seconds()
		s.tracker.Complete(ctx, jobID, false, msg)
		s.persistCloneStatus(ctx, cloneID, models.RAGStatusFailed, "", result.ProcessedDocuments, msg)
		s.publishEvent(jobID, cloneID, "failed", models.JobStatusFailed, result)
		s.metrics.RecordProcessingRun(models.RAGStatusFailed, result.ProcessedDocuments, result.FailedDocuments, time.Since(start))
		return result
	}

	// analyzing: 校验租户并加载文档
	s.tracker.Update(ctx, jobID, models.JobStatusAnalyzing, s.sm.PhasePercent(models.JobStatusAnalyzing), "分析知识文档", 0, 0)

	var clone models.Clone
	if err := s.db.WithContext(ctx).First(&clone, cloneID).Error; err != nil {
		return fail(apperrors.ErrCodeTenantNotFound, fmt.Sprintf("克隆 %d 不存在", cloneID), err)
	}
	s.persistCloneStatus(ctx, cloneID, models.RAGStatusProcessing, "", 0, "")

	var docs []models.KnowledgeDocument
	if len(docIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("document_id IN ?", docIDs).Order("document_id ASC").Find(&docs).Error; err != nil {
			return fail(apperrors.ErrCodeDatabaseError, "加载文档失败", err)
		}
	}
	result.TotalDocuments = len(docs)

	// 空知识库是合法稳态：不建库不建助手，直接空成功
	if len(docs) == 0 {
		result.Status = models.RAGStatusCompleted
		result.ProcessingTimeSeconds = time.Since(start).Seconds()
		s.tracker.Complete(ctx, jobID, true, "")
		s.persistCloneStatus(ctx, cloneID, models.RAGStatusCompleted, "", 0, "")
		s.publishEvent(jobID, cloneID, "completed", models.JobStatusCompleted, result)
		s.metrics.RecordProcessingRun(models.RAGStatusCompleted, 0, 0, time.Since(start))
		logger.Info("knowledge processing resolved empty",
			zap.String("job_id", jobID), zap.Uint("clone_id", cloneID))
		return result
	}

	// preparing: 建向量库。force时先彻底清掉旧的store/assistant元数据
	s.tracker.Update(ctx, jobID, models.JobStatusPreparing, s.sm.PhasePercent(models.JobStatusPreparing), "准备向量知识库", 0, 0)

	if force {
		if err := s.supersede(ctx, cloneID); err != nil {
			logger.Warn("supersede previous RAG records failed",
				zap.Uint("clone_id", cloneID), zap.Error(err))
		}
	}

	storeID, err := s.resolveStore(ctx, &clone, force)
	if err != nil {
		return fail(apperrors.ErrCodeVectorStoreCreation, "创建向量库失败", err)
	}
	result.StoreID = storeID

	// embedding: 逐文档处理，进度在35-70区间线性推进
	var fileIDs []string
	done := 0
	for i := range docs {
		doc := &docs[i]
		fileID, docErr := s.processDocument(ctx, doc, storeID)
		done++
		if docErr != nil {
			result.FailedDocuments++
			s.markDocumentFailed(ctx, doc, docErr)
		} else {
			result.ProcessedDocuments++
			if fileID != "" {
				fileIDs = append(fileIDs, fileID)
			}
		}
		s.tracker.Update(ctx, jobID, models.JobStatusEmbedding,
			s.sm.EmbeddingPercent(done, len(docs)),
			fmt.Sprintf("正在处理文档 %d/%d", done, len(docs)),
			result.ProcessedDocuments, result.FailedDocuments)
	}

	s.updateStoreFileIDs(ctx, cloneID, storeID, fileIDs)

	// storing: 至少一篇成功才建助手
	s.tracker.Update(ctx, jobID, models.JobStatusStoring, s.sm.PhasePercent(models.JobStatusStoring), "构建AI助手", result.ProcessedDocuments, result.FailedDocuments)

	assistantID := ""
	if result.ProcessedDocuments > 0 {
		instructions := knowledge.BuildInstructions(clone.Name, clone.Bio, !s.stores.Simulated())
		assistantID, err = s.assistants.CreateOrReplace(ctx, cloneID, clone.Name, storeID, instructions)
		if err != nil {
			return fail(apperrors.ErrCodeAssistantCreation, "创建助手失败", err)
		}
		result.AssistantID = assistantID
		s.persistAssistantRecord(ctx, cloneID, assistantID, storeID, instructions)
	}

	// finalizing: 聚合状态落库。部分失败但有成功文档仍按completed处理
	s.tracker.Update(ctx, jobID, models.JobStatusFinalizing, s.sm.PhasePercent(models.JobStatusFinalizing), "保存处理结果", result.ProcessedDocuments, result.FailedDocuments)

	finalStatus := models.RAGStatusCompleted
	errMsg := ""
	if result.ProcessedDocuments == 0 {
		finalStatus = models.RAGStatusFailed
		errMsg = fmt.Sprintf("全部 %d 篇文档处理失败", result.FailedDocuments)
	} else if result.FailedDocuments > 0 {
		errMsg = fmt.Sprintf("%d 篇文档处理失败", result.FailedDocuments)
	}
	s.persistCloneStatus(ctx, cloneID, finalStatus, assistantID, result.ProcessedDocuments, errMsg)

	result.Status = finalStatus
	result.Error = errMsg
	result.ProcessingTimeSeconds = time.Since(start).Seconds()

	success := finalStatus == models.RAGStatusCompleted
	s.tracker.Complete(ctx, jobID, success, errMsg)
	eventType := "completed"
	eventStatus := models.JobStatusCompleted
	if !success {
		eventType = "failed"
		eventStatus = models.JobStatusFailed
	}
	s.publishEvent(jobID, cloneID, eventType, eventStatus, result)
	s.metrics.RecordProcessingRun(finalStatus, result.ProcessedDocuments, result.FailedDocuments, time.Since(start))

	logger.Info("knowledge processing finished",
		zap.String("job_id", jobID),
		zap.Uint("clone_id", cloneID),
		zap.String("status", finalStatus),
		zap.Int("processed", result.ProcessedDocuments),
		zap.Int("failed", result.FailedDocuments),
		zap.Bool("simulated", result.Simulated),
		zap.Float64("elapsed_seconds", result.ProcessingTimeSeconds))
	return result
}

// resolveStore 非force时复用现存向量库记录，否则新建并落元数据行
func (s *RAGProcessingService) resolveStore(ctx context.Context, clone *models.Clone, force bool) (string, error) {
	if !force {
		var record models.VectorStoreRecord
		err := s.db.WithContext(ctx).Where("clone_id = ?", clone.CloneID).Order("id DESC").First(&record).Error
		if err == nil && record.StoreID != "" && record.Simulated == s.stores.Simulated() {
			return record.StoreID, nil
		}
	}

	name := knowledge.BuildStoreName(clone.CloneID, clone.Name)
	storeID, err := s.stores.CreateStore(ctx, clone.CloneID, name)
	if err != nil {
		return "", err
	}

	record := models.VectorStoreRecord{
		CloneID:    clone.CloneID,
		StoreID:    storeID,
		Name:       name,
		Simulated:  s.stores.Simulated(),
		CreateTime: time.Now(),
	}
	if days := s.cfg.RAG.StoreExpirationDays; days > 0 {
		expires := time.Now().AddDate(0, 0, days)
		record.ExpiresAt = &expires
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		logger.Error("persist vector store record failed",
			zap.Uint("clone_id", clone.CloneID), zap.Error(err))
	}
	return storeID, nil
}

// supersede 强制重建语义：删掉提供商向量库与本地store/assistant元数据行。
// 旧的provider侧助手对象不删，只清本地记录。
func (s *RAGProcessingService) supersede(ctx context.Context, cloneID uint) error {
	var records []models.VectorStoreRecord
	if err := s.db.WithContext(ctx).Where("clone_id = ?", cloneID).Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		if err := s.stores.RemoveStore(ctx, record.StoreID); err != nil {
			logger.Warn("remove provider vector store failed",
				zap.String("store_id", record.StoreID), zap.Error(err))
		}
	}
	if err := s.db.WithContext(ctx).Where("clone_id = ?", cloneID).Delete(&models.VectorStoreRecord{}).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("clone_id = ?", cloneID).Delete(&models.AssistantRecord{}).Error; err != nil {
		return err
	}

	if s.chunkStore != nil && s.chunkStore.Ready() {
		if err := s.chunkStore.DeleteClone(ctx, cloneID); err != nil {
			logger.Warn("clear clone vectors failed", zap.Uint("clone_id", cloneID), zap.Error(err))
		}
	}
	if s.indexer != nil && s.indexer.Ready() {
		if err := s.indexer.RemoveClone(ctx, cloneID); err != nil {
			logger.Warn("clear clone fulltext index failed", zap.Uint("clone_id", cloneID), zap.Error(err))
		}
	}
	return nil
}

// processDocument 单文档流水线：取字节 → 提取 → 分块 → 落分块行 →
// （模拟路径）本地嵌入与索引 → 挂载到向量库。返回provider file id。
func (s *RAGProcessingService) processDocument(ctx context.Context, doc *models.KnowledgeDocument, storeID string) (string, error) {
	now := time.Now()
	s.db.WithContext(ctx).Model(doc).Updates(map[string]interface{}{
		"processing_status": models.DocumentStatusProcessing,
		"update_time":       now,
	})

	data, filename, err := s.loadDocumentBytes(ctx, doc)
	if err != nil {
		return "", err
	}

	extracted, err := s.extractor.Extract(data, filename)
	if err != nil {
		return "", err
	}

	chunkCfg := knowledge.ChunkConfig{
		ChunkSize:    s.cfg.RAG.ChunkSize,
		ChunkOverlap: s.cfg.RAG.ChunkOverlap,
		MinChunkSize: s.cfg.RAG.MinChunkSize,
		MaxChunkSize: s.cfg.RAG.MaxChunkSize,
		Strategy:     s.cfg.RAG.Strategy,
	}
	chunks, err := s.chunker.Chunk(extracted.Text, chunkCfg)
	if err != nil {
		return "", apperrors.NewSystemError(apperrors.ErrCodeDocumentProcessing, "文档分块失败", err)
	}

	records, err := s.persistChunks(ctx, doc, chunks, extracted)
	if err != nil {
		return "", err
	}

	// 模拟存储路径下检索靠本地，向量与全文索引必须落地；
	// 真实路径下provider自带检索，本地只留分块行
	if s.stores.Simulated() {
		s.indexLocally(ctx, doc, records)
	}

	fileID, err := s.stores.AttachFile(ctx, storeID, []byte(extracted.Text), filename)
	if err != nil {
		return "", apperrors.NewExternalError(apperrors.ErrCodeDocumentProcessing, "挂载文档到向量库失败", err)
	}

	vectorStatus := "attached"
	if s.stores.Simulated() {
		vectorStatus = "simulated"
	}
	preview := extracted.Text
	if len(preview) > 500 {
		preview = string([]rune(preview)[:500])
	}
	s.db.WithContext(ctx).Model(doc).Updates(map[string]interface{}{
		"processing_status":   models.DocumentStatusCompleted,
		"vector_store_status": vectorStatus,
		"content_preview":     preview,
		"error_message":       "",
		"update_time":         time.Now(),
	})

	logger.Info("document processed",
		zap.Uint("document_id", doc.DocumentID),
		zap.Uint("clone_id", doc.CloneID),
		zap.Int("chunks", len(chunks)),
		zap.String("format", extracted.Format))
	return fileID, nil
}

// loadDocumentBytes 读取文档字节。优先对象存储路径，回退到预览列
func (s *RAGProcessingService) loadDocumentBytes(ctx context.Context, doc *models.KnowledgeDocument) ([]byte, string, error) {
	filename := sanitizeFilename(doc.Title)
	if doc.FilePath != "" {
		if base := filepath.Base(doc.FilePath); filepath.Ext(base) != "" {
			filename = base
		}
		if s.objects == nil {
			return nil, "", apperrors.NewConfigurationError("对象存储未配置，无法读取文档")
		}
		data, err := s.objects.Fetch(ctx, doc.FilePath)
		if err != nil {
			return nil, "", apperrors.NewExternalError(apperrors.ErrCodeDocumentProcessing, "读取文档失败", err)
		}
		return data, filename, nil
	}
	if doc.ContentPreview != "" {
		return []byte(doc.ContentPreview), filename, nil
	}
	return nil, "", apperrors.NewValidationError(apperrors.ErrCodeNoTextContent, "文档没有可读取的内容")
}

// persistChunks 重建文档的分块行
func (s *RAGProcessingService) persistChunks(ctx context.Context, doc *models.KnowledgeDocument, chunks []knowledge.Chunk, extracted *knowledge.ExtractResult) ([]models.KnowledgeChunk, error) {
	if err := s.db.WithContext(ctx).Where("document_id = ?", doc.DocumentID).Delete(&models.KnowledgeChunk{}).Error; err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "清理旧分块失败", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	now := time.Now()
	records := make([]models.KnowledgeChunk, len(chunks))
	for i, chunk := range chunks {
		meta := map[string]interface{}{
			"format": extracted.Format,
		}
		for k, v := range chunk.Metadata {
			meta[k] = v
		}
		metaJSON, _ := json.Marshal(meta)
		records[i] = models.KnowledgeChunk{
			DocumentID:    doc.DocumentID,
			CloneID:       doc.CloneID,
			Content:       chunk.Content,
			ChunkIndex:    chunk.Index,
			ChunkSeq:      chunk.Seq,
			StartOffset:   chunk.StartOffset,
			EndOffset:     chunk.EndOffset,
			TokenEstimate: chunk.TokenEstimate,
			Strategy:      chunk.Strategy,
			Metadata:      string(metaJSON),
			CreateTime:    now,
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&records, 100).Error; err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "保存分块失败", err)
	}
	return records, nil
}

// indexLocally 本地嵌入与全文索引，失败只记日志不影响文档结果
func (s *RAGProcessingService) indexLocally(ctx context.Context, doc *models.KnowledgeDocument, records []models.KnowledgeChunk) {
	if len(records) == 0 {
		return
	}

	if s.embedder != nil && s.embedder.Ready() && s.chunkStore != nil && s.chunkStore.Ready() {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Warn("embed chunks failed",
				zap.Uint("document_id", doc.DocumentID), zap.Error(err))
		} else {
			for i, record := range records {
				_, err := s.chunkStore.UpsertChunk(ctx, knowledge.VectorChunk{
					ChunkID:    record.ChunkID,
					DocumentID: record.DocumentID,
					CloneID:    record.CloneID,
					Text:       record.Content,
					Embedding:  vectors[i],
				})
				if err != nil {
					logger.Warn("upsert chunk vector failed",
						zap.Uint("chunk_id", record.ChunkID), zap.Error(err))
				}
			}
		}
	}

	if s.indexer != nil && s.indexer.Ready() {
		for _, record := range records {
			err := s.indexer.IndexChunk(ctx, knowledge.FulltextChunk{
				ChunkID:    record.ChunkID,
				DocumentID: record.DocumentID,
				CloneID:    record.CloneID,
				Content:    record.Content,
				ChunkSeq:   record.ChunkSeq,
				FileName:   doc.Title,
				FileType:   doc.ContentType,
				CreatedAt:  record.CreateTime,
			})
			if err != nil {
				logger.Warn("index chunk failed",
					zap.Uint("chunk_id", record.ChunkID), zap.Error(err))
			}
		}
	}
}

func (s *RAGProcessingService) markDocumentFailed(ctx context.Context, doc *models.KnowledgeDocument, cause error) {
	logger.Warn("document processing failed",
		zap.Uint("document_id", doc.DocumentID),
		zap.Uint("clone_id", doc.CloneID),
		zap.Error(cause))
	s.db.WithContext(ctx).Model(doc).Updates(map[string]interface{}{
		"processing_status": models.DocumentStatusFailed,
		"error_message":     cause.Error(),
		"update_time":       time.Now(),
	})
}

func (s *RAGProcessingService) persistCloneStatus(ctx context.Context, cloneID uint, status, assistantID string, docCount int, errMsg string) {
	updates := map[string]interface{}{
		"rag_status":        status,
		"rag_error_message": errMsg,
		"rag_updated_at":    time.Now(),
	}
	if assistantID != "" {
		updates["rag_assistant_id"] = assistantID
	}
	if status == models.RAGStatusCompleted {
		updates["rag_document_count"] = docCount
	}
	if err := s.db.WithContext(ctx).Model(&models.Clone{}).Where("clone_id = ?", cloneID).Updates(updates).Error; err != nil {
		logger.Error("persist clone RAG status failed",
			zap.Uint("clone_id", cloneID), zap.Error(err))
	}
}

func (s *RAGProcessingService) persistAssistantRecord(ctx context.Context, cloneID uint, assistantID, storeID, instructions string) {
	// 每租户只保留一条助手记录，先删后插
	if err := s.db.WithContext(ctx).Where("clone_id = ?", cloneID).Delete(&models.AssistantRecord{}).Error; err != nil {
		logger.Error("delete prior assistant records failed",
			zap.Uint("clone_id", cloneID), zap.Error(err))
	}
	record := models.AssistantRecord{
		CloneID:      cloneID,
		AssistantID:  assistantID,
		StoreID:      storeID,
		Model:        s.cfg.OpenAI.AssistantModel,
		Instructions: instructions,
		Degraded:     s.assistants.Degraded(),
		CreateTime:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		logger.Error("persist assistant record failed",
			zap.Uint("clone_id", cloneID), zap.Error(err))
	}
}

func (s *RAGProcessingService) updateStoreFileIDs(ctx context.Context, cloneID uint, storeID string, fileIDs []string) {
	if storeID == "" {
		return
	}
	raw, _ := json.Marshal(fileIDs)
	if err := s.db.WithContext(ctx).Model(&models.VectorStoreRecord{}).
		Where("clone_id = ? AND store_id = ?", cloneID, storeID).
		Update("file_ids", string(raw)).Error; err != nil {
		logger.Warn("update store file ids failed", zap.String("store_id", storeID), zap.Error(err))
	}
}

func (s *RAGProcessingService) publishEvent(jobID string, cloneID uint, eventType, status string, result *ProcessingResult) {
	if s.producer == nil {
		return
	}
	s.producer.PublishProcessingEvent(kafka.ProcessingEvent{
		JobID:         jobID,
		CloneID:       cloneID,
		EventType:     eventType,
		Status:        status,
		TotalDocs:     result.TotalDocuments,
		ProcessedDocs: result.ProcessedDocuments,
		FailedDocs:    result.FailedDocuments,
		ErrorMessage:  result.Error,
	})
}

// CloneStatus 查询克隆的聚合RAG状态
func (s *RAGProcessingService) CloneStatus(ctx context.Context, cloneID uint) (*CloneRAGStatus, error) {
	var clone models.Clone
	if err := s.db.WithContext(ctx).First(&clone, cloneID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewTenantNotFoundError(cloneID)
		}
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "查询克隆失败", err)
	}

	status := clone.RAGStatus
	if status == "" {
		status = models.RAGStatusNone
	}
	result := &CloneRAGStatus{
		IsReady:       status == models.RAGStatusCompleted && clone.RAGAssistantID != "",
		Status:        status,
		DocumentCount: clone.RAGDocumentCount,
		ErrorMessage:  clone.RAGErrorMessage,
	}
	if !clone.RAGUpdatedAt.IsZero() {
		t := clone.RAGUpdatedAt
		result.LastInitialized = &t
	}
	return result, nil
}

// ListDocuments 列出克隆的知识文档
func (s *RAGProcessingService) ListDocuments(ctx context.Context, cloneID uint) ([]models.KnowledgeDocument, error) {
	var docs []models.KnowledgeDocument
	if err := s.db.WithContext(ctx).Where("clone_id = ?", cloneID).Order("document_id ASC").Find(&docs).Error; err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "查询文档失败", err)
	}
	return docs, nil
}

// Health 服务健康摘要
func (s *RAGProcessingService) Health(ctx context.Context) map[string]interface{} {
	var issues []string

	openaiConfigured := s.cfg.OpenAI.APIKey != ""
	if !openaiConfigured {
		issues = append(issues, "OpenAI API key not configured")
	}
	if s.stores.Simulated() {
		issues = append(issues, "vector store API unavailable, running simulated")
	}
	if s.assistants.Degraded() {
		issues = append(issues, "assistant API unavailable, running degraded chat mode")
	}
	storageReady := s.objects != nil && s.objects.Ready(ctx)
	if !storageReady {
		issues = append(issues, "object storage unavailable")
	}

	var storeCount, assistantCount int64
	s.db.WithContext(ctx).Model(&models.VectorStoreRecord{}).Count(&storeCount)
	s.db.WithContext(ctx).Model(&models.AssistantRecord{}).Count(&assistantCount)

	status := "healthy"
	if len(issues) > 0 {
		status = "degraded"
	}
	return map[string]interface{}{
		"status":               status,
		"openai_configured":    openaiConfigured,
		"storage_configured":   storageReady,
		"simulated_store":      s.stores.Simulated(),
		"degraded_assistant":   s.assistants.Degraded(),
		"active_vector_stores": storeCount,
		"active_assistants":    assistantCount,
		"issues":               issues,
	}
}
