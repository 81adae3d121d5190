package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/expertclone/backend-go/internal/config"
	apperrors "github.com/expertclone/backend-go/internal/errors"
	"github.com/expertclone/backend-go/internal/knowledge"
	"github.com/expertclone/backend-go/internal/logger"
	"github.com/expertclone/backend-go/internal/models"
)

// QueryRequest 一次用户查询
type QueryRequest struct {
	CloneID       uint   `json:"clone_id"`
	UserID        uint   `json:"user_id"`
	Query         string `json:"query"`
	ThreadID      string `json:"thread_id,omitempty"`
	ChatSessionID string `json:"chat_session_id,omitempty"`
}

// QueryResponse 查询结果
type QueryResponse struct {
	Response       string   `json:"response"`
	QueryType      string   `json:"query_type"`
	Confidence     float64  `json:"confidence"`
	Sources        []string `json:"sources"`
	ThreadID       string   `json:"thread_id,omitempty"`
	AssistantID    string   `json:"assistant_id,omitempty"`
	TokensUsed     int      `json:"tokens_used"`
	ResponseTimeMs int64    `json:"response_time_ms"`
}

// RAGQueryService 查询编排。按置信度在记忆层/增强层/兜底层之间路由：
// c >= high → memory；threshold <= c < high → enhanced；c < threshold → fallback。
// 提供商超时与瞬时错误不抛给调用方，吸收进兜底路径。
type RAGQueryService struct {
	db         *gorm.DB
	cfg        *config.Config
	client     *openai.Client
	assistants knowledge.AssistantManager
	metrics    *RAGMetrics
}

// NewRAGQueryService 创建查询编排服务
func NewRAGQueryService(db *gorm.DB, cfg *config.Config, client *openai.Client, assistants knowledge.AssistantManager, metrics *RAGMetrics) *RAGQueryService {
	return &RAGQueryService{
		db:         db,
		cfg:        cfg,
		client:     client,
		assistants: assistants,
		metrics:    metrics,
	}
}

// Query 执行一次查询。无论走哪条路径，每次调用恰好写一条分析记录。
func (s *RAGQueryService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	var clone models.Clone
	if err := s.db.WithContext(ctx).First(&clone, req.CloneID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewTenantNotFoundError(req.CloneID)
		}
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "查询克隆失败", err)
	}

	errorCause := ""
	var resp *QueryResponse

	ready := clone.RAGStatus == models.RAGStatusCompleted && clone.RAGAssistantID != ""
	if !ready {
		resp = s.fallback(ctx, &clone, req, "")
	} else {
		askCtx := ctx
		if timeout := s.cfg.RAG.QueryTimeoutSeconds; timeout > 0 {
			var cancel context.CancelFunc
			askCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			defer cancel()
		}

		result, err := s.assistants.Ask(askCtx, knowledge.AskRequest{
			CloneID:     req.CloneID,
			AssistantID: clone.RAGAssistantID,
			ThreadID:    req.ThreadID,
			Query:       req.Query,
		})
		if err != nil {
			// 超时与瞬时错误吸收进兜底，只在分析记录里留痕
			errorCause = err.Error()
			logger.Warn("assistant invocation failed, falling back",
				zap.Uint("clone_id", req.CloneID), zap.Error(err))
			resp = s.fallback(ctx, &clone, req, errorCause)
		} else {
			resp = s.route(ctx, &clone, req, result)
		}
	}

	if resp == nil {
		// 兜底也失败，这是唯一向调用方抛错的查询路径
		s.recordSession(ctx, &clone, req, &QueryResponse{QueryType: models.QueryTypeFallback}, errorCause, start)
		return nil, apperrors.NewExternalError(apperrors.ErrCodeQueryFailed, "查询失败，AI服务不可用", nil)
	}

	resp.AssistantID = clone.RAGAssistantID
	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	s.recordSession(ctx, &clone, req, resp, errorCause, start)
	s.metrics.RecordQuery(resp.QueryType, time.Since(start))

	logger.Info("query answered",
		zap.Uint("clone_id", req.CloneID),
		zap.String("query_type", resp.QueryType),
		zap.Float64("confidence", resp.Confidence),
		zap.Int64("elapsed_ms", resp.ResponseTimeMs))
	return resp, nil
}

// route 按置信度路由。边界语义：恰好等于high走memory，
// 恰好等于threshold走enhanced。
func (s *RAGQueryService) route(ctx context.Context, clone *models.Clone, req QueryRequest, result *knowledge.AskResult) *QueryResponse {
	threshold, high := config.Thresholds()
	c := result.Confidence

	switch {
	case c >= high:
		return &QueryResponse{
			Response:   result.Content,
			QueryType:  models.QueryTypeMemory,
			Confidence: c,
			Sources:    result.Sources,
			ThreadID:   result.ThreadID,
			TokensUsed: result.TokensUsed,
		}
	case c >= threshold:
		enhanced := s.enhance(ctx, clone, req.Query, result)
		return enhanced
	default:
		fb := s.fallback(ctx, clone, req, "")
		if fb != nil {
			fb.ThreadID = result.ThreadID
		}
		return fb
	}
}

// enhance 中等置信度：记忆层答案作为参考，再过一遍通用LLM融合。
// 融合失败时退回记忆层答案而不是报错。
func (s *RAGQueryService) enhance(ctx context.Context, clone *models.Clone, query string, memory *knowledge.AskResult) *QueryResponse {
	base := &QueryResponse{
		Response:   memory.Content,
		QueryType:  models.QueryTypeEnhanced,
		Confidence: memory.Confidence,
		Sources:    memory.Sources,
		ThreadID:   memory.ThreadID,
		TokensUsed: memory.TokensUsed,
	}
	if s.client == nil {
		return base
	}

	system := fmt.Sprintf(
		"你是%s的AI分身。下面是从%s的知识库中检索到的参考回答，置信度中等。"+
			"请结合参考内容和你的通用知识，给出更完整准确的回答，保持%s的口吻。\n\n参考回答：\n%s",
		clone.Name, clone.Name, clone.Name, memory.Content)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.OpenAI.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		logger.Warn("enhancement pass failed, using memory answer",
			zap.Uint("clone_id", clone.CloneID), zap.Error(err))
		return base
	}

	base.Response = resp.Choices[0].Message.Content
	base.TokensUsed += resp.Usage.TotalTokens
	return base
}

// fallback 兜底：带人设的纯LLM回答，不做检索，置信度报0。
// 返回nil表示连兜底都失败。
func (s *RAGQueryService) fallback(ctx context.Context, clone *models.Clone, req QueryRequest, errorCause string) *QueryResponse {
	if s.client == nil {
		return nil
	}

	system := knowledge.BuildInstructions(clone.Name, clone.Bio, false)
	if errorCause != "" {
		system += "\n\n当前知识库暂时无法访问，请基于你的身份设定尽力回答。"
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.OpenAI.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Query},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		logger.Error("fallback completion failed",
			zap.Uint("clone_id", clone.CloneID), zap.Error(err))
		return nil
	}

	return &QueryResponse{
		Response:   resp.Choices[0].Message.Content,
		QueryType:  models.QueryTypeFallback,
		Confidence: 0.0,
		Sources:    []string{},
		ThreadID:   req.ThreadID,
		TokensUsed: resp.Usage.TotalTokens,
	}
}

// recordSession 写查询分析记录，失败只记日志
func (s *RAGQueryService) recordSession(ctx context.Context, clone *models.Clone, req QueryRequest, resp *QueryResponse, errorCause string, start time.Time) {
	sources := "[]"
	if len(resp.Sources) > 0 {
		if raw, err := json.Marshal(resp.Sources); err == nil {
			sources = string(raw)
		}
	}

	session := models.RAGQuerySession{
		CloneID:        req.CloneID,
		UserID:         req.UserID,
		ChatSessionID:  req.ChatSessionID,
		Query:          req.Query,
		Response:       resp.Response,
		Confidence:     resp.Confidence,
		QueryType:      resp.QueryType,
		UsedMemory:     resp.QueryType == models.QueryTypeMemory || resp.QueryType == models.QueryTypeEnhanced,
		UsedLLM:        resp.QueryType == models.QueryTypeEnhanced || resp.QueryType == models.QueryTypeFallback,
		Sources:        sources,
		TokensUsed:     resp.TokensUsed,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		ErrorCause:     errorCause,
		CreateTime:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		logger.Error("record query session failed",
			zap.Uint("clone_id", req.CloneID), zap.Error(err))
	}
}
