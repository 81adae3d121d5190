package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/expertclone/backend-go/internal/services"
)

var validate = validator.New()

// 包级服务实例，bootstrap在路由注册前通过Setup注入。
// beego每个请求都会新建控制器实例，字段在Prepare里从这里取。
var (
	ragProcessingService  *services.RAGProcessingService
	ragQueryService       *services.RAGQueryService
	initializationTracker *services.InitializationTracker
)

// Setup 注入控制器依赖的服务实例
func Setup(processing *services.RAGProcessingService, query *services.RAGQueryService, tracker *services.InitializationTracker) {
	ragProcessingService = processing
	ragQueryService = query
	initializationTracker = tracker
}

// RAGController 知识处理与查询接口
type RAGController struct {
	BaseController
	processing *services.RAGProcessingService
	query      *services.RAGQueryService
	tracker    *services.InitializationTracker
}

func (c *RAGController) Prepare() {
	c.processing = ragProcessingService
	c.query = ragQueryService
	c.tracker = initializationTracker
}

// ProcessKnowledgeRequest 发起知识处理的请求体
type ProcessKnowledgeRequest struct {
	Documents         []DocumentPayload `json:"documents" validate:"dive"`
	ForceReinitialize bool              `json:"force_reinitialize"`
}

// DocumentPayload 内联文档
type DocumentPayload struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Content     string   `json:"content"`
	FilePath    string   `json:"file_path" validate:"max=500"`
	ContentType string   `json:"content_type" validate:"max=100"`
	Tags        []string `json:"tags"`
}

// QueryPayload 查询请求体
type QueryPayload struct {
	Query         string `json:"query" validate:"required,min=1,max=4000"`
	ThreadID      string `json:"thread_id"`
	ChatSessionID string `json:"chat_session_id"`
}

// POST /api/clones/:id/process-knowledge
func (c *RAGController) ProcessKnowledge() {
	if _, ok := c.getAuthenticatedUserID(); !ok {
		return
	}

	cloneID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	var req ProcessKnowledgeRequest
	if len(c.Ctx.Input.RequestBody) > 0 {
		if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
			c.JSONError(http.StatusBadRequest, "请求格式错误")
			return
		}
	}
	if err := validate.Struct(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数验证失败: "+err.Error())
		return
	}

	inputs := make([]services.DocumentInput, 0, len(req.Documents))
	for _, d := range req.Documents {
		inputs = append(inputs, services.DocumentInput{
			Title:       d.Title,
			Content:     d.Content,
			FilePath:    d.FilePath,
			ContentType: d.ContentType,
			Tags:        d.Tags,
		})
	}

	result, err := c.processing.StartProcessing(c.Ctx.Request.Context(), cloneID, inputs, req.ForceReinitialize)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"job_id":          result.JobID,
		"existing":        result.Existing,
		"total_documents": result.TotalDocuments,
	})
}

// POST /api/clones/:id/query
func (c *RAGController) Query() {
	userID, ok := c.getAuthenticatedUserID()
	if !ok {
		return
	}

	cloneID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	var payload QueryPayload
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &payload); err != nil {
		c.JSONError(http.StatusBadRequest, "请求格式错误")
		return
	}
	if err := validate.Struct(&payload); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数验证失败: "+err.Error())
		return
	}

	resp, err := c.query.Query(c.Ctx.Request.Context(), services.QueryRequest{
		CloneID:       cloneID,
		UserID:        userID,
		Query:         payload.Query,
		ThreadID:      payload.ThreadID,
		ChatSessionID: payload.ChatSessionID,
	})
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(resp)
}

// GET /api/rag/clones/:id/status
func (c *RAGController) CloneStatus() {
	if _, ok := c.getAuthenticatedUserID(); !ok {
		return
	}

	cloneID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	status, err := c.processing.CloneStatus(c.Ctx.Request.Context(), cloneID)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(status)
}

// GET /api/rag/initializations/:job_id/status
// 未知job_id返回expired快照而不是404，客户端轮询逻辑依赖这一点
func (c *RAGController) JobStatus() {
	jobID := c.Ctx.Input.Param(":job_id")
	if jobID == "" {
		c.JSONError(http.StatusBadRequest, "缺少必要参数")
		return
	}

	snapshot := c.tracker.Get(c.Ctx.Request.Context(), jobID)
	c.JSONSuccess(snapshot)
}

// GET /api/rag/clones/:id/documents
func (c *RAGController) ListDocuments() {
	if _, ok := c.getAuthenticatedUserID(); !ok {
		return
	}

	cloneID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	docs, err := c.processing.ListDocuments(c.Ctx.Request.Context(), cloneID)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"documents": docs,
		"total":     len(docs),
	})
}
