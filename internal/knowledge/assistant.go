package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/expertclone/backend-go/internal/errors"
	"github.com/expertclone/backend-go/internal/logger"
)

// AskRequest 一次助手问答请求
type AskRequest struct {
	CloneID     uint
	AssistantID string
	ThreadID    string
	Query       string
}

// AskResult 助手问答结果。Confidence由引用数量与回答长度估算，
// 退化路径下为检索最高相似度。
type AskResult struct {
	Content    string
	ThreadID   string
	Sources    []string
	Confidence float64
	TokensUsed int
}

// AssistantManager 提供商侧助手管理。真实实现走assistants/threads/runs
// API；文件检索能力不可用时退化为带上下文的纯聊天补全。
type AssistantManager interface {
	// CreateOrReplace 创建克隆的助手，返回provider侧assistant id
	CreateOrReplace(ctx context.Context, cloneID uint, cloneName, storeID, instructions string) (string, error)
	// RemoveAssistant 删除provider侧助手
	RemoveAssistant(ctx context.Context, assistantID string) error
	// Ask 向助手提问
	Ask(ctx context.Context, req AskRequest) (*AskResult, error)
	Degraded() bool
}

// BuildInstructions 组装助手指令：克隆名、人设简介，
// 真实向量库挂载时附加文档问答指示。
func BuildInstructions(cloneName, bio string, realStore bool) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("你是%s的AI分身，请始终以%s的身份和口吻回答问题。", cloneName, cloneName))
	if strings.TrimSpace(bio) != "" {
		sb.WriteString(fmt.Sprintf("\n\n关于你的背景：%s", strings.TrimSpace(bio)))
	}
	if realStore {
		sb.WriteString("\n\n回答问题时请优先使用挂载的知识文档，确保内容准确，并在合适时引用文档内容。")
	} else {
		sb.WriteString("\n\n请基于你的身份设定，专业、友善地回答用户问题。")
	}
	return sb.String()
}

// OpenAIAssistantManager 真实助手实现
type OpenAIAssistantManager struct {
	client       *openai.Client
	model        string
	pollInterval time.Duration
}

// NewOpenAIAssistantManager 创建助手管理器
func NewOpenAIAssistantManager(client *openai.Client, model string) *OpenAIAssistantManager {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAssistantManager{
		client:       client,
		model:        model,
		pollInterval: time.Second,
	}
}

func (m *OpenAIAssistantManager) CreateOrReplace(ctx context.Context, cloneID uint, cloneName, storeID, instructions string) (string, error) {
	name := fmt.Sprintf("%s的AI分身", cloneName)
	req := openai.AssistantRequest{
		Model:        m.model,
		Name:         &name,
		Instructions: &instructions,
		Tools: []openai.AssistantTool{
			{Type: openai.AssistantToolTypeFileSearch},
		},
	}
	if storeID != "" && !strings.HasPrefix(storeID, "sim_store_") {
		req.ToolResources = &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{
				VectorStoreIDs: []string{storeID},
			},
		}
	}

	assistant, err := m.client.CreateAssistant(ctx, req)
	if err != nil {
		return "", apperrors.NewExternalError(
			apperrors.ErrCodeAssistantCreation,
			fmt.Sprintf("创建助手失败: clone %d", cloneID), err)
	}

	logger.Info("assistant created",
		zap.Uint("clone_id", cloneID),
		zap.String("assistant_id", assistant.ID),
		zap.String("store_id", storeID))
	return assistant.ID, nil
}

func (m *OpenAIAssistantManager) RemoveAssistant(ctx context.Context, assistantID string) error {
	if assistantID == "" {
		return nil
	}
	_, err := m.client.DeleteAssistant(ctx, assistantID)
	if err != nil {
		return fmt.Errorf("删除助手失败 %s: %w", assistantID, err)
	}
	return nil
}

// Ask 线程化问答。复用传入的thread延续上下文，否则新建；
// 轮询run直到终态，超时由调用方的ctx约束。
func (m *OpenAIAssistantManager) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	threadID := req.ThreadID
	if threadID == "" {
		thread, err := m.client.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return nil, fmt.Errorf("创建会话线程失败: %w", err)
		}
		threadID = thread.ID
	}

	_, err := m.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: req.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("发送消息失败: %w", err)
	}

	run, err := m.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: req.AssistantID,
	})
	if err != nil {
		return nil, fmt.Errorf("启动run失败: %w", err)
	}

	for run.Status == openai.RunStatusQueued || run.Status == openai.RunStatusInProgress {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
		run, err = m.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("查询run状态失败: %w", err)
		}
	}
	if run.Status != openai.RunStatusCompleted {
		return nil, fmt.Errorf("run未完成: %s", run.Status)
	}

	limit := 1
	order := "desc"
	messages, err := m.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("读取回复失败: %w", err)
	}
	if len(messages.Messages) == 0 {
		return nil, fmt.Errorf("助手未返回回复")
	}

	content, sources := extractMessageContent(messages.Messages[0])
	tokens := 0
	if run.Usage.TotalTokens > 0 {
		tokens = run.Usage.TotalTokens
	}

	return &AskResult{
		Content:    content,
		ThreadID:   threadID,
		Sources:    sources,
		Confidence: estimateConfidence(content, len(sources)),
		TokensUsed: tokens,
	}, nil
}

func (m *OpenAIAssistantManager) Degraded() bool {
	return false
}

// extractMessageContent 取回复文本并从注解中收集文件引用
func extractMessageContent(msg openai.Message) (string, []string) {
	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool)

	for _, part := range msg.Content {
		if part.Text == nil {
			continue
		}
		sb.WriteString(part.Text.Value)
		for _, raw := range part.Text.Annotations {
			ann, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			citation, ok := ann["file_citation"].(map[string]interface{})
			if !ok {
				continue
			}
			fileID, _ := citation["file_id"].(string)
			if fileID != "" && !seen[fileID] {
				seen[fileID] = true
				sources = append(sources, fileID)
			}
		}
	}
	return sb.String(), sources
}

// estimateConfidence 置信度估算。有引用时以0.55为基线，
// 引用数（封顶3个）各加0.1，长回答再加成，上限0.95；
// 无引用视为记忆层未命中，固定0.3。
func estimateConfidence(content string, citations int) float64 {
	if citations == 0 {
		return 0.3
	}
	c := 0.55
	n := citations
	if n > 3 {
		n = 3
	}
	c += 0.1 * float64(n)
	length := utf8.RuneCountInString(content)
	if length > 400 {
		c += 0.1
	} else if length > 150 {
		c += 0.05
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// DegradedAssistantManager 退化实现：本地检索拼上下文，
// 走聊天补全，不依赖assistants API。
type DegradedAssistantManager struct {
	client   *openai.Client
	model    string
	embedder Embedder
	vectors  ChunkVectorStore
	fulltext FulltextIndexer
}

// NewDegradedAssistantManager 创建退化助手。embedder/vectors/fulltext
// 均可为占位实现，全部不可用时退化为纯聊天。
func NewDegradedAssistantManager(client *openai.Client, model string, embedder Embedder, vectors ChunkVectorStore, fulltext FulltextIndexer) *DegradedAssistantManager {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &DegradedAssistantManager{
		client:   client,
		model:    model,
		embedder: embedder,
		vectors:  vectors,
		fulltext: fulltext,
	}
}

// CreateOrReplace 退化路径不创建provider对象，生成本地标识
func (m *DegradedAssistantManager) CreateOrReplace(ctx context.Context, cloneID uint, cloneName, storeID, instructions string) (string, error) {
	logger.Warn("助手API不可用，使用退化聊天模式", zap.Uint("clone_id", cloneID))
	return fmt.Sprintf("sim_assistant_%d", cloneID), nil
}

func (m *DegradedAssistantManager) RemoveAssistant(ctx context.Context, assistantID string) error {
	return nil
}

// Ask 退化问答：本地检索最相关分块作为上下文注入系统消息。
// 置信度取检索最高相似度，检索不到时为0。
func (m *DegradedAssistantManager) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if m.client == nil {
		return nil, fmt.Errorf("openai client not initialized")
	}

	matches := m.retrieve(ctx, req.CloneID, req.Query)

	var contextBlock strings.Builder
	var sources []string
	confidence := 0.0
	for i, match := range matches {
		if i >= 5 {
			break
		}
		contextBlock.WriteString(fmt.Sprintf("[片段%d] %s\n\n", i+1, match.Content))
		sources = append(sources, fmt.Sprintf("chunk_%d", match.ChunkID))
		if match.Score > confidence {
			confidence = match.Score
		}
	}

	system := "请基于你的身份设定回答用户问题。"
	if contextBlock.Len() > 0 {
		system = fmt.Sprintf("请优先依据以下知识片段回答用户问题，无关片段可以忽略：\n\n%s", contextBlock.String())
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Query},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("聊天补全失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("聊天补全无返回")
	}

	return &AskResult{
		Content:    resp.Choices[0].Message.Content,
		ThreadID:   req.ThreadID,
		Sources:    sources,
		Confidence: confidence,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// retrieve 向量检索优先，失败或无结果时退回全文检索
func (m *DegradedAssistantManager) retrieve(ctx context.Context, cloneID uint, query string) []SearchMatch {
	if m.embedder != nil && m.embedder.Ready() && m.vectors != nil && m.vectors.Ready() {
		embedding, err := m.embedder.Embed(ctx, query)
		if err == nil {
			matches, err := m.vectors.Search(ctx, VectorSearchRequest{
				CloneID:        cloneID,
				QueryEmbedding: embedding,
				Limit:          5,
			})
			if err == nil && len(matches) > 0 {
				return matches
			}
			if err != nil {
				logger.Warn("vector search failed, falling back to fulltext", zap.Error(err))
			}
		}
	}

	if m.fulltext != nil && m.fulltext.Ready() {
		matches, err := m.fulltext.Search(ctx, FulltextSearchRequest{
			CloneID: cloneID,
			Query:   query,
			Limit:   5,
		})
		if err == nil {
			// 全文分数不是相似度，压到[0,1]区间
			for i := range matches {
				if matches[i].Score > 1 {
					matches[i].Score = matches[i].Score / (matches[i].Score + 1)
				}
			}
			return matches
		}
		logger.Warn("fulltext search failed", zap.Error(err))
	}
	return nil
}

func (m *DegradedAssistantManager) Degraded() bool {
	return true
}
