package models

import (
	"time"
)

// 文档处理状态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// 租户聚合RAG状态
const (
	RAGStatusNone       = "none"
	RAGStatusProcessing = "processing"
	RAGStatusCompleted  = "completed"
	RAGStatusFailed     = "failed"
)

// 初始化任务阶段
const (
	JobStatusPending    = "pending"
	JobStatusAnalyzing  = "analyzing"
	JobStatusPreparing  = "preparing"
	JobStatusEmbedding  = "embedding"
	JobStatusStoring    = "storing"
	JobStatusFinalizing = "finalizing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusExpired    = "expired"
)

// 查询路由类型
const (
	QueryTypeMemory   = "memory"
	QueryTypeEnhanced = "enhanced"
	QueryTypeFallback = "fallback"
)

// IsTerminalJobStatus 判断任务状态是否为终态
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusExpired
}

// Clone 专家克隆（租户），携带聚合RAG状态列
type Clone struct {
	CloneID          uint      `gorm:"primaryKey;column:clone_id" json:"clone_id"`
	Name             string    `gorm:"size:200;not null" json:"name"`
	Bio              string    `gorm:"type:text" json:"bio"`
	OwnerID          uint      `gorm:"column:owner_id;not null" json:"owner_id"`
	RAGStatus        string    `gorm:"column:rag_status;size:20;default:none" json:"rag_status"`
	RAGAssistantID   string    `gorm:"column:rag_assistant_id;size:255" json:"rag_assistant_id"`
	RAGDocumentCount int       `gorm:"column:rag_document_count;default:0" json:"rag_document_count"`
	RAGErrorMessage  string    `gorm:"column:rag_error_message;type:text" json:"rag_error_message"`
	RAGUpdatedAt     time.Time `gorm:"column:rag_updated_at" json:"rag_updated_at"`
	CreateTime       time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime       time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Documents []KnowledgeDocument `gorm:"foreignKey:CloneID"`
}

func (Clone) TableName() string {
	return "clones"
}

// KnowledgeDocument 克隆上传的知识文档
type KnowledgeDocument struct {
	DocumentID        uint      `gorm:"primaryKey;column:document_id" json:"document_id"`
	CloneID           uint      `gorm:"column:clone_id;not null;index" json:"clone_id"`
	Clone             Clone     `gorm:"foreignKey:CloneID"`
	Title             string    `gorm:"size:200;not null" json:"title"`
	FilePath          string    `gorm:"size:500" json:"file_path"`
	ContentType       string    `gorm:"size:100" json:"content_type"`
	FileSize          int64     `gorm:"column:file_size;default:0" json:"file_size"`
	ContentPreview    string    `gorm:"type:text" json:"content_preview"`
	ProcessingStatus  string    `gorm:"column:processing_status;size:20;default:pending" json:"processing_status"`
	VectorStoreStatus string    `gorm:"column:vector_store_status;size:20" json:"vector_store_status"`
	Tags              string    `gorm:"type:json" json:"tags"`
	Metadata          string    `gorm:"type:json" json:"metadata"`
	ErrorMessage      string    `gorm:"column:error_message;type:text" json:"error_message"`
	CreateTime        time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime        time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Chunks []KnowledgeChunk `gorm:"foreignKey:DocumentID"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunk 文档分块
type KnowledgeChunk struct {
	ChunkID       uint              `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID    uint              `gorm:"column:document_id;not null;index" json:"document_id"`
	Document      KnowledgeDocument `gorm:"foreignKey:DocumentID"`
	CloneID       uint              `gorm:"column:clone_id;not null;index" json:"clone_id"`
	Content       string            `gorm:"type:text;not null" json:"content"`
	ChunkIndex    string            `gorm:"column:chunk_index;size:32;not null" json:"chunk_index"`
	ChunkSeq      int               `gorm:"column:chunk_seq;not null;index" json:"chunk_seq"`
	StartOffset   int               `gorm:"column:start_offset;default:0" json:"start_offset"`
	EndOffset     int               `gorm:"column:end_offset;default:0" json:"end_offset"`
	TokenEstimate int               `gorm:"column:token_estimate;default:0" json:"token_estimate"`
	Strategy      string            `gorm:"size:20" json:"strategy"`
	VectorID      string            `gorm:"size:255" json:"vector_id"`
	Embedding     string            `gorm:"type:json" json:"embedding"`
	Metadata      string            `gorm:"type:json" json:"metadata"`
	CreateTime    time.Time         `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// VectorStoreRecord 提供商侧向量库的本地元数据
type VectorStoreRecord struct {
	ID         uint       `gorm:"primaryKey;column:id" json:"id"`
	CloneID    uint       `gorm:"column:clone_id;not null;index" json:"clone_id"`
	StoreID    string     `gorm:"column:store_id;size:255;not null" json:"store_id"`
	Name       string     `gorm:"size:200" json:"name"`
	FileIDs    string     `gorm:"type:json;column:file_ids" json:"file_ids"`
	Simulated  bool       `gorm:"default:false" json:"simulated"`
	ExpiresAt  *time.Time `gorm:"column:expires_at" json:"expires_at"`
	CreateTime time.Time  `gorm:"column:create_time" json:"create_time"`
}

func (VectorStoreRecord) TableName() string {
	return "vector_stores"
}

// AssistantRecord 提供商侧助手的本地元数据
type AssistantRecord struct {
	ID           uint      `gorm:"primaryKey;column:id" json:"id"`
	CloneID      uint      `gorm:"column:clone_id;not null;index" json:"clone_id"`
	AssistantID  string    `gorm:"column:assistant_id;size:255;not null" json:"assistant_id"`
	StoreID      string    `gorm:"column:store_id;size:255" json:"store_id"`
	Model        string    `gorm:"size:100" json:"model"`
	Instructions string    `gorm:"type:text" json:"instructions"`
	Degraded     bool      `gorm:"default:false" json:"degraded"`
	CreateTime   time.Time `gorm:"column:create_time" json:"create_time"`
}

func (AssistantRecord) TableName() string {
	return "assistants"
}

// RAGInitialization 一次处理任务的持久化记录
type RAGInitialization struct {
	JobID         string     `gorm:"primaryKey;column:job_id;size:64" json:"job_id"`
	CloneID       uint       `gorm:"column:clone_id;not null;index" json:"clone_id"`
	Status        string     `gorm:"size:20;default:pending" json:"status"`
	Progress      int        `gorm:"default:0" json:"progress"`
	Phase         string     `gorm:"size:200" json:"phase"`
	TotalDocs     int        `gorm:"column:total_docs;default:0" json:"total_docs"`
	ProcessedDocs int        `gorm:"column:processed_docs;default:0" json:"processed_docs"`
	FailedDocs    int        `gorm:"column:failed_docs;default:0" json:"failed_docs"`
	ErrorMessage  string     `gorm:"column:error_message;type:text" json:"error_message"`
	CreateTime    time.Time  `gorm:"column:create_time" json:"create_time"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at"`
}

func (RAGInitialization) TableName() string {
	return "rag_initializations"
}

// RAGQuerySession 查询分析记录，每次查询写入一条
type RAGQuerySession struct {
	SessionID      uint      `gorm:"primaryKey;column:session_id" json:"session_id"`
	CloneID        uint      `gorm:"column:clone_id;not null;index" json:"clone_id"`
	UserID         uint      `gorm:"column:user_id;not null" json:"user_id"`
	ChatSessionID  string    `gorm:"column:chat_session_id;size:255" json:"chat_session_id"`
	Query          string    `gorm:"type:text;not null" json:"query"`
	Response       string    `gorm:"type:text" json:"response"`
	Confidence     float64   `gorm:"type:decimal(4,3);default:0" json:"confidence"`
	QueryType      string    `gorm:"column:query_type;size:20" json:"query_type"`
	UsedMemory     bool      `gorm:"column:used_memory;default:false" json:"used_memory"`
	UsedLLM        bool      `gorm:"column:used_llm;default:false" json:"used_llm"`
	Sources        string    `gorm:"type:json" json:"sources"`
	TokensUsed     int       `gorm:"column:tokens_used;default:0" json:"tokens_used"`
	ResponseTimeMs int64     `gorm:"column:response_time_ms;default:0" json:"response_time_ms"`
	ErrorCause     string    `gorm:"column:error_cause;size:500" json:"error_cause"`
	CreateTime     time.Time `gorm:"column:create_time" json:"create_time"`
}

func (RAGQuerySession) TableName() string {
	return "rag_query_sessions"
}
