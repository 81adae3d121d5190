package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/expertclone/backend-go/internal/config"
	"github.com/expertclone/backend-go/internal/knowledge"
	"github.com/expertclone/backend-go/internal/models"
)

// stubAssistantManager 记录CreateOrReplace调用的测试替身
type stubAssistantManager struct {
	created int
}

func (s *stubAssistantManager) CreateOrReplace(ctx context.Context, cloneID uint, cloneName, storeID, instructions string) (string, error) {
	s.created++
	return "asst_test", nil
}

func (s *stubAssistantManager) RemoveAssistant(ctx context.Context, assistantID string) error {
	return nil
}

func (s *stubAssistantManager) Ask(ctx context.Context, req knowledge.AskRequest) (*knowledge.AskResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAssistantManager) Degraded() bool {
	return true
}

func newProcessingService(db *gorm.DB, assistants knowledge.AssistantManager) *RAGProcessingService {
	return NewRAGProcessingService(RAGProcessingDeps{
		DB:         db,
		Config:     &config.Config{},
		Extractor:  knowledge.NewTextExtractor(),
		Chunker:    knowledge.NewChunker(),
		Stores:     knowledge.NewSimulatedStoreClient(nil),
		Assistants: assistants,
		Tracker:    NewInitializationTracker(nil, nil, 1),
	})
}

// 正文要过默认的最小分块长度，用中文句子堆到500字以上
func goodDocText() string {
	return strings.Repeat("知识管理的核心在于持续沉淀与复用，分块策略决定了检索的粒度。", 20)
}

func expectCloneRow(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT \* FROM "clones"`).
		WillReturnRows(sqlmock.NewRows([]string{"clone_id", "name", "bio", "rag_status", "rag_assistant_id"}).
			AddRow(5, "张教授", "资深讲师", models.RAGStatusNone, ""))
}

// 一篇成功一篇失败：失败只计数，整批按completed收尾，助手照常创建。
// 提供商不可用时走模拟路径，结果带simulated标记。
func TestProcess_PartialFailureCompletes(t *testing.T) {
	db, mock := newMockDB(t)
	expectCloneRow(mock)
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT \* FROM "knowledge_documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "clone_id", "title", "file_path", "content_preview", "processing_status"}).
			AddRow(1, 5, "笔记一", "", goodDocText(), models.DocumentStatusPending).
			AddRow(2, 5, "空文档", "", "", models.DocumentStatusPending))

	// 没有现存store记录，新建并落元数据
	mock.ExpectQuery(`SELECT \* FROM "vector_stores"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "vector_stores"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	// 文档1：提取分块成功
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "knowledge_chunks"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "knowledge_chunks"`).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))

	// 文档2：没有可读内容，标记失败
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE "vector_stores"`).WillReturnResult(sqlmock.NewResult(0, 1))

	// 助手记录先删后插
	mock.ExpectExec(`DELETE FROM "assistants"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "assistants"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	assistants := &stubAssistantManager{}
	svc := newProcessingService(db, assistants)
	jobID, err := svc.tracker.Create(context.Background(), 5, 2)
	require.NoError(t, err)

	result := svc.Process(context.Background(), jobID, 5, []uint{1, 2}, false)

	assert.Equal(t, models.RAGStatusCompleted, result.Status)
	assert.Equal(t, 1, result.ProcessedDocuments)
	assert.Equal(t, 1, result.FailedDocuments)
	assert.Equal(t, 2, result.TotalDocuments)
	assert.True(t, result.Simulated)
	assert.Equal(t, "sim_store_5", result.StoreID)
	assert.Equal(t, "asst_test", result.AssistantID)
	assert.Equal(t, 1, assistants.created)

	snap := svc.tracker.Get(context.Background(), jobID)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// force重建先清掉旧的store/assistant元数据行再新建，不留重复记录
func TestProcess_ForceSupersedesOldRecords(t *testing.T) {
	db, mock := newMockDB(t)
	expectCloneRow(mock)
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT \* FROM "knowledge_documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "clone_id", "title", "file_path", "content_preview", "processing_status"}).
			AddRow(1, 5, "笔记一", "", goodDocText(), models.DocumentStatusPending))

	// supersede：删除旧记录后才建新store
	mock.ExpectQuery(`SELECT \* FROM "vector_stores"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "clone_id", "store_id"}).
			AddRow(1, 5, "sim_store_5"))
	mock.ExpectExec(`DELETE FROM "vector_stores"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "assistants"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "vector_stores"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "knowledge_chunks"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "knowledge_chunks"`).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE "vector_stores"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "assistants"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "assistants"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	svc := newProcessingService(db, &stubAssistantManager{})
	jobID, err := svc.tracker.Create(context.Background(), 5, 1)
	require.NoError(t, err)

	result := svc.Process(context.Background(), jobID, 5, []uint{1}, true)

	assert.Equal(t, models.RAGStatusCompleted, result.Status)
	assert.Equal(t, 1, result.ProcessedDocuments)
	assert.Equal(t, 0, result.FailedDocuments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 全部文档失败时整批failed，不创建助手
func TestProcess_AllFailedMarksRunFailed(t *testing.T) {
	db, mock := newMockDB(t)
	expectCloneRow(mock)
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT \* FROM "knowledge_documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "clone_id", "title", "file_path", "content_preview", "processing_status"}).
			AddRow(1, 5, "空文档", "", "", models.DocumentStatusPending))

	mock.ExpectQuery(`SELECT \* FROM "vector_stores"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "vector_stores"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE "vector_stores"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	assistants := &stubAssistantManager{}
	svc := newProcessingService(db, assistants)
	jobID, err := svc.tracker.Create(context.Background(), 5, 1)
	require.NoError(t, err)

	result := svc.Process(context.Background(), jobID, 5, []uint{1}, false)

	assert.Equal(t, models.RAGStatusFailed, result.Status)
	assert.Equal(t, 0, result.ProcessedDocuments)
	assert.Equal(t, 1, result.FailedDocuments)
	assert.Empty(t, result.AssistantID)
	assert.Equal(t, 0, assistants.created)
	assert.Contains(t, result.Error, "处理失败")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 没有任何文档是合法稳态：空成功，不建库不建助手
func TestProcess_EmptyKnowledgeBase(t *testing.T) {
	db, mock := newMockDB(t)
	expectCloneRow(mock)
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "clones"`).WillReturnResult(sqlmock.NewResult(0, 1))

	svc := newProcessingService(db, &stubAssistantManager{})
	jobID, err := svc.tracker.Create(context.Background(), 5, 0)
	require.NoError(t, err)

	result := svc.Process(context.Background(), jobID, 5, nil, false)

	assert.Equal(t, models.RAGStatusCompleted, result.Status)
	assert.Equal(t, 0, result.TotalDocuments)
	assert.Empty(t, result.StoreID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
