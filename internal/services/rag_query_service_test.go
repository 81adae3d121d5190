package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/expertclone/backend-go/internal/config"
	apperrors "github.com/expertclone/backend-go/internal/errors"
	"github.com/expertclone/backend-go/internal/knowledge"
	"github.com/expertclone/backend-go/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func testQueryConfig() *config.Config {
	return &config.Config{
		OpenAI: config.OpenAIConfig{ChatModel: "gpt-4o-mini"},
		RAG:    config.RAGConfig{QueryTimeoutSeconds: 1},
	}
}

func TestQuery_CloneNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "clones"`).
		WillReturnRows(sqlmock.NewRows([]string{"clone_id"}))

	svc := NewRAGQueryService(db, testQueryConfig(), nil, nil, nil)
	_, err := svc.Query(context.Background(), QueryRequest{CloneID: 99, UserID: 1, Query: "你好"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTenantNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_NotReadyWithoutLLMFails(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "clones"`).
		WillReturnRows(sqlmock.NewRows([]string{"clone_id", "name", "bio", "rag_status", "rag_assistant_id"}).
			AddRow(7, "张教授", "", models.RAGStatusNone, ""))
	// 兜底失败仍写一条分析记录
	mock.ExpectQuery(`INSERT INTO "rag_query_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow(1))

	svc := NewRAGQueryService(db, testQueryConfig(), nil, nil, nil)
	_, err := svc.Query(context.Background(), QueryRequest{CloneID: 7, UserID: 1, Query: "你好"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeQueryFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 路由边界：恰好等于high走memory，恰好等于threshold走enhanced，
// 低于threshold走fallback。默认阈值0.6/0.8。
func TestRoute_Boundaries(t *testing.T) {
	svc := NewRAGQueryService(nil, testQueryConfig(), nil, nil, nil)
	clone := &models.Clone{CloneID: 1, Name: "张教授"}
	req := QueryRequest{CloneID: 1, UserID: 1, Query: "问题"}

	// c == high → memory，原样返回
	resp := svc.route(context.Background(), clone, req, &knowledge.AskResult{
		Content:    "记忆层回答",
		Confidence: 0.8,
		Sources:    []string{"file_1"},
		ThreadID:   "thread_1",
	})
	require.NotNil(t, resp)
	assert.Equal(t, models.QueryTypeMemory, resp.QueryType)
	assert.Equal(t, "记忆层回答", resp.Response)
	assert.Equal(t, []string{"file_1"}, resp.Sources)

	// c == threshold → enhanced。无LLM客户端时退回记忆层答案但类型仍为enhanced
	resp = svc.route(context.Background(), clone, req, &knowledge.AskResult{
		Content:    "记忆层回答",
		Confidence: 0.6,
	})
	require.NotNil(t, resp)
	assert.Equal(t, models.QueryTypeEnhanced, resp.QueryType)
	assert.Equal(t, "记忆层回答", resp.Response)

	// c < threshold → fallback。无LLM客户端时兜底不可用
	resp = svc.route(context.Background(), clone, req, &knowledge.AskResult{
		Content:    "低置信度回答",
		Confidence: 0.59,
	})
	assert.Nil(t, resp)
}
