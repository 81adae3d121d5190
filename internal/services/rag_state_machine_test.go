package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/expertclone/backend-go/internal/models"
)

func TestRAGStateMachine_HappyPath(t *testing.T) {
	sm := NewRAGStateMachine()
	path := []string{
		models.JobStatusPending,
		models.JobStatusAnalyzing,
		models.JobStatusPreparing,
		models.JobStatusEmbedding,
		models.JobStatusStoring,
		models.JobStatusFinalizing,
		models.JobStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.NoError(t, sm.Validate(path[i], path[i+1]))
	}
}

func TestRAGStateMachine_AnyNonTerminalCanFail(t *testing.T) {
	sm := NewRAGStateMachine()
	for _, from := range []string{
		models.JobStatusPending,
		models.JobStatusAnalyzing,
		models.JobStatusPreparing,
		models.JobStatusEmbedding,
		models.JobStatusStoring,
		models.JobStatusFinalizing,
	} {
		assert.True(t, sm.CanTransition(from, models.JobStatusFailed), "from=%s", from)
	}
}

func TestRAGStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewRAGStateMachine()

	// 不允许跳级
	assert.False(t, sm.CanTransition(models.JobStatusPending, models.JobStatusEmbedding))
	// 不允许回退
	assert.False(t, sm.CanTransition(models.JobStatusStoring, models.JobStatusAnalyzing))
	// failed粘性，不允许离开
	assert.False(t, sm.CanTransition(models.JobStatusFailed, models.JobStatusPending))
	assert.False(t, sm.CanTransition(models.JobStatusFailed, models.JobStatusCompleted))
	// completed终态
	assert.False(t, sm.CanTransition(models.JobStatusCompleted, models.JobStatusPending))
}

func TestRAGStateMachine_PhasePercent(t *testing.T) {
	sm := NewRAGStateMachine()
	assert.Equal(t, 0, sm.PhasePercent(models.JobStatusPending))
	assert.Equal(t, 10, sm.PhasePercent(models.JobStatusAnalyzing))
	assert.Equal(t, 25, sm.PhasePercent(models.JobStatusPreparing))
	assert.Equal(t, 35, sm.PhasePercent(models.JobStatusEmbedding))
	assert.Equal(t, 80, sm.PhasePercent(models.JobStatusStoring))
	assert.Equal(t, 90, sm.PhasePercent(models.JobStatusFinalizing))
	assert.Equal(t, 100, sm.PhasePercent(models.JobStatusCompleted))
}

func TestRAGStateMachine_EmbeddingPercent(t *testing.T) {
	sm := NewRAGStateMachine()

	assert.Equal(t, 35, sm.EmbeddingPercent(0, 10))
	assert.Equal(t, 52, sm.EmbeddingPercent(5, 10))
	assert.Equal(t, 70, sm.EmbeddingPercent(10, 10))
	// 越界输入钳制
	assert.Equal(t, 70, sm.EmbeddingPercent(15, 10))
	assert.Equal(t, 35, sm.EmbeddingPercent(3, 0))
}

func TestRAGStateMachine_IsTerminal(t *testing.T) {
	sm := NewRAGStateMachine()
	assert.True(t, sm.IsTerminal(models.JobStatusCompleted))
	assert.True(t, sm.IsTerminal(models.JobStatusFailed))
	assert.True(t, sm.IsTerminal(models.JobStatusExpired))
	assert.False(t, sm.IsTerminal(models.JobStatusEmbedding))
}
