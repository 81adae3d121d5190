package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expertclone/backend-go/internal/models"
)

// 跟踪器在无Redis无DB时退化为纯内存，下面的用例都走这条路径
func newMemoryTracker() *InitializationTracker {
	return NewInitializationTracker(nil, nil, 1)
}

func TestTracker_CreateAndGet(t *testing.T) {
	tracker := newMemoryTracker()
	ctx := context.Background()

	jobID, err := tracker.Create(ctx, 5, 3)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	snap := tracker.Get(ctx, jobID)
	assert.Equal(t, jobID, snap.JobID)
	assert.Equal(t, uint(5), snap.CloneID)
	assert.Equal(t, models.JobStatusPending, snap.Status)
	assert.Equal(t, 0, snap.Progress)
	assert.Equal(t, 3, snap.TotalDocs)
	assert.False(t, snap.Completed)
}

func TestTracker_ProgressIsMonotonic(t *testing.T) {
	tracker := newMemoryTracker()
	ctx := context.Background()

	jobID, _ := tracker.Create(ctx, 1, 10)
	tracker.Update(ctx, jobID, models.JobStatusEmbedding, 50, "正在处理文档 3/10", 3, 0)
	require.Equal(t, 50, tracker.Get(ctx, jobID).Progress)

	// 回退的百分比被钳制，进度保持不减
	tracker.Update(ctx, jobID, models.JobStatusEmbedding, 40, "正在处理文档 4/10", 4, 0)
	snap := tracker.Get(ctx, jobID)
	assert.Equal(t, 50, snap.Progress)
	assert.Equal(t, 4, snap.ProcessedDocs)
}

func TestTracker_CompleteSuccess(t *testing.T) {
	tracker := newMemoryTracker()
	ctx := context.Background()

	jobID, _ := tracker.Create(ctx, 1, 2)
	tracker.Complete(ctx, jobID, true, "")

	snap := tracker.Get(ctx, jobID)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.True(t, snap.Completed)
	assert.True(t, snap.Success)
}

func TestTracker_CompleteFailure(t *testing.T) {
	tracker := newMemoryTracker()
	ctx := context.Background()

	jobID, _ := tracker.Create(ctx, 1, 2)
	tracker.Update(ctx, jobID, models.JobStatusEmbedding, 40, "正在处理文档 1/2", 1, 1)
	tracker.Complete(ctx, jobID, false, "全部 2 篇文档处理失败")

	snap := tracker.Get(ctx, jobID)
	assert.Equal(t, models.JobStatusFailed, snap.Status)
	assert.True(t, snap.Completed)
	assert.False(t, snap.Success)
	assert.Equal(t, "全部 2 篇文档处理失败", snap.ErrorMessage)
	// 失败不强行改进度
	assert.Equal(t, 40, snap.Progress)
}

func TestTracker_UnknownJobReturnsExpiredSnapshot(t *testing.T) {
	tracker := newMemoryTracker()

	snap := tracker.Get(context.Background(), "no-such-job")
	assert.Equal(t, models.JobStatusExpired, snap.Status)
	assert.True(t, snap.Completed)
	assert.False(t, snap.Success)
	assert.NotEmpty(t, snap.ErrorMessage)
}

func TestTracker_EvictOnlyTerminal(t *testing.T) {
	tracker := newMemoryTracker()
	ctx := context.Background()

	running, _ := tracker.Create(ctx, 1, 1)
	done, _ := tracker.Create(ctx, 2, 1)
	tracker.Complete(ctx, done, true, "")

	tracker.Evict(running)
	tracker.Evict(done)

	// 运行中的不被清除
	assert.Equal(t, models.JobStatusPending, tracker.Get(ctx, running).Status)
	// 终态的清除后按expired返回
	assert.Equal(t, models.JobStatusExpired, tracker.Get(ctx, done).Status)
}

func TestTracker_UpdateUnknownJobIsNoop(t *testing.T) {
	tracker := newMemoryTracker()
	// 不应panic
	tracker.Update(context.Background(), "missing", models.JobStatusEmbedding, 50, "x", 1, 0)
	tracker.Complete(context.Background(), "missing", true, "")
}
