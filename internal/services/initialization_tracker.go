package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/expertclone/backend-go/internal/logger"
	"github.com/expertclone/backend-go/internal/models"
)

// JobSnapshot 任务状态快照，供轮询接口返回
type JobSnapshot struct {
	JobID         string `json:"job_id"`
	CloneID       uint   `json:"clone_id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Phase         string `json:"phase"`
	TotalDocs     int    `json:"totalDocuments"`
	ProcessedDocs int    `json:"processedDocuments"`
	FailedDocs    int    `json:"failedDocuments"`
	ErrorMessage  string `json:"error,omitempty"`
	Completed     bool   `json:"completed"`
	Success       bool   `json:"success"`
}

// InitializationTracker 处理任务进度跟踪。内存表为主，
// Redis哈希做跨实例镜像（带TTL），数据库行做持久化审计。
// Update与Get并发安全；单次运行内进度只增不减。
type InitializationTracker struct {
	db    *gorm.DB
	redis *redis.Client
	ttl   time.Duration

	mu   sync.RWMutex
	jobs map[string]*models.RAGInitialization
}

// NewInitializationTracker 创建跟踪器。redis可为nil，退化为纯内存+DB。
func NewInitializationTracker(db *gorm.DB, rdb *redis.Client, ttlHours int) *InitializationTracker {
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &InitializationTracker{
		db:    db,
		redis: rdb,
		ttl:   time.Duration(ttlHours) * time.Hour,
		jobs:  make(map[string]*models.RAGInitialization),
	}
}

func jobRedisKey(jobID string) string {
	return fmt.Sprintf("rag:init:%s", jobID)
}

// Create 登记新任务，返回job id
func (t *InitializationTracker) Create(ctx context.Context, cloneID uint, totalDocs int) (string, error) {
	now := time.Now()
	job := &models.RAGInitialization{
		JobID:      uuid.NewString(),
		CloneID:    cloneID,
		Status:     models.JobStatusPending,
		Progress:   0,
		Phase:      "等待处理",
		TotalDocs:  totalDocs,
		CreateTime: now,
		StartedAt:  &now,
	}

	t.mu.Lock()
	t.jobs[job.JobID] = job
	t.mu.Unlock()

	if t.db != nil {
		if err := t.db.WithContext(ctx).Create(job).Error; err != nil {
			logger.Error("persist initialization job failed",
				zap.String("job_id", job.JobID), zap.Error(err))
		}
	}
	t.mirrorToRedis(ctx, job)

	logger.Info("initialization job created",
		zap.String("job_id", job.JobID),
		zap.Uint("clone_id", cloneID),
		zap.Int("total_docs", totalDocs))
	return job.JobID, nil
}

// Update 推进任务状态。进度保持单调不减，回退的百分比被钳制。
func (t *InitializationTracker) Update(ctx context.Context, jobID, status string, percent int, phase string, processed, failed int) {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if percent < job.Progress {
		percent = job.Progress
	}
	job.Status = status
	job.Progress = percent
	job.Phase = phase
	job.ProcessedDocs = processed
	job.FailedDocs = failed
	snapshot := *job
	t.mu.Unlock()

	t.persist(ctx, &snapshot)
}

// Complete 终结任务，只应调用一次
func (t *InitializationTracker) Complete(ctx context.Context, jobID string, success bool, errMsg string) {
	now := time.Now()

	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if success {
		job.Status = models.JobStatusCompleted
		job.Progress = 100
		job.Phase = "处理完成"
	} else {
		job.Status = models.JobStatusFailed
		job.Phase = "处理失败"
		job.ErrorMessage = errMsg
	}
	job.CompletedAt = &now
	snapshot := *job
	t.mu.Unlock()

	t.persist(ctx, &snapshot)

	logger.Info("initialization job finished",
		zap.String("job_id", jobID),
		zap.Bool("success", success),
		zap.String("error", errMsg))
}

// Get 查询任务快照。未知或过期的job id返回expired终态快照，
// 轮询方按完成处理而不是报错。
func (t *InitializationTracker) Get(ctx context.Context, jobID string) JobSnapshot {
	t.mu.RLock()
	if job, ok := t.jobs[jobID]; ok {
		snapshot := toSnapshot(job)
		t.mu.RUnlock()
		return snapshot
	}
	t.mu.RUnlock()

	// 本实例没有，尝试Redis镜像
	if t.redis != nil {
		if fields, err := t.redis.HGetAll(ctx, jobRedisKey(jobID)).Result(); err == nil && len(fields) > 0 {
			return snapshotFromRedis(jobID, fields)
		}
	}

	// 最后查数据库持久化行
	if t.db != nil {
		var job models.RAGInitialization
		if err := t.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err == nil {
			return toSnapshot(&job)
		}
	}

	return JobSnapshot{
		JobID:        jobID,
		Status:       models.JobStatusExpired,
		Phase:        "任务不存在或已过期",
		ErrorMessage: "job not found or expired",
		Completed:    true,
		Success:      false,
	}
}

// Evict 从内存表清除终态任务，Redis镜像随TTL过期
func (t *InitializationTracker) Evict(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobID]; ok && models.IsTerminalJobStatus(job.Status) {
		delete(t.jobs, jobID)
	}
}

func (t *InitializationTracker) persist(ctx context.Context, job *models.RAGInitialization) {
	if t.db != nil {
		err := t.db.WithContext(ctx).Model(&models.RAGInitialization{}).
			Where("job_id = ?", job.JobID).
			Updates(map[string]interface{}{
				"status":         job.Status,
				"progress":       job.Progress,
				"phase":          job.Phase,
				"processed_docs": job.ProcessedDocs,
				"failed_docs":    job.FailedDocs,
				"error_message":  job.ErrorMessage,
				"completed_at":   job.CompletedAt,
			}).Error
		if err != nil {
			logger.Error("update initialization job failed",
				zap.String("job_id", job.JobID), zap.Error(err))
		}
	}
	t.mirrorToRedis(ctx, job)
}

func (t *InitializationTracker) mirrorToRedis(ctx context.Context, job *models.RAGInitialization) {
	if t.redis == nil {
		return
	}
	key := jobRedisKey(job.JobID)
	fields := map[string]interface{}{
		"clone_id":       job.CloneID,
		"status":         job.Status,
		"progress":       job.Progress,
		"phase":          job.Phase,
		"total_docs":     job.TotalDocs,
		"processed_docs": job.ProcessedDocs,
		"failed_docs":    job.FailedDocs,
		"error_message":  job.ErrorMessage,
	}
	pipe := t.redis.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("mirror job to redis failed",
			zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func toSnapshot(job *models.RAGInitialization) JobSnapshot {
	terminal := models.IsTerminalJobStatus(job.Status)
	return JobSnapshot{
		JobID:         job.JobID,
		CloneID:       job.CloneID,
		Status:        job.Status,
		Progress:      job.Progress,
		Phase:         job.Phase,
		TotalDocs:     job.TotalDocs,
		ProcessedDocs: job.ProcessedDocs,
		FailedDocs:    job.FailedDocs,
		ErrorMessage:  job.ErrorMessage,
		Completed:     terminal,
		Success:       job.Status == models.JobStatusCompleted,
	}
}

func snapshotFromRedis(jobID string, fields map[string]string) JobSnapshot {
	atoi := func(key string) int {
		v, _ := strconv.Atoi(fields[key])
		return v
	}
	status := fields["status"]
	return JobSnapshot{
		JobID:         jobID,
		CloneID:       uint(atoi("clone_id")),
		Status:        status,
		Progress:      atoi("progress"),
		Phase:         fields["phase"],
		TotalDocs:     atoi("total_docs"),
		ProcessedDocs: atoi("processed_docs"),
		FailedDocs:    atoi("failed_docs"),
		ErrorMessage:  fields["error_message"],
		Completed:     models.IsTerminalJobStatus(status),
		Success:       status == models.JobStatusCompleted,
	}
}
