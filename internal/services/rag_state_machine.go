package services

import (
	"fmt"

	"github.com/expertclone/backend-go/internal/models"
)

// RAGStateMachine 处理任务状态机。正常推进路径：
// pending → analyzing → preparing → embedding → storing → finalizing → completed，
// 任一非终态可直接转failed。failed具有粘性，单次运行内不自动重试。
type RAGStateMachine struct{}

// NewRAGStateMachine 创建状态机实例
func NewRAGStateMachine() *RAGStateMachine {
	return &RAGStateMachine{}
}

// 状态转换规则
var jobTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusAnalyzing, models.JobStatusFailed},
	models.JobStatusAnalyzing:  {models.JobStatusPreparing, models.JobStatusFailed},
	models.JobStatusPreparing:  {models.JobStatusEmbedding, models.JobStatusFailed},
	models.JobStatusEmbedding:  {models.JobStatusStoring, models.JobStatusFailed},
	models.JobStatusStoring:    {models.JobStatusFinalizing, models.JobStatusFailed},
	models.JobStatusFinalizing: {models.JobStatusCompleted, models.JobStatusFailed},
}

// 每个阶段的基准进度百分比。embedding阶段在35-70区间内
// 按文档完成比线性推进。
var phasePercent = map[string]int{
	models.JobStatusPending:    0,
	models.JobStatusAnalyzing:  10,
	models.JobStatusPreparing:  25,
	models.JobStatusEmbedding:  35,
	models.JobStatusStoring:    80,
	models.JobStatusFinalizing: 90,
	models.JobStatusCompleted:  100,
}

// embedding阶段的进度区间
const (
	embeddingPercentStart = 35
	embeddingPercentEnd   = 70
)

// CanTransition 检查状态转换是否合法
func (sm *RAGStateMachine) CanTransition(from, to string) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Validate 校验转换，不合法返回错误
func (sm *RAGStateMachine) Validate(from, to string) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("invalid job transition from %s to %s", from, to)
	}
	return nil
}

// PhasePercent 返回阶段基准进度
func (sm *RAGStateMachine) PhasePercent(status string) int {
	return phasePercent[status]
}

// EmbeddingPercent 将"已完成文档/总文档"线性映射到embedding区间
func (sm *RAGStateMachine) EmbeddingPercent(done, total int) int {
	if total <= 0 {
		return embeddingPercentStart
	}
	if done > total {
		done = total
	}
	span := embeddingPercentEnd - embeddingPercentStart
	return embeddingPercentStart + span*done/total
}

// IsTerminal 判断是否终态
func (sm *RAGStateMachine) IsTerminal(status string) bool {
	return models.IsTerminalJobStatus(status)
}
