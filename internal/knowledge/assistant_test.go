package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateConfidence(t *testing.T) {
	long := strings.Repeat("字", 450)
	medium := strings.Repeat("字", 200)
	short := "简短回答。"

	tests := []struct {
		name      string
		content   string
		citations int
		want      float64
	}{
		{"无引用固定低置信度", long, 0, 0.3},
		{"单引用短回答", short, 1, 0.65},
		{"单引用中等长度", medium, 1, 0.70},
		{"单引用长回答", long, 1, 0.75},
		{"三引用长回答", long, 3, 0.95},
		{"引用数超过三按三计且封顶", long, 10, 0.95},
		{"两引用短回答", short, 2, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, estimateConfidence(tt.content, tt.citations), 1e-9)
		})
	}
}

func TestBuildInstructions(t *testing.T) {
	withStore := BuildInstructions("李医生", "三甲医院心内科主任。", true)
	assert.Contains(t, withStore, "李医生的AI分身")
	assert.Contains(t, withStore, "三甲医院心内科主任。")
	assert.Contains(t, withStore, "知识文档")

	withoutStore := BuildInstructions("李医生", "", false)
	assert.Contains(t, withoutStore, "李医生的AI分身")
	assert.NotContains(t, withoutStore, "知识文档")
	assert.NotContains(t, withoutStore, "关于你的背景")
}

func TestBuildInstructions_Deterministic(t *testing.T) {
	a := BuildInstructions("王老师", "资深语文教师", true)
	b := BuildInstructions("王老师", "资深语文教师", true)
	assert.Equal(t, a, b)
}
