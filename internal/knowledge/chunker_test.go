package knowledge

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSentenceText(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(fmt.Sprintf("这是第%d句测试内容，用来验证分块器的句子感知切分逻辑。", i))
	}
	return sb.String()
}

func TestChunker_FixedStrategy(t *testing.T) {
	ck := NewChunker()
	text := strings.Repeat("a", 1000)

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    300,
		ChunkOverlap: 50,
		MinChunkSize: 10,
		Strategy:     StrategyFixed,
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// 步长250：起点0、250、500、750
	assert.Equal(t, 4, len(chunks))
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, StrategyFixed, c.Strategy)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 300)
	}
	// 相邻块之间有重叠
	assert.Equal(t, 250, chunks[1].StartOffset)
	assert.Equal(t, 300, chunks[0].EndOffset)
}

func TestChunker_SentenceStrategy(t *testing.T) {
	ck := NewChunker()
	// 约2000字的中文句子文本
	text := buildSentenceText(80)
	require.Greater(t, utf8.RuneCountInString(text), 1900)

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 100,
		MaxChunkSize: 2000,
		Strategy:     StrategySentence,
	})
	require.NoError(t, err)

	// 2000字、1000字块应产生至少2块
	assert.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		l := utf8.RuneCountInString(c.Content)
		assert.GreaterOrEqual(t, l, 100, "块不应短于最小长度")
		assert.LessOrEqual(t, l, 1300, "块长度应在块大小加重叠的合理范围内")
		// 句子感知：块应在句子边界结束
		assert.True(t, strings.HasSuffix(strings.TrimSpace(c.Content), "。"),
			"块应以句号结尾: %q", c.Content[len(c.Content)-30:])
	}
}

func TestChunker_Deterministic(t *testing.T) {
	ck := NewChunker()
	text := buildSentenceText(100)
	cfg := DefaultChunkConfig()

	first, err := ck.Chunk(text, cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ck.Chunk(text, cfg)
		require.NoError(t, err)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Content, again[j].Content)
			assert.Equal(t, first[j].Index, again[j].Index)
			assert.Equal(t, first[j].StartOffset, again[j].StartOffset)
		}
	}
}

func TestChunker_ParagraphStrategy(t *testing.T) {
	ck := NewChunker()
	paras := []string{
		strings.Repeat("第一段内容。", 30),
		strings.Repeat("第二段内容。", 30),
		strings.Repeat("第三段内容。", 30),
	}
	text := strings.Join(paras, "\n\n")

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    200,
		ChunkOverlap: 0,
		MinChunkSize: 50,
		MaxChunkSize: 500,
		Strategy:     StrategyParagraph,
	})
	require.NoError(t, err)
	// 每段180字，块大小200：各段独立成块
	assert.Equal(t, 3, len(chunks))
	for _, c := range chunks {
		assert.Equal(t, StrategyParagraph, c.Strategy)
		assert.NotContains(t, c.Content, "\n\n")
	}
}

func TestChunker_OversizedParagraphFallsBackToSentences(t *testing.T) {
	ck := NewChunker()
	oversized := buildSentenceText(40) // 单段约1000字
	text := "短段落开头，内容不长但超过最小限制，用来占一个独立分块的位置。\n\n" + oversized

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    300,
		ChunkOverlap: 50,
		MinChunkSize: 30,
		MaxChunkSize: 400,
		Strategy:     StrategyParagraph,
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var dotted int
	for _, c := range chunks {
		if strings.Contains(c.Index, ".") {
			dotted++
			assert.Equal(t, true, c.Metadata["oversized_paragraph"])
		}
	}
	assert.Greater(t, dotted, 0, "超长段落的子块应使用层级索引")
}

func TestChunker_SemanticStrategyGroupsByHeading(t *testing.T) {
	ck := NewChunker()
	text := "1. 引言\n\n" + strings.Repeat("引言正文。", 10) +
		"\n\n2. 方法\n\n" + strings.Repeat("方法正文。", 10)

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    500,
		ChunkOverlap: 0,
		MinChunkSize: 10,
		MaxChunkSize: 1000,
		Strategy:     StrategySemantic,
	})
	require.NoError(t, err)
	require.Equal(t, 2, len(chunks))
	assert.Contains(t, chunks[0].Content, "引言")
	assert.Contains(t, chunks[1].Content, "方法")
}

func TestChunker_MinSizeFilter(t *testing.T) {
	ck := NewChunker()
	text := "太短。\n\n" + strings.Repeat("这一段足够长可以保留下来作为有效分块内容。", 10)

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    500,
		ChunkOverlap: 0,
		MinChunkSize: 50,
		MaxChunkSize: 1000,
		Strategy:     StrategyParagraph,
	})
	require.NoError(t, err)
	for _, c := range chunks {
		assert.GreaterOrEqual(t, utf8.RuneCountInString(strings.TrimSpace(c.Content)), 50)
	}
}

func TestChunker_EmptyInput(t *testing.T) {
	ck := NewChunker()

	chunks, err := ck.Chunk("   \n\n  ", DefaultChunkConfig())
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunker_UnknownStrategy(t *testing.T) {
	ck := NewChunker()

	_, err := ck.Chunk("some text", ChunkConfig{Strategy: "magic"})
	assert.Error(t, err)
}

func TestChunkConfig_Normalized(t *testing.T) {
	// 重叠不小于块大小时压回五分之一
	cfg := ChunkConfig{ChunkSize: 100, ChunkOverlap: 150, MinChunkSize: 10, MaxChunkSize: 300, Strategy: StrategyFixed}.normalized()
	assert.Equal(t, 20, cfg.ChunkOverlap)

	// 最大块小于块大小时修正为两倍
	cfg = ChunkConfig{ChunkSize: 400, ChunkOverlap: 50, MinChunkSize: 10, MaxChunkSize: 100, Strategy: StrategyFixed}.normalized()
	assert.Equal(t, 800, cfg.MaxChunkSize)

	// 零值取默认
	cfg = ChunkConfig{}.normalized()
	assert.Equal(t, DefaultChunkConfig(), cfg)
}

func TestChunker_ResplitOversizedForEmbedding(t *testing.T) {
	ck := NewChunker()
	// 单"句"超过6000 token估算（24000+字符无句读，强制切分后仍超限）
	text := strings.Repeat("字", 30000)

	chunks, err := ck.Chunk(text, ChunkConfig{
		ChunkSize:    40000,
		ChunkOverlap: 0,
		MinChunkSize: 10,
		MaxChunkSize: 50000,
		Strategy:     StrategyFixed,
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "超限块应被重切")
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenEstimate, embeddingTokenLimit)
		assert.Contains(t, c.Index, ".", "重切子块应带层级索引")
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 25, estimateTokens(strings.Repeat("a", 100)))
	assert.Equal(t, 25, estimateTokens(strings.Repeat("中", 100)))
}
