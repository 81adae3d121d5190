package knowledge

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 分块策略
const (
	StrategyFixed     = "fixed"
	StrategySentence  = "sentence"
	StrategyParagraph = "paragraph"
	StrategySemantic  = "semantic"
)

// embeddingTokenLimit 单块嵌入安全上限（估算token数）
const embeddingTokenLimit = 6000

// ChunkConfig 分块配置
type ChunkConfig struct {
	ChunkSize         int    `json:"chunk_size"`
	ChunkOverlap      int    `json:"chunk_overlap"`
	MinChunkSize      int    `json:"min_chunk_size"`
	MaxChunkSize      int    `json:"max_chunk_size"`
	Strategy          string `json:"strategy"`
	PreserveStructure bool   `json:"preserve_structure"`
}

// DefaultChunkConfig 默认配置：句子感知，1000字块，200字重叠
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:         1000,
		ChunkOverlap:      200,
		MinChunkSize:      100,
		MaxChunkSize:      2000,
		Strategy:          StrategySentence,
		PreserveStructure: true,
	}
}

// normalized 补齐零值并约束非法组合。重叠不小于块大小时窗口无法前进，
// 强制压回块大小的五分之一。
func (c ChunkConfig) normalized() ChunkConfig {
	d := DefaultChunkConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = d.ChunkOverlap
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = d.MinChunkSize
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = d.MaxChunkSize
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.MaxChunkSize < c.ChunkSize {
		c.MaxChunkSize = c.ChunkSize * 2
	}
	return c
}

// Chunk 一个文档分块。Index为层级索引（超大块重切后形如"3.1"），
// Seq为最终输出中的平铺序号。
type Chunk struct {
	Index         string                 `json:"index"`
	Seq           int                    `json:"seq"`
	Content       string                 `json:"content"`
	StartOffset   int                    `json:"start_offset"`
	EndOffset     int                    `json:"end_offset"`
	TokenEstimate int                    `json:"token_estimate"`
	Strategy      string                 `json:"strategy"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Chunker 多策略文本分块器。相同输入必须产出相同分块，
// 组件内不允许任何随机性。
type Chunker struct{}

// NewChunker 创建分块器
func NewChunker() *Chunker {
	return &Chunker{}
}

// Chunk 按配置策略切分文本，输出有序分块序列。
// 流程：策略切分 → 最小长度过滤 → 嵌入尺寸优化 → 序号回填。
func (ck *Chunker) Chunk(text string, config ChunkConfig) ([]Chunk, error) {
	config = config.normalized()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var chunks []Chunk
	switch config.Strategy {
	case StrategyFixed:
		chunks = ck.chunkFixed(text, config, 0)
	case StrategySentence:
		chunks = ck.chunkSentence(text, config, 0)
	case StrategyParagraph:
		chunks = ck.chunkParagraph(text, config)
	case StrategySemantic:
		chunks = ck.chunkSemantic(text, config)
	default:
		return nil, fmt.Errorf("未知分块策略: %s", config.Strategy)
	}

	chunks = filterMinSize(chunks, config.MinChunkSize)
	chunks = ck.optimizeForEmbedding(chunks, config)

	for i := range chunks {
		chunks[i].Seq = i
		chunks[i].TokenEstimate = estimateTokens(chunks[i].Content)
	}
	return chunks, nil
}

// estimateTokens 粗略token估算：4字符约1个token
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// filterMinSize 丢弃去除首尾空白后仍短于最小长度的块
func filterMinSize(chunks []Chunk, minSize int) []Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if utf8.RuneCountInString(strings.TrimSpace(c.Content)) >= minSize {
			out = append(out, c)
		}
	}
	return out
}

// chunkFixed 固定窗口滑动切分。步长 = 块大小 - 重叠。
func (ck *Chunker) chunkFixed(text string, config ChunkConfig, offsetBase int) []Chunk {
	runes := []rune(text)
	step := config.ChunkSize - config.ChunkOverlap
	if step <= 0 {
		step = config.ChunkSize
	}

	var chunks []Chunk
	idx := 0
	for start := 0; start < len(runes); start += step {
		end := start + config.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		content := string(runes[start:end])
		chunks = append(chunks, Chunk{
			Index:       fmt.Sprintf("%d", idx),
			Content:     content,
			StartOffset: offsetBase + start,
			EndOffset:   offsetBase + end,
			Strategy:    StrategyFixed,
		})
		idx++
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

var sentenceRe = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]+[\s]*|[^.!?。！？]+$`)

// sentenceSpan 一个句子及其在原文中的rune偏移
type sentenceSpan struct {
	text  string
	start int
	end   int
}

// splitSentences 句子切分，记录rune偏移以便回填分块位置
func splitSentences(text string) []sentenceSpan {
	matches := sentenceRe.FindAllStringIndex(text, -1)
	spans := make([]sentenceSpan, 0, len(matches))
	for _, m := range matches {
		seg := text[m[0]:m[1]]
		if strings.TrimSpace(seg) == "" {
			continue
		}
		spans = append(spans, sentenceSpan{
			text:  seg,
			start: utf8.RuneCountInString(text[:m[0]]),
			end:   utf8.RuneCountInString(text[:m[1]]),
		})
	}
	return spans
}

// chunkSentence 句子感知切分。句子累积到块大小后落块，
// 新块以不超过重叠长度的尾部句子作为衔接。累积超过最大块
// 上限时无视句边界强制落块（forced_split）。
func (ck *Chunker) chunkSentence(text string, config ChunkConfig, offsetBase int) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []sentenceSpan
	currentLen := 0
	idx := 0

	emit := func(forced bool) {
		if len(current) == 0 {
			return
		}
		var sb strings.Builder
		for _, s := range current {
			sb.WriteString(s.text)
		}
		chunk := Chunk{
			Index:       fmt.Sprintf("%d", idx),
			Content:     sb.String(),
			StartOffset: offsetBase + current[0].start,
			EndOffset:   offsetBase + current[len(current)-1].end,
			Strategy:    StrategySentence,
		}
		if forced {
			chunk.Metadata = map[string]interface{}{"forced_split": true}
		}
		chunks = append(chunks, chunk)
		idx++

		// 重叠衔接：从尾部取累计长度不超过重叠窗口的句子
		var overlap []sentenceSpan
		overlapLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			l := utf8.RuneCountInString(current[i].text)
			if overlapLen+l > config.ChunkOverlap {
				break
			}
			overlap = append([]sentenceSpan{current[i]}, overlap...)
			overlapLen += l
		}
		current = overlap
		currentLen = overlapLen
	}

	for _, sent := range sentences {
		l := utf8.RuneCountInString(sent.text)
		if currentLen > 0 && currentLen+l > config.ChunkSize && currentLen >= config.MinChunkSize {
			emit(false)
		}
		current = append(current, sent)
		currentLen += l
		if currentLen > config.MaxChunkSize {
			emit(true)
		}
	}
	emit(false)
	return chunks
}

var paragraphSplitRe = regexp.MustCompile(`\n[ \t]*\n+`)

// paragraphSpan 一个段落及其rune偏移
type paragraphSpan struct {
	text  string
	start int
	end   int
}

// splitParagraphs 按空行切分段落
func splitParagraphs(text string) []paragraphSpan {
	var spans []paragraphSpan
	prev := 0
	boundaries := paragraphSplitRe.FindAllStringIndex(text, -1)
	appendSpan := func(byteStart, byteEnd int) {
		seg := text[byteStart:byteEnd]
		if strings.TrimSpace(seg) == "" {
			return
		}
		spans = append(spans, paragraphSpan{
			text:  seg,
			start: utf8.RuneCountInString(text[:byteStart]),
			end:   utf8.RuneCountInString(text[:byteEnd]),
		})
	}
	for _, b := range boundaries {
		appendSpan(prev, b[0])
		prev = b[1]
	}
	appendSpan(prev, len(text))
	return spans
}

// chunkParagraph 段落感知切分。段落整体累积；单段超过最大块
// 上限时降级为句子感知切分，子块索引挂在父索引下（如"5.1"）。
func (ck *Chunker) chunkParagraph(text string, config ChunkConfig) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []paragraphSpan
	currentLen := 0
	idx := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		parts := make([]string, len(current))
		for i, p := range current {
			parts[i] = p.text
		}
		chunks = append(chunks, Chunk{
			Index:       fmt.Sprintf("%d", idx),
			Content:     strings.Join(parts, "\n\n"),
			StartOffset: current[0].start,
			EndOffset:   current[len(current)-1].end,
			Strategy:    StrategyParagraph,
		})
		idx++
		current = nil
		currentLen = 0
	}

	for _, para := range paragraphs {
		l := utf8.RuneCountInString(para.text)

		if l > config.MaxChunkSize {
			emit()
			// 超长段落降级句子切分
			sub := ck.chunkSentence(para.text, config, para.start)
			parent := fmt.Sprintf("%d", idx)
			for i := range sub {
				sub[i].Index = fmt.Sprintf("%s.%d", parent, i+1)
				sub[i].Strategy = StrategyParagraph
				if sub[i].Metadata == nil {
					sub[i].Metadata = map[string]interface{}{}
				}
				sub[i].Metadata["oversized_paragraph"] = true
			}
			chunks = append(chunks, sub...)
			idx++
			continue
		}

		if currentLen > 0 && currentLen+l > config.ChunkSize && currentLen >= config.MinChunkSize {
			emit()
		}
		current = append(current, para)
		currentLen += l
	}
	emit()
	return chunks
}

var (
	numberedHeadingRe = regexp.MustCompile(`^\s*\d+(\.\d+)*[.)]?\s+\S`)
	markdownHeadingRe = regexp.MustCompile(`^#{1,6}\s`)
)

// looksLikeHeading 判断段落首行是否为章节标题：
// 编号标题、Markdown标题或全大写短行。
func looksLikeHeading(paragraph string) bool {
	line := paragraph
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if numberedHeadingRe.MatchString(line) || markdownHeadingRe.MatchString(line) {
		return true
	}
	// 全大写短行（至少含一个字母）
	if utf8.RuneCountInString(line) <= 80 {
		hasLetter := false
		for _, r := range line {
			if unicode.IsLower(r) {
				return false
			}
			if unicode.IsLetter(r) {
				hasLetter = true
			}
		}
		return hasLetter
	}
	return false
}

// chunkSemantic 语义感知切分。以标题类段落为分节信号聚合段落，
// 小节整体成块，超过块大小的小节再做段落切分。
func (ck *Chunker) chunkSemantic(text string, config ChunkConfig) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	// 按标题信号分组
	var sections [][]paragraphSpan
	var current []paragraphSpan
	for _, para := range paragraphs {
		if looksLikeHeading(para.text) && len(current) > 0 {
			sections = append(sections, current)
			current = nil
		}
		current = append(current, para)
	}
	if len(current) > 0 {
		sections = append(sections, current)
	}

	var chunks []Chunk
	idx := 0
	for _, section := range sections {
		parts := make([]string, len(section))
		total := 0
		for i, p := range section {
			parts[i] = p.text
			total += utf8.RuneCountInString(p.text)
		}
		sectionText := strings.Join(parts, "\n\n")

		if total <= config.ChunkSize {
			chunks = append(chunks, Chunk{
				Index:       fmt.Sprintf("%d", idx),
				Content:     sectionText,
				StartOffset: section[0].start,
				EndOffset:   section[len(section)-1].end,
				Strategy:    StrategySemantic,
			})
			idx++
			continue
		}

		// 大节降级段落切分，偏移需要换算回全文坐标
		sub := ck.chunkParagraph(sectionText, config)
		base := section[0].start
		for i := range sub {
			sub[i].Index = fmt.Sprintf("%d", idx)
			sub[i].StartOffset += base
			sub[i].EndOffset += base
			sub[i].Strategy = StrategySemantic
			chunks = append(chunks, sub[i])
			idx++
		}
	}
	return chunks
}

// optimizeForEmbedding 嵌入尺寸优化。估算token超过安全上限的块，
// 以减半的块参数递归重切，子块索引点接在父索引后（"3"→"3.1"）。
func (ck *Chunker) optimizeForEmbedding(chunks []Chunk, config ChunkConfig) []Chunk {
	var out []Chunk
	for _, chunk := range chunks {
		out = append(out, ck.resplitOversized(chunk, config)...)
	}
	return out
}

func (ck *Chunker) resplitOversized(chunk Chunk, config ChunkConfig) []Chunk {
	if estimateTokens(chunk.Content) <= embeddingTokenLimit {
		return []Chunk{chunk}
	}
	half := config
	half.ChunkSize = config.ChunkSize / 2
	half.ChunkOverlap = config.ChunkOverlap / 2
	if half.ChunkSize < half.MinChunkSize {
		// 无法继续缩小，按原样保留
		return []Chunk{chunk}
	}
	half = half.normalized()

	sub := ck.chunkFixed(chunk.Content, half, chunk.StartOffset)
	var out []Chunk
	n := 1
	for _, s := range sub {
		s.Index = fmt.Sprintf("%s.%d", chunk.Index, n)
		s.Strategy = chunk.Strategy
		if chunk.Metadata != nil {
			s.Metadata = chunk.Metadata
		}
		n++
		out = append(out, ck.resplitOversized(s, half)...)
	}
	return out
}
