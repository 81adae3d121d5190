package knowledge

import (
	"bytes"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	apperrors "github.com/expertclone/backend-go/internal/errors"
)

// ExtractResult 提取结果：纯文本加提取过程元数据
type ExtractResult struct {
	Text     string
	Format   string
	Metadata map[string]interface{}
}

// Extractor 单一格式文本提取器
type Extractor interface {
	// Extract 从原始字节中提取纯文本
	Extract(data []byte, filename string) (*ExtractResult, error)
	// SupportedExtensions 返回支持的扩展名（小写，带点）
	SupportedExtensions() []string
}

// TextExtractor 按扩展名分发到具体格式提取器
type TextExtractor struct {
	extractors map[string]Extractor
}

// NewTextExtractor 注册全部内置格式
func NewTextExtractor() *TextExtractor {
	te := &TextExtractor{extractors: make(map[string]Extractor)}
	for _, e := range []Extractor{
		&PlainTextExtractor{},
		&MarkdownExtractor{},
		&RTFExtractor{},
		&PDFExtractor{},
		&DocxExtractor{},
	} {
		for _, ext := range e.SupportedExtensions() {
			te.extractors[ext] = e
		}
	}
	return te
}

// Extract 提取并清洗文本。不支持的格式与空文本返回带码错误，
// 调用方据此将文档记为失败而不中断整批。
func (te *TextExtractor) Extract(data []byte, filename string) (*ExtractResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	extractor, ok := te.extractors[ext]
	if !ok {
		return nil, apperrors.NewValidationError(
			apperrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("不支持的文件格式: %s", ext))
	}

	result, err := extractor.Extract(data, filename)
	if err != nil {
		return nil, err
	}

	result.Text = normalizeText(result.Text)
	if strings.TrimSpace(result.Text) == "" {
		return nil, apperrors.NewValidationError(
			apperrors.ErrCodeNoTextContent,
			fmt.Sprintf("文档无可用文本内容: %s", filename))
	}

	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata["char_count"] = utf8.RuneCountInString(result.Text)
	return result, nil
}

// Supported 判断扩展名是否可处理
func (te *TextExtractor) Supported(filename string) bool {
	_, ok := te.extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// normalizeText 清洗提取文本：统一换行，去除行尾空白，
// 压缩连续空行为一个（保留段落边界供后续分段使用）。
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// PlainTextExtractor 纯文本。字节可能来自多种历史编码，
// 按 utf-8 → latin-1 → cp1252 → ascii 顺序尝试解码。
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) SupportedExtensions() []string {
	return []string{".txt", ".text", ".log"}
}

func (e *PlainTextExtractor) Extract(data []byte, filename string) (*ExtractResult, error) {
	text, enc := decodeText(data)
	return &ExtractResult{
		Text:   text,
		Format: "txt",
		Metadata: map[string]interface{}{
			"encoding": enc,
		},
	}, nil
}

// decodeText 编码阶梯解码。utf-8优先；latin-1对任意字节都有定义，
// 因此永远是兜底，不会返回乱码失败。
func decodeText(data []byte) (string, string) {
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}

	ladder := []struct {
		name string
		enc  encoding.Encoding
	}{
		{"latin-1", charmap.ISO8859_1},
		{"cp1252", charmap.Windows1252},
	}
	for _, step := range ladder {
		decoded, err := step.enc.NewDecoder().Bytes(data)
		if err == nil {
			return string(decoded), step.name
		}
	}

	// ascii兜底：剔除非ASCII字节
	var sb strings.Builder
	for _, b := range data {
		if b < 0x80 {
			sb.WriteByte(b)
		}
	}
	return sb.String(), "ascii"
}

var (
	mdHeaderRe = regexp.MustCompile(`(?m)^#{1,6}\s`)
	mdLinkRe   = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
	mdImageRe  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	htmlTagRe  = regexp.MustCompile(`<[^>]+>`)
)

// MarkdownExtractor Markdown渲染为HTML后剥除标签，
// 保留文字内容同时丢弃格式标记。
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

func (e *MarkdownExtractor) Extract(data []byte, filename string) (*ExtractResult, error) {
	raw, _ := decodeText(data)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(raw), &buf); err != nil {
		return nil, apperrors.NewExternalError(
			apperrors.ErrCodeDocumentProcessing,
			fmt.Sprintf("Markdown解析失败: %s", filename), err)
	}

	rendered := buf.String()
	// 块级标签结束补换行，避免段落黏连
	rendered = regexp.MustCompile(`</(p|h[1-6]|li|blockquote|pre|tr)>`).ReplaceAllString(rendered, "\n\n")
	text := htmlTagRe.ReplaceAllString(rendered, "")
	text = html.UnescapeString(text)

	return &ExtractResult{
		Text:   text,
		Format: "markdown",
		Metadata: map[string]interface{}{
			"has_headers": mdHeaderRe.MatchString(raw),
			"has_links":   mdLinkRe.MatchString(raw),
			"has_images":  mdImageRe.MatchString(raw),
		},
	}, nil
}

var (
	rtfControlRe = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfHexRe     = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
	rtfBraceRe   = regexp.MustCompile(`[{}]`)
)

// RTFExtractor RTF控制字剥离。不做完整RTF解析，
// 剥除控制字/十六进制转义/分组括号后剩余即正文。
type RTFExtractor struct{}

func (e *RTFExtractor) SupportedExtensions() []string {
	return []string{".rtf"}
}

func (e *RTFExtractor) Extract(data []byte, filename string) (*ExtractResult, error) {
	raw, _ := decodeText(data)

	text := rtfHexRe.ReplaceAllString(raw, " ")
	text = rtfControlRe.ReplaceAllString(text, " ")
	text = rtfBraceRe.ReplaceAllString(text, "")
	text = regexp.MustCompile(`[ \t]+`).ReplaceAllString(text, " ")

	return &ExtractResult{
		Text:   text,
		Format: "rtf",
		Metadata: map[string]interface{}{
			"source_bytes": len(data),
		},
	}, nil
}
