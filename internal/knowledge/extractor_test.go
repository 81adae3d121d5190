package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/expertclone/backend-go/internal/errors"
)

func TestTextExtractor_PlainTextUTF8(t *testing.T) {
	te := NewTextExtractor()

	result, err := te.Extract([]byte("你好，世界。\r\n\r\n\r\n第二段。"), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "txt", result.Format)
	assert.Equal(t, "utf-8", result.Metadata["encoding"])
	// 连续空行压缩为一个，段落边界保留
	assert.Equal(t, "你好，世界。\n\n第二段。", result.Text)
	assert.Equal(t, 12, result.Metadata["char_count"])
}

func TestTextExtractor_EncodingLadder(t *testing.T) {
	te := NewTextExtractor()

	// 0xE9 = é (latin-1)，单独出现不是合法UTF-8
	result, err := te.Extract([]byte("caf\xe9 culture"), "legacy.txt")
	require.NoError(t, err)
	assert.Equal(t, "latin-1", result.Metadata["encoding"])
	assert.Equal(t, "café culture", result.Text)
}

func TestTextExtractor_UnsupportedFormat(t *testing.T) {
	te := NewTextExtractor()

	_, err := te.Extract([]byte("data"), "archive.zip")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnsupportedFormat))
}

func TestTextExtractor_EmptyContent(t *testing.T) {
	te := NewTextExtractor()

	_, err := te.Extract([]byte("   \n\t\n  "), "blank.txt")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoTextContent))
}

func TestTextExtractor_Supported(t *testing.T) {
	te := NewTextExtractor()

	assert.True(t, te.Supported("doc.PDF"))
	assert.True(t, te.Supported("readme.md"))
	assert.True(t, te.Supported("paper.docx"))
	assert.True(t, te.Supported("old.rtf"))
	assert.False(t, te.Supported("image.png"))
}

func TestMarkdownExtractor_StripsFormatting(t *testing.T) {
	te := NewTextExtractor()
	md := "# 标题\n\n正文里有[链接](https://example.com)和**加粗**。\n\n- 条目一\n- 条目二\n"

	result, err := te.Extract([]byte(md), "doc.md")
	require.NoError(t, err)
	assert.Equal(t, "markdown", result.Format)
	assert.NotContains(t, result.Text, "#")
	assert.NotContains(t, result.Text, "](")
	assert.NotContains(t, result.Text, "**")
	assert.Contains(t, result.Text, "标题")
	assert.Contains(t, result.Text, "链接")
	assert.Contains(t, result.Text, "条目一")
	assert.Equal(t, true, result.Metadata["has_headers"])
	assert.Equal(t, true, result.Metadata["has_links"])
	assert.Equal(t, false, result.Metadata["has_images"])
}

func TestRTFExtractor_StripsControlWords(t *testing.T) {
	te := NewTextExtractor()
	rtf := `{\rtf1\ansi\deff0 {\fonttbl {\f0 Times;}}\f0\fs24 Hello RTF world.\par}`

	result, err := te.Extract([]byte(rtf), "doc.rtf")
	require.NoError(t, err)
	assert.Equal(t, "rtf", result.Format)
	assert.NotContains(t, result.Text, "\\")
	assert.NotContains(t, result.Text, "{")
	assert.Contains(t, result.Text, "Hello RTF world.")
}

func TestNormalizeText(t *testing.T) {
	in := "line one  \t\r\nline two\r\r\n\n\n\nline three\n"
	out := normalizeText(in)
	assert.Equal(t, "line one\nline two\n\nline three", out)
}

func TestDecodeText_ASCIIFallbackKeepsValidBytes(t *testing.T) {
	text, enc := decodeText([]byte("plain ascii"))
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, "plain ascii", text)
}
