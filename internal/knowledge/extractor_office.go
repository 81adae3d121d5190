package knowledge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/expertclone/backend-go/internal/errors"
)

// PDFExtractor PDF文本提取，逐页提取并标注页码
type PDFExtractor struct{}

func (e *PDFExtractor) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (e *PDFExtractor) Extract(data []byte, filename string) (*ExtractResult, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewExternalError(
			apperrors.ErrCodeDocumentProcessing,
			fmt.Sprintf("解析PDF失败: %s", filename), err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, apperrors.NewExternalError(
			apperrors.ErrCodeDocumentProcessing,
			fmt.Sprintf("获取PDF页数失败: %s", filename), err)
	}

	var textBuilder strings.Builder
	extracted := 0
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}

		textBuilder.WriteString(fmt.Sprintf("[Page %d]\n", i))
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
		extracted++
	}

	return &ExtractResult{
		Text:   textBuilder.String(),
		Format: "pdf",
		Metadata: map[string]interface{}{
			"page_count":      numPages,
			"pages_extracted": extracted,
		},
	}, nil
}

// DocxExtractor Word文档提取，正文段落加表格单元格
type DocxExtractor struct{}

func (e *DocxExtractor) SupportedExtensions() []string {
	return []string{".docx"}
}

func (e *DocxExtractor) Extract(data []byte, filename string) (*ExtractResult, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.NewExternalError(
			apperrors.ErrCodeDocumentProcessing,
			fmt.Sprintf("解析Word文档失败: %s", filename), err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	paragraphs := 0
	for _, para := range doc.Paragraphs() {
		var line strings.Builder
		for _, run := range para.Runs() {
			line.WriteString(run.Text())
		}
		if strings.TrimSpace(line.String()) == "" {
			continue
		}
		textBuilder.WriteString(line.String())
		textBuilder.WriteString("\n\n")
		paragraphs++
	}

	// 表格内容按行拼接，竖线分列
	tables := doc.Tables()
	for _, table := range tables {
		for _, row := range table.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				var cellText strings.Builder
				for _, para := range cell.Paragraphs() {
					for _, run := range para.Runs() {
						cellText.WriteString(run.Text())
					}
				}
				if s := strings.TrimSpace(cellText.String()); s != "" {
					cells = append(cells, s)
				}
			}
			if len(cells) > 0 {
				textBuilder.WriteString(strings.Join(cells, " | "))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	meta := map[string]interface{}{
		"paragraph_count": paragraphs,
		"table_count":     len(tables),
	}
	if title := doc.CoreProperties.Title(); title != "" {
		meta["title"] = title
	}
	if author := doc.CoreProperties.Author(); author != "" {
		meta["author"] = author
	}

	return &ExtractResult{
		Text:     textBuilder.String(),
		Format:   "docx",
		Metadata: meta,
	}, nil
}
