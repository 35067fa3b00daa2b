// Package pdfreader provides a tool that extracts text from local PDF
// files so agents can work over documents.
//
// It uses ledongthuc/pdf (BSD-3, pure Go, no CGO) for text extraction.
package pdfreader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	cascade "github.com/nevindra/cascade"
)

const maxContentChars = 20_000

// Tool reads PDFs from a configured root directory. Paths outside the
// root are rejected.
type Tool struct {
	root string
}

// New creates a pdfreader rooted at dir.
func New(dir string) *Tool {
	return &Tool{root: dir}
}

func (*Tool) Name() string { return "read_pdf" }

func (*Tool) Description() string {
	return "Extract the text content of a PDF file. path is relative to the configured document directory."
}

func (*Tool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "PDF file path relative to the document root"}
		},
		"required": ["path"]
	}`)
}

func (t *Tool) Execute(_ context.Context, args map[string]any) (cascade.ToolResult, error) {
	started := time.Now()
	rel, ok := args["path"].(string)
	if !ok || rel == "" {
		return cascade.ToolResult{}, &cascade.ErrTool{
			Code:    cascade.ToolInvalidParameters,
			Tool:    "read_pdf",
			Message: "path must be a non-empty string",
		}
	}

	full := filepath.Join(t.root, filepath.Clean("/"+rel))
	content, err := os.ReadFile(full)
	if err != nil {
		return cascade.ErrorResult(fmt.Sprintf("read file: %v", err), started), nil
	}

	text, pages, err := ExtractText(content)
	if err != nil {
		return cascade.ErrorResult(fmt.Sprintf("extract pdf: %v", err), started), nil
	}
	if text == "" {
		return cascade.NoDataResult("PDF contains no extractable text", started), nil
	}
	if len(text) > maxContentChars {
		text = text[:maxContentChars] + "\n... (truncated)"
	}

	return cascade.SuccessResult(map[string]any{
		"path":  rel,
		"pages": pages,
		"text":  text,
	}, started)
}

// ExtractText pulls plain text out of PDF bytes, page by page.
// Unreadable pages are skipped.
func ExtractText(content []byte) (string, int, error) {
	if len(content) == 0 {
		return "", 0, fmt.Errorf("empty PDF content")
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}

	return strings.TrimSpace(text.String()), r.NumPage(), nil
}

var _ cascade.Tool = (*Tool)(nil)
