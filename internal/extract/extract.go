// Package extract pulls plain text out of uploaded files so they can be
// chunked and embedded.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

// Text extracts the textual content of an uploaded file based on its
// extension. Supported: .txt, .md, .pdf.
func Text(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid utf-8", errs.ErrInvalid, filename)
		}
		return string(data), nil
	case ".md", ".markdown":
		return markdownText(data), nil
	case ".pdf":
		return pdfText(filename, data)
	default:
		return "", fmt.Errorf("%w: %s", errs.ErrUnsupportedFormat, filename)
	}
}

// markdownText flattens a markdown document to plain text, keeping block
// structure as blank lines so chunk boundaries still land between paragraphs.
func markdownText(data []byte) string {
	md := goldmark.New()
	reader := gmtext.NewReader(data)
	doc := md.Parser().Parse(reader)

	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if txt := nodeText(node, data); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func nodeText(n ast.Node, source []byte) string {
	if code, ok := n.(*ast.FencedCodeBlock); ok {
		var sb strings.Builder
		for i := 0; i < code.Lines().Len(); i++ {
			line := code.Lines().At(i)
			sb.Write(line.Value(source))
		}
		return strings.TrimSpace(sb.String())
	}
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func pdfText(filename string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: read pdf %s: %v", errs.ErrInvalid, filename, err)
	}
	var buf bytes.Buffer
	content, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extract pdf text from %s: %v", errs.ErrInvalid, filename, err)
	}
	if _, err := buf.ReadFrom(content); err != nil {
		return "", fmt.Errorf("%w: extract pdf text from %s: %v", errs.ErrInvalid, filename, err)
	}
	return buf.String(), nil
}
