package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// Export formats accepted by the CLI.
const (
	FormatMarkdown = "markdown"
	FormatDocx     = "docx"
	FormatAll      = "all"
)

// docxTemplate is a minimal valid document the exporter rewrites; the docx
// library edits existing files rather than creating them.
//
//go:embed template.docx
var docxTemplate []byte

// ExportMarkdown writes the report to a markdown file.
func ExportMarkdown(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ExportDocx renders the markdown report into a Word document. Headings
// become bold paragraphs; everything else is plain text, one paragraph per
// line.
func ExportDocx(path, content string) error {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(docxTemplate), int64(len(docxTemplate)))
	if err != nil {
		return fmt.Errorf("loading docx template: %w", err)
	}
	defer r.Close()

	doc := r.Editable()
	doc.SetContent(documentXML(content))
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// documentXML builds the full word/document.xml for the report.
func documentXML(markdown string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			b.WriteString(`<w:p/>`)
			continue
		}

		level, text := headingLevel(line)
		escaped := xmlEscaper.Replace(text)
		if level > 0 {
			size := 32 - 4*level
			if size < 24 {
				size = 24
			}
			fmt.Fprintf(&b,
				`<w:p><w:r><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
				size, escaped)
			continue
		}
		fmt.Fprintf(&b, `<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, escaped)
	}

	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

// headingLevel splits a markdown heading into its level and text; level 0
// means a plain line.
func headingLevel(line string) (int, string) {
	trimmed := strings.TrimLeft(line, "#")
	level := len(line) - len(trimmed)
	if level == 0 || level > 6 || !strings.HasPrefix(trimmed, " ") {
		return 0, line
	}
	return level, strings.TrimSpace(trimmed)
}
