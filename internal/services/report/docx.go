package report

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	docx "github.com/lukasjarosch/go-docx"

	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// buildDocument fills a docx variant: scalar placeholders get their values,
// the region placeholder expands to one line per grade record.
func buildDocument(tpl *Template, variant Variant, input interfaces.SynthesisInput, outPath string, generated time.Time) error {
	doc, err := docx.Open(variant.Path())
	if err != nil {
		return models.WrapScrapeError(models.ErrKindTemplate, err,
			"open %s variant of template %q", input.Locale, tpl.ID)
	}

	replacements := docx.PlaceholderMap{}
	for _, field := range tpl.Fields {
		v, ok := resolveScalar(field, input, generated)
		if !ok {
			return models.NewScrapeError(models.ErrKindTemplate,
				"template %q field %q has no data source", tpl.ID, field)
		}
		replacements[field] = xmlEscape(fmt.Sprint(v))
	}
	replacements[tpl.Region.Placeholder] = strings.Join(documentRows(input), "\n")

	if err := doc.ReplaceAll(replacements); err != nil {
		return models.WrapScrapeError(models.ErrKindTemplate, err,
			"replace placeholders in template %q", tpl.ID)
	}
	if err := doc.WriteToFile(outPath); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return expandLineBreaks(outPath)
}

// documentRows formats the roster for the region placeholder. Absences and
// unrecognized values show their raw journal text, records the normalizer
// could not fully type carry a trailing asterisk like the workbook rows do.
func documentRows(input interfaces.SynthesisInput) []string {
	rows := make([]string, 0, len(input.Grades))
	for i, rec := range input.Grades {
		num := rec.StudentNum
		if num == 0 {
			num = i + 1
		}
		line := fmt.Sprintf("%d. %s", num, rec.StudentName)
		if v := displayValue(rec.Value); v != "" {
			line += ": " + v
		}
		if rec.TotalPct != 0 {
			line += fmt.Sprintf(" (%s%%)", trimFloat(round2(rec.TotalPct)))
		}
		if !rec.Complete {
			line += " *"
		}
		rows = append(rows, xmlEscape(line))
	}
	return rows
}

// Matches a complete text element. The group after w:t requires whitespace
// or the closing bracket so <w:tab/> never matches.
var textRunPattern = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>.*?</w:t>`)

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

// expandLineBreaks rewrites the written document so newlines inside text
// runs become real line breaks. A w:br element between text nodes renders
// as a break; a raw newline character inside w:t does not.
func expandLineBreaks(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("reopen document: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range r.File {
		rc, err := entry.Open()
		if err != nil {
			r.Close()
			return fmt.Errorf("read %s: %w", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			r.Close()
			return fmt.Errorf("read %s: %w", entry.Name, err)
		}
		if entry.Name == "word/document.xml" {
			data = breakRuns(data)
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			r.Close()
			return fmt.Errorf("rewrite %s: %w", entry.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			r.Close()
			return fmt.Errorf("rewrite %s: %w", entry.Name, err)
		}
	}
	r.Close()
	if err := zw.Close(); err != nil {
		return fmt.Errorf("rewrite document: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func breakRuns(data []byte) []byte {
	return textRunPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		s := string(m)
		openEnd := strings.Index(s, ">") + 1
		inner := s[openEnd : len(s)-len("</w:t>")]
		if !strings.Contains(inner, "\n") {
			return m
		}
		const open = `<w:t xml:space="preserve">`
		lines := strings.Split(inner, "\n")
		return []byte(open + strings.Join(lines, `</w:t><w:br/><w:t xml:space="preserve">`) + `</w:t>`)
	})
}
