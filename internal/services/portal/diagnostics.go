package portal

import (
	"context"
	"os"
	"path/filepath"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/ed-baer97/mektab/internal/common"
)

// excerptLimit bounds how much converted page text lands in the job log.
const excerptLimit = 600

// snapshot captures the failing page for later inspection: a screenshot and
// the full HTML under the diagnostics directory, plus a markdown excerpt
// logged into the job history. Returns the diagnostic id, empty when nothing
// could be captured.
func (s *Service) snapshot(ctx context.Context, ex *execution, stepName string) string {
	id := common.NewDiagnosticID()
	dir := filepath.Join(s.config.Output.DiagnosticsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ex.logger.Warn().Err(err).Msg("Could not create diagnostics directory")
		return ""
	}

	captured := false

	if shot, err := ex.browser.Screenshot(ctx); err == nil && len(shot) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "page.png"), shot, 0o644); err != nil {
			ex.logger.Warn().Err(err).Msg("Could not write diagnostic screenshot")
		} else {
			captured = true
		}
	} else if err != nil {
		ex.logger.Warn().Err(err).Msg("Could not capture diagnostic screenshot")
	}

	html, err := ex.browser.OuterHTML(ctx, "html")
	if err != nil {
		ex.logger.Warn().Err(err).Msg("Could not capture diagnostic page HTML")
	} else if html != "" {
		if err := os.WriteFile(filepath.Join(dir, "page.html"), []byte(html), 0o644); err != nil {
			ex.logger.Warn().Err(err).Msg("Could not write diagnostic page HTML")
		} else {
			captured = true
		}
		s.logExcerpt(ex, id, stepName, html)
	}

	if !captured {
		os.Remove(dir)
		return ""
	}

	ex.logger.Warn().
		Str("diagnostic", id).
		Str("step", stepName).
		Msg("Page structure unrecognized, snapshot saved")
	return id
}

// logExcerpt converts the page HTML to markdown and logs a bounded excerpt
// with the job's correlation id, so the unrecognized page's visible content
// is readable straight from the job history.
func (s *Service) logExcerpt(ex *execution, id, stepName, html string) {
	converter := md.NewConverter(s.config.Portal.BaseURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		ex.logger.Warn().Err(err).Msg("HTML to markdown conversion failed for diagnostic excerpt")
		return
	}
	excerpt := collapseSpace(markdown)
	if runes := []rune(excerpt); len(runes) > excerptLimit {
		excerpt = string(runes[:excerptLimit]) + "..."
	}
	ex.logger.Warn().
		Str("diagnostic", id).
		Str("step", stepName).
		Str("excerpt", excerpt).
		Msg("Unrecognized page content")
}
