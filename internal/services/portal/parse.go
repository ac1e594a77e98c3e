package portal

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/models"
)

// parseClassList extracts class rows from the grades table HTML. The subject
// cell carries muted annotations ("Обновленное содержание") below the
// subject proper, so the strong tag wins and the fallback strips the muted
// text. Rows without a journal link stay in the list with an empty
// CriteriaURL; the caller decides whether that means skip.
func parseClassList(html string) ([]models.PortalClass, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse grades table: %w", err)
	}

	var classes []models.PortalClass
	doc.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 2 {
			return
		}
		label := collapseSpace(tds.Eq(0).Text())
		if label == "" {
			return
		}

		subjectCell := tds.Eq(1)
		subject := collapseSpace(subjectCell.Find("strong").First().Text())
		if subject == "" {
			full := collapseSpace(subjectCell.Text())
			muted := collapseSpace(subjectCell.Find("div.text-muted").Text())
			if muted != "" {
				full = collapseSpace(strings.Replace(full, muted, "", 1))
			}
			subject = full
		}

		href := tr.Find(`a[href*="action=semester2"]`).First().AttrOr("href", "")
		classes = append(classes, models.PortalClass{
			Label:       label,
			Subject:     subject,
			CriteriaURL: href,
			CriteriaSet: href != "",
		})
	})

	return classes, nil
}

// matchClass finds the row for the wanted class, narrowed by subject when
// one is given. Labels compare in canonical form so «5 «В»» matches 5В.
func matchClass(classes []models.PortalClass, classID, subject string) *models.PortalClass {
	wantClass := canonLabel(classID)
	wantSubject := canonLabel(subject)

	for i := range classes {
		if canonLabel(classes[i].Label) != wantClass {
			continue
		}
		if wantSubject == "" {
			return &classes[i]
		}
		got := canonLabel(classes[i].Subject)
		if got == wantSubject || strings.Contains(got, wantSubject) || strings.Contains(wantSubject, got) {
			return &classes[i]
		}
	}
	return nil
}

// canonLabel reduces a label to lowercase letters and digits. The portal
// decorates class names with quotes and spacing («5 «В»») that the operator
// never types.
func canonLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// periodTab is one entry of the journal's pill strip.
type periodTab struct {
	Href  string
	Label string
}

// parsePeriodTabs reads the pill strip. Only fragment links count; the strip
// occasionally carries external links that are not period panes.
func parsePeriodTabs(html string) []periodTab {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var tabs []periodTab
	doc.Find(`a[data-toggle="pill"]`).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if !strings.HasPrefix(href, "#") {
			return
		}
		tabs = append(tabs, periodTab{
			Href:  href,
			Label: collapseSpace(a.Text()),
		})
	})
	return tabs
}

// pickPeriodTab maps the requested period onto an existing tab: the direct
// #chetvert_N pane first, then the half-year caption (periods 1-2 belong to
// the first half, 3-4 to the second), then any caption carrying the quarter
// number. Nil means the strip is unrecognizable.
func pickPeriodTab(tabs []periodTab, period int) *periodTab {
	direct := fmt.Sprintf("#chetvert_%d", period)
	for i := range tabs {
		if tabs[i].Href == direct {
			return &tabs[i]
		}
	}

	half := 1
	if period >= 3 {
		half = 2
	}
	for i := range tabs {
		if halfLabelMatches(tabs[i].Label, half) {
			return &tabs[i]
		}
	}

	num := strconv.Itoa(period)
	for i := range tabs {
		for _, field := range strings.Fields(tabs[i].Label) {
			if field == num || strings.HasPrefix(field, num+"-") {
				return &tabs[i]
			}
		}
	}
	return nil
}

// halfLabelMatches reports whether a tab caption names the given half-year,
// in either interface language ("1 полугодие", "1-жартыжылдық").
func halfLabelMatches(label string, half int) bool {
	lower := strings.ToLower(collapseSpace(label))
	h := strconv.Itoa(half)
	for _, stem := range []string{" полугод", "-полугод", " жартыжылд", "-жартыжылд"} {
		if strings.Contains(lower, h+stem) {
			return true
		}
	}
	return false
}

// parsePane extracts student rows and section maximums from a captured
// period pane. Cell values resolve through the portal's element ids first
// (ocenka/average/sor/soch/summa patterns keyed by row index and quarter);
// rows whose ids did not render fall back to positional interpretation. All
// values stay strings; typing is the normalizer's job.
func parsePane(html, paneID string, logger arbor.ILogger) ([]models.RawRow, map[int]string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Warn().Err(err).Str("pane", paneID).Msg("Period pane did not parse")
		return nil, nil
	}

	quarter := quarterFromPaneID(paneID)

	// The grade cell ids carry the authoritative quarter number; pane ids
	// occasionally disagree on half-year journals.
	var table *goquery.Selection
	if first := doc.Find(`p[id^="ocenka_"]`).First(); first.Length() > 0 {
		parts := strings.Split(first.AttrOr("id", ""), "_")
		if len(parts) >= 4 && parts[0] == "ocenka" && parts[2] == "chetvert" {
			if q, err := strconv.Atoi(parts[3]); err == nil {
				quarter = q
			}
		}
		table = first.Closest("table")
	}
	if table == nil || table.Length() == 0 {
		if tr := doc.Find("table.table tbody tr").First(); tr.Length() > 0 {
			table = tr.Closest("table")
		} else {
			table = doc.Find("form table, table.table").First()
		}
	}
	if table.Length() == 0 {
		logger.Warn().Str("pane", paneID).Msg("No student table inside period pane")
		return nil, parseSectionMax(doc)
	}

	rows := table.Find("tbody tr")
	if rows.Length() == 0 {
		rows = table.Find("tr")
	}

	var out []models.RawRow
	rows.Each(func(i int, tr *goquery.Selection) {
		if row, ok := parseStudentRow(tr, i, quarter); ok {
			out = append(out, row)
		}
	})

	return out, parseSectionMax(doc)
}

// parseStudentRow reads one table row. Header and decoration rows are
// recognized by their first cell not being a roster number.
func parseStudentRow(tr *goquery.Selection, position, quarter int) (models.RawRow, bool) {
	tds := tr.Find("td")
	if tds.Length() < 2 {
		return models.RawRow{}, false
	}

	num := collapseSpace(tds.Eq(0).Text())
	if !isDigits(num) {
		return models.RawRow{}, false
	}
	name := collapseSpace(tds.Eq(1).Text())

	// Row index comes from the grade cell id (ocenka_{row}_chetvert_{q});
	// table position is the fallback when the id pattern is absent.
	gradeCell := tr.Find(fmt.Sprintf(`p[id^="ocenka_"][id$="_chetvert_%d"]`, quarter))
	rowIdx := position
	if gradeCell.Length() > 0 {
		parts := strings.Split(gradeCell.AttrOr("id", ""), "_")
		if len(parts) >= 4 {
			if v, err := strconv.Atoi(parts[1]); err == nil {
				rowIdx = v
			}
		}
	}

	row := models.RawRow{
		Index: rowIdx,
		Num:   num,
		Name:  name,

		Grade:        textOf(gradeCell),
		Average:      textOf(tr.Find(fmt.Sprintf("p#average_%d_chetvert_%d", quarter, rowIdx))),
		FormativePct: textOf(tr.Find(fmt.Sprintf("p#average_itog_%d_chetvert_%d", quarter, rowIdx))),
		SectionPct:   textOf(tr.Find(fmt.Sprintf("p#sor_%d_chetvert_%d", rowIdx, quarter))),
		TermPct:      textOf(tr.Find(fmt.Sprintf("p#soch_%d_chetvert_%d", rowIdx, quarter))),
		TotalPct:     textOf(tr.Find(fmt.Sprintf("p#summa_%d_chetvert_%d", rowIdx, quarter))),
	}

	var cells []string
	tds.Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, collapseSpace(td.Text()))
	})
	row.Cells = cells

	fillFromCells(&row, cells)

	points := make(map[int]string)
	tr.Find(fmt.Sprintf(`input[id^="chetvert_%d_razdel_"]`, quarter)).Each(func(_ int, inp *goquery.Selection) {
		id := inp.AttrOr("id", "")
		if strings.HasSuffix(id, "_max") {
			return
		}
		parts := strings.Split(id, "_")
		if len(parts) >= 5 && parts[2] == "razdel" {
			if section, err := strconv.Atoi(parts[3]); err == nil {
				points[section] = strings.TrimSpace(inp.AttrOr("value", ""))
			}
		}
	})
	if len(points) > 0 {
		row.SectionPoints = points
	}

	return row, true
}

// fillFromCells supplies values the id lookup missed, interpreting cells
// positionally: the first decimal in the 0..20 range is the running average,
// percent cells fill formative/section/term/total in display order, and the
// grade is a lone 1..5 digit near the row's end.
func fillFromCells(row *models.RawRow, cells []string) {
	if row.Average == "" || (row.FormativePct == "" && row.SectionPct == "" && row.TermPct == "" && row.TotalPct == "") {
		for j := 2; j < len(cells); j++ {
			cell := cells[j]
			if cell == "" {
				continue
			}
			if row.Average == "" {
				if v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", "."), 64); err == nil && v >= 0 && v <= 20 {
					row.Average = cell
					continue
				}
			}
			if strings.Contains(cell, "%") {
				switch {
				case row.FormativePct == "":
					row.FormativePct = cell
				case row.SectionPct == "":
					row.SectionPct = cell
				case row.TermPct == "":
					row.TermPct = cell
				case row.TotalPct == "":
					row.TotalPct = cell
				}
			}
		}
	}

	if row.Grade == "" {
		start := len(cells) - 3
		if start < 0 {
			start = 0
		}
		for j := start; j < len(cells); j++ {
			if isDigits(cells[j]) {
				if v, err := strconv.Atoi(cells[j]); err == nil && v >= 1 && v <= 5 {
					row.Grade = cells[j]
					break
				}
			}
		}
	}
}

// parseSectionMax reads the per-section maximum points from the header
// inputs (chetvert_{q}_razdel_{k}_max). The quarter number is taken from the
// input ids themselves, which are more reliable than pane naming.
func parseSectionMax(doc *goquery.Document) map[int]string {
	inputs := doc.Find(`input[id^="chetvert_"][id*="_razdel_"][id$="_max"]`)
	if inputs.Length() == 0 {
		return nil
	}

	parts := strings.Split(inputs.First().AttrOr("id", ""), "_")
	if len(parts) < 5 || parts[0] != "chetvert" {
		return nil
	}
	quarter, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil
	}

	out := make(map[int]string)
	doc.Find(fmt.Sprintf(`input[id^="chetvert_%d_razdel_"][id$="_max"]`, quarter)).Each(func(_ int, inp *goquery.Selection) {
		p := strings.Split(inp.AttrOr("id", ""), "_")
		if len(p) >= 5 && p[2] == "razdel" {
			if section, err := strconv.Atoi(p[3]); err == nil {
				out[section] = strings.TrimSpace(inp.AttrOr("value", ""))
			}
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func quarterFromPaneID(paneID string) int {
	parts := strings.Split(paneID, "_")
	if len(parts) >= 2 {
		if q, err := strconv.Atoi(parts[1]); err == nil {
			return q
		}
	}
	return 0
}

// textOf returns the collapsed text of the selection's first node.
func textOf(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return collapseSpace(sel.First().Text())
}

// collapseSpace normalizes all runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
