package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// The assessment sheet layout mirrors the school office's blank: a header
// block above the anchor row, a 32-student roster window, per-grade flag
// columns F..I, name breakdown columns L..N, a count summary two rows below
// the window and quality/success percentages beside the first student.
const rosterWindow = 32

// Default page captions, overridable per locale through the manifest labels.
const (
	labelFormative = "formative"
	labelSection   = "section"
	labelTerm      = "term"
	labelGrades    = "grades"

	labelHeaderNum     = "header_num"
	labelHeaderName    = "header_name"
	labelHeaderGrade   = "header_grade"
	labelHeaderPercent = "header_percent"
	labelQuality       = "quality"
	labelSuccess       = "success"
	labelMax           = "max"
)

var defaultLabels = map[string]string{
	labelFormative: "Формативное оценивание",
	labelSection:   "СОр %d",
	labelTerm:      "СОч",
	labelGrades:    "Оценки",

	labelHeaderNum:     "№",
	labelHeaderName:    "ФИО",
	labelHeaderGrade:   "Оценка",
	labelHeaderPercent: "%",
	labelQuality:       "кач-ва",
	labelSuccess:       "успев",
	labelMax:           "Макс",
}

type pageKind int

const (
	pagePoints pageKind = iota
	pageGrades
)

// page is one output sheet: a points page carries a raw score per student
// and the maximum it is graded against, the grades page carries the term
// grade itself.
type page struct {
	title  string
	kind   pageKind
	max    float64
	points []scoreCell
}

type scoreCell struct {
	value float64
	set   bool
}

// buildSpreadsheet renders the workbook: one sheet per assessment present in
// the records, each cloned from the template sheet, which is removed from
// the output.
func buildSpreadsheet(tpl *Template, variant Variant, input interfaces.SynthesisInput, outPath string, generated time.Time) error {
	f, err := excelize.OpenFile(variant.Path())
	if err != nil {
		return models.WrapScrapeError(models.ErrKindTemplate, err,
			"open %s variant of template %q", input.Locale, tpl.ID)
	}
	defer f.Close()

	templateIdx, err := f.GetSheetIndex(tpl.Region.Sheet)
	if err != nil || templateIdx < 0 {
		return models.NewScrapeError(models.ErrKindTemplate,
			"template %q sheet %q disappeared from %s", tpl.ID, tpl.Region.Sheet, variant.File)
	}

	pages := planPages(input, variant)
	for _, pg := range pages {
		idx, err := f.NewSheet(pg.title)
		if err != nil {
			return models.WrapScrapeError(models.ErrKindTemplate, err, "add sheet %q", pg.title)
		}
		if err := f.CopySheet(templateIdx, idx); err != nil {
			return models.WrapScrapeError(models.ErrKindTemplate, err, "clone template sheet into %q", pg.title)
		}
		if err := fillPage(f, tpl, variant, input, pg, generated); err != nil {
			return err
		}
	}

	if err := f.DeleteSheet(tpl.Region.Sheet); err != nil {
		return models.WrapScrapeError(models.ErrKindTemplate, err, "drop template sheet %q", tpl.Region.Sheet)
	}
	if idx, err := f.GetSheetIndex(pages[0].title); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	stamp := generated.Format(time.RFC3339)
	if err := f.SetDocProps(&excelize.DocProperties{Created: stamp, Modified: stamp}); err != nil {
		return models.WrapScrapeError(models.ErrKindTemplate, err, "stamp workbook properties")
	}

	if err := f.SaveAs(outPath); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// planPages decides which sheets the workbook gets: formative averages when
// any student has one, one section page per assessed section, a term page
// for the term assessment, and the grades roster whenever any row carries a
// grade value. An all-empty extraction still yields the grades page so the
// artifact is never a bare template.
func planPages(input interfaces.SynthesisInput, variant Variant) []page {
	var pages []page

	formative := pointsFor(input.Grades, func(rec models.GradeRecord) (float64, bool) {
		return rec.Average, rec.Average != 0
	})
	if anySet(formative) {
		pages = append(pages, page{
			title:  variant.Label(labelFormative, defaultLabels[labelFormative]),
			kind:   pagePoints,
			max:    10,
			points: formative,
		})
	}

	for _, section := range sectionNumbers(input.Grades) {
		pages = append(pages, page{
			title:  fmt.Sprintf(variant.Label(labelSection, defaultLabels[labelSection]), section),
			kind:   pagePoints,
			max:    sectionMax(input.Grades, section),
			points: sectionPoints(input.Grades, section),
		})
	}

	term := sectionPoints(input.Grades, 0)
	if anySet(term) {
		pages = append(pages, page{
			title:  variant.Label(labelTerm, defaultLabels[labelTerm]),
			kind:   pagePoints,
			max:    sectionMax(input.Grades, 0),
			points: term,
		})
	}

	hasGrades := false
	for _, rec := range input.Grades {
		if rec.Value.Kind != models.ValueEmpty {
			hasGrades = true
			break
		}
	}
	if hasGrades || len(pages) == 0 {
		pages = append(pages, page{
			title: variant.Label(labelGrades, defaultLabels[labelGrades]),
			kind:  pageGrades,
		})
	}
	return pages
}

func pointsFor(records []models.GradeRecord, pick func(models.GradeRecord) (float64, bool)) []scoreCell {
	cells := make([]scoreCell, len(records))
	for i, rec := range records {
		v, ok := pick(rec)
		cells[i] = scoreCell{value: v, set: ok}
	}
	return cells
}

func anySet(cells []scoreCell) bool {
	for _, c := range cells {
		if c.set {
			return true
		}
	}
	return false
}

func sectionNumbers(records []models.GradeRecord) []int {
	seen := map[int]bool{}
	for _, rec := range records {
		for _, s := range rec.Sections {
			if s.Section > 0 {
				seen[s.Section] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func sectionPoints(records []models.GradeRecord, section int) []scoreCell {
	return pointsFor(records, func(rec models.GradeRecord) (float64, bool) {
		for _, s := range rec.Sections {
			if s.Section == section {
				return s.Points, true
			}
		}
		return 0, false
	})
}

func sectionMax(records []models.GradeRecord, section int) float64 {
	for _, rec := range records {
		for _, s := range rec.Sections {
			if s.Section == section && s.Max > 0 {
				return s.Max
			}
		}
	}
	return 0
}

// sheetWriter batches cell writes and keeps the first error, so fill code
// reads as the layout it produces instead of a ladder of error checks.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) set(cell string, value interface{}) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellValue(w.sheet, cell, value)
}

func (w *sheetWriter) setRow(col string, row int, value interface{}) {
	w.set(fmt.Sprintf("%s%d", col, row), value)
}

func fillPage(f *excelize.File, tpl *Template, variant Variant, input interfaces.SynthesisInput, pg page, generated time.Time) error {
	w := &sheetWriter{f: f, sheet: pg.title}
	anchor := tpl.Region.Row
	lastRow := anchor + rosterWindow - 1

	// Scalars write in name order: shared strings land in the workbook in
	// first-use order, and identical inputs must produce identical bytes.
	names := make([]string, 0, len(tpl.Scalars))
	for name := range tpl.Scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cell := tpl.Scalars[name]
		if name == "TITLE" {
			w.set(cell, pg.title)
			continue
		}
		if v, ok := resolveScalar(name, input, generated); ok {
			w.set(cell, v)
		}
	}

	var counts gradeCounts
	switch pg.kind {
	case pagePoints:
		if pg.max > 0 {
			w.setRow("D", anchor-1, variant.Label(labelMax, defaultLabels[labelMax]))
		}
		for i, rec := range input.Grades {
			row := anchor + i
			if row > lastRow {
				break
			}
			w.setRow("B", row, flaggedName(rec))
			if pg.max > 0 {
				w.setRow("D", row, trimFloat(pg.max))
			}
			if !pg.points[i].set {
				blankCells(w, row, "C", "E")
				fillGradeColumns(w, row, 0, false)
				fillNameColumns(w, row, "", 0)
				continue
			}
			points := pg.points[i].value
			w.setRow("C", row, trimFloat(points))
			percent := 0.0
			if pg.max > 0 {
				percent = points / pg.max * 100
			}
			w.setRow("E", row, round2(percent))
			grade := gradeFromPercent(percent)
			fillGradeColumns(w, row, grade, true)
			counts.add(grade)
			fillNameColumns(w, row, rec.StudentName, grade)
		}

	case pageGrades:
		writeGradesHeader(w, variant, anchor-1)
		for i, rec := range input.Grades {
			row := anchor + i
			if row > lastRow {
				break
			}
			num := rec.StudentNum
			if num == 0 {
				num = i + 1
			}
			w.setRow("A", row, num)
			w.setRow("B", row, flaggedName(rec))
			w.setRow("C", row, displayValue(rec.Value))
			w.setRow("E", row, "")
			if rec.TotalPct != 0 {
				w.setRow("D", row, round2(rec.TotalPct))
			} else {
				w.setRow("D", row, "")
			}
			if rec.Value.Kind != models.ValueNumeric {
				fillGradeColumns(w, row, 0, false)
				fillNameColumns(w, row, "", 0)
				continue
			}
			fillGradeColumns(w, row, rec.Value.Numeric, true)
			counts.add(rec.Value.Numeric)
			fillNameColumns(w, row, rec.StudentName, rec.Value.Numeric)
		}
	}

	for row := anchor + len(input.Grades); row <= lastRow; row++ {
		blankCells(w, row, "A", "B", "C", "D", "E", "F", "G", "H", "I", "L", "M", "N")
	}

	w.setRow("F", lastRow+2, counts.fives)
	w.setRow("G", lastRow+3, counts.fours)
	w.setRow("H", lastRow+4, counts.threes)
	w.setRow("I", lastRow+5, counts.twos)
	w.setRow("J", anchor, round2(counts.quality()))
	w.setRow("K", anchor, round2(counts.success()))

	if w.err != nil {
		return models.WrapScrapeError(models.ErrKindTemplate, w.err, "fill sheet %q", pg.title)
	}
	return nil
}

func blankCells(w *sheetWriter, row int, cols ...string) {
	for _, col := range cols {
		w.setRow(col, row, "")
	}
}

func writeGradesHeader(w *sheetWriter, variant Variant, row int) {
	w.setRow("A", row, variant.Label(labelHeaderNum, defaultLabels[labelHeaderNum]))
	w.setRow("B", row, variant.Label(labelHeaderName, defaultLabels[labelHeaderName]))
	w.setRow("C", row, variant.Label(labelHeaderGrade, defaultLabels[labelHeaderGrade]))
	w.setRow("D", row, variant.Label(labelHeaderPercent, defaultLabels[labelHeaderPercent]))
	w.setRow("J", row, variant.Label(labelQuality, defaultLabels[labelQuality]))
	w.setRow("K", row, variant.Label(labelSuccess, defaultLabels[labelSuccess]))
	for _, col := range []string{"E", "F", "G", "H", "I", "L", "M", "N"} {
		w.setRow(col, row, "")
	}
}

// fillGradeColumns sets the per-grade flag cells: F marks a five, G a four,
// H a three, I a two.
func fillGradeColumns(w *sheetWriter, row, grade int, set bool) {
	for _, c := range []struct {
		col   string
		grade int
	}{{"F", 5}, {"G", 4}, {"H", 3}, {"I", 2}} {
		switch {
		case !set:
			w.setRow(c.col, row, "")
		case c.grade == grade:
			w.setRow(c.col, row, 1)
		default:
			w.setRow(c.col, row, 0)
		}
	}
}

// fillNameColumns repeats the student name in the achievement band column:
// L for fives, M for fours, N for threes and below.
func fillNameColumns(w *sheetWriter, row int, name string, grade int) {
	for _, c := range []struct {
		col string
		hit bool
	}{{"L", grade == 5}, {"M", grade == 4}, {"N", grade <= 3}} {
		if c.hit {
			w.setRow(c.col, row, name)
		} else {
			w.setRow(c.col, row, "")
		}
	}
}

type gradeCounts struct {
	twos, threes, fours, fives int
}

func (c *gradeCounts) add(grade int) {
	switch grade {
	case 2:
		c.twos++
	case 3:
		c.threes++
	case 4:
		c.fours++
	case 5:
		c.fives++
	}
}

func (c *gradeCounts) total() int {
	return c.twos + c.threes + c.fours + c.fives
}

// quality is the share of fours and fives, success the share of everything
// above a two.
func (c *gradeCounts) quality() float64 {
	if c.total() == 0 {
		return 0
	}
	return float64(c.fours+c.fives) / float64(c.total()) * 100
}

func (c *gradeCounts) success() float64 {
	if c.total() == 0 {
		return 0
	}
	return float64(c.threes+c.fours+c.fives) / float64(c.total()) * 100
}

// gradeFromPercent maps an assessment percentage onto the five-point scale
// the journal uses.
func gradeFromPercent(p float64) int {
	switch {
	case p >= 85:
		return 5
	case p >= 65:
		return 4
	case p >= 40:
		return 3
	default:
		return 2
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func trimFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
