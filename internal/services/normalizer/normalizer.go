// Package normalizer turns raw scraped rows into typed grade and attendance
// records using Kazakh/Russian token tables. It is pure: no I/O, no logging;
// the worker decides what to do with the returned report.
package normalizer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ed-baer97/mektab/internal/models"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// outcome is one student's normalized row. Duplicate rows for the same
// student overwrite the outcome in place, so roster order is the order of
// first appearance and the value is the last one seen.
type outcome struct {
	grade      models.GradeRecord
	attendance *models.AttendanceRecord
	incomplete bool
}

// Normalize converts an extraction into typed records. Every kept row yields
// a GradeRecord; rows whose grade cell carried an absence marker additionally
// yield an AttendanceRecord. Rows without a student name are dropped,
// duplicates collapse keeping the last-seen value, and untypeable cells mark
// the record incomplete instead of failing anything.
func (s *Service) Normalize(result *models.ExtractionResult) ([]models.GradeRecord, []models.AttendanceRecord, *models.NormalizeReport) {
	report := &models.NormalizeReport{TotalRows: len(result.Rows)}

	classLabel := CanonicalClassLabel(result.ClassLabel)
	period := result.Period
	if period == 0 {
		if p, ok := CanonicalPeriod(result.PeriodLabel); ok {
			period = p
		}
	}

	var outcomes []outcome
	slots := make(map[string]int)

	for _, row := range result.Rows {
		name := strings.Join(strings.Fields(row.Name), " ")
		if name == "" {
			report.Dropped = append(report.Dropped,
				fmt.Sprintf("row %d has no student name", row.Index))
			continue
		}

		out := normalizeRow(row, result, name, classLabel, period)

		key := studentKey(out.grade.StudentNum, name)
		if idx, seen := slots[key]; seen {
			outcomes[idx] = out
			report.Collapsed++
			continue
		}
		slots[key] = len(outcomes)
		outcomes = append(outcomes, out)
	}

	grades := make([]models.GradeRecord, 0, len(outcomes))
	var attendance []models.AttendanceRecord
	for _, out := range outcomes {
		grades = append(grades, out.grade)
		if out.attendance != nil {
			attendance = append(attendance, *out.attendance)
		}
		if out.incomplete {
			report.Incomplete++
		}
	}

	report.GradeRecords = len(grades)
	report.Attendance = len(attendance)
	return grades, attendance, report
}

func normalizeRow(row models.RawRow, result *models.ExtractionResult, name, classLabel string, period int) outcome {
	rec := models.GradeRecord{
		Index:       row.Index,
		StudentNum:  atoi(row.Num),
		StudentName: name,
		ClassLabel:  classLabel,
		Subject:     result.Subject,
		Period:      period,
	}

	value, typed := typeGrade(row.Grade)
	rec.Value = value
	incomplete := !typed

	rec.Average, incomplete = scoreInto(row.Average, incomplete)
	rec.FormativePct, incomplete = scoreInto(row.FormativePct, incomplete)
	rec.SectionPct, incomplete = scoreInto(row.SectionPct, incomplete)
	rec.TermPct, incomplete = scoreInto(row.TermPct, incomplete)
	rec.TotalPct, incomplete = scoreInto(row.TotalPct, incomplete)

	rec.Sections, incomplete = sectionScores(row.SectionPoints, result.SectionMax, incomplete)
	rec.Complete = !incomplete

	out := outcome{grade: rec, incomplete: incomplete}

	if value.Kind == models.ValueAbsence {
		marker, _ := CanonicalAbsence(row.Grade)
		out.attendance = &models.AttendanceRecord{
			Index:       row.Index,
			StudentNum:  rec.StudentNum,
			StudentName: name,
			ClassLabel:  classLabel,
			Subject:     result.Subject,
			Period:      period,
			Marker:      marker,
			Raw:         strings.TrimSpace(row.Grade),
		}
	}
	return out
}

// typeGrade types a grade cell. The bool is false when the cell held
// something no table recognizes, including numerics outside the 2..5 scale.
func typeGrade(raw string) (models.GradeValue, bool) {
	token := canonToken(raw)
	if token == "" {
		return models.GradeValue{Kind: models.ValueEmpty, Raw: raw}, true
	}
	if _, ok := absenceMarkers[token]; ok {
		return models.GradeValue{Kind: models.ValueAbsence, Raw: raw}, true
	}
	if isDigits(token) {
		n, _ := strconv.Atoi(token)
		if n >= 2 && n <= 5 {
			return models.GradeValue{Kind: models.ValueNumeric, Numeric: n, Raw: raw}, true
		}
		return models.GradeValue{Kind: models.ValueUnknown, Raw: raw}, false
	}
	if n, ok := wordGrade(token); ok {
		return models.GradeValue{Kind: models.ValueNumeric, Numeric: n, Raw: raw}, true
	}
	return models.GradeValue{Kind: models.ValueUnknown, Raw: raw}, false
}

// scoreValue parses a percent or point cell: percent signs stripped, decimal
// comma accepted. Empty cells are zero and fine; non-empty garbage is not.
func scoreValue(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, true
	}
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func scoreInto(raw string, incomplete bool) (float64, bool) {
	v, ok := scoreValue(raw)
	return v, incomplete || !ok
}

// sectionScores pairs scored section points with the header maxima, sorted
// by section number.
func sectionScores(points map[int]string, max map[int]string, incomplete bool) ([]models.SectionScore, bool) {
	if len(points) == 0 {
		return nil, incomplete
	}

	sections := make([]int, 0, len(points))
	for sec := range points {
		sections = append(sections, sec)
	}
	sort.Ints(sections)

	scores := make([]models.SectionScore, 0, len(sections))
	for _, sec := range sections {
		pts, ok := scoreValue(points[sec])
		if !ok {
			incomplete = true
			continue
		}
		score := models.SectionScore{Section: sec, Points: pts}
		if raw, exists := max[sec]; exists {
			if m, ok := scoreValue(raw); ok {
				score.Max = m
			}
		}
		scores = append(scores, score)
	}
	return scores, incomplete
}

func studentKey(num int, name string) string {
	if num > 0 {
		return "#" + strconv.Itoa(num)
	}
	return strings.ToLower(name)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
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
