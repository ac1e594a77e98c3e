// -----------------------------------------------------------------------
// Extraction output - raw scraped rows and the typed records they become
// -----------------------------------------------------------------------

package models

import "time"

// PortalClass is one row of the portal's class list: the class label, the
// subject taught, and the link into its assessment pages. CriteriaSet is
// false when the portal shows the "assessment data not set" warning, in
// which case the class is skipped rather than scraped.
type PortalClass struct {
	Label       string `json:"label"`
	Subject     string `json:"subject"`
	CriteriaURL string `json:"criteria_url"`
	CriteriaSet bool   `json:"criteria_set"`
}

// RawRow is one student row exactly as scraped: the ordered cell texts plus
// the values resolved through the portal's per-cell element ids. Everything
// is still a string; typing is the normalizer's job.
type RawRow struct {
	// Index is the source row position, preserved through normalization so
	// output keeps roster order.
	Index int `json:"index"`

	Num  string `json:"num"`  // roster number cell
	Name string `json:"name"` // student full name cell

	Grade        string `json:"grade"`         // period grade cell
	Average      string `json:"average"`       // running average
	FormativePct string `json:"formative_pct"` // formative assessment percent
	SectionPct   string `json:"section_pct"`   // section assessments percent
	TermPct      string `json:"term_pct"`      // term assessment percent
	TotalPct     string `json:"total_pct"`     // overall percent

	// SectionPoints maps section number to the scored points, from the
	// per-section inputs. Sections vary per subject and period.
	SectionPoints map[int]string `json:"section_points,omitempty"`

	// Cells keeps every cell text in order for rows whose ids did not
	// resolve; the normalizer falls back to positional interpretation.
	Cells []string `json:"cells,omitempty"`
}

// ExtractionResult is what one portal run hands to the normalizer: the page
// context discovered along the way plus the rows of the period table.
// Transient; never persisted.
type ExtractionResult struct {
	OrgName     string `json:"org_name"`
	ClassLabel  string `json:"class_label"`
	Subject     string `json:"subject"`
	Teacher     string `json:"teacher,omitempty"`
	Period      int    `json:"period"`
	PeriodLabel string `json:"period_label"` // tab caption as shown, e.g. "2 четверть" or "1 полугодие"

	Rows []RawRow `json:"rows"`

	// SectionMax maps section number to maximum points, from the table
	// header inputs.
	SectionMax map[int]string `json:"section_max,omitempty"`

	CapturedAt time.Time `json:"captured_at"`
}

// ValueKind distinguishes what a scraped grade cell held.
type ValueKind string

const (
	ValueNumeric ValueKind = "numeric"
	ValueAbsence ValueKind = "absence"
	ValueEmpty   ValueKind = "empty"
	ValueUnknown ValueKind = "unknown"
)

// GradeValue is the typed content of a grade cell. Raw always keeps the
// original text so nothing is lost when a cell fails to type.
type GradeValue struct {
	Kind    ValueKind `json:"kind"`
	Numeric int       `json:"numeric,omitempty"` // 2..5 when Kind is ValueNumeric
	Raw     string    `json:"raw"`
}

// SectionScore is one section assessment: points scored against the section
// maximum from the table header.
type SectionScore struct {
	Section int     `json:"section"`
	Points  float64 `json:"points"`
	Max     float64 `json:"max,omitempty"`
}

// GradeRecord is the canonical typed form of one student's period result.
// Immutable once produced. Records with untypeable or out-of-range values
// keep their raw text and carry Complete=false instead of being dropped.
type GradeRecord struct {
	Index       int    `json:"index"` // roster position
	StudentNum  int    `json:"student_num"`
	StudentName string `json:"student_name"`
	ClassLabel  string `json:"class_label"`
	Subject     string `json:"subject"`
	Period      int    `json:"period"`

	Value GradeValue `json:"value"`

	Average      float64        `json:"average,omitempty"`
	FormativePct float64        `json:"formative_pct,omitempty"`
	SectionPct   float64        `json:"section_pct,omitempty"`
	TermPct      float64        `json:"term_pct,omitempty"`
	TotalPct     float64        `json:"total_pct,omitempty"`
	Sections     []SectionScore `json:"sections,omitempty"`

	Complete bool `json:"complete"`
}

// NormalizeReport summarizes what normalization did with a result set. The
// worker logs it; an Incomplete count above zero also lands in the job log
// as a partial-data event.
type NormalizeReport struct {
	TotalRows    int      `json:"total_rows"`
	GradeRecords int      `json:"grade_records"`
	Attendance   int      `json:"attendance"`
	Incomplete   int      `json:"incomplete"`
	Collapsed    int      `json:"collapsed"`         // duplicate student rows collapsed
	Dropped      []string `json:"dropped,omitempty"` // rows without a resolvable student
}

// AttendanceRecord is produced when a grade cell carried an absence marker
// instead of a score.
type AttendanceRecord struct {
	Index       int    `json:"index"`
	StudentNum  int    `json:"student_num"`
	StudentName string `json:"student_name"`
	ClassLabel  string `json:"class_label"`
	Subject     string `json:"subject"`
	Period      int    `json:"period"`

	// Marker is the canonical absence token; Raw keeps the cell text.
	Marker string `json:"marker"`
	Raw    string `json:"raw"`
}
