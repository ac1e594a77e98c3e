package normalizer

import (
	"regexp"
	"strconv"
	"strings"
)

// Absence markers as teachers type them, in both portal languages, mapped to
// their canonical single token: н (absent, ru), қ (absent, kk), б (sick).
var absenceMarkers = map[string]string{
	"н":      "н",
	"нб":     "н",
	"н/б":    "н",
	"қ":      "қ",
	"қб":     "қ",
	"б":      "б",
	"болел":  "б",
	"ауырды": "б",
}

// Word-form grade equivalents of the 2..5 scale. Ordered because the Kazakh
// unsatisfactory form starts with the satisfactory one.
var gradeWords = []struct {
	prefix string
	value  int
}{
	{"қанағаттанарлықсыз", 2},
	{"неуд", 2},
	{"қанағат", 3},
	{"уд", 3},
	{"жақсы", 4},
	{"хор", 4},
	{"өте", 5},
	{"отл", 5},
}

// School months mapped to the quarter they fall in. Checked before the
// quarter words: желтоқсан (December) contains тоқсан (quarter).
var monthPeriods = []struct {
	stem   string
	period int
}{
	{"қыркүйек", 1},
	{"сентябр", 1},
	{"қазан", 1},
	{"октябр", 1},
	{"қараша", 2},
	{"ноябр", 2},
	{"желтоқсан", 2},
	{"декабр", 2},
	{"қаңтар", 3},
	{"январ", 3},
	{"ақпан", 3},
	{"феврал", 3},
	{"наурыз", 3},
	{"март", 3},
	{"сәуір", 4},
	{"апрел", 4},
	{"мамыр", 4},
	{"май", 4},
}

// classLiterPattern pulls the grade number and the class letter out of
// labels like «5 «В»» or "10 А". The letter class covers Latin, Russian and
// the Kazakh-specific Cyrillic letters.
var classLiterPattern = regexp.MustCompile(`(\d+)\s*([A-Za-zА-ЯЁӘҒҚҢӨҰҮҺа-яёәғқңөұүһ])?`)

// canonToken lowercases, collapses whitespace and strips surrounding dots so
// "Н." and " нб " compare equal to their table forms.
func canonToken(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ". ")
	return strings.ToLower(s)
}

// CanonicalAbsence reports whether the cell text is an absence marker and
// returns its canonical token.
func CanonicalAbsence(raw string) (string, bool) {
	marker, ok := absenceMarkers[canonToken(raw)]
	return marker, ok
}

// wordGrade resolves word-form grades ("отлично", "жақсы") to the numeric
// scale.
func wordGrade(token string) (int, bool) {
	for _, w := range gradeWords {
		if strings.HasPrefix(token, w.prefix) {
			return w.value, true
		}
	}
	return 0, false
}

// CanonicalClassLabel reduces a portal class label to its short form:
// «5 «В»» becomes 5В, "10 а" becomes 10А. Labels without a grade number come
// back trimmed but otherwise untouched.
func CanonicalClassLabel(label string) string {
	s := strings.NewReplacer("«", " ", "»", " ").Replace(label)
	s = strings.TrimSpace(s)
	m := classLiterPattern.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return strings.TrimSpace(label)
	}
	if m[2] == "" {
		return m[1]
	}
	return m[1] + strings.ToUpper(m[2])
}

// CanonicalPeriod maps a period caption in either language to the canonical
// period number: quarters keep their number, half-years map to the quarter
// that closes them (1st half -> 2, 2nd half -> 4), month names map to the
// quarter they belong to.
func CanonicalPeriod(label string) (int, bool) {
	token := strings.ToLower(strings.Join(strings.Fields(label), " "))
	if token == "" {
		return 0, false
	}

	for _, m := range monthPeriods {
		if strings.Contains(token, m.stem) {
			return m.period, true
		}
	}

	num := 0
	for _, field := range strings.Fields(token) {
		if n := leadingInt(field); n > 0 {
			num = n
			break
		}
	}

	switch {
	case strings.Contains(token, "полугод") || strings.Contains(token, "жартыжылд"):
		if num == 1 {
			return 2, true
		}
		if num == 2 {
			return 4, true
		}
	case strings.Contains(token, "четверть") || strings.Contains(token, "тоқсан"):
		if num >= 1 && num <= 4 {
			return num, true
		}
	}
	return 0, false
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}
