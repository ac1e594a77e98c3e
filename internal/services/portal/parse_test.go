package portal

import (
	"testing"

	"github.com/ternarybob/arbor"
)

// Fixtures mirror the portal's markup: the grades table on the semester
// page and a rendered period pane with the per-cell id patterns.

const classListHTML = `
<table class="table table-hover">
  <thead><tr><th>Класс</th><th>Предмет</th><th></th></tr></thead>
  <tbody>
    <tr>
      <td>5 «В»</td>
      <td><strong>Информатика</strong><div class="text-muted">Обновленное содержание</div></td>
      <td><a class="btn btn-primary btn-sm" href="?action=semester2&amp;id=411">Критерии</a></td>
    </tr>
    <tr>
      <td>7 «А»</td>
      <td>Алгебра <div class="text-muted">Обновленное содержание</div></td>
      <td></td>
    </tr>
  </tbody>
</table>`

const paneHTML = `
<div class="tab-pane fade show active" id="chetvert_2" role="tabpanel">
  <form method="post">
    <table class="table table-bordered">
      <thead>
        <tr>
          <th>№</th><th>ФИО</th>
          <th>СОР 1 <input id="chetvert_2_razdel_1_max" value="10"></th>
          <th>СОР 2 <input id="chetvert_2_razdel_2_max" value="12"></th>
          <th>Балл</th><th>Формативно</th><th>СОР %</th><th>СОЧ %</th><th>Итог %</th><th>Оценка</th>
        </tr>
      </thead>
      <tbody>
        <tr>
          <td>1</td>
          <td>Абенова Айгерим</td>
          <td><input id="chetvert_2_razdel_1_0" value="9"></td>
          <td><input id="chetvert_2_razdel_2_0" value="11"></td>
          <td><p id="average_2_chetvert_0">4.8</p></td>
          <td><p id="average_itog_2_chetvert_0">17.2</p></td>
          <td><p id="sor_0_chetvert_2">85%</p></td>
          <td><p id="soch_0_chetvert_2">90%</p></td>
          <td><p id="summa_0_chetvert_2">88%</p></td>
          <td><p id="ocenka_0_chetvert_2">5</p></td>
        </tr>
        <tr>
          <td>2</td>
          <td>Болатов Санжар</td>
          <td><input id="chetvert_2_razdel_1_1" value=""></td>
          <td><input id="chetvert_2_razdel_2_1" value="7"></td>
          <td><p id="average_2_chetvert_1">3.1</p></td>
          <td><p id="average_itog_2_chetvert_1">12.0</p></td>
          <td><p id="sor_1_chetvert_2">64%</p></td>
          <td><p id="soch_1_chetvert_2"></p></td>
          <td><p id="summa_1_chetvert_2">61%</p></td>
          <td><p id="ocenka_1_chetvert_2">н</p></td>
        </tr>
        <tr>
          <td>3</td>
          <td>Серіков Дәулет</td>
          <td><input value="7"></td>
          <td><input value="8"></td>
          <td>4,5</td>
          <td>78%</td>
          <td>82%</td>
          <td>80%</td>
          <td>75%</td>
          <td>4</td>
        </tr>
        <tr><td>Итого</td><td>Средний балл 4.2</td></tr>
      </tbody>
    </table>
  </form>
</div>`

func TestParseClassList(t *testing.T) {
	classes, err := parseClassList(classListHTML)
	if err != nil {
		t.Fatalf("parseClassList failed: %v", err)
	}
	if len(classes) != 2 {
		t.Fatalf("Parsed %d classes, want 2", len(classes))
	}

	first := classes[0]
	if first.Label != "5 «В»" {
		t.Errorf("Label = %q", first.Label)
	}
	if first.Subject != "Информатика" {
		t.Errorf("Subject = %q, muted annotation must not leak in", first.Subject)
	}
	if first.CriteriaURL != "?action=semester2&id=411" {
		t.Errorf("CriteriaURL = %q", first.CriteriaURL)
	}
	if !first.CriteriaSet {
		t.Error("CriteriaSet should be true for a linked row")
	}

	second := classes[1]
	if second.Subject != "Алгебра" {
		t.Errorf("Fallback subject = %q, want muted text stripped", second.Subject)
	}
	if second.CriteriaURL != "" || second.CriteriaSet {
		t.Errorf("Unlinked row parsed as linked: %+v", second)
	}
}

func TestMatchClass(t *testing.T) {
	classes, err := parseClassList(classListHTML)
	if err != nil {
		t.Fatalf("parseClassList failed: %v", err)
	}

	// Operator writes 5В, portal shows 5 «В»
	if m := matchClass(classes, "5В", "Информатика"); m == nil || m.Label != "5 «В»" {
		t.Errorf("matchClass(5В, Информатика) = %+v", m)
	}
	if m := matchClass(classes, "5В", "информатика"); m == nil {
		t.Error("Subject match must be case-insensitive")
	}
	if m := matchClass(classes, "5В", ""); m == nil {
		t.Error("Empty subject must take the first class match")
	}
	if m := matchClass(classes, "5В", "Химия"); m != nil {
		t.Errorf("Wrong subject matched: %+v", m)
	}
	if m := matchClass(classes, "9Б", ""); m != nil {
		t.Errorf("Unknown class matched: %+v", m)
	}
}

func TestCanonLabel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"5 «В»", "5в"},
		{"5В", "5в"},
		{"5B", "5b"},
		{"КГУ  №1", "кгу1"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := canonLabel(tc.in); got != tc.want {
			t.Errorf("canonLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPickPeriodTab(t *testing.T) {
	quarters := []periodTab{
		{Href: "#chetvert_1", Label: "1 четверть"},
		{Href: "#chetvert_2", Label: "2 четверть"},
	}
	if tab := pickPeriodTab(quarters, 2); tab == nil || tab.Href != "#chetvert_2" {
		t.Errorf("Direct quarter pick = %+v", tab)
	}

	halves := []periodTab{
		{Href: "#chetvert_5", Label: "1-жартыжылдық"},
		{Href: "#chetvert_6", Label: "2-жартыжылдық"},
	}
	if tab := pickPeriodTab(halves, 2); tab == nil || tab.Href != "#chetvert_5" {
		t.Errorf("Period 2 on half-year journal = %+v, want first half", tab)
	}
	if tab := pickPeriodTab(halves, 4); tab == nil || tab.Href != "#chetvert_6" {
		t.Errorf("Period 4 on half-year journal = %+v, want second half", tab)
	}

	russianHalves := []periodTab{
		{Href: "#chetvert_9", Label: "1 полугодие"},
		{Href: "#chetvert_10", Label: "2 полугодие"},
	}
	if tab := pickPeriodTab(russianHalves, 3); tab == nil || tab.Href != "#chetvert_10" {
		t.Errorf("Period 3 on Russian half-year journal = %+v, want second half", tab)
	}

	byNumber := []periodTab{{Href: "#pane_x", Label: "2-тоқсан"}}
	if tab := pickPeriodTab(byNumber, 2); tab == nil || tab.Href != "#pane_x" {
		t.Errorf("Quarter number in caption = %+v", tab)
	}

	// Year digits must not count as a period number
	yearOnly := []periodTab{{Href: "#pane_y", Label: "2021-2022 оқу жылы"}}
	if tab := pickPeriodTab(yearOnly, 2); tab != nil {
		t.Errorf("Year caption matched period 2: %+v", tab)
	}

	onlyFirst := []periodTab{{Href: "#chetvert_1", Label: "1 четверть"}}
	if tab := pickPeriodTab(onlyFirst, 4); tab != nil {
		t.Errorf("Period 4 with only quarter 1 present = %+v, want nil", tab)
	}
}

func TestParsePane(t *testing.T) {
	rows, sectionMax := parsePane(paneHTML, "chetvert_2", arbor.NewLogger())
	if len(rows) != 3 {
		t.Fatalf("Parsed %d rows, want 3 (header and totals rows skipped)", len(rows))
	}

	first := rows[0]
	if first.Index != 0 || first.Num != "1" || first.Name != "Абенова Айгерим" {
		t.Errorf("Row 0 identity = %+v", first)
	}
	if first.Grade != "5" || first.Average != "4.8" || first.FormativePct != "17.2" {
		t.Errorf("Row 0 id-resolved values = %+v", first)
	}
	if first.SectionPct != "85%" || first.TermPct != "90%" || first.TotalPct != "88%" {
		t.Errorf("Row 0 percent values = %+v", first)
	}
	if len(first.SectionPoints) != 2 || first.SectionPoints[1] != "9" || first.SectionPoints[2] != "11" {
		t.Errorf("Row 0 section points = %v", first.SectionPoints)
	}

	second := rows[1]
	if second.Grade != "н" {
		t.Errorf("Row 1 grade = %q, absence marker must survive untyped", second.Grade)
	}
	if second.SectionPoints[2] != "7" {
		t.Errorf("Row 1 section points = %v", second.SectionPoints)
	}

	// Row without cell ids resolves positionally
	third := rows[2]
	if third.Index != 2 {
		t.Errorf("Row 2 index = %d, want table position", third.Index)
	}
	if third.Average != "4,5" {
		t.Errorf("Row 2 average = %q, want first decimal cell kept raw", third.Average)
	}
	if third.FormativePct != "78%" || third.SectionPct != "82%" || third.TermPct != "80%" || third.TotalPct != "75%" {
		t.Errorf("Row 2 percent order = %+v", third)
	}
	if third.Grade != "4" {
		t.Errorf("Row 2 grade = %q, want digit from trailing cells", third.Grade)
	}
	if len(third.Cells) != 10 || third.Cells[4] != "4,5" {
		t.Errorf("Row 2 raw cells = %v", third.Cells)
	}

	if len(sectionMax) != 2 || sectionMax[1] != "10" || sectionMax[2] != "12" {
		t.Errorf("Section maximums = %v", sectionMax)
	}
}

func TestParsePaneQuarterFromGradeIDs(t *testing.T) {
	// Half-year journals reuse pane ids; the grade cell ids carry the real
	// quarter number.
	html := `
<div class="tab-pane" id="chetvert_2">
  <table class="table">
    <tbody>
      <tr>
        <td>1</td><td>Абенова Айгерим</td>
        <td><p id="average_3_chetvert_0">4.2</p></td>
        <td><p id="sor_0_chetvert_3">70%</p></td>
        <td><p id="ocenka_0_chetvert_3">4</p></td>
      </tr>
    </tbody>
  </table>
</div>`

	rows, _ := parsePane(html, "chetvert_2", arbor.NewLogger())
	if len(rows) != 1 {
		t.Fatalf("Parsed %d rows, want 1", len(rows))
	}
	if rows[0].Grade != "4" || rows[0].Average != "4.2" || rows[0].SectionPct != "70%" {
		t.Errorf("Quarter override failed: %+v", rows[0])
	}
}

func TestParsePaneUnrecognized(t *testing.T) {
	rows, sectionMax := parsePane(`<div id="chetvert_2"><p>Нет данных</p></div>`, "chetvert_2", arbor.NewLogger())
	if len(rows) != 0 {
		t.Errorf("Rows from empty pane = %v", rows)
	}
	if sectionMax != nil {
		t.Errorf("Section maximums from empty pane = %v", sectionMax)
	}
}

func TestResolveHref(t *testing.T) {
	got := resolveHref("https://mektep.edu.kz/office/?action=semester", "?action=semester2&id=411")
	if got != "https://mektep.edu.kz/office/?action=semester2&id=411" {
		t.Errorf("resolveHref = %q", got)
	}

	got = resolveHref("https://mektep.edu.kz/office/?action=semester", "/office/?action=semester2&id=9")
	if got != "https://mektep.edu.kz/office/?action=semester2&id=9" {
		t.Errorf("resolveHref absolute path = %q", got)
	}
}
