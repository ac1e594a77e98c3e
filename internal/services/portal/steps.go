package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ed-baer97/mektab/internal/models"
)

// Selectors from the production portal layout. The grades section lives
// under /office/?action=semester; each class row links into its assessment
// journal via action=semester2.
const (
	langButton     = `div.topline .btn-group button.btn.btn-default.dropdown-toggle`
	orgNameHeader  = `.topline .orgname strong`
	profileName    = `nav .profile p`
	gradesNavLink  = `a.nav-link[href="/office/?action=semester"]`
	gradesPath     = "/office/?action=semester"
	classListTable = `table.table.table-hover`
	periodTabList  = `ul#pills-tab`
	criteriaAlert  = `div.alert.alert-warning`
)

// portalLanguages maps job locales onto the portal's language switcher: the
// label shown on the dropdown button and the query fragment its items carry.
var portalLanguages = map[string]struct{ label, query string }{
	"ru": {"Русский", "language=rus"},
	"kk": {"Қазақша", "language=kaz"},
}

// stepEnsureLanguage switches the portal interface to the job's locale so
// period captions, subject names, and the criteria journal render in the
// language the report templates expect. The header context (organization
// and teacher name) is read afterwards, localized the same way.
func (s *Service) stepEnsureLanguage(ctx context.Context, ex *execution) error {
	lang, ok := portalLanguages[ex.job.Spec.Locale]
	if !ok {
		lang = portalLanguages["ru"]
	}

	current, err := ex.browser.Text(ctx, langButton)
	if err != nil || !strings.Contains(current, lang.label) {
		if err := s.switchLanguage(ctx, ex, lang); err != nil {
			return err
		}
	}

	if name, err := ex.browser.Text(ctx, orgNameHeader); err == nil {
		ex.result.OrgName = collapseSpace(name)
	} else {
		ex.logger.Warn().Err(err).Msg("Organization name not readable from header")
	}
	if name, err := ex.browser.Text(ctx, profileName); err == nil {
		ex.result.Teacher = collapseSpace(name)
	} else {
		ex.logger.Warn().Err(err).Msg("Teacher name not readable from profile")
	}
	return nil
}

// switchLanguage clicks through the desktop dropdown, falling back to the
// mobile layout's plain links. Either path reloads the page; waiting for the
// header marker lets it settle.
func (s *Service) switchLanguage(ctx context.Context, ex *execution, lang struct{ label, query string }) error {
	ex.logger.Debug().Str("language", lang.label).Msg("Switching portal language")

	item := fmt.Sprintf(`div.topline .dropdown-menu a.dropdown-item[href*="%s"]`, lang.query)
	if err := ex.browser.Click(ctx, langButton); err == nil {
		if err := ex.browser.Click(ctx, item); err == nil {
			return ex.browser.WaitVisible(ctx, orgNameHeader, s.config.Portal.StepTimeout)
		}
	}

	mobile := fmt.Sprintf(`div.mobile_lang a[href*="%s"]`, lang.query)
	if err := ex.browser.Click(ctx, mobile); err != nil {
		return fmt.Errorf("switch portal language to %s: %w", lang.label, err)
	}
	return ex.browser.WaitVisible(ctx, orgNameHeader, s.config.Portal.StepTimeout)
}

// stepOpenGrades opens the grades section via the nav link, navigating
// directly when the link is not clickable (mobile layout collapses the nav).
func (s *Service) stepOpenGrades(ctx context.Context, ex *execution) error {
	if err := ex.browser.Click(ctx, gradesNavLink); err != nil {
		direct := strings.TrimRight(s.config.Portal.BaseURL, "/") + gradesPath
		ex.logger.Debug().Str("url", direct).Msg("Grades nav link not clickable, navigating directly")
		if err := ex.browser.Navigate(ctx, direct); err != nil {
			return err
		}
	}
	return ex.browser.WaitVisible(ctx, classListTable, s.config.Portal.StepTimeout)
}

// stepLocateClass parses the class list and finds the row matching the job's
// class and subject. A matched class without a journal link is skipped the
// same way as one whose criteria were never configured.
func (s *Service) stepLocateClass(ctx context.Context, ex *execution) error {
	html, err := ex.browser.OuterHTML(ctx, classListTable)
	if err != nil {
		return err
	}

	classes, err := parseClassList(html)
	if err != nil {
		return models.WrapScrapeError(models.ErrKindLayoutChanged, err, "grades table did not parse")
	}
	if len(classes) == 0 {
		return models.NewScrapeError(models.ErrKindLayoutChanged, "grades table has no class rows")
	}

	match := matchClass(classes, ex.job.Spec.ClassID, ex.job.Spec.Subject)
	if match == nil {
		labels := make([]string, 0, len(classes))
		for _, c := range classes {
			labels = append(labels, c.Label+" / "+c.Subject)
		}
		ex.logger.Warn().
			Str("class", ex.job.Spec.ClassID).
			Str("subject", ex.job.Spec.Subject).
			Strs("available", labels).
			Msg("Requested class not present in the grades table")
		return models.NewScrapeError(models.ErrKindLayoutChanged,
			"class %q is not in the grades table (%d rows listed)", ex.job.Spec.ClassID, len(classes))
	}
	if match.CriteriaURL == "" {
		ex.logger.Info().Str("class", match.Label).Msg("Class row has no journal link")
		return models.ErrNoCriteria
	}

	ex.class = *match
	ex.result.ClassLabel = match.Label
	ex.result.Subject = match.Subject
	return nil
}

// stepOpenJournal follows the class row's criteria link. A journal page
// either shows the period tab strip or the "assessment data not set"
// warning; the warning means the class is skipped, not failed.
func (s *Service) stepOpenJournal(ctx context.Context, ex *execution) error {
	href := ex.class.CriteriaURL
	if err := ex.browser.Click(ctx, fmt.Sprintf(`a[href="%s"]`, href)); err != nil {
		loc, lerr := ex.browser.Location(ctx)
		if lerr != nil || loc == "" {
			loc = strings.TrimRight(s.config.Portal.BaseURL, "/") + gradesPath
		}
		if err := ex.browser.Navigate(ctx, resolveHref(loc, href)); err != nil {
			return err
		}
	}

	if err := ex.browser.WaitVisible(ctx, periodTabList, s.config.Portal.StepTimeout); err != nil {
		if s.criteriaMissing(ctx, ex) {
			return models.ErrNoCriteria
		}
		return err
	}
	return nil
}

// criteriaMissing inspects the journal page for the warning alert shown when
// a class has no assessment data configured. The known Russian marker text
// is matched directly; any warning alert on a page without period tabs is
// treated the same, which also covers the Kazakh interface.
func (s *Service) criteriaMissing(ctx context.Context, ex *execution) bool {
	html, err := ex.browser.OuterHTML(ctx, "body")
	if err != nil {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	alert := doc.Find(criteriaAlert)
	if alert.Length() == 0 {
		return false
	}
	text := collapseSpace(alert.Text())
	ex.logger.Info().Str("class", ex.class.Label).Str("alert", text).Msg("Criteria warning shown, class will be skipped")

	if strings.Contains(text, "необходимо установить данные оценивания") {
		return true
	}
	return doc.Find(periodTabList).Length() == 0
}

// stepSelectPeriod picks the tab for the requested period and activates it.
// Schools running half-year journals have no quarter tabs; the half-year
// fallback maps periods 1-2 onto the first half and 3-4 onto the second.
func (s *Service) stepSelectPeriod(ctx context.Context, ex *execution) error {
	html, err := ex.browser.OuterHTML(ctx, periodTabList)
	if err != nil {
		return err
	}
	tabs := parsePeriodTabs(html)
	if len(tabs) == 0 {
		return models.NewScrapeError(models.ErrKindLayoutChanged, "journal page has no period tabs")
	}

	tab := pickPeriodTab(tabs, ex.job.Spec.Period)
	if tab == nil {
		labels := make([]string, 0, len(tabs))
		for _, t := range tabs {
			labels = append(labels, t.Label)
		}
		return models.NewScrapeError(models.ErrKindLayoutChanged,
			"no tab matches period %d, tabs are: %s", ex.job.Spec.Period, strings.Join(labels, ", "))
	}

	selector := fmt.Sprintf(`ul#pills-tab a[data-toggle="pill"][href="%s"]`, tab.Href)
	if err := ex.browser.Click(ctx, selector); err != nil {
		return err
	}

	ex.paneID = strings.TrimPrefix(tab.Href, "#")
	ex.tabLabel = tab.Label
	ex.result.PeriodLabel = tab.Label

	pane := fmt.Sprintf(`div.tab-content div.tab-pane#%s`, ex.paneID)
	return ex.browser.WaitVisible(ctx, pane, s.config.Portal.StepTimeout)
}

// stepCaptureTable snapshots the active pane's outer HTML verbatim. Parsing
// happens off the captured markup, never against the live page, so a slow
// portal cannot shear the table mid-read.
func (s *Service) stepCaptureTable(ctx context.Context, ex *execution) error {
	selector := fmt.Sprintf(`div#pills-tabContent div.tab-pane#%s`, ex.paneID)
	html, err := ex.browser.OuterHTML(ctx, selector)
	if err != nil {
		return err
	}
	ex.paneHTML = html
	ex.logger.Debug().Int("bytes", len(html)).Str("pane", ex.paneID).Msg("Period table captured")
	return nil
}

// stepParseRows parses the captured pane into raw rows. Zero student rows in
// a journal pane means the table schema drifted; a real class always lists
// its roster even when grades are empty.
func (s *Service) stepParseRows(ctx context.Context, ex *execution) error {
	rows, sectionMax := parsePane(ex.paneHTML, ex.paneID, ex.logger)
	if len(rows) == 0 {
		return models.NewScrapeError(models.ErrKindLayoutChanged,
			"period pane %s has no recognizable student rows", ex.paneID)
	}
	ex.result.Rows = rows
	ex.result.SectionMax = sectionMax
	return nil
}

// resolveHref makes the journal link absolute against the current page URL.
func resolveHref(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	rel, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(rel).String()
}
