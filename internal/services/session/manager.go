package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// Portal sign-in selectors. The login form sits inside a bootstrap
// collapse panel that has to be expanded before the inputs exist.
const (
	loginPath      = "/?school=logout&language=rus"
	loginButton    = `button[aria-controls="collapseThree"]`
	loginPanelOpen = `#collapseThree.show`
	loginInput     = `#collapseThree input[name="usr_login"]`
	passwordInput  = `#collapseThree input[name="usr_password"]`
	loginSubmit    = `#collapseThree form button[type="submit"]`

	// Multi-role accounts get a chooser after submit; teacher buttons are
	// found by caption since the markup has no role attribute.
	roleChooserButton = `button[name="account_choice"][value="true"]`

	profileMarker = `nav .profile p`
	orgNameHeader = `.topline .orgname strong`
)

// roleChooserWait bounds the probe for the optional role chooser. Most
// accounts never see it, so this stays well under the step timeout.
const roleChooserWait = 5 * time.Second

// Manager owns at most one authenticated session per credential. Acquire
// holds a per-credential lock until Release, so only one worker drives a
// given identity at a time no matter how many browsers are pooled.
type Manager struct {
	config   *common.Config
	logger   arbor.ILogger
	mu       sync.Mutex
	sessions map[string]*models.Session
	locks    map[string]*sync.Mutex
}

func NewManager(config *common.Config, logger arbor.ILogger) *Manager {
	return &Manager{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*models.Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Acquire returns the credential's session, logging in only when no valid
// cookie snapshot exists. The caller must Release the session when done.
func (m *Manager) Acquire(ctx context.Context, browser interfaces.Browser, credentialRef string) (*models.Session, error) {
	lock := m.credentialLock(credentialRef)
	lock.Lock()

	session, err := m.acquireLocked(ctx, browser, credentialRef)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return session, nil
}

func (m *Manager) acquireLocked(ctx context.Context, browser interfaces.Browser, credentialRef string) (*models.Session, error) {
	cred, ok := m.config.CredentialByRef(credentialRef)
	if !ok {
		return nil, models.NewScrapeError(models.ErrKindAuth, "unknown credential ref %q", credentialRef)
	}

	m.mu.Lock()
	session := m.sessions[credentialRef]
	if session == nil {
		session = models.NewSession(credentialRef)
		m.sessions[credentialRef] = session
	}
	m.mu.Unlock()

	// The leased browser may have carried another credential last run.
	if err := browser.ClearCookies(ctx); err != nil {
		return nil, models.Classify(err)
	}

	if session.IsActive() && len(session.Cookies) > 0 {
		if err := browser.SetCookies(ctx, session.Cookies); err != nil {
			return nil, models.Classify(err)
		}
		session.Touch()
		m.logger.Debug().
			Str("credential", credentialRef).
			Int("cookies", len(session.Cookies)).
			Msg("Session resumed from cookie snapshot")
		return session, nil
	}

	if err := m.login(ctx, browser, cred, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Release returns the session to the manager. The session stays live; only
// the per-credential lock is dropped.
func (m *Manager) Release(session *models.Session) {
	if session == nil {
		return
	}
	m.credentialLock(session.CredentialRef).Unlock()
}

// Invalidate marks the session's cookies stale. The next Acquire for the
// credential drives the login form again.
func (m *Manager) Invalidate(session *models.Session) {
	if session == nil {
		return
	}
	session.Invalidate()
	m.logger.Info().
		Str("credential", session.CredentialRef).
		Msg("Session invalidated, next acquire re-logins")
}

// Shutdown drops all cached sessions. Cookies live in the browser profiles,
// which the browser pool tears down separately.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*models.Session)
	m.logger.Debug().Msg("Session manager shut down")
}

// login drives the portal sign-in flow and snapshots the resulting cookies
// onto the session.
func (m *Manager) login(ctx context.Context, browser interfaces.Browser, cred models.Credential, session *models.Session) error {
	stepTimeout := m.config.Portal.StepTimeout
	loginURL := strings.TrimRight(m.config.Portal.BaseURL, "/") + loginPath

	m.logger.Info().
		Str("credential", cred.Ref).
		Str("login", common.MaskLogin(cred.Username)).
		Msg("Driving portal login")

	if err := browser.Navigate(ctx, loginURL); err != nil {
		return models.Classify(err)
	}
	if err := browser.Click(ctx, loginButton); err != nil {
		return models.Classify(err)
	}
	if err := browser.WaitVisible(ctx, loginPanelOpen, stepTimeout); err != nil {
		return models.Classify(err)
	}
	if err := browser.SendKeys(ctx, loginInput, cred.Username); err != nil {
		return models.Classify(err)
	}
	if err := browser.SendKeys(ctx, passwordInput, cred.Secret); err != nil {
		return models.Classify(err)
	}
	if err := browser.Click(ctx, loginSubmit); err != nil {
		return models.Classify(err)
	}

	m.chooseRole(ctx, browser)

	if err := browser.WaitVisible(ctx, profileMarker, stepTimeout); err != nil {
		return m.classifyLoginFailure(ctx, browser, err)
	}

	orgName := m.readOrgName(ctx, browser)
	if err := m.checkExpectedSchool(orgName); err != nil {
		return err
	}

	cookies, err := browser.GetCookies(ctx, []string{m.config.Portal.BaseURL})
	if err != nil {
		return models.Classify(err)
	}

	session.Cookies = cookies
	session.OrgName = orgName
	session.Status = models.SessionActive
	session.LoginCount++
	session.Touch()

	m.logger.Info().
		Str("credential", cred.Ref).
		Str("org", orgName).
		Int("login_count", session.LoginCount).
		Msg("Portal login complete")
	return nil
}

// chooseRole handles the optional account-role chooser. Single-role
// accounts skip it entirely, so a missing chooser is not an error.
func (m *Manager) chooseRole(ctx context.Context, browser interfaces.Browser) {
	if err := browser.WaitVisible(ctx, roleChooserButton, roleChooserWait); err != nil {
		return
	}

	var outcome string
	if err := browser.Evaluate(ctx, roleChooserScript(m.config.Portal.ExpectedSchool), &outcome); err != nil {
		m.logger.Warn().Err(err).Msg("Role chooser click failed")
		return
	}
	m.logger.Debug().Str("outcome", outcome).Msg("Role chooser handled")
}

// roleChooserScript builds the click script for the role chooser. Teacher
// buttons are recognized by caption in either portal language; with several
// schools the one whose form names the expected school wins, falling back
// to the first.
func roleChooserScript(expectedSchool string) string {
	want := strings.Join(strings.Fields(strings.ToLower(expectedSchool)), " ")
	return fmt.Sprintf(`(function() {
	var buttons = document.querySelectorAll('button[name="account_choice"][value="true"]');
	var teacher = [];
	for (var i = 0; i < buttons.length; i++) {
		var text = (buttons[i].innerText || '').toLowerCase();
		if (text.indexOf('учитель') !== -1 || text.indexOf('мұғалім') !== -1) {
			teacher.push(buttons[i]);
		}
	}
	if (teacher.length === 0) { return 'none'; }
	if (teacher.length === 1) { teacher[0].click(); return 'role'; }
	var want = %q;
	if (want) {
		for (var j = 0; j < teacher.length; j++) {
			var form = teacher[j].closest('form');
			var caption = ((form ? form.innerText : '') || teacher[j].innerText || '').toLowerCase();
			if (caption.indexOf(want) !== -1) { teacher[j].click(); return 'school'; }
		}
	}
	teacher[0].click();
	return 'first';
})()`, want)
}

// classifyLoginFailure inspects the page after a missing profile marker.
// Known failure text means rejected credentials; anything else is still an
// auth failure, just without the portal saying so.
func (m *Manager) classifyLoginFailure(ctx context.Context, browser interfaces.Browser, waitErr error) error {
	html, err := browser.OuterHTML(ctx, "html")
	if err == nil {
		lower := strings.ToLower(html)
		if strings.Contains(lower, "неверн") || strings.Contains(lower, "ошибк") {
			return models.NewScrapeError(models.ErrKindAuth, "portal rejected the credentials")
		}
	}
	return models.WrapScrapeError(models.ErrKindAuth, waitErr, "login did not reach the profile header")
}

func (m *Manager) readOrgName(ctx context.Context, browser interfaces.Browser) string {
	org, err := browser.Text(ctx, orgNameHeader)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Organization name not found in page header")
		return ""
	}
	return strings.Join(strings.Fields(org), " ")
}

// checkExpectedSchool guards against a credential bound to a different
// school than the one configured. Comparison tolerates partial names since
// the portal header often carries the long official form.
func (m *Manager) checkExpectedSchool(orgName string) error {
	expected := m.config.Portal.ExpectedSchool
	if expected == "" || orgName == "" {
		return nil
	}

	a := strings.Join(strings.Fields(strings.ToLower(orgName)), " ")
	b := strings.Join(strings.Fields(strings.ToLower(expected)), " ")
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return nil
	}
	return models.NewScrapeError(models.ErrKindAuth, "account is bound to %q, expected %q", orgName, expected)
}

func (m *Manager) credentialLock(ref string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[ref]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[ref] = lock
	}
	return lock
}
