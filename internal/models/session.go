package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one portal login identity. Ref is the caller-facing handle
// used in job specs; Secret never appears in logs or status output.
type Credential struct {
	Ref      string `json:"ref" toml:"ref" validate:"required"`
	Username string `json:"username" toml:"username" validate:"required"`
	Secret   string `json:"secret" toml:"secret" validate:"required"`
}

// Masked returns a copy safe for logging.
func (c Credential) Masked() Credential {
	c.Secret = "[REDACTED]"
	return c
}

// Cookie is a browser cookie snapshot, kept neutral of the automation
// driver so sessions can be persisted and re-injected after a restart.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // seconds since epoch, 0 for session cookies
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
	SameSite string  `json:"same_site,omitempty"`
}

// SessionStatus tracks whether a session's cookies are still believed valid.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionInvalid SessionStatus = "invalid"
)

// Session is an authenticated portal context bound to one credential. It
// holds the cookie snapshot taken after login rather than a live browser
// handle, so any pooled browsing context can resume it by re-injecting the
// cookies. At most one live Session exists per credential.
type Session struct {
	ID            string        `json:"id"`
	CredentialRef string        `json:"credential_ref"`
	OrgName       string        `json:"org_name,omitempty"` // school name from the page header
	Cookies       []Cookie      `json:"cookies"`
	Status        SessionStatus `json:"status"`

	// LoginCount counts how many times the login form was actually driven
	// for this credential. Session reuse keeps it flat.
	LoginCount int `json:"login_count"`

	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// NewSession creates an active session for a credential.
func NewSession(credentialRef string) *Session {
	now := time.Now()
	return &Session{
		ID:            uuid.New().String(),
		CredentialRef: credentialRef,
		Status:        SessionActive,
		CreatedAt:     now,
		LastUsedAt:    now,
	}
}

// Touch records use of the session.
func (s *Session) Touch() {
	s.LastUsedAt = time.Now()
}

// Invalidate marks the session's cookies stale; the next Acquire re-logins.
func (s *Session) Invalidate() {
	s.Status = SessionInvalid
}

// IsActive returns true while the session is believed authenticated.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}
