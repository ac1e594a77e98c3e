package interfaces

import (
	"context"
	"time"

	"github.com/ed-baer97/mektab/internal/models"
)

// Browser drives one browsing context against the portal. The production
// implementation wraps a pooled chromedp context; tests substitute a
// scripted fake so navigation flows run without Chrome.
type Browser interface {
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the selector matches a visible element or
	// the timeout elapses. The caller classifies the timeout.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)

	// Location returns the current page URL; session expiry shows up as a
	// redirect back to the login screen.
	Location(ctx context.Context) (string, error)

	// Evaluate runs a script in the page, unmarshaling its result into
	// res. Used where CSS selectors cannot express a match (clicking the
	// role button whose caption names the wanted school).
	Evaluate(ctx context.Context, script string, res interface{}) error

	Screenshot(ctx context.Context) ([]byte, error)

	SetCookies(ctx context.Context, cookies []models.Cookie) error
	GetCookies(ctx context.Context, urls []string) ([]models.Cookie, error)

	// ClearCookies wipes browser state between credentials sharing a
	// pooled context.
	ClearCookies(ctx context.Context) error
}

// BrowserPool leases browsing contexts to workers. Lease blocks until a
// context is free; the release function returns it to the pool.
type BrowserPool interface {
	Lease(ctx context.Context) (Browser, func(), error)
	Size() int
	Shutdown()
}
